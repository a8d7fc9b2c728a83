package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"wsa/simfeed/internal/domains"
	"wsa/simfeed/internal/domains/common"
	"wsa/simfeed/internal/framework"
	"wsa/simfeed/internal/telemetry"
	"wsa/simfeed/pkg/config"
	"wsa/simfeed/pkg/errorutil"
	"wsa/simfeed/pkg/infra/redis"
	"wsa/simfeed/pkg/lmstfy"
	"wsa/simfeed/pkg/logger"
)

const publishBuffer = 256

// Manager 接口
type Manager interface {
	Start() error
	Shutdown()
}

// Publisher 事件外发（Redis 实现）
type Publisher interface {
	Publish(ctx context.Context, event interface{}) error
	Close() error
}

// ManagerInstance 管理所有看板与告警动作 Worker
type ManagerInstance struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *config.Config

	dashboards map[string]*Dashboard
	order      []string

	source    framework.MessageSource // 告警动作队列，未启用时为 nil
	publisher Publisher               // 事件外发，未启用时为 nil
	outbox    chan telemetry.Event
	outboxMu  sync.RWMutex
	outboxOff bool
	workers   []Worker

	closing    *atomic.Bool
	dropped    *atomic.Uint64
	readyCh    chan struct{}
	shutdownCh chan struct{}
	wg         sync.WaitGroup
	pubWg      sync.WaitGroup
	logger     logger.Logger
}

var _ Manager = (*ManagerInstance)(nil)
var _ common.DashboardResolver = (*ManagerInstance)(nil)

// ManagerOption 可选项
type ManagerOption func(*managerOptions)

type managerOptions struct {
	registerer prometheus.Registerer
	source     framework.MessageSource
	publisher  Publisher
	clock      telemetry.Clock
}

// WithRegisterer 指定 Prometheus 注册器（默认 prometheus.DefaultRegisterer）
func WithRegisterer(r prometheus.Registerer) ManagerOption {
	return func(o *managerOptions) { o.registerer = r }
}

// WithMessageSource 指定告警动作消息源（替代 lmstfy）
func WithMessageSource(s framework.MessageSource) ManagerOption {
	return func(o *managerOptions) { o.source = s }
}

// WithPublisher 指定事件外发（替代 Redis）
func WithPublisher(p Publisher) ManagerOption {
	return func(o *managerOptions) { o.publisher = p }
}

// WithDashboardClock 指定看板时钟
func WithDashboardClock(c telemetry.Clock) ManagerOption {
	return func(o *managerOptions) { o.clock = c }
}

// NewManagerInstance 创建 Manager
func NewManagerInstance(cfg *config.Config, log logger.Logger, opts ...ManagerOption) (*ManagerInstance, error) {
	o := managerOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &ManagerInstance{
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		dashboards: make(map[string]*Dashboard),
		source:     o.source,
		publisher:  o.publisher,
		closing:    atomic.NewBool(false),
		dropped:    atomic.NewUint64(0),
		readyCh:    make(chan struct{}),
		shutdownCh: make(chan struct{}),
		logger:     log,
	}

	rec, err := telemetry.NewRecorder(o.registerer)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	for _, dc := range cfg.Dashboards {
		d, err := NewDashboard(dc, log, rec, o.clock)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to build dashboard %s: %w", dc.Name, err)
		}
		if _, exists := m.dashboards[d.Name()]; exists {
			cancel()
			return nil, errorutil.Configuration(d.Name(), "duplicate dashboard")
		}
		m.dashboards[d.Name()] = d
		m.order = append(m.order, d.Name())
	}

	// 初始化 Redis 事件外发
	if m.publisher == nil && cfg.Redis.Enable {
		pub, err := redis.NewPublisher(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create redis publisher: %w", err)
		}
		m.publisher = pub
	}
	if m.publisher != nil {
		m.outbox = make(chan telemetry.Event, publishBuffer)
		for _, d := range m.dashboards {
			d.AddSink(m.enqueue)
		}
	}

	// 初始化 lmstfy 客户端
	if m.source == nil && cfg.Lmstfy.Enable {
		client, err := lmstfy.NewClient(cfg.Lmstfy.Host, cfg.Lmstfy.Port, cfg.Lmstfy.Namespace, cfg.Lmstfy.Token)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create lmstfy client: %w", err)
		}
		m.source = client
	}

	log.Infof(ctx, "[Manager] Initialized with %d dashboards", len(m.order))
	return m, nil
}

// Start 启动 Manager，阻塞直到 Shutdown
func (m *ManagerInstance) Start() error {
	m.logger.Infof(m.ctx, "[Manager] Starting...")

	// 1. 启动事件外发
	if m.outbox != nil {
		m.pubWg.Add(1)
		go m.publishLoop()
	}

	// 2. 启动所有看板
	for _, name := range m.order {
		m.dashboards[name].Start(m.ctx)
	}

	// 3. 加载并启动告警动作 Worker
	if m.source != nil {
		if err := m.loadWorkers(); err != nil {
			return fmt.Errorf("failed to load workers: %w", err)
		}
		for _, worker := range m.workers {
			w := worker
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				w.Start()
			}()
			m.logger.Infof(m.ctx, "[Manager] Worker started: %s", w.GetName())
		}
	}

	m.logger.Infof(m.ctx, "[Manager] Start success")
	close(m.readyCh)

	// 4. 阻塞等待退出信号
	<-m.shutdownCh
	return nil
}

// Ready 启动完成后关闭
func (m *ManagerInstance) Ready() <-chan struct{} {
	return m.readyCh
}

// Shutdown 优雅退出
func (m *ManagerInstance) Shutdown() {
	m.logger.Infof(m.ctx, "[Manager] Began to close")

	if !m.closing.CAS(false, true) {
		return
	}

	// 1. 先停止告警动作 Worker，不再接收外部操作
	for _, worker := range m.workers {
		m.logger.Infof(m.ctx, "[Manager] Shutting down worker: %s", worker.GetName())
		worker.Shutdown()
	}
	m.wg.Wait()

	// 2. 停止所有看板
	for _, name := range m.order {
		m.dashboards[name].Shutdown()
	}

	// 3. 排空事件外发
	m.cancel()
	if m.outbox != nil {
		m.outboxMu.Lock()
		m.outboxOff = true
		close(m.outbox)
		m.outboxMu.Unlock()
		m.pubWg.Wait()
		if err := m.publisher.Close(); err != nil {
			m.logger.Warnf(m.ctx, "[Manager] Publisher close failed: %v", err)
		}
	}

	close(m.shutdownCh)
	m.logger.Infof(m.ctx, "[Manager] Shutdown complete, dropped events: %d", m.dropped.Load())
}

// Dashboards 按配置顺序返回全部看板
func (m *ManagerInstance) Dashboards() []*Dashboard {
	out := make([]*Dashboard, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.dashboards[name])
	}
	return out
}

// Dashboard 按名称查找看板
func (m *ManagerInstance) Dashboard(name string) (*Dashboard, error) {
	d, ok := m.dashboards[name]
	if !ok {
		return nil, errorutil.NotFound(name)
	}
	return d, nil
}

// Alerts 实现 DashboardResolver
func (m *ManagerInstance) Alerts(name string) (common.AlertTarget, error) {
	d, err := m.Dashboard(name)
	if err != nil {
		return nil, err
	}
	inj, err := d.Alerts()
	if err != nil {
		return nil, err
	}
	return inj, nil
}

// enqueue 非阻塞写入外发队列，满时丢弃
func (m *ManagerInstance) enqueue(event telemetry.Event) {
	m.outboxMu.RLock()
	defer m.outboxMu.RUnlock()
	if m.outboxOff {
		return
	}
	select {
	case m.outbox <- event:
	default:
		if m.dropped.Inc()%100 == 1 {
			m.logger.Warnf(logger.With(m.ctx, logger.KeyDashboard, event.Dashboard),
				"[Manager] Outbox full, dropping %s event", event.Type)
		}
	}
}

// publishLoop 事件外发协程
func (m *ManagerInstance) publishLoop() {
	defer m.pubWg.Done()
	for event := range m.outbox {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := m.publisher.Publish(ctx, event); err != nil {
			m.logger.Warnf(logger.With(ctx, logger.KeyDashboard, event.Dashboard),
				"[Manager] Publish %s event failed: %v", event.Type, err)
		}
		cancel()
	}
}

// loadWorkers 加载所有 Worker
func (m *ManagerInstance) loadWorkers() error {
	getProcess := domains.GetProcess(m.logger, m)

	for _, workerCfg := range m.cfg.Workers {
		subCfg := &framework.SubscriberConfig{
			QueueName:    workerCfg.QueueName,
			Concurrency:  workerCfg.Subscriber.Threads,
			Rate:         workerCfg.Subscriber.Rate,
			Timeout:      workerCfg.Subscriber.Timeout,
			TTR:          workerCfg.Subscriber.TTR,
			ErrorBackoff: workerCfg.Subscriber.ErrorBackoff,
		}

		procCfg := &framework.ProcessorConfig{
			Concurrency: workerCfg.Processor.Threads,
			BufferSize:  workerCfg.Processor.BufferSize,
			Timeout:     workerCfg.Processor.Timeout,
		}

		worker, err := NewWorkerInstance(
			m.ctx,
			workerCfg.Name,
			subCfg,
			procCfg,
			m.source,
			getProcess,
			m.logger,
		)
		if err != nil {
			return fmt.Errorf("failed to create worker %s: %w", workerCfg.Name, err)
		}

		m.workers = append(m.workers, worker)
	}

	return nil
}
