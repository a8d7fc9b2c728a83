package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"wsa/simfeed/pkg/errorutil"
	"wsa/simfeed/pkg/logger"
)

// Callback 指标更新回调
type Callback func(metricID string, value Value)

// SubscriptionID 订阅句柄
type SubscriptionID string

// MetricSnapshot 指标快照
type MetricSnapshot struct {
	ID        string    `json:"id"`
	Policy    Policy    `json:"policy"`
	Value     Value     `json:"value"`
	Display   string    `json:"display,omitempty"` // 倒计时的 m:ss 展示值
	UpdatedAt time.Time `json:"updated_at"`
	Ticks     uint64    `json:"ticks"`
	Faults    uint64    `json:"faults"`
}

// metricEntry 已注册指标
type metricEntry struct {
	spec MetricSpec

	// tickMu 串行化同一指标的生成与通知，保证第 N 次输出是第 N+1 次输入
	tickMu sync.Mutex

	mu        sync.RWMutex
	value     Value
	updatedAt time.Time
	ticks     uint64
	faults    uint64
}

func (e *metricEntry) snapshot() MetricSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap := MetricSnapshot{
		ID:        e.spec.ID,
		Policy:    e.spec.Policy,
		Value:     e.value,
		UpdatedAt: e.updatedAt,
		Ticks:     e.ticks,
		Faults:    e.faults,
	}
	if e.spec.Policy == PolicyCountdown {
		snap.Display = FormatCountdown(e.value.Number)
	}
	return snap
}

type subscription struct {
	id       SubscriptionID
	metricID string
	cb       Callback
	active   *atomic.Bool
}

// Scheduler 指标调度器
// 持有已注册指标，每个指标按各自周期在独立协程中重新生成，并通知订阅者
type Scheduler struct {
	name     string
	rng      RandomSource
	clock    Clock
	logger   logger.Logger
	recorder *Recorder

	mu      sync.RWMutex
	entries map[string]*metricEntry
	order   []string
	subs    map[string][]*subscription
	index   map[SubscriptionID]*subscription

	loops *loopGroup
}

// Option 组件可选项
type Option func(*options)

type options struct {
	rng      RandomSource
	clock    Clock
	logger   logger.Logger
	recorder *Recorder
}

// WithRandomSource 注入随机源
func WithRandomSource(rng RandomSource) Option {
	return func(o *options) { o.rng = rng }
}

// WithClock 注入时钟
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger 注入日志
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRecorder 注入 Prometheus 指标
func WithRecorder(r *Recorder) Option {
	return func(o *options) { o.recorder = r }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = NewRandomSource()
	}
	if o.clock == nil {
		o.clock = SystemClock()
	}
	if o.logger == nil {
		o.logger = logger.NewNopLogger()
	}
	return o
}

// NewScheduler 创建调度器
func NewScheduler(name string, opts ...Option) *Scheduler {
	o := buildOptions(opts)
	return &Scheduler{
		name:     name,
		rng:      o.rng,
		clock:    o.clock,
		logger:   o.logger,
		recorder: o.recorder,
		entries:  make(map[string]*metricEntry),
		subs:     make(map[string][]*subscription),
		index:    make(map[SubscriptionID]*subscription),
		loops:    newLoopGroup(),
	}
}

// Name 调度器名称（所属看板）
func (s *Scheduler) Name() string {
	return s.name
}

// Register 注册指标
// 配置非法或 ID 重复时返回 ConfigurationError；运行中注册会立即启动该指标的定时器
func (s *Scheduler) Register(spec MetricSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	spec.normalize()

	e := &metricEntry{
		spec:      spec,
		value:     spec.Initial,
		updatedAt: s.clock.Now(),
	}

	s.mu.Lock()
	if _, exists := s.entries[spec.ID]; exists {
		s.mu.Unlock()
		return errorutil.Configuration(spec.ID, "metric already registered")
	}
	s.entries[spec.ID] = e
	s.order = append(s.order, spec.ID)
	s.mu.Unlock()

	s.logger.Debugf(s.logCtx(spec.ID), "[Scheduler] Registered metric %s, policy=%s, cadence=%s",
		spec.ID, spec.Policy, spec.Cadence)

	if ctx, gen, ok := s.loops.current(); ok {
		s.spawn(ctx, e, gen)
	}
	return nil
}

// Start 启动所有指标定时器，已启动时为空操作
func (s *Scheduler) Start(parentCtx context.Context) {
	ctx, gen, ok := s.loops.start(parentCtx)
	if !ok {
		return
	}

	s.mu.RLock()
	entries := make([]*metricEntry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, s.entries[id])
	}
	s.mu.RUnlock()

	for _, e := range entries {
		s.spawn(ctx, e, gen)
	}

	s.logger.Infof(s.logCtx(""), "[Scheduler] %s started with %d metrics", s.name, len(entries))
}

// Stop 停止所有定时器
// 可重复调用，不等待协程退出。返回时每个指标最多还有一个进行中的回调，
// 之后的 tick 不再通知；需要确保回调全部结束时用 Shutdown（Stop + Wait）
func (s *Scheduler) Stop() {
	if s.loops.stop() {
		s.logger.Infof(s.logCtx(""), "[Scheduler] %s stopping", s.name)
	}
}

// Wait 等待所有定时协程退出
// 不能在订阅回调中调用
func (s *Scheduler) Wait() {
	s.loops.wait()
}

// Shutdown Stop + Wait
func (s *Scheduler) Shutdown() {
	s.Stop()
	s.Wait()
	s.logger.Infof(s.logCtx(""), "[Scheduler] %s shutdown complete", s.name)
}

// Running 是否运行中
func (s *Scheduler) Running() bool {
	return s.loops.running.Load()
}

// Subscribe 订阅指标更新，同一指标允许多个订阅者
func (s *Scheduler) Subscribe(metricID string, cb Callback) (SubscriptionID, error) {
	if cb == nil {
		return "", errorutil.Configuration(metricID, "callback is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[metricID]; !ok {
		return "", errorutil.NotFound(metricID)
	}

	sub := &subscription{
		id:       SubscriptionID(uuid.New().String()),
		metricID: metricID,
		cb:       cb,
		active:   atomic.NewBool(true),
	}
	s.subs[metricID] = append(s.subs[metricID], sub)
	s.index[sub.id] = sub
	return sub.id, nil
}

// Unsubscribe 取消订阅，可在回调内调用
// 返回该订阅此前是否存在
func (s *Scheduler) Unsubscribe(id SubscriptionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.index[id]
	if !ok {
		return false
	}
	sub.active.Store(false)
	delete(s.index, id)

	list := s.subs[sub.metricID]
	kept := make([]*subscription, 0, len(list))
	for _, other := range list {
		if other.id != id {
			kept = append(kept, other)
		}
	}
	s.subs[sub.metricID] = kept
	return true
}

// Value 获取指标当前值
func (s *Scheduler) Value(metricID string) (Value, bool) {
	e, ok := s.entry(metricID)
	if !ok {
		return Value{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.value, true
}

// Snapshot 按注册顺序返回所有指标快照
func (s *Scheduler) Snapshot() []MetricSnapshot {
	s.mu.RLock()
	entries := make([]*metricEntry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, s.entries[id])
	}
	s.mu.RUnlock()

	out := make([]MetricSnapshot, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	return out
}

// TickMetric 同步执行一次指标生成并通知订阅者
// 定时器与手动驱动（测试、工具）共用此路径；调度器停止后返回 StoppedError
func (s *Scheduler) TickMetric(metricID string) (Value, error) {
	if s.loops.stopped.Load() {
		return Value{}, errorutil.Stopped(s.name)
	}
	e, ok := s.entry(metricID)
	if !ok {
		return Value{}, errorutil.NotFound(metricID)
	}
	return s.tick(context.Background(), e, s.loops.generation.Load())
}

func (s *Scheduler) entry(metricID string) (*metricEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[metricID]
	return e, ok
}

func (s *Scheduler) spawn(ctx context.Context, e *metricEntry, gen uint64) {
	s.loops.spawn(ctx, e.spec.Cadence, func(ctx context.Context) {
		// 错误已在 tick 内记录，定时器继续
		_, _ = s.tick(ctx, e, gen)
	})
}

// tick 生成下一个值；生成失败时保留上一个值（GenerationFault，按指标隔离）
func (s *Scheduler) tick(ctx context.Context, e *metricEntry, gen uint64) (Value, error) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	id := e.spec.ID
	logCtx := s.logCtx(id)

	e.mu.RLock()
	current := e.value
	e.mu.RUnlock()

	next, err := s.generate(e, current)
	if err != nil {
		fault := errorutil.Generation(id, err)
		e.mu.Lock()
		e.faults++
		e.mu.Unlock()
		s.recorder.recordGenerationFault(s.name, id)
		s.logger.Warnf(logCtx, "[Scheduler] %v, keeping last value %s", fault, current)
		return current, fault
	}

	e.mu.Lock()
	e.value = next
	e.updatedAt = s.clock.Now()
	e.ticks++
	e.mu.Unlock()

	s.recorder.recordTick(s.name, id, next)
	s.notify(logCtx, id, next, gen)
	return next, nil
}

// generate 调用漂移函数并捕获 panic
func (s *Scheduler) generate(e *metricEntry, current Value) (next Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			next, err = current, errorutil.FromPanic(r)
		}
	}()
	return Next(&e.spec, current, s.rng)
}

// notify 通知订阅者；回调期间不持有锁，因此回调内可以 Unsubscribe
func (s *Scheduler) notify(ctx context.Context, metricID string, v Value, gen uint64) {
	s.mu.RLock()
	subs := append([]*subscription(nil), s.subs[metricID]...)
	s.mu.RUnlock()

	for _, sub := range subs {
		if !s.loops.live(gen) {
			return
		}
		if !sub.active.Load() {
			continue
		}
		s.invoke(ctx, sub, v)
	}
}

func (s *Scheduler) invoke(ctx context.Context, sub *subscription, v Value) {
	defer func() {
		if r := recover(); r != nil {
			fault := errorutil.Subscriber(sub.metricID, errorutil.FromPanic(r))
			s.recorder.recordSubscriberFault(s.name, sub.metricID)
			s.logger.Errorf(ctx, "[Scheduler] %v, subscription=%s", fault, sub.id)
		}
	}()
	sub.cb(sub.metricID, v)
}

func (s *Scheduler) logCtx(metricID string) context.Context {
	ctx := logger.With(context.Background(), logger.KeyDashboard, s.name)
	if metricID != "" {
		ctx = logger.With(ctx, logger.KeyMetricID, metricID)
	}
	return ctx
}
