package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"wsa/simfeed/internal/telemetry"
	"wsa/simfeed/pkg/config"
	"wsa/simfeed/pkg/errorutil"
	"wsa/simfeed/pkg/logger"
)

// 紧急模式持续时间
const (
	EscalateEmergency = 5 * time.Second
	GlobalEmergency   = 10 * time.Second
)

// Sink 事件下游，必须非阻塞
type Sink func(event telemetry.Event)

// AlertSummary 告警日志概况
type AlertSummary struct {
	Enabled  bool `json:"enabled"`
	Total    int  `json:"total"`
	Active   int  `json:"active"`
	Capacity int  `json:"capacity"`
}

// Snapshot 看板整体快照
type Snapshot struct {
	Name        string                      `json:"name"`
	Running     bool                        `json:"running"`
	Metrics     []telemetry.MetricSnapshot  `json:"metrics"`
	Connection  *telemetry.ConnectionStatus `json:"connection,omitempty"`
	Alerts      AlertSummary                `json:"alerts"`
	Emergency   telemetry.EmergencyState    `json:"emergency"`
	LastUpdated time.Time                   `json:"last_updated"`
	Events      uint64                      `json:"events"`
}

// Dashboard 单个看板：调度器 + 告警注入器 + 连接模拟器，统一转发事件
type Dashboard struct {
	name       string
	scheduler  *telemetry.Scheduler
	alerts     *telemetry.AlertInjector       // 未启用时为 nil
	connection *telemetry.ConnectionSimulator // 未启用时为 nil
	clock      telemetry.Clock
	logger     logger.Logger

	mu    sync.RWMutex
	sinks []Sink

	// emergency 由 emMu 保护；emGen 每次开启递增，过期回调只处理自己那一代
	emMu      sync.Mutex
	emergency telemetry.EmergencyState
	emTimer   *time.Timer
	emGen     uint64
	closed    bool
	escalate  time.Duration

	lastUpdated *atomic.Int64 // UnixNano
	events      *atomic.Uint64
}

// NewDashboard 按配置构建看板
// seed 非 0 时随机序列可复现；clock 为 nil 时使用系统时钟
func NewDashboard(cfg config.DashboardConfig, log logger.Logger, rec *telemetry.Recorder, clock telemetry.Clock) (*Dashboard, error) {
	if cfg.Name == "" {
		return nil, errorutil.Configuration("dashboard", "name is required")
	}

	var rng telemetry.RandomSource
	if cfg.Seed != 0 {
		rng = telemetry.NewSeededSource(cfg.Seed)
	} else {
		rng = telemetry.NewRandomSource()
	}

	if clock == nil {
		clock = telemetry.SystemClock()
	}
	opts := []telemetry.Option{
		telemetry.WithRandomSource(rng),
		telemetry.WithClock(clock),
		telemetry.WithLogger(log),
		telemetry.WithRecorder(rec),
	}

	d := &Dashboard{
		name:        cfg.Name,
		scheduler:   telemetry.NewScheduler(cfg.Name, opts...),
		clock:       clock,
		logger:      log,
		escalate:    EscalateEmergency,
		lastUpdated: atomic.NewInt64(0),
		events:      atomic.NewUint64(0),
	}

	for _, m := range cfg.Metrics {
		spec, err := buildMetricSpec(m)
		if err != nil {
			return nil, err
		}
		if err := d.scheduler.Register(spec); err != nil {
			return nil, err
		}
		if _, err := d.scheduler.Subscribe(spec.ID, d.onMetric); err != nil {
			return nil, err
		}
	}

	if cfg.Alerts.Enable {
		inj, err := telemetry.NewAlertInjector(cfg.Name, buildAlertConfig(cfg.Alerts), opts...)
		if err != nil {
			return nil, err
		}
		inj.OnAlert(d.onAlert)
		inj.OnAction(d.onAction)
		d.alerts = inj
	}

	if cfg.Connection.Enable {
		connCfg, err := buildConnectionConfig(cfg.Connection)
		if err != nil {
			return nil, err
		}
		conn, err := telemetry.NewConnectionSimulator(cfg.Name, connCfg, opts...)
		if err != nil {
			return nil, err
		}
		conn.OnChange(d.onConnection)
		d.connection = conn
	}

	d.touch()
	return d, nil
}

// Name 看板名称
func (d *Dashboard) Name() string {
	return d.name
}

// Scheduler 指标调度器
func (d *Dashboard) Scheduler() *telemetry.Scheduler {
	return d.scheduler
}

// Alerts 告警注入器，未启用时返回 NotFound
func (d *Dashboard) Alerts() (*telemetry.AlertInjector, error) {
	if d.alerts == nil {
		return nil, errorutil.NotFound(d.name + "/alerts")
	}
	return d.alerts, nil
}

// Connection 连接模拟器，未启用时返回 NotFound
func (d *Dashboard) Connection() (*telemetry.ConnectionSimulator, error) {
	if d.connection == nil {
		return nil, errorutil.NotFound(d.name + "/connection")
	}
	return d.connection, nil
}

// AddSink 注册事件下游
func (d *Dashboard) AddSink(s Sink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, s)
	d.mu.Unlock()
}

// Start 启动全部定时器
func (d *Dashboard) Start(ctx context.Context) {
	ctx = logger.With(ctx, logger.KeyDashboard, d.name)
	d.scheduler.Start(ctx)
	if d.alerts != nil {
		d.alerts.Start(ctx)
	}
	if d.connection != nil {
		d.connection.Start(ctx)
	}
	d.logger.Infof(ctx, "[Dashboard] %s started", d.name)
}

// Shutdown 停止全部定时器并等待协程退出
func (d *Dashboard) Shutdown() {
	d.scheduler.Stop()
	if d.alerts != nil {
		d.alerts.Stop()
	}
	if d.connection != nil {
		d.connection.Stop()
	}

	d.emMu.Lock()
	d.closed = true
	d.emGen++
	if d.emTimer != nil {
		d.emTimer.Stop()
		d.emTimer = nil
	}
	d.emergency = telemetry.EmergencyState{}
	d.emMu.Unlock()

	d.scheduler.Wait()
	if d.alerts != nil {
		d.alerts.Wait()
	}
	if d.connection != nil {
		d.connection.Wait()
	}
	d.logger.Infof(logger.With(context.Background(), logger.KeyDashboard, d.name), "[Dashboard] %s shutdown complete", d.name)
}

// Snapshot 当前全部状态
func (d *Dashboard) Snapshot() Snapshot {
	snap := Snapshot{
		Name:        d.name,
		Running:     d.scheduler.Running(),
		Metrics:     d.scheduler.Snapshot(),
		Emergency:   d.Emergency(),
		LastUpdated: time.Unix(0, d.lastUpdated.Load()),
		Events:      d.events.Load(),
	}
	if d.connection != nil {
		status := d.connection.Current()
		snap.Connection = &status
	}
	if d.alerts != nil {
		snap.Alerts = AlertSummary{
			Enabled:  true,
			Total:    d.alerts.Len(),
			Active:   d.alerts.CountActive(),
			Capacity: d.alerts.Capacity(),
		}
	}
	return snap
}

// TriggerEmergency 开启紧急模式，持续 hold 后自动结束
// 已处于紧急模式时重新计时；Shutdown 之后返回 StoppedError
func (d *Dashboard) TriggerEmergency(reason string, hold time.Duration) error {
	if hold <= 0 {
		return errorutil.Configuration("emergency", "hold must be positive, got %s", hold)
	}

	d.emMu.Lock()
	if d.closed {
		d.emMu.Unlock()
		return errorutil.Stopped(d.name)
	}
	d.emGen++
	gen := d.emGen
	if d.emTimer != nil {
		d.emTimer.Stop()
	}
	state := telemetry.EmergencyState{Active: true, Reason: reason, Until: d.clock.Now().Add(hold)}
	d.emergency = state
	d.emTimer = time.AfterFunc(hold, func() { d.expireEmergency(gen) })
	d.emMu.Unlock()

	d.logger.Warnf(logger.With(context.Background(), logger.KeyDashboard, d.name),
		"[Dashboard] %s emergency mode on (%s) for %s", d.name, reason, hold)
	d.emit(telemetry.EventEmergency, state)
	return nil
}

// Emergency 当前紧急模式状态
func (d *Dashboard) Emergency() telemetry.EmergencyState {
	d.emMu.Lock()
	defer d.emMu.Unlock()
	return d.emergency
}

func (d *Dashboard) expireEmergency(gen uint64) {
	d.emMu.Lock()
	if gen != d.emGen {
		d.emMu.Unlock()
		return
	}
	d.emTimer = nil
	d.emergency = telemetry.EmergencyState{}
	d.emMu.Unlock()

	d.logger.Infof(logger.With(context.Background(), logger.KeyDashboard, d.name),
		"[Dashboard] %s emergency mode off", d.name)
	d.emit(telemetry.EventEmergency, telemetry.EmergencyState{})
}

// LastUpdated 最近一次推送时间
func (d *Dashboard) LastUpdated() time.Time {
	return time.Unix(0, d.lastUpdated.Load())
}

func (d *Dashboard) onMetric(metricID string, v telemetry.Value) {
	d.emit(telemetry.EventMetric, telemetry.MetricUpdate{ID: metricID, Value: v})
}

func (d *Dashboard) onAlert(ev telemetry.AlertEvent) {
	d.emit(telemetry.EventAlert, ev)
}

func (d *Dashboard) onAction(ev telemetry.AlertEvent, action telemetry.AlertAction) {
	if action != telemetry.ActionEscalate {
		return
	}
	// 仅在 Shutdown 后失败，忽略
	_ = d.TriggerEmergency("escalate:"+ev.ID, d.escalate)
}

func (d *Dashboard) onConnection(status telemetry.ConnectionStatus) {
	d.emit(telemetry.EventConnection, status)
}

func (d *Dashboard) emit(typ telemetry.EventType, payload interface{}) {
	now := d.touch()
	d.events.Inc()

	event := telemetry.Event{
		Type:      typ,
		Dashboard: d.name,
		Timestamp: now,
		Payload:   payload,
	}

	d.mu.RLock()
	sinks := d.sinks
	d.mu.RUnlock()

	for _, s := range sinks {
		s(event)
	}
}

func (d *Dashboard) touch() time.Time {
	now := d.clock.Now()
	d.lastUpdated.Store(now.UnixNano())
	return now
}
