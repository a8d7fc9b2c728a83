package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wsa/simfeed/pkg/errorutil"
	"wsa/simfeed/pkg/idgen"
	"wsa/simfeed/pkg/logger"
)

// Severity 告警级别
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Severities 全部告警级别
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityWarning, SeverityCritical}

// AlertStatus 告警状态
type AlertStatus string

const (
	StatusActive        AlertStatus = "active"
	StatusInvestigating AlertStatus = "investigating"
	StatusAcknowledged  AlertStatus = "acknowledged"
	StatusResolved      AlertStatus = "resolved"
)

// AlertAction 告警操作
type AlertAction string

const (
	ActionResolve     AlertAction = "resolve"
	ActionInvestigate AlertAction = "investigate"
	ActionEscalate    AlertAction = "escalate"
	ActionViewDetails AlertAction = "view_details"
)

// AlertEvent 告警事件
type AlertEvent struct {
	ID          string      `json:"id"`
	Severity    Severity    `json:"severity"`
	Type        string      `json:"type"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Location    string      `json:"location"`
	CameraID    string      `json:"camera_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	Status      AlertStatus `json:"status"`
	AssignedTo  string      `json:"assigned_to,omitempty"`
}

// AlertConfig 告警注入配置
type AlertConfig struct {
	Cadence     time.Duration
	Probability float64
	Capacity    int
	Severities  []Severity
	Types       []string
	Locations   []string
	// Cameras 摄像头数量，生成 cam-001 .. cam-00N；0 表示不生成
	Cameras int
}

// DefaultAlertConfig 实时监控页的告警参数
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		Cadence:     15 * time.Second,
		Probability: 0.3,
		Capacity:    20,
		Severities:  append([]Severity(nil), Severities...),
		Types:       []string{"gesture_detection", "crowd_density", "behavioral_anomaly"},
		Locations:   []string{"Various Locations"},
		Cameras:     6,
	}
}

// Validate 校验配置
func (c *AlertConfig) Validate() error {
	if c.Cadence <= 0 {
		return errorutil.Configuration("alerts", "cadence must be positive, got %s", c.Cadence)
	}
	if !(c.Probability >= 0 && c.Probability <= 1) {
		return errorutil.Configuration("alerts", "probability must be within [0, 1], got %v", c.Probability)
	}
	if c.Capacity <= 0 {
		return errorutil.Configuration("alerts", "capacity must be positive, got %d", c.Capacity)
	}
	if len(c.Severities) == 0 || len(c.Types) == 0 || len(c.Locations) == 0 {
		return errorutil.Configuration("alerts", "severities, types and locations must not be empty")
	}
	for _, sev := range c.Severities {
		if !validSeverity(sev) {
			return errorutil.Configuration("alerts", "unknown severity %q", sev)
		}
	}
	if c.Cameras < 0 {
		return errorutil.Configuration("alerts", "cameras must be non-negative, got %d", c.Cameras)
	}
	return nil
}

// AlertListener 告警新增/变更回调
type AlertListener func(event AlertEvent)

// ActionListener 告警操作回调，目标告警存在时每次 ApplyAction 都会触发（含无状态变化的重复操作）
type ActionListener func(event AlertEvent, action AlertAction)

// AlertPredicate 告警过滤条件
type AlertPredicate func(event AlertEvent) bool

// AlertInjector 告警注入器
// 按固定周期以一定概率生成告警，维护有容量上限的滚动日志（最新在前）
type AlertInjector struct {
	name     string
	cfg      AlertConfig
	rng      RandomSource
	clock    Clock
	logger   logger.Logger
	recorder *Recorder
	ids      *idgen.SnowflakeIDGenerator

	mu        sync.RWMutex
	events    []AlertEvent
	listeners []AlertListener
	actions   []ActionListener

	loops *loopGroup
}

// NewAlertInjector 创建告警注入器
func NewAlertInjector(name string, cfg AlertConfig, opts ...Option) (*AlertInjector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &AlertInjector{
		name:     name,
		cfg:      cfg,
		rng:      o.rng,
		clock:    o.clock,
		logger:   o.logger,
		recorder: o.recorder,
		ids:      idgen.NewSnowflakeIDGenerator(1),
		events:   make([]AlertEvent, 0, cfg.Capacity),
		loops:    newLoopGroup(),
	}, nil
}

// OnAction 注册告警操作监听
func (a *AlertInjector) OnAction(l ActionListener) {
	a.mu.Lock()
	a.actions = append(a.actions, l)
	a.mu.Unlock()
}

// OnAlert 注册告警监听（新增和状态变更都会触发）
func (a *AlertInjector) OnAlert(l AlertListener) {
	a.mu.Lock()
	a.listeners = append(a.listeners, l)
	a.mu.Unlock()
}

// Start 启动注入定时器
func (a *AlertInjector) Start(parentCtx context.Context) {
	ctx, _, ok := a.loops.start(parentCtx)
	if !ok {
		return
	}
	a.loops.spawn(ctx, a.cfg.Cadence, func(context.Context) {
		a.Tick()
	})
	a.logger.Infof(a.logCtx(""), "[AlertInjector] %s started, cadence=%s, probability=%.2f",
		a.name, a.cfg.Cadence, a.cfg.Probability)
}

// Stop 停止注入定时器，可重复调用
func (a *AlertInjector) Stop() {
	a.loops.stop()
}

// Wait 等待定时协程退出
func (a *AlertInjector) Wait() {
	a.loops.wait()
}

// Tick 抽一次随机数，低于概率阈值时生成新告警
func (a *AlertInjector) Tick() (AlertEvent, bool) {
	if a.rng.Float64() >= a.cfg.Probability {
		return AlertEvent{}, false
	}

	ev := AlertEvent{
		Severity:    a.cfg.Severities[a.rng.Intn(len(a.cfg.Severities))],
		Type:        a.cfg.Types[a.rng.Intn(len(a.cfg.Types))],
		Location:    a.cfg.Locations[a.rng.Intn(len(a.cfg.Locations))],
		Title:       "New Alert Detected",
		Description: "Real-time monitoring system detected an anomaly",
	}
	if a.cfg.Cameras > 0 {
		ev.CameraID = fmt.Sprintf("cam-%03d", a.rng.Intn(a.cfg.Cameras)+1)
	}
	return a.Inject(ev), true
}

// Inject 追加告警到日志头部，超出容量时淘汰最旧的
// 缺省字段：ID 自动生成、CreatedAt 取当前时间、Status 为 active
func (a *AlertInjector) Inject(ev AlertEvent) AlertEvent {
	if ev.ID == "" {
		ev.ID = a.ids.Next("alert")
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = a.clock.Now()
	}
	if ev.Status == "" {
		ev.Status = StatusActive
	}

	a.mu.Lock()
	events := make([]AlertEvent, 0, a.cfg.Capacity)
	events = append(events, ev)
	for _, old := range a.events {
		if len(events) == a.cfg.Capacity {
			break
		}
		events = append(events, old)
	}
	a.events = events
	size := len(a.events)
	listeners := append([]AlertListener(nil), a.listeners...)
	a.mu.Unlock()

	a.recorder.recordAlert(a.name, ev.Severity, size)
	a.logger.Infof(a.logCtx(ev.ID), "[AlertInjector] New alert: severity=%s, type=%s, location=%s",
		ev.Severity, ev.Type, ev.Location)
	a.emit(listeners, ev)
	return ev
}

// ApplyAction 执行告警操作
//   - resolve: 状态置为 resolved
//   - investigate / escalate: 状态置为 investigating
//   - 其他动作（含 view_details）: 无操作
//
// 幂等：重复执行不会产生额外变化，也不会重复通知
func (a *AlertInjector) ApplyAction(alertID string, action AlertAction) (AlertEvent, error) {
	var target AlertStatus
	switch action {
	case ActionResolve:
		target = StatusResolved
	case ActionInvestigate, ActionEscalate:
		target = StatusInvestigating
	}

	a.mu.Lock()
	idx := -1
	for i := range a.events {
		if a.events[i].ID == alertID {
			idx = i
			break
		}
	}
	if idx < 0 {
		a.mu.Unlock()
		return AlertEvent{}, errorutil.NotFound(alertID)
	}

	changed := target != "" && a.events[idx].Status != target
	if changed {
		a.events[idx].Status = target
	}
	ev := a.events[idx]
	listeners := append([]AlertListener(nil), a.listeners...)
	actions := append([]ActionListener(nil), a.actions...)
	a.mu.Unlock()

	if target != "" {
		a.recorder.recordAlertAction(a.name, action)
	}
	if changed {
		a.logger.Infof(a.logCtx(alertID), "[AlertInjector] Alert %s -> %s (%s)", alertID, target, action)
		a.emit(listeners, ev)
	}
	for _, l := range actions {
		a.guard(ev.ID, func() { l(ev, action) })
	}
	return ev, nil
}

// Get 按 ID 查询告警
func (a *AlertInjector) Get(alertID string) (AlertEvent, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, ev := range a.events {
		if ev.ID == alertID {
			return ev, true
		}
	}
	return AlertEvent{}, false
}

// Events 返回日志副本（最新在前）
func (a *AlertInjector) Events() []AlertEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]AlertEvent(nil), a.events...)
}

// Len 日志长度
func (a *AlertInjector) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.events)
}

// Capacity 日志容量
func (a *AlertInjector) Capacity() int {
	return a.cfg.Capacity
}

// CountActive 活跃告警数
func (a *AlertInjector) CountActive() int {
	return a.Filter(ByStatus(StatusActive)).Count()
}

// Filter 返回惰性视图，每次读取时基于当前日志重新计算
func (a *AlertInjector) Filter(pred AlertPredicate) AlertView {
	return AlertView{source: a, pred: pred}
}

// AlertView 告警过滤视图（不修改日志）
type AlertView struct {
	source *AlertInjector
	pred   AlertPredicate
}

// Items 计算当前匹配的告警
func (v AlertView) Items() []AlertEvent {
	all := v.source.Events()
	out := make([]AlertEvent, 0, len(all))
	for _, ev := range all {
		if v.pred == nil || v.pred(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Count 当前匹配数量
func (v AlertView) Count() int {
	return len(v.Items())
}

// ByStatus 按状态过滤
func ByStatus(status AlertStatus) AlertPredicate {
	return func(ev AlertEvent) bool { return ev.Status == status }
}

// BySeverity 按级别过滤
func BySeverity(sev Severity) AlertPredicate {
	return func(ev AlertEvent) bool { return ev.Severity == sev }
}

// NamedFilter 告警面板的过滤选项: all / active / 级别名
func NamedFilter(name string) (AlertPredicate, error) {
	switch name {
	case "", "all":
		return nil, nil
	case "active":
		return ByStatus(StatusActive), nil
	}
	if validSeverity(Severity(name)) {
		return BySeverity(Severity(name)), nil
	}
	return nil, errorutil.InvalidAction(name, "unknown alert filter")
}

func (a *AlertInjector) emit(listeners []AlertListener, ev AlertEvent) {
	for _, l := range listeners {
		a.guard(ev.ID, func() { l(ev) })
	}
}

// guard 执行监听回调，panic 记录为 SubscriberFault
func (a *AlertInjector) guard(alertID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Errorf(a.logCtx(alertID), "[AlertInjector] %v",
				errorutil.Subscriber(alertID, errorutil.FromPanic(r)))
		}
	}()
	fn()
}

func (a *AlertInjector) logCtx(alertID string) context.Context {
	ctx := logger.With(context.Background(), logger.KeyDashboard, a.name)
	if alertID != "" {
		ctx = logger.With(ctx, logger.KeyAlertID, alertID)
	}
	return ctx
}

func validSeverity(s Severity) bool {
	for _, v := range Severities {
		if v == s {
			return true
		}
	}
	return false
}
