package telemetry

import (
	"context"
	"math"
	"sync"
	"time"

	"wsa/simfeed/pkg/errorutil"
	"wsa/simfeed/pkg/logger"
)

// ConnectionState 连接健康状态
type ConnectionState string

const (
	StateConnected ConnectionState = "connected"
	StateWarning   ConnectionState = "warning"
	StateError     ConnectionState = "error"
)

// ConnectionStates 按累积权重表的顺序排列
var ConnectionStates = []ConnectionState{StateConnected, StateWarning, StateError}

// ParseConnectionState 解析状态名
func ParseConnectionState(s string) (ConnectionState, error) {
	for _, st := range ConnectionStates {
		if string(st) == s {
			return st, nil
		}
	}
	return "", errorutil.Configuration("connection", "unknown connection state %q", s)
}

// ConnectionWeights 各状态权重，不要求和为 1
type ConnectionWeights struct {
	Connected float64
	Warning   float64
	Error     float64
}

func (w ConnectionWeights) list() []float64 {
	return []float64{w.Connected, w.Warning, w.Error}
}

// ConnectionConfig 连接状态模拟配置
type ConnectionConfig struct {
	Cadence time.Duration
	Initial ConnectionState
	Weights ConnectionWeights
}

// DefaultConnectionConfig 监控页的默认权重
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		Cadence: 8 * time.Second,
		Initial: StateConnected,
		Weights: ConnectionWeights{Connected: 0.8, Warning: 0.15, Error: 0.05},
	}
}

// Validate 校验配置
func (c *ConnectionConfig) Validate() error {
	if c.Cadence <= 0 {
		return errorutil.Configuration("connection", "cadence must be positive, got %s", c.Cadence)
	}
	if _, err := ParseConnectionState(string(c.Initial)); err != nil {
		return err
	}
	total := 0.0
	for _, w := range c.Weights.list() {
		if !(w >= 0) || math.IsInf(w, 0) {
			return errorutil.Configuration("connection", "weights must be finite and non-negative")
		}
		total += w
	}
	if total <= 0 {
		return errorutil.Configuration("connection", "weights must not all be zero")
	}
	return nil
}

// ConnectionStatus 当前状态 + 最近变更时间
type ConnectionStatus struct {
	State       ConnectionState `json:"state"`
	LastChanged time.Time       `json:"last_changed"`
}

// ConnectionListener 状态变更回调
type ConnectionListener func(status ConnectionStatus)

// ConnectionSimulator 连接状态模拟器
// 按固定周期根据累积权重表抽取状态，任意状态之间可以直接跳转
type ConnectionSimulator struct {
	name     string
	cfg      ConnectionConfig
	rng      RandomSource
	clock    Clock
	logger   logger.Logger
	recorder *Recorder

	mu        sync.RWMutex
	status    ConnectionStatus
	listeners []ConnectionListener

	loops *loopGroup
}

// NewConnectionSimulator 创建模拟器，初始状态为配置的默认值
func NewConnectionSimulator(name string, cfg ConnectionConfig, opts ...Option) (*ConnectionSimulator, error) {
	if cfg.Initial == "" {
		cfg.Initial = StateConnected
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	c := &ConnectionSimulator{
		name:     name,
		cfg:      cfg,
		rng:      o.rng,
		clock:    o.clock,
		logger:   o.logger,
		recorder: o.recorder,
		status:   ConnectionStatus{State: cfg.Initial, LastChanged: o.clock.Now()},
		loops:    newLoopGroup(),
	}
	c.recorder.recordConnection(name, cfg.Initial)
	return c, nil
}

// OnChange 注册状态变更监听
func (c *ConnectionSimulator) OnChange(l ConnectionListener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// Current 当前状态
func (c *ConnectionSimulator) Current() ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Draw 按累积权重抽取一个状态（不修改当前状态）
func (c *ConnectionSimulator) Draw() ConnectionState {
	weights := c.cfg.Weights.list()
	total := 0.0
	for _, w := range weights {
		total += w
	}

	r := c.rng.Float64() * total
	cumulative := 0.0
	last := c.cfg.Initial
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		cumulative += w
		last = ConnectionStates[i]
		if r < cumulative {
			return ConnectionStates[i]
		}
	}
	// 浮点误差兜底：返回最后一个权重非零的状态
	return last
}

// Tick 抽取新状态；状态变化时更新变更时间并通知
func (c *ConnectionSimulator) Tick() ConnectionState {
	next := c.Draw()

	c.mu.Lock()
	prev := c.status.State
	changed := next != prev
	if changed {
		c.status = ConnectionStatus{State: next, LastChanged: c.clock.Now()}
	}
	status := c.status
	listeners := append([]ConnectionListener(nil), c.listeners...)
	c.mu.Unlock()

	if changed {
		c.recorder.recordConnection(c.name, next)
		c.logger.Infof(c.logCtx(), "[Connection] %s: %s -> %s", c.name, prev, next)
		for _, l := range listeners {
			c.invoke(l, status)
		}
	}
	return next
}

// Start 启动定时器
func (c *ConnectionSimulator) Start(parentCtx context.Context) {
	ctx, _, ok := c.loops.start(parentCtx)
	if !ok {
		return
	}
	c.loops.spawn(ctx, c.cfg.Cadence, func(context.Context) {
		c.Tick()
	})
	c.logger.Infof(c.logCtx(), "[Connection] %s started, cadence=%s", c.name, c.cfg.Cadence)
}

// Stop 停止定时器，可重复调用
func (c *ConnectionSimulator) Stop() {
	c.loops.stop()
}

// Wait 等待定时协程退出
func (c *ConnectionSimulator) Wait() {
	c.loops.wait()
}

func (c *ConnectionSimulator) invoke(l ConnectionListener, status ConnectionStatus) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf(c.logCtx(), "[Connection] %v",
				errorutil.Subscriber(c.name, errorutil.FromPanic(r)))
		}
	}()
	l(status)
}

func (c *ConnectionSimulator) logCtx() context.Context {
	return logger.With(context.Background(), logger.KeyDashboard, c.name)
}
