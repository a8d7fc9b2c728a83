package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置
type Config struct {
	App        AppConfig         `mapstructure:"app"`
	Server     ServerConfig      `mapstructure:"server"`
	Redis      RedisConfig       `mapstructure:"redis"`
	Lmstfy     LmstfyConfig      `mapstructure:"lmstfy"`
	Workers    []WorkerConfig    `mapstructure:"workers"`
	Dashboards []DashboardConfig `mapstructure:"dashboards"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig HTTP 看板服务配置
type ServerConfig struct {
	Enable         bool          `mapstructure:"enable"`
	Port           string        `mapstructure:"port"`
	BroadcastRate  time.Duration `mapstructure:"broadcast_rate"`  // websocket 推送最小间隔
	BroadcastBurst int           `mapstructure:"broadcast_burst"` // websocket 推送突发量
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enable   bool   `mapstructure:"enable"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// LmstfyConfig Lmstfy 配置
type LmstfyConfig struct {
	Enable    bool   `mapstructure:"enable"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Namespace string `mapstructure:"namespace"`
	Token     string `mapstructure:"token"`
}

// WorkerConfig 告警动作队列 Worker 配置
type WorkerConfig struct {
	Name       string           `mapstructure:"name"`
	QueueName  string           `mapstructure:"queue_name"`
	Subscriber SubscriberConfig `mapstructure:"subscriber"`
	Processor  ProcessorConfig  `mapstructure:"processor"`
}

// SubscriberConfig Subscriber 配置
type SubscriberConfig struct {
	Threads      int           `mapstructure:"threads"`       // 并发拉取数
	Rate         time.Duration `mapstructure:"rate"`          // 拉取间隔
	Timeout      time.Duration `mapstructure:"timeout"`       // 拉取超时
	TTR          time.Duration `mapstructure:"ttr"`           // Time-To-Run
	ErrorBackoff time.Duration `mapstructure:"error_backoff"` // 错误退避时间
}

// ProcessorConfig Processor 配置
type ProcessorConfig struct {
	Threads    int           `mapstructure:"threads"`     // 并发处理数
	BufferSize int           `mapstructure:"buffer_size"` // Channel 缓冲大小
	Timeout    time.Duration `mapstructure:"timeout"`     // 单个任务超时
}

// DashboardConfig 单个看板的模拟配置
type DashboardConfig struct {
	Name       string           `mapstructure:"name"`
	Seed       int64            `mapstructure:"seed"` // 0 表示按时间取种子
	Metrics    []MetricConfig   `mapstructure:"metrics"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Connection ConnectionConfig `mapstructure:"connection"`
}

// MetricConfig 指标配置
type MetricConfig struct {
	ID           string        `mapstructure:"id"`
	Policy       string        `mapstructure:"policy"` // walk / categorical / countdown
	InitialValue float64       `mapstructure:"initial_value"`
	InitialLabel string        `mapstructure:"initial_label"`
	Min          float64       `mapstructure:"min"`
	Max          float64       `mapstructure:"max"`
	Delta        float64       `mapstructure:"delta"`
	Integer      bool          `mapstructure:"integer"`
	Categories   []string      `mapstructure:"categories"`
	Ratio        *RatioConfig  `mapstructure:"ratio"` // 生成 "a:b" 分类集合
	Target       float64       `mapstructure:"target"`
	Cadence      time.Duration `mapstructure:"cadence"`
}

// RatioConfig 比例标签集合: a ∈ [a_min, a_min+a_span), b ∈ [b_min, b_min+b_span)
type RatioConfig struct {
	AMin  int `mapstructure:"a_min"`
	ASpan int `mapstructure:"a_span"`
	BMin  int `mapstructure:"b_min"`
	BSpan int `mapstructure:"b_span"`
}

// AlertsConfig 告警注入配置
type AlertsConfig struct {
	Enable      bool          `mapstructure:"enable"`
	Cadence     time.Duration `mapstructure:"cadence"`
	Probability float64       `mapstructure:"probability"`
	Capacity    int           `mapstructure:"capacity"`
	Severities  []string      `mapstructure:"severities"`
	Types       []string      `mapstructure:"types"`
	Locations   []string      `mapstructure:"locations"`
	Cameras     int           `mapstructure:"cameras"`
}

// ConnectionConfig 连接状态模拟配置
type ConnectionConfig struct {
	Enable  bool             `mapstructure:"enable"`
	Cadence time.Duration    `mapstructure:"cadence"`
	Initial string           `mapstructure:"initial"`
	Weights ConnectionWeight `mapstructure:"weights"`
}

// ConnectionWeight 各状态权重
type ConnectionWeight struct {
	Connected float64 `mapstructure:"connected"`
	Warning   float64 `mapstructure:"warning"`
	Error     float64 `mapstructure:"error"`
}

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	cfg.applyDefaults(explicitKeys(v))
	return &cfg, nil
}

// explicitKeys 收集每个看板在配置文件中显式写出的键（小写点路径，如 alerts.probability）
// 用于区分“未填写”和“显式填写了零值”
func explicitKeys(v *viper.Viper) []map[string]bool {
	raw, _ := v.Get("dashboards").([]interface{})
	out := make([]map[string]bool, len(raw))
	for i, item := range raw {
		keys := make(map[string]bool)
		collectKeys(item, "", keys)
		out[i] = keys
	}
	return out
}

func collectKeys(node interface{}, prefix string, keys map[string]bool) {
	visit := func(k string, child interface{}) {
		path := strings.ToLower(k)
		if prefix != "" {
			path = prefix + "." + path
		}
		keys[path] = true
		collectKeys(child, path, keys)
	}
	switch m := node.(type) {
	case map[string]interface{}:
		for k, child := range m {
			visit(k, child)
		}
	case map[interface{}]interface{}:
		for k, child := range m {
			visit(fmt.Sprint(k), child)
		}
	}
}

// setDefaults 顶层默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "simfeed")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("server.enable", true)
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.broadcast_rate", "100ms")
	v.SetDefault("server.broadcast_burst", 20)
	v.SetDefault("redis.channel", "simfeed_events")
	v.SetDefault("lmstfy.port", 7777)
}

// applyDefaults 列表项内的默认值（viper 不会为数组元素填充默认值）
// explicit 为 nil 时所有零值都视为未填写；显式写出的零值原样保留，交给校验拒绝
func (c *Config) applyDefaults(explicit []map[string]bool) {
	for i := range c.Dashboards {
		d := &c.Dashboards[i]
		omitted := func(key string) bool {
			return i >= len(explicit) || !explicit[i][key]
		}
		if d.Alerts.Cadence == 0 && omitted("alerts.cadence") {
			d.Alerts.Cadence = 15 * time.Second
		}
		if d.Alerts.Probability == 0 && omitted("alerts.probability") {
			d.Alerts.Probability = 0.3
		}
		if d.Alerts.Capacity == 0 && omitted("alerts.capacity") {
			d.Alerts.Capacity = 20
		}
		if len(d.Alerts.Severities) == 0 && omitted("alerts.severities") {
			d.Alerts.Severities = []string{"low", "medium", "warning", "critical"}
		}
		if len(d.Alerts.Types) == 0 && omitted("alerts.types") {
			d.Alerts.Types = []string{"gesture_detection", "crowd_density", "behavioral_anomaly"}
		}
		if len(d.Alerts.Locations) == 0 && omitted("alerts.locations") {
			d.Alerts.Locations = []string{"Various Locations"}
		}
		if d.Connection.Cadence == 0 && omitted("connection.cadence") {
			d.Connection.Cadence = 10 * time.Second
		}
		if d.Connection.Initial == "" && omitted("connection.initial") {
			d.Connection.Initial = "connected"
		}
		w := d.Connection.Weights
		if w.Connected == 0 && w.Warning == 0 && w.Error == 0 && omitted("connection.weights") {
			d.Connection.Weights = ConnectionWeight{Connected: 0.8, Warning: 0.15, Error: 0.05}
		}
	}
	for i := range c.Workers {
		w := &c.Workers[i]
		if w.Subscriber.Threads == 0 {
			w.Subscriber.Threads = 1
		}
		if w.Processor.Threads == 0 {
			w.Processor.Threads = 1
		}
		if w.Processor.BufferSize == 0 {
			w.Processor.BufferSize = 16
		}
		if w.Processor.Timeout == 0 {
			w.Processor.Timeout = 5 * time.Second
		}
		if w.Subscriber.ErrorBackoff == 0 {
			w.Subscriber.ErrorBackoff = time.Second
		}
	}
}

// Validate 验证配置
// 指标级别的边界/策略校验在注册时由调度器完成
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if len(c.Dashboards) == 0 {
		return fmt.Errorf("at least one dashboard is required")
	}

	seen := make(map[string]bool, len(c.Dashboards))
	for _, d := range c.Dashboards {
		if d.Name == "" {
			return fmt.Errorf("dashboard name is required")
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate dashboard name: %s", d.Name)
		}
		seen[d.Name] = true

		for _, m := range d.Metrics {
			if m.ID == "" {
				return fmt.Errorf("dashboard %s: metric id is required", d.Name)
			}
			if m.Cadence <= 0 {
				return fmt.Errorf("dashboard %s: metric %s cadence must be positive", d.Name, m.ID)
			}
			if r := m.Ratio; r != nil && (r.ASpan <= 0 || r.BSpan <= 0) {
				return fmt.Errorf("dashboard %s: metric %s ratio spans must be positive", d.Name, m.ID)
			}
		}
		if err := d.Alerts.validate(); err != nil {
			return fmt.Errorf("dashboard %s: %w", d.Name, err)
		}
		if err := d.Connection.validate(); err != nil {
			return fmt.Errorf("dashboard %s: %w", d.Name, err)
		}
	}

	if c.Redis.Enable && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if c.Lmstfy.Enable {
		if c.Lmstfy.Host == "" {
			return fmt.Errorf("lmstfy.host is required when lmstfy is enabled")
		}
		if len(c.Workers) == 0 {
			return fmt.Errorf("at least one worker is required when lmstfy is enabled")
		}
		for _, w := range c.Workers {
			if w.QueueName == "" {
				return fmt.Errorf("worker %s: queue_name is required", w.Name)
			}
		}
	}
	return nil
}

// validate 仅在启用时校验
func (a *AlertsConfig) validate() error {
	if !a.Enable {
		return nil
	}
	if a.Cadence <= 0 {
		return fmt.Errorf("alerts.cadence must be positive")
	}
	if !(a.Probability >= 0 && a.Probability <= 1) {
		return fmt.Errorf("alerts.probability must be within [0, 1], got %v", a.Probability)
	}
	if a.Capacity <= 0 {
		return fmt.Errorf("alerts.capacity must be positive, got %d", a.Capacity)
	}
	if len(a.Severities) == 0 || len(a.Types) == 0 || len(a.Locations) == 0 {
		return fmt.Errorf("alerts severities, types and locations must not be empty")
	}
	return nil
}

// validate 仅在启用时校验
func (c *ConnectionConfig) validate() error {
	if !c.Enable {
		return nil
	}
	if c.Cadence <= 0 {
		return fmt.Errorf("connection.cadence must be positive")
	}
	total := 0.0
	for _, w := range []float64{c.Weights.Connected, c.Weights.Warning, c.Weights.Error} {
		if !(w >= 0) || math.IsInf(w, 0) {
			return fmt.Errorf("connection.weights must be finite and non-negative")
		}
		total += w
	}
	if total <= 0 {
		return fmt.Errorf("connection.weights must not all be zero")
	}
	return nil
}

// Default 内置预设：实时监控指挥中心
func Default() *Config {
	cfg := &Config{
		App:    AppConfig{Name: "simfeed", Env: "dev", LogLevel: "info"},
		Server: ServerConfig{Enable: true, Port: "8080", BroadcastRate: 100 * time.Millisecond, BroadcastBurst: 20},
		Redis:  RedisConfig{Channel: "simfeed_events"},
		Dashboards: []DashboardConfig{
			{
				Name: "command-center",
				Metrics: []MetricConfig{
					{ID: "population", Policy: "walk", InitialValue: 1247, Min: 50, Max: 5000, Delta: 10, Integer: true, Cadence: 5 * time.Second},
					{ID: "genderRatio", Policy: "categorical", Ratio: &RatioConfig{AMin: 55, ASpan: 15, BMin: 35, BSpan: 15}, Cadence: 5 * time.Second},
					{ID: "activeIncidents", Policy: "walk", InitialValue: 7, Min: 0, Max: 50, Delta: 1, Integer: true, Cadence: 5 * time.Second},
					{ID: "responseCountdown", Policy: "countdown", InitialValue: 180, Target: 180, Cadence: time.Second},
					{ID: "deploymentStatus", Policy: "walk", InitialValue: 85, Min: 70, Max: 95, Delta: 2.5, Cadence: 5 * time.Second},
					{ID: "equipmentAvailability", Policy: "walk", InitialValue: 92, Min: 80, Max: 98, Delta: 1.5, Cadence: 5 * time.Second},
					{ID: "communicationActivity", Policy: "walk", InitialValue: 75, Min: 60, Max: 90, Delta: 4, Cadence: 5 * time.Second},
				},
				Alerts:     AlertsConfig{Enable: true, Cameras: 6},
				Connection: ConnectionConfig{Enable: true, Cadence: 8 * time.Second},
			},
		},
	}
	cfg.applyDefaults(nil)
	return cfg
}
