package telemetry

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"wsa/simfeed/pkg/errorutil"
)

// Policy 漂移策略
type Policy string

const (
	// PolicyBoundedRandomWalk 有界随机游走
	PolicyBoundedRandomWalk Policy = "walk"
	// PolicyCategoricalSwap 从固定集合中独立抽取
	PolicyCategoricalSwap Policy = "categorical"
	// PolicyCountdown 倒计时，归零后重置为目标值
	PolicyCountdown Policy = "countdown"
	// PolicyCustom 自定义漂移函数
	PolicyCustom Policy = "custom"
)

// ParsePolicy 解析策略名称
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyBoundedRandomWalk, PolicyCategoricalSwap, PolicyCountdown, PolicyCustom:
		return Policy(s), nil
	}
	return "", errorutil.Configuration("policy", "unknown drift policy %q", s)
}

// Value 指标值：数值或分类标签
type Value struct {
	Number float64 `json:"number"`
	Label  string  `json:"label,omitempty"`
}

// NumberValue 构造数值
func NumberValue(f float64) Value { return Value{Number: f} }

// LabelValue 构造分类值
func LabelValue(s string) Value { return Value{Label: s} }

// IsCategorical 是否为分类值
func (v Value) IsCategorical() bool { return v.Label != "" }

func (v Value) String() string {
	if v.IsCategorical() {
		return v.Label
	}
	return strconv.FormatFloat(v.Number, 'f', -1, 64)
}

// DriftFunc 自定义漂移函数，可返回错误
type DriftFunc func(current Value, rng RandomSource) (Value, error)

// MetricSpec 指标配置
type MetricSpec struct {
	ID      string
	Initial Value
	Policy  Policy

	// 随机游走 / 自定义策略的边界
	Min float64
	Max float64
	// 随机游走步长上限；倒计时每次递减量（0 表示 1）
	Delta float64
	// 随机游走按整数步进
	Integer bool

	// 分类策略的候选集合
	Categories []string

	// 倒计时目标值
	Target float64

	Cadence time.Duration
	Drift   DriftFunc
}

// hasBounds 自定义策略在 Max > Min 时视为声明了边界
func (m *MetricSpec) hasBounds() bool {
	switch m.Policy {
	case PolicyBoundedRandomWalk, PolicyCountdown:
		return true
	case PolicyCustom:
		return m.Max > m.Min
	}
	return false
}

// Validate 校验配置，注册时调用
// 所有错误都是 ConfigurationError
func (m *MetricSpec) Validate() error {
	if m.ID == "" {
		return errorutil.Configuration("metric", "id is required")
	}
	if m.Cadence <= 0 {
		return errorutil.Configuration(m.ID, "cadence must be positive, got %s", m.Cadence)
	}

	switch m.Policy {
	case PolicyBoundedRandomWalk:
		if !finite(m.Min) || !finite(m.Max) || !finite(m.Delta) || !finite(m.Initial.Number) {
			return errorutil.Configuration(m.ID, "bounds, delta and initial value must be finite")
		}
		if m.Min > m.Max {
			return errorutil.Configuration(m.ID, "min %v greater than max %v", m.Min, m.Max)
		}
		if m.Delta < 0 || math.IsNaN(m.Delta) {
			return errorutil.Configuration(m.ID, "delta must be non-negative, got %v", m.Delta)
		}
		if m.Initial.IsCategorical() {
			return errorutil.Configuration(m.ID, "walk metric needs a numeric initial value")
		}
		if m.Initial.Number < m.Min || m.Initial.Number > m.Max {
			return errorutil.Configuration(m.ID, "initial %v outside [%v, %v]", m.Initial.Number, m.Min, m.Max)
		}
		if m.Integer && (!isWhole(m.Delta) || !isWhole(m.Initial.Number) || !isWhole(m.Min) || !isWhole(m.Max)) {
			return errorutil.Configuration(m.ID, "integer walk needs whole bounds, delta and initial value")
		}

	case PolicyCategoricalSwap:
		if len(m.Categories) == 0 {
			return errorutil.Configuration(m.ID, "categorical metric needs at least one category")
		}
		if contains(m.Categories, "") {
			return errorutil.Configuration(m.ID, "category labels must not be empty")
		}
		if m.Initial.Label != "" && !contains(m.Categories, m.Initial.Label) {
			return errorutil.Configuration(m.ID, "initial label %q not in category set", m.Initial.Label)
		}

	case PolicyCountdown:
		if m.Target <= 0 || !isWhole(m.Target) {
			return errorutil.Configuration(m.ID, "countdown target must be a positive whole number, got %v", m.Target)
		}
		if m.Delta < 0 || !isWhole(m.Delta) {
			return errorutil.Configuration(m.ID, "countdown step must be a non-negative whole number, got %v", m.Delta)
		}
		if m.Initial.IsCategorical() || m.Initial.Number < 0 || m.Initial.Number > m.Target || !isWhole(m.Initial.Number) {
			return errorutil.Configuration(m.ID, "countdown initial %v outside [0, %v]", m.Initial.Number, m.Target)
		}

	case PolicyCustom:
		if m.Drift == nil {
			return errorutil.Configuration(m.ID, "custom policy needs a drift function")
		}
		if !finite(m.Min) || !finite(m.Max) || !finite(m.Initial.Number) {
			return errorutil.Configuration(m.ID, "bounds and initial value must be finite")
		}
		if m.hasBounds() && !m.Initial.IsCategorical() && (m.Initial.Number < m.Min || m.Initial.Number > m.Max) {
			return errorutil.Configuration(m.ID, "initial %v outside [%v, %v]", m.Initial.Number, m.Min, m.Max)
		}

	default:
		return errorutil.Configuration(m.ID, "unknown drift policy %q", m.Policy)
	}

	return nil
}

// normalize 填充默认值（Validate 之后调用）
func (m *MetricSpec) normalize() {
	if m.Policy == PolicyCategoricalSwap && m.Initial.Label == "" {
		m.Initial = LabelValue(m.Categories[0])
	}
	if m.Policy == PolicyCountdown && m.Delta == 0 {
		m.Delta = 1
	}
	m.Categories = append([]string(nil), m.Categories...)
}

// Next 根据当前值和策略计算下一个值
// 内置策略是全函数，只有自定义策略可能返回错误
func Next(spec *MetricSpec, current Value, rng RandomSource) (Value, error) {
	switch spec.Policy {
	case PolicyBoundedRandomWalk:
		var step float64
		if spec.Integer {
			d := int(spec.Delta)
			step = float64(rng.Intn(2*d+1) - d)
		} else {
			step = (rng.Float64()*2 - 1) * spec.Delta
		}
		return NumberValue(clamp(current.Number+step, spec.Min, spec.Max)), nil

	case PolicyCategoricalSwap:
		return LabelValue(spec.Categories[rng.Intn(len(spec.Categories))]), nil

	case PolicyCountdown:
		if current.Number <= 0 {
			return NumberValue(spec.Target), nil
		}
		step := spec.Delta
		if step <= 0 {
			step = 1
		}
		return NumberValue(math.Max(0, current.Number-step)), nil

	case PolicyCustom:
		next, err := spec.Drift(current, rng)
		if err != nil {
			return current, err
		}
		if spec.hasBounds() && !next.IsCategorical() && (next.Number < spec.Min || next.Number > spec.Max || math.IsNaN(next.Number)) {
			return current, fmt.Errorf("value %v outside [%v, %v]", next.Number, spec.Min, spec.Max)
		}
		return next, nil
	}

	return current, fmt.Errorf("unknown drift policy %q", spec.Policy)
}

// RatioCategories 生成 "a:b" 比例标签集合
// a 取 [aMin, aMin+aSpan)，b 取 [bMin, bMin+bSpan)；跨度必须为正
func RatioCategories(aMin, aSpan, bMin, bSpan int) ([]string, error) {
	if aSpan <= 0 || bSpan <= 0 {
		return nil, errorutil.Configuration("ratio", "spans must be positive, got a_span=%d b_span=%d", aSpan, bSpan)
	}
	out := make([]string, 0, aSpan*bSpan)
	for a := aMin; a < aMin+aSpan; a++ {
		for b := bMin; b < bMin+bSpan; b++ {
			out = append(out, fmt.Sprintf("%d:%d", a, b))
		}
	}
	return out, nil
}

// FormatCountdown 将秒数格式化为 m:ss
func FormatCountdown(seconds float64) string {
	s := int(math.Max(0, seconds))
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

func clamp(v, min, max float64) float64 {
	if math.IsNaN(v) {
		return min
	}
	return math.Min(max, math.Max(min, v))
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func isWhole(f float64) bool {
	return f == math.Trunc(f) && !math.IsInf(f, 0)
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
