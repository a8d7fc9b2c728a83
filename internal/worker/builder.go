package worker

import (
	"wsa/simfeed/internal/telemetry"
	"wsa/simfeed/pkg/config"
	"wsa/simfeed/pkg/errorutil"
)

// buildMetricSpec 配置 → 指标定义
func buildMetricSpec(m config.MetricConfig) (telemetry.MetricSpec, error) {
	policy, err := telemetry.ParsePolicy(m.Policy)
	if err != nil {
		return telemetry.MetricSpec{}, err
	}
	if policy == telemetry.PolicyCustom {
		return telemetry.MetricSpec{}, errorutil.Configuration(m.ID, "custom policy cannot be declared in config")
	}

	spec := telemetry.MetricSpec{
		ID:         m.ID,
		Policy:     policy,
		Min:        m.Min,
		Max:        m.Max,
		Delta:      m.Delta,
		Integer:    m.Integer,
		Categories: m.Categories,
		Target:     m.Target,
		Cadence:    m.Cadence,
	}
	if m.Ratio != nil {
		categories, err := telemetry.RatioCategories(m.Ratio.AMin, m.Ratio.ASpan, m.Ratio.BMin, m.Ratio.BSpan)
		if err != nil {
			return telemetry.MetricSpec{}, errorutil.Configuration(m.ID, "%v", err)
		}
		spec.Categories = categories
	}

	if policy == telemetry.PolicyCategoricalSwap {
		spec.Initial = telemetry.LabelValue(m.InitialLabel)
	} else {
		spec.Initial = telemetry.NumberValue(m.InitialValue)
	}
	return spec, nil
}

// buildAlertConfig 配置 → 告警注入参数
func buildAlertConfig(a config.AlertsConfig) telemetry.AlertConfig {
	severities := make([]telemetry.Severity, 0, len(a.Severities))
	for _, s := range a.Severities {
		severities = append(severities, telemetry.Severity(s))
	}
	return telemetry.AlertConfig{
		Cadence:     a.Cadence,
		Probability: a.Probability,
		Capacity:    a.Capacity,
		Severities:  severities,
		Types:       a.Types,
		Locations:   a.Locations,
		Cameras:     a.Cameras,
	}
}

// buildConnectionConfig 配置 → 连接模拟参数
func buildConnectionConfig(c config.ConnectionConfig) (telemetry.ConnectionConfig, error) {
	initial := telemetry.StateConnected
	if c.Initial != "" {
		s, err := telemetry.ParseConnectionState(c.Initial)
		if err != nil {
			return telemetry.ConnectionConfig{}, err
		}
		initial = s
	}
	return telemetry.ConnectionConfig{
		Cadence: c.Cadence,
		Initial: initial,
		Weights: telemetry.ConnectionWeights{
			Connected: c.Weights.Connected,
			Warning:   c.Weights.Warning,
			Error:     c.Weights.Error,
		},
	}, nil
}
