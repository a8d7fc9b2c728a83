package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder Prometheus 指标
//
// 命名约定:
//   - simfeed_ 前缀
//   - 计数器以 _total 结尾
//
// nil Recorder 的所有方法都是空操作。
type Recorder struct {
	TicksTotal            *prometheus.CounterVec
	GenerationFaultsTotal *prometheus.CounterVec
	SubscriberFaultsTotal *prometheus.CounterVec
	MetricValue           *prometheus.GaugeVec
	AlertsInjectedTotal   *prometheus.CounterVec
	AlertActionsTotal     *prometheus.CounterVec
	AlertLogSize          *prometheus.GaugeVec
	ConnectionState       *prometheus.GaugeVec
}

// NewRecorder 创建并注册指标
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simfeed_metric_ticks_total",
				Help: "Successful metric regenerations by dashboard and metric.",
			},
			[]string{"dashboard", "metric"},
		),
		GenerationFaultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simfeed_generation_faults_total",
				Help: "Failed metric regenerations by dashboard and metric.",
			},
			[]string{"dashboard", "metric"},
		),
		SubscriberFaultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simfeed_subscriber_faults_total",
				Help: "Subscriber callbacks that panicked, by dashboard and metric.",
			},
			[]string{"dashboard", "metric"},
		),
		MetricValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "simfeed_metric_value",
				Help: "Current numeric value of a simulated metric.",
			},
			[]string{"dashboard", "metric"},
		),
		AlertsInjectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simfeed_alerts_injected_total",
				Help: "Alerts appended to the rolling log by dashboard and severity.",
			},
			[]string{"dashboard", "severity"},
		),
		AlertActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simfeed_alert_actions_total",
				Help: "Alert actions applied by dashboard and action.",
			},
			[]string{"dashboard", "action"},
		),
		AlertLogSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "simfeed_alert_log_size",
				Help: "Number of alerts retained in the rolling log.",
			},
			[]string{"dashboard"},
		),
		ConnectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "simfeed_connection_state",
				Help: "1 for the current simulated connection state, 0 otherwise.",
			},
			[]string{"dashboard", "state"},
		),
	}

	for _, c := range []prometheus.Collector{
		r.TicksTotal,
		r.GenerationFaultsTotal,
		r.SubscriberFaultsTotal,
		r.MetricValue,
		r.AlertsInjectedTotal,
		r.AlertActionsTotal,
		r.AlertLogSize,
		r.ConnectionState,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Recorder) recordTick(dashboard, metric string, v Value) {
	if r == nil {
		return
	}
	r.TicksTotal.WithLabelValues(dashboard, metric).Inc()
	if !v.IsCategorical() {
		r.MetricValue.WithLabelValues(dashboard, metric).Set(v.Number)
	}
}

func (r *Recorder) recordGenerationFault(dashboard, metric string) {
	if r == nil {
		return
	}
	r.GenerationFaultsTotal.WithLabelValues(dashboard, metric).Inc()
}

func (r *Recorder) recordSubscriberFault(dashboard, metric string) {
	if r == nil {
		return
	}
	r.SubscriberFaultsTotal.WithLabelValues(dashboard, metric).Inc()
}

func (r *Recorder) recordAlert(dashboard string, severity Severity, logSize int) {
	if r == nil {
		return
	}
	r.AlertsInjectedTotal.WithLabelValues(dashboard, string(severity)).Inc()
	r.AlertLogSize.WithLabelValues(dashboard).Set(float64(logSize))
}

func (r *Recorder) recordAlertAction(dashboard string, action AlertAction) {
	if r == nil {
		return
	}
	r.AlertActionsTotal.WithLabelValues(dashboard, string(action)).Inc()
}

func (r *Recorder) recordConnection(dashboard string, state ConnectionState) {
	if r == nil {
		return
	}
	for _, s := range ConnectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.ConnectionState.WithLabelValues(dashboard, string(s)).Set(v)
	}
}
