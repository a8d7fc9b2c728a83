package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	m := &dto.Metric{}
	if err := cv.WithLabelValues(labels...).Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(gv *prometheus.GaugeVec, labels ...string) float64 {
	m := &dto.Metric{}
	if err := gv.WithLabelValues(labels...).Write(m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func TestRecorderTracksTicksAndValues(t *testing.T) {
	rec, err := NewRecorder(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	s := NewScheduler("hub", WithRecorder(rec), WithRandomSource(NewSeededSource(1)))
	_ = s.Register(MetricSpec{ID: "eta", Policy: PolicyCountdown, Initial: NumberValue(4), Target: 4, Cadence: time.Second})
	_ = s.Register(MetricSpec{ID: "ratio", Policy: PolicyCategoricalSwap, Categories: []string{"60:40"}, Cadence: time.Second})

	for i := 0; i < 3; i++ {
		_, _ = s.TickMetric("eta")
	}
	_, _ = s.TickMetric("ratio")

	if got := counterValue(rec.TicksTotal, "hub", "eta"); got != 3 {
		t.Fatalf("ticks = %v, want 3", got)
	}
	if got := gaugeValue(rec.MetricValue, "hub", "eta"); got != 1 {
		t.Fatalf("value gauge = %v, want 1", got)
	}
	if got := counterValue(rec.TicksTotal, "hub", "ratio"); got != 1 {
		t.Fatalf("categorical ticks = %v, want 1", got)
	}
}

func TestRecorderDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewRecorder(reg); err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if _, err := NewRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var rec *Recorder
	rec.recordTick("d", "m", NumberValue(1))
	rec.recordGenerationFault("d", "m")
	rec.recordSubscriberFault("d", "m")
	rec.recordAlert("d", SeverityLow, 1)
	rec.recordAlertAction("d", ActionResolve)
	rec.recordConnection("d", StateError)
}
