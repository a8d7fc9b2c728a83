package worker

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"wsa/simfeed/internal/telemetry"
	"wsa/simfeed/pkg/config"
	"wsa/simfeed/pkg/errorutil"
	"wsa/simfeed/pkg/logger"
)

// eventLog 线程安全的事件收集 Sink
type eventLog struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (l *eventLog) sink(ev telemetry.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []telemetry.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]telemetry.Event(nil), l.events...)
}

func commandCenter(t *testing.T, clock telemetry.Clock) *Dashboard {
	t.Helper()
	cfg := config.Default().Dashboards[0]
	cfg.Seed = 7
	rec, err := telemetry.NewRecorder(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	d, err := NewDashboard(cfg, logger.NewNopLogger(), rec, clock)
	if err != nil {
		t.Fatalf("NewDashboard: %v", err)
	}
	return d
}

func TestDashboardForwardsMetricEvents(t *testing.T) {
	start := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	clock := telemetry.NewManualClock(start)
	d := commandCenter(t, clock)

	log := &eventLog{}
	d.AddSink(log.sink)

	clock.Advance(time.Second)
	v, err := d.Scheduler().TickMetric("responseCountdown")
	if err != nil {
		t.Fatalf("TickMetric: %v", err)
	}
	if v.Number != 179 {
		t.Fatalf("countdown = %v, want 179", v.Number)
	}

	events := log.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	update, ok := ev.Payload.(telemetry.MetricUpdate)
	if ev.Type != telemetry.EventMetric || ev.Dashboard != "command-center" || !ok || update.ID != "responseCountdown" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if !d.LastUpdated().Equal(start.Add(time.Second)) {
		t.Fatalf("last updated = %v", d.LastUpdated())
	}
}

func TestDashboardSnapshot(t *testing.T) {
	clock := telemetry.NewManualClock(time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC))
	d := commandCenter(t, clock)

	inj, err := d.Alerts()
	if err != nil {
		t.Fatalf("Alerts: %v", err)
	}
	a := inj.Inject(telemetry.AlertEvent{Severity: telemetry.SeverityCritical, Type: "crowd_density", Location: "Hall"})
	inj.Inject(telemetry.AlertEvent{Severity: telemetry.SeverityLow, Type: "crowd_density", Location: "Hall"})
	if _, err := inj.ApplyAction(a.ID, telemetry.ActionResolve); err != nil {
		t.Fatalf("ApplyAction: %v", err)
	}

	snap := d.Snapshot()
	if snap.Name != "command-center" || len(snap.Metrics) != 7 || snap.Running {
		t.Fatalf("unexpected snapshot header %+v", snap)
	}
	if snap.Metrics[0].ID != "population" || snap.Metrics[0].Value.Number != 1247 {
		t.Fatalf("unexpected first metric %+v", snap.Metrics[0])
	}
	if snap.Metrics[3].ID != "responseCountdown" || snap.Metrics[3].Display != "3:00" || snap.Metrics[0].Display != "" {
		t.Fatalf("countdown display not derived: %+v / %+v", snap.Metrics[3], snap.Metrics[0])
	}
	if snap.Metrics[1].Value.Label != "55:35" {
		t.Fatalf("gender ratio should start at first category, got %q", snap.Metrics[1].Value.Label)
	}
	if snap.Alerts != (AlertSummary{Enabled: true, Total: 2, Active: 1, Capacity: 20}) {
		t.Fatalf("unexpected alert summary %+v", snap.Alerts)
	}
	if snap.Connection == nil || snap.Connection.State != telemetry.StateConnected {
		t.Fatalf("unexpected connection %+v", snap.Connection)
	}
	if snap.Events != 3 {
		t.Fatalf("expected 3 events (2 injects + 1 resolve), got %d", snap.Events)
	}
}

func TestDashboardDisabledParts(t *testing.T) {
	cfg := config.DashboardConfig{
		Name: "lobby",
		Metrics: []config.MetricConfig{
			{ID: "mode", Policy: "categorical", Categories: []string{"day", "night"}, InitialLabel: "night", Cadence: time.Second},
		},
	}
	d, err := NewDashboard(cfg, logger.NewNopLogger(), nil, nil)
	if err != nil {
		t.Fatalf("NewDashboard: %v", err)
	}
	if _, err := d.Alerts(); !errorutil.IsKind(err, errorutil.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := d.Connection(); !errorutil.IsKind(err, errorutil.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if v, _ := d.Scheduler().Value("mode"); v.Label != "night" {
		t.Fatalf("initial label = %q", v.Label)
	}
	if snap := d.Snapshot(); snap.Connection != nil || snap.Alerts.Enabled {
		t.Fatalf("disabled parts leaked into snapshot %+v", snap)
	}
}

func TestDashboardRejectsBadConfig(t *testing.T) {
	cases := map[string]config.DashboardConfig{
		"no name": {},
		"walk outside bounds": {Name: "d", Metrics: []config.MetricConfig{
			{ID: "x", Policy: "walk", InitialValue: 10, Min: 0, Max: 5, Delta: 1, Cadence: time.Second},
		}},
		"custom policy": {Name: "d", Metrics: []config.MetricConfig{
			{ID: "x", Policy: "custom", Cadence: time.Second},
		}},
		"unknown policy": {Name: "d", Metrics: []config.MetricConfig{
			{ID: "x", Policy: "sine", Cadence: time.Second},
		}},
		"duplicate metric": {Name: "d", Metrics: []config.MetricConfig{
			{ID: "x", Policy: "categorical", Categories: []string{"a"}, Cadence: time.Second},
			{ID: "x", Policy: "categorical", Categories: []string{"b"}, Cadence: time.Second},
		}},
		"negative ratio span": {Name: "d", Metrics: []config.MetricConfig{
			{ID: "x", Policy: "categorical", Ratio: &config.RatioConfig{AMin: 55, ASpan: -1, BMin: 35, BSpan: 15}, Cadence: time.Second},
		}},
		"nan walk bound": {Name: "d", Metrics: []config.MetricConfig{
			{ID: "x", Policy: "walk", InitialValue: 5, Min: math.NaN(), Max: 10, Delta: 1, Cadence: time.Second},
		}},
		"zero connection weights": {Name: "d", Connection: config.ConnectionConfig{
			Enable: true, Cadence: time.Second, Initial: "connected",
		}},
		"bad connection state": {Name: "d", Connection: config.ConnectionConfig{
			Enable: true, Cadence: time.Second, Initial: "offline",
			Weights: config.ConnectionWeight{Connected: 1},
		}},
		"bad alert probability": {Name: "d", Alerts: config.AlertsConfig{
			Enable: true, Cadence: time.Second, Probability: 2, Capacity: 5,
			Severities: []string{"low"}, Types: []string{"t"}, Locations: []string{"l"},
		}},
	}
	for name, cfg := range cases {
		if _, err := NewDashboard(cfg, logger.NewNopLogger(), nil, nil); !errorutil.IsKind(err, errorutil.KindConfiguration) {
			t.Fatalf("%s: expected configuration error, got %v", name, err)
		}
	}
}

func TestBuildMetricSpecRatio(t *testing.T) {
	spec, err := buildMetricSpec(config.MetricConfig{
		ID:      "genderRatio",
		Policy:  "categorical",
		Ratio:   &config.RatioConfig{AMin: 55, ASpan: 15, BMin: 35, BSpan: 15},
		Cadence: time.Second,
	})
	if err != nil {
		t.Fatalf("buildMetricSpec: %v", err)
	}
	if len(spec.Categories) != 225 || spec.Categories[224] != "69:49" {
		t.Fatalf("unexpected categories: %d, last %q", len(spec.Categories), spec.Categories[len(spec.Categories)-1])
	}
}

func emergencyEvents(events []telemetry.Event) []telemetry.EmergencyState {
	var out []telemetry.EmergencyState
	for _, ev := range events {
		if ev.Type == telemetry.EventEmergency {
			out = append(out, ev.Payload.(telemetry.EmergencyState))
		}
	}
	return out
}

func TestDashboardEscalateStartsEmergencyThatExpires(t *testing.T) {
	d := commandCenter(t, nil)
	d.escalate = 20 * time.Millisecond
	log := &eventLog{}
	d.AddSink(log.sink)

	inj, _ := d.Alerts()
	a := inj.Inject(telemetry.AlertEvent{Severity: telemetry.SeverityCritical, Type: "crowd_density", Location: "Hall"})
	if _, err := inj.ApplyAction(a.ID, telemetry.ActionInvestigate); err != nil {
		t.Fatalf("ApplyAction: %v", err)
	}
	if d.Emergency().Active {
		t.Fatalf("investigate must not start emergency mode")
	}

	if _, err := inj.ApplyAction(a.ID, telemetry.ActionEscalate); err != nil {
		t.Fatalf("ApplyAction: %v", err)
	}
	state := d.Emergency()
	if !state.Active || state.Reason != "escalate:"+a.ID || !d.Snapshot().Emergency.Active {
		t.Fatalf("escalate did not start emergency mode: %+v", state)
	}

	deadline := time.Now().Add(2 * time.Second)
	for d.Emergency().Active {
		if time.Now().After(deadline) {
			t.Fatalf("emergency mode never expired")
		}
		time.Sleep(2 * time.Millisecond)
	}

	got := emergencyEvents(log.snapshot())
	if len(got) != 2 || !got[0].Active || got[1].Active {
		t.Fatalf("expected on/off emergency events, got %+v", got)
	}
}

func TestDashboardEmergencyRetriggerExtendsHold(t *testing.T) {
	d := commandCenter(t, nil)
	log := &eventLog{}
	d.AddSink(log.sink)

	if err := d.TriggerEmergency("global:drill", 30*time.Millisecond); err != nil {
		t.Fatalf("TriggerEmergency: %v", err)
	}
	if err := d.TriggerEmergency("global:evacuation", time.Hour); err != nil {
		t.Fatalf("TriggerEmergency: %v", err)
	}
	// 第一次的过期回调已失效
	time.Sleep(60 * time.Millisecond)
	if state := d.Emergency(); !state.Active || state.Reason != "global:evacuation" {
		t.Fatalf("superseded timer ended emergency mode: %+v", state)
	}
	if err := d.TriggerEmergency("x", 0); !errorutil.IsKind(err, errorutil.KindConfiguration) {
		t.Fatalf("expected configuration error for zero hold, got %v", err)
	}
	d.Shutdown()
}

func TestDashboardShutdownCancelsEmergencyTimer(t *testing.T) {
	d := commandCenter(t, nil)
	log := &eventLog{}
	d.AddSink(log.sink)

	if err := d.TriggerEmergency("global:evacuation", 20*time.Millisecond); err != nil {
		t.Fatalf("TriggerEmergency: %v", err)
	}
	d.Shutdown()
	if d.Emergency().Active {
		t.Fatalf("emergency mode survived shutdown")
	}

	time.Sleep(50 * time.Millisecond)
	if got := emergencyEvents(log.snapshot()); len(got) != 1 {
		t.Fatalf("expiry fired after shutdown: %+v", got)
	}
	if err := d.TriggerEmergency("late", time.Second); !errorutil.IsKind(err, errorutil.KindStopped) {
		t.Fatalf("expected stopped error after shutdown, got %v", err)
	}
}
