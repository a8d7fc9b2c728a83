package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"wsa/simfeed/internal/telemetry"
	"wsa/simfeed/internal/worker"
	"wsa/simfeed/pkg/config"
	"wsa/simfeed/pkg/ginx"
	"wsa/simfeed/pkg/logger"
)

type envelope struct {
	Meta ginx.Meta       `json:"meta"`
	Data json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (*Server, *worker.ManagerInstance) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Dashboards = append(cfg.Dashboards, config.DashboardConfig{
		Name: "lobby",
		Metrics: []config.MetricConfig{
			{ID: "mode", Policy: "categorical", Categories: []string{"day", "night"}, Cadence: time.Hour},
		},
	})
	reg := prometheus.NewRegistry()
	m, err := worker.NewManagerInstance(cfg, logger.NewNopLogger(), worker.WithRegisterer(reg))
	if err != nil {
		t.Fatalf("NewManagerInstance: %v", err)
	}
	s := NewServer(m, cfg.Server, reg, logger.NewNopLogger())
	t.Cleanup(func() {
		s.Close()
		m.Shutdown()
	})
	return s, m
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func TestServerHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)

	w, _ := do(t, s, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"dashboards":2`) {
		t.Fatalf("health: %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get(headerRequestID) == "" {
		t.Fatalf("missing request id header")
	}

	w, _ = do(t, s, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
}

func TestServerListAndSnapshot(t *testing.T) {
	s, _ := newTestServer(t)

	w, env := do(t, s, http.MethodGet, "/api/v1/dashboards", "")
	var list []DashboardInfo
	if w.Code != http.StatusOK || json.Unmarshal(env.Data, &list) != nil || len(list) != 2 || list[0].Name != "command-center" {
		t.Fatalf("list: %d %s", w.Code, w.Body.String())
	}

	w, env = do(t, s, http.MethodGet, "/api/v1/dashboards/command-center/snapshot", "")
	var snap worker.Snapshot
	if w.Code != http.StatusOK || json.Unmarshal(env.Data, &snap) != nil {
		t.Fatalf("snapshot: %d %s", w.Code, w.Body.String())
	}
	if len(snap.Metrics) != 7 || snap.Connection == nil || !snap.Alerts.Enabled {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	w, env = do(t, s, http.MethodGet, "/api/v1/dashboards/nowhere/snapshot", "")
	if w.Code != http.StatusNotFound || env.Meta.Code != http.StatusNotFound {
		t.Fatalf("unknown dashboard: %d %s", w.Code, w.Body.String())
	}
}

func TestServerAlertLifecycle(t *testing.T) {
	s, _ := newTestServer(t)
	base := "/api/v1/dashboards/command-center/alerts"

	w, env := do(t, s, http.MethodPost, base, `{"severity":"critical","type":"crowd_density","location":"Gate 2"}`)
	var created telemetry.AlertEvent
	if w.Code != http.StatusCreated || json.Unmarshal(env.Data, &created) != nil {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	if created.ID == "" || created.Status != telemetry.StatusActive {
		t.Fatalf("unexpected alert %+v", created)
	}
	do(t, s, http.MethodPost, base, `{"severity":"low","type":"crowd_density","location":"Gate 3"}`)

	w, env = do(t, s, http.MethodGet, base+"?filter=critical", "")
	var list AlertList
	if w.Code != http.StatusOK || json.Unmarshal(env.Data, &list) != nil || list.Count != 1 || list.Items[0].ID != created.ID {
		t.Fatalf("filter critical: %d %s", w.Code, w.Body.String())
	}

	w, env = do(t, s, http.MethodPost, base+"/"+created.ID+"/actions", `{"action":"resolve"}`)
	var resolved telemetry.AlertEvent
	if w.Code != http.StatusOK || json.Unmarshal(env.Data, &resolved) != nil || resolved.Status != telemetry.StatusResolved {
		t.Fatalf("resolve: %d %s", w.Code, w.Body.String())
	}

	w, env = do(t, s, http.MethodGet, base+"?filter=active", "")
	if json.Unmarshal(env.Data, &list) != nil || list.Count != 1 || list.Items[0].Location != "Gate 3" {
		t.Fatalf("filter active: %d %s", w.Code, w.Body.String())
	}
}

func TestServerGlobalAlertStartsEmergency(t *testing.T) {
	s, _ := newTestServer(t)
	path := "/api/v1/dashboards/command-center/emergency"

	before := time.Now()
	w, env := do(t, s, http.MethodPost, path, `{"type":"evacuation"}`)
	var state telemetry.EmergencyState
	if w.Code != http.StatusOK || json.Unmarshal(env.Data, &state) != nil {
		t.Fatalf("global alert: %d %s", w.Code, w.Body.String())
	}
	if !state.Active || state.Reason != "global:evacuation" || state.Until.Before(before.Add(worker.GlobalEmergency-time.Second)) {
		t.Fatalf("unexpected emergency state %+v", state)
	}

	w, env = do(t, s, http.MethodGet, "/api/v1/dashboards/command-center/snapshot", "")
	var snap worker.Snapshot
	if json.Unmarshal(env.Data, &snap) != nil || !snap.Emergency.Active {
		t.Fatalf("snapshot missing emergency: %d %s", w.Code, w.Body.String())
	}

	if w, _ := do(t, s, http.MethodPost, path, `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing type: got %d", w.Code)
	}
	if w, _ := do(t, s, http.MethodPost, "/api/v1/dashboards/nowhere/emergency", `{"type":"x"}`); w.Code != http.StatusNotFound {
		t.Fatalf("unknown dashboard: got %d", w.Code)
	}
}

func TestServerAlertErrors(t *testing.T) {
	s, _ := newTestServer(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
	}{
		{"bad filter", http.MethodGet, "/api/v1/dashboards/command-center/alerts?filter=loud", "", http.StatusBadRequest},
		{"alerts disabled", http.MethodGet, "/api/v1/dashboards/lobby/alerts", "", http.StatusNotFound},
		{"unknown alert", http.MethodPost, "/api/v1/dashboards/command-center/alerts/alert-x/actions", `{"action":"resolve"}`, http.StatusNotFound},
		{"bad action", http.MethodPost, "/api/v1/dashboards/command-center/alerts/alert-x/actions", `{"action":"dance"}`, http.StatusBadRequest},
		{"missing location", http.MethodPost, "/api/v1/dashboards/command-center/alerts", `{"severity":"low","type":"t"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		w, _ := do(t, s, tc.method, tc.path, tc.body)
		if w.Code != tc.code {
			t.Errorf("%s: got %d, want %d (%s)", tc.name, w.Code, tc.code, w.Body.String())
		}
	}

	_, env := do(t, s, http.MethodPost, "/api/v1/dashboards/command-center/alerts/alert-x/actions", `{"action":"dance"}`)
	if len(env.Meta.Details) != 1 || env.Meta.Details[0].Path != "Action" {
		t.Fatalf("expected validation details, got %+v", env.Meta)
	}
}

func TestServerRateLimitsActions(t *testing.T) {
	s, _ := newTestServer(t)

	limited := 0
	for i := 0; i < 40; i++ {
		w, _ := do(t, s, http.MethodPost, "/api/v1/dashboards/command-center/alerts/alert-x/actions", `{"action":"resolve"}`)
		if w.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited == 0 {
		t.Fatalf("expected some requests to be rate limited")
	}
}

func TestServerWebsocketStream(t *testing.T) {
	s, m := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/dashboards/command-center/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var first telemetry.Event
	if err := conn.ReadJSON(&first); err != nil || first.Type != telemetry.EventSnapshot {
		t.Fatalf("expected snapshot first, got %+v (%v)", first, err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for s.Hub().ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	d, _ := m.Dashboard("command-center")
	inj, _ := d.Alerts()
	inj.Inject(telemetry.AlertEvent{Severity: telemetry.SeverityWarning, Type: "crowd_density", Location: "Hall"})

	var next struct {
		Type      telemetry.EventType  `json:"type"`
		Dashboard string               `json:"dashboard"`
		Payload   telemetry.AlertEvent `json:"payload"`
	}
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read alert: %v", err)
	}
	if next.Type != telemetry.EventAlert || next.Dashboard != "command-center" || next.Payload.Location != "Hall" {
		t.Fatalf("unexpected event %+v", next)
	}
}
