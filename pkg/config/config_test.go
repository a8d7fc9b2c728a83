package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "simulator.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
dashboards:
  - name: hub
    metrics:
      - id: eta
        policy: countdown
        initial_value: 30
        target: 30
        cadence: 1s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.App.Name != "simfeed" || cfg.Server.Port != "8080" || cfg.Server.BroadcastRate != 100*time.Millisecond {
		t.Fatalf("top-level defaults not applied: %+v %+v", cfg.App, cfg.Server)
	}
	d := cfg.Dashboards[0]
	if d.Alerts.Capacity != 20 || d.Alerts.Probability != 0.3 || d.Alerts.Cadence != 15*time.Second {
		t.Fatalf("alert defaults not applied: %+v", d.Alerts)
	}
	if d.Connection.Cadence != 10*time.Second || d.Connection.Initial != "connected" {
		t.Fatalf("connection defaults not applied: %+v", d.Connection)
	}
	if w := d.Connection.Weights; w.Connected != 0.8 || w.Warning != 0.15 || w.Error != 0.05 {
		t.Fatalf("weight defaults not applied: %+v", w)
	}
	if d.Metrics[0].Cadence != time.Second {
		t.Fatalf("cadence not decoded: %v", d.Metrics[0].Cadence)
	}
}

func TestLoadSampleFile(t *testing.T) {
	cfg, err := Load("../../config/simulator.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(cfg.Dashboards) != 2 {
		t.Fatalf("expected 2 dashboards, got %d", len(cfg.Dashboards))
	}
	gender := cfg.Dashboards[0].Metrics[1]
	if gender.Ratio == nil || gender.Ratio.AMin != 55 || gender.Ratio.BSpan != 15 {
		t.Fatalf("ratio not decoded: %+v", gender.Ratio)
	}
	if cfg.Workers[0].Processor.BufferSize != 32 {
		t.Fatalf("worker config not decoded: %+v", cfg.Workers[0])
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"no dashboards":      func(c *Config) { c.Dashboards = nil },
		"empty name":         func(c *Config) { c.Dashboards[0].Name = "" },
		"duplicate name":     func(c *Config) { c.Dashboards = append(c.Dashboards, c.Dashboards[0]) },
		"metric without id":  func(c *Config) { c.Dashboards[0].Metrics[0].ID = "" },
		"zero cadence":       func(c *Config) { c.Dashboards[0].Metrics[0].Cadence = 0 },
		"redis without addr": func(c *Config) { c.Redis.Enable = true },
		"lmstfy without host": func(c *Config) {
			c.Lmstfy.Enable = true
		},
		"lmstfy without workers": func(c *Config) {
			c.Lmstfy.Enable = true
			c.Lmstfy.Host = "127.0.0.1"
		},
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestDefaultPresetIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	ids := map[string]bool{}
	for _, m := range cfg.Dashboards[0].Metrics {
		ids[m.ID] = true
	}
	for _, want := range []string{"population", "genderRatio", "activeIncidents", "responseCountdown", "deploymentStatus"} {
		if !ids[want] {
			t.Fatalf("preset missing metric %s", want)
		}
	}
}

func TestLoadKeepsExplicitZeroValues(t *testing.T) {
	path := writeConfig(t, `
dashboards:
  - name: quiet
    metrics:
      - id: eta
        policy: countdown
        initial_value: 30
        target: 30
        cadence: 1s
    alerts:
      enable: true
      probability: 0
    connection:
      enable: true
      weights:
        connected: 0
        warning: 0
        error: 0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := cfg.Dashboards[0]
	if d.Alerts.Probability != 0 {
		t.Fatalf("explicit probability 0 replaced with %v", d.Alerts.Probability)
	}
	if d.Alerts.Capacity != 20 || d.Alerts.Cadence != 15*time.Second {
		t.Fatalf("omitted alert fields should still get defaults: %+v", d.Alerts)
	}
	if w := d.Connection.Weights; w != (ConnectionWeight{}) {
		t.Fatalf("explicit zero weights replaced with %+v", w)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "weights") {
		t.Fatalf("expected weights validation error, got %v", err)
	}

	d.Connection.Weights = ConnectionWeight{Connected: 1}
	cfg.Dashboards[0] = d
	if err := cfg.Validate(); err != nil {
		t.Fatalf("probability 0 is a valid setting: %v", err)
	}
}

func TestValidateRejectsMalformedSections(t *testing.T) {
	cases := map[string]func(d *DashboardConfig){
		"probability above one": func(d *DashboardConfig) { d.Alerts.Probability = 1.5 },
		"zero capacity":         func(d *DashboardConfig) { d.Alerts.Capacity = 0 },
		"negative weight":       func(d *DashboardConfig) { d.Connection.Weights.Warning = -1 },
		"zero weights":          func(d *DashboardConfig) { d.Connection.Weights = ConnectionWeight{} },
		"negative ratio span":   func(d *DashboardConfig) { d.Metrics[1].Ratio = &RatioConfig{AMin: 55, ASpan: -1, BMin: 35, BSpan: 15} },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg.Dashboards[0])
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
