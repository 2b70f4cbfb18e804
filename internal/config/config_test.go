package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  port: 9090\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Pulses.RetentionWindow != 24*time.Hour {
		t.Errorf("retention window = %s, want 24h", cfg.Pulses.RetentionWindow)
	}
	if cfg.RateLimit.SweepInterval != cfg.RateLimit.Window {
		t.Errorf("sweep interval = %s, want it to default to the window %s", cfg.RateLimit.SweepInterval, cfg.RateLimit.Window)
	}
	if cfg.Pulses.MaxPageSize != 5000 {
		t.Errorf("max page size = %d, want 5000", cfg.Pulses.MaxPageSize)
	}
}

func TestParse_Durations(t *testing.T) {
	cfg, err := Parse([]byte(`
pulses:
  retention_window: 12h
  hard_cap_age: 48h
rate_limit:
  window: 30s
  max: 3
retention:
  interval: 45m
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Pulses.RetentionWindow != 12*time.Hour {
		t.Errorf("retention window = %s", cfg.Pulses.RetentionWindow)
	}
	if cfg.RateLimit.Window != 30*time.Second || cfg.RateLimit.Max != 3 {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}
	if cfg.Retention.Interval != 45*time.Minute {
		t.Errorf("retention interval = %s", cfg.Retention.Interval)
	}
}

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("PULSE_DB_PASSWORD", "s3cret")

	cfg, err := Parse([]byte("database:\n  password: ${PULSE_DB_PASSWORD}\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Database.Password != "s3cret" {
		t.Errorf("password = %q, want expanded value", cfg.Database.Password)
	}
	if !strings.Contains(cfg.Database.DSN(), "password=s3cret") {
		t.Errorf("DSN() = %q", cfg.Database.DSN())
	}
}

func TestParse_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown driver", "database:\n  driver: mysql\n"},
		{"hard cap below retention", "pulses:\n  retention_window: 24h\n  hard_cap_age: 1h\n"},
		{"sweep slower than window", "rate_limit:\n  window: 10s\n  sweep_interval: 1m\n"},
		{"page size above max", "pulses:\n  default_page_size: 9000\n"},
		{"radius above max", "proximity:\n  default_radius_km: 500\n"},
		{"zero rate limit", "rate_limit:\n  max: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}

func TestLoad_PathFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(PathEnvVar, path)

	cfg, err := Load("does-not-exist.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv(PathEnvVar, "")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
