package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Detection.MovementSpeedThreshold != 3 {
		t.Fatalf("unexpected movement threshold: %v", cfg.Detection.MovementSpeedThreshold)
	}
	if cfg.Detection.StationarySpeedThreshold != 1 {
		t.Fatalf("unexpected stationary threshold: %v", cfg.Detection.StationarySpeedThreshold)
	}
	if cfg.Detection.MovementConfirmation != 60 || cfg.Detection.StationaryTimeout != 180 {
		t.Fatalf("unexpected dwell defaults: %+v", cfg.Detection)
	}
	if cfg.Validity.MinDuration != 60 || cfg.Validity.MinDistance != 160 || cfg.Validity.MinSamples != 2 {
		t.Fatalf("unexpected validity defaults: %+v", cfg.Validity)
	}
	if cfg.Tracking.SaveThrottle != 30 {
		t.Fatalf("unexpected save throttle: %v", cfg.Tracking.SaveThrottle)
	}
	if !cfg.AutoDetectEnabled() {
		t.Fatal("auto-detect should default to on")
	}
	if !cfg.ServerEnabled() {
		t.Fatal("status server should default to on")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
env: test
storage_path: /tmp/test.db
log:
  level: debug
detection:
  movement_speed_threshold: 4.5
  auto_detect: false
validity:
  min_distance: 200
server:
  enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Env != "test" || cfg.Log.Level != "debug" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Detection.MovementSpeedThreshold != 4.5 {
		t.Fatalf("unexpected movement threshold: %v", cfg.Detection.MovementSpeedThreshold)
	}
	if cfg.AutoDetectEnabled() {
		t.Fatal("auto_detect override not applied")
	}
	if cfg.ServerEnabled() {
		t.Fatal("server enabled override not applied")
	}
	if cfg.Validity.MinDistance != 200 {
		t.Fatalf("unexpected min distance: %v", cfg.Validity.MinDistance)
	}
	// Unset fields keep their defaults.
	if cfg.Detection.StationaryTimeout != 180 {
		t.Fatalf("defaults lost when loading file: %v", cfg.Detection.StationaryTimeout)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("AGENT_MIN_TRIP_DISTANCE", "320")
	t.Setenv("AGENT_AUTO_DETECT", "false")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Validity.MinDistance != 320 {
		t.Fatalf("env override not applied: %v", cfg.Validity.MinDistance)
	}
	if cfg.AutoDetectEnabled() {
		t.Fatal("auto_detect env override not applied")
	}
}
