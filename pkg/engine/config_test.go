package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigIsEnabled(t *testing.T) {
	var nilCfg *Config
	if !nilCfg.IsEnabled("anything") {
		t.Error("nil config should enable everything")
	}

	empty := &Config{}
	if !empty.IsEnabled("github") {
		t.Error("empty enabled list should enable everything")
	}

	listed := &Config{Enabled: []string{"github", "openai"}}
	if !listed.IsEnabled("github") || listed.IsEnabled("cursor") {
		t.Error("enabled list should be exact")
	}

	disabled := &Config{Services: map[string]ServiceConfig{
		"github": {Disabled: true},
	}}
	if disabled.IsEnabled("github") {
		t.Error("per-service disable should win")
	}
	if !disabled.IsEnabled("openai") {
		t.Error("other services stay enabled")
	}
}

func TestConfigInterval(t *testing.T) {
	var nilCfg *Config
	if got := nilCfg.Interval(time.Minute); got != time.Minute {
		t.Errorf("nil config interval = %s, want default", got)
	}
	cfg := &Config{RefreshIntervalSeconds: 30}
	if got := cfg.Interval(time.Minute); got != 30*time.Second {
		t.Errorf("interval = %s, want 30s", got)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if !cfg.IsEnabled("github") {
		t.Error("missing file should yield an all-enabled config")
	}

	path := filepath.Join(dir, "quotascope.json")
	body := `{"enabled": ["anthropic"], "refresh_interval_seconds": 120}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.IsEnabled("anthropic") || cfg.IsEnabled("github") {
		t.Error("enabled list not applied")
	}
	if cfg.Interval(time.Minute) != 2*time.Minute {
		t.Errorf("interval = %s, want 2m", cfg.Interval(time.Minute))
	}

	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("malformed JSON should be an error")
	}
}
