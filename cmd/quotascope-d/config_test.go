package main

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != defaultAddr {
		t.Errorf("Addr = %q, want %q", cfg.Addr, defaultAddr)
	}
	if cfg.PollInterval != defaultPollInterval {
		t.Errorf("PollInterval = %s, want %s", cfg.PollInterval, defaultPollInterval)
	}
	if filepath.Base(cfg.DBPath) != "quotascope.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("RedisAddr = %q, want empty", cfg.RedisAddr)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("QUOTASCOPE_DB_PATH", "/tmp/custom.db")
	t.Setenv("QUOTASCOPE_POLL_INTERVAL", "30s")
	t.Setenv("QUOTASCOPE_PORT", "9999")
	t.Setenv("QUOTASCOPE_REDIS_ADDR", "localhost:6379")

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "/tmp/custom.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %s", cfg.PollInterval)
	}
	if cfg.Addr != "127.0.0.1:9999" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr)
	}
}

func TestLoadConfigFlagsBeatEnv(t *testing.T) {
	t.Setenv("QUOTASCOPE_ADDR", "127.0.0.1:1111")
	t.Setenv("QUOTASCOPE_POLL_INTERVAL", "30s")

	cfg, err := LoadConfig([]string{"-addr", "127.0.0.1:2222", "-poll-interval", "2m"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != "127.0.0.1:2222" {
		t.Errorf("Addr = %q, flag should win", cfg.Addr)
	}
	if cfg.PollInterval != 2*time.Minute {
		t.Errorf("PollInterval = %s, flag should win", cfg.PollInterval)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	if _, err := LoadConfig([]string{"-poll-interval", "banana"}); err == nil {
		t.Error("invalid interval should fail")
	}
	if _, err := LoadConfig([]string{"-poll-interval", "-5s"}); err == nil {
		t.Error("negative interval should fail")
	}
	if _, err := LoadConfig([]string{"-addr", "  "}); err == nil {
		t.Error("blank addr should fail")
	}

	t.Setenv("QUOTASCOPE_POLL_INTERVAL", "nonsense")
	if _, err := LoadConfig(nil); err == nil {
		t.Error("invalid env interval should fail")
	}
}
