package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultAddr         = "127.0.0.1:8440"
	defaultPollInterval = 60 * time.Second
)

type Config struct {
	DBPath       string
	ConfigPath   string
	Addr         string
	PollInterval time.Duration
	RedisAddr    string
}

func LoadConfig(args []string) (Config, error) {
	dataDir, err := defaultDataDir()
	if err != nil {
		return Config{}, err
	}

	dbPath := envOrDefault("QUOTASCOPE_DB_PATH", filepath.Join(dataDir, "quotascope.db"))
	configPath := envOrDefault("QUOTASCOPE_CONFIG_PATH", filepath.Join(dataDir, "quotascope.json"))
	addr := addrFromEnv(defaultAddr)
	redisAddr := os.Getenv("QUOTASCOPE_REDIS_ADDR")

	pollInterval := defaultPollInterval
	if pollIntervalEnv := os.Getenv("QUOTASCOPE_POLL_INTERVAL"); pollIntervalEnv != "" {
		parsed, err := time.ParseDuration(pollIntervalEnv)
		if err != nil {
			return Config{}, fmt.Errorf("invalid QUOTASCOPE_POLL_INTERVAL: %w", err)
		}
		pollInterval = parsed
	}

	flagSet := flag.NewFlagSet("quotascope-d", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagDB := flagSet.String("db", dbPath, "path to SQLite database")
	flagConfig := flagSet.String("config", configPath, "path to config JSON")
	flagAddr := flagSet.String("addr", addr, "HTTP listen address")
	flagPollInterval := flagSet.String("poll-interval", pollInterval.String(), "service poll interval")
	flagRedis := flagSet.String("redis", redisAddr, "Redis address for snapshot mirroring (empty disables)")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
			return Config{}, err
		}
		return Config{}, err
	}

	pollIntervalParsed, err := time.ParseDuration(*flagPollInterval)
	if err != nil {
		return Config{}, fmt.Errorf("invalid poll interval: %w", err)
	}
	if pollIntervalParsed <= 0 {
		return Config{}, errors.New("poll interval must be positive")
	}

	config := Config{
		DBPath:       resolvePath(*flagDB, dataDir),
		ConfigPath:   resolvePath(*flagConfig, dataDir),
		Addr:         strings.TrimSpace(*flagAddr),
		PollInterval: pollIntervalParsed,
		RedisAddr:    strings.TrimSpace(*flagRedis),
	}

	if config.Addr == "" {
		return Config{}, errors.New("addr cannot be empty")
	}

	return config, nil
}

// defaultDataDir is the application-private directory holding the
// database and config file.
func defaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".quotascope"), nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func addrFromEnv(fallback string) string {
	if value := os.Getenv("QUOTASCOPE_ADDR"); value != "" {
		return value
	}
	if port := os.Getenv("QUOTASCOPE_PORT"); port != "" {
		return fmt.Sprintf("127.0.0.1:%s", port)
	}
	return fallback
}

func resolvePath(path string, base string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(base, trimmed)
}
