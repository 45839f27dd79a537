package engine

import "time"

// Config represents the top-level structure of quotascope.json
type Config struct {
	// Enabled lists the service IDs to poll. Empty means every
	// registered service.
	Enabled []string `json:"enabled,omitempty"`

	// RefreshIntervalSeconds is the polling cadence. Zero falls back
	// to the engine default.
	RefreshIntervalSeconds int `json:"refresh_interval_seconds,omitempty"`

	// Services holds optional per-service overrides
	Services map[string]ServiceConfig `json:"services,omitempty"`
}

// ServiceConfig maps per-service settings
type ServiceConfig struct {
	Disabled bool   `json:"disabled,omitempty"`
	TokenEnv string `json:"token_env,omitempty"`
}

// IsEnabled reports whether a service ID should be polled this cycle
func (c *Config) IsEnabled(id string) bool {
	if c == nil {
		return true
	}
	if svc, ok := c.Services[id]; ok && svc.Disabled {
		return false
	}
	if len(c.Enabled) == 0 {
		return true
	}
	for _, e := range c.Enabled {
		if e == id {
			return true
		}
	}
	return false
}

// Interval returns the configured refresh interval or def
func (c *Config) Interval(def time.Duration) time.Duration {
	if c == nil || c.RefreshIntervalSeconds <= 0 {
		return def
	}
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}
