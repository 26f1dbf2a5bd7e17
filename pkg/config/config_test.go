package config

import (
	"testing"
	"time"
)

// helper to build a minimal valid config that can be tweaked in tests.
func validBaseConfig() *Config {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 10
	cfg.RateLimiting.HTTP.Burst = 20
	cfg.RateLimiting.HTTP.MaxConcurrent = 5
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	// Zero out rate limiting values to ensure they are ignored when disabled.
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name: "http rps must be > 0",
			mutate: func(c *Config) {
				c.RateLimiting.HTTP.RequestsPerSecond = 0
			},
		},
		{
			name: "http burst must be > 0",
			mutate: func(c *Config) {
				c.RateLimiting.HTTP.Burst = 0
			},
		},
		{
			name: "http max concurrent must be >= 0",
			mutate: func(c *Config) {
				c.RateLimiting.HTTP.MaxConcurrent = -1
			},
		},
		{
			name: "relay address must not be empty",
			mutate: func(c *Config) {
				c.Relay.Address = ""
			},
		},
		{
			name: "relay pong timeout must exceed ping interval",
			mutate: func(c *Config) {
				c.Relay.PingInterval = 30 * time.Second
				c.Relay.PongTimeout = 30 * time.Second
			},
		},
		{
			name: "relay messages per second must be > 0",
			mutate: func(c *Config) {
				c.Relay.MessagesPerSecond = 0
			},
		},
		{
			name: "jwt secret must not be empty",
			mutate: func(c *Config) {
				c.Auth.JWTSecret = ""
			},
		},
		{
			name: "token ttl must be > 0",
			mutate: func(c *Config) {
				c.Auth.TokenTTL = 0
			},
		},
		{
			name: "port range min must be < max",
			mutate: func(c *Config) {
				c.WebRTC.PortRange.Min = 20000
				c.WebRTC.PortRange.Max = 10000
			},
		},
		{
			name: "redis address required when enabled",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Address = ""
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBaseConfig()
			// ensure other timing fields are valid to isolate the case
			cfg.Server.ReadTimeout = time.Second
			cfg.Server.WriteTimeout = time.Second
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}
