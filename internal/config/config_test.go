package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const minimalConfig = `debug: false
database:
  host: localhost
  user: agent
  password: agent
  dbname: reply_agent
redis:
  url: "localhost:6379"
agent:
  slot_schedule: "*/15 * * * *"
  max_posts_per_window: 4
budget:
  period_limit: 5000
  cost_per_post: 50
templates:
  ids: ["hot_take", "question", "supportive"]
  fallback_id: "supportive"
generator:
  url: "http://localhost:9100"
platform:
  url: "http://localhost:9200"
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadMinimalConfig(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Defaults should be filled
	if cfg.Server.Address != ":8070" {
		t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, ":8070")
	}
	if cfg.Agent.RateWindow != time.Hour {
		t.Errorf("Agent.RateWindow = %v, want 1h", cfg.Agent.RateWindow)
	}
	if cfg.Agent.WatchdogTimeout != 10*time.Minute {
		t.Errorf("Agent.WatchdogTimeout = %v, want 10m", cfg.Agent.WatchdogTimeout)
	}
	if cfg.Queue.Tier1Threshold != 80 {
		t.Errorf("Queue.Tier1Threshold = %v, want 80", cfg.Queue.Tier1Threshold)
	}
	if cfg.Templates.ExploreRate != 0.1 {
		t.Errorf("Templates.ExploreRate = %v, want 0.1", cfg.Templates.ExploreRate)
	}
	if cfg.Budget.Period != 24*time.Hour {
		t.Errorf("Budget.Period = %v, want 24h", cfg.Budget.Period)
	}
}

func TestLoadDebugFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected bool
	}{
		{"true from env", "true", true},
		{"1 from env", "1", true},
		{"yes from env", "yes", true},
		{"false from env", "false", false},
		{"0 from env", "0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("APP_DEBUG", tt.envValue)

			cfg, err := Load(writeTempConfig(t, minimalConfig))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Debug != tt.expected {
				t.Errorf("Config.Debug = %v, want %v (APP_DEBUG=%q)", cfg.Debug, tt.expected, tt.envValue)
			}
		})
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing database host", func(c *Config) { c.Database.Host = "" }},
		{"missing redis url", func(c *Config) { c.Redis.URL = "" }},
		{"zero posts per window", func(c *Config) { c.Agent.MaxPostsPerWindow = 0 }},
		{"zero period limit", func(c *Config) { c.Budget.PeriodLimit = 0 }},
		{"inverted tier thresholds", func(c *Config) {
			c.Queue.Tier1Threshold = 40
			c.Queue.Tier2Threshold = 50
		}},
		{"fallback not in template set", func(c *Config) { c.Templates.FallbackID = "missing" }},
		{"explore rate above one", func(c *Config) { c.Templates.ExploreRate = 1.5 }},
		{"missing generator url", func(c *Config) { c.Generator.URL = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeTempConfig(t, minimalConfig))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestTierTTL(t *testing.T) {
	q := QueueConfig{
		Tier1TTL: 6 * time.Hour,
		Tier2TTL: 3 * time.Hour,
		Tier3TTL: time.Hour,
	}

	tests := []struct {
		tier int
		want time.Duration
	}{
		{1, 6 * time.Hour},
		{2, 3 * time.Hour},
		{3, time.Hour},
		{99, time.Hour}, // unknown tiers fall back to the shortest TTL
	}

	for _, tt := range tests {
		if got := q.TierTTL(tt.tier); got != tt.want {
			t.Errorf("TierTTL(%d) = %v, want %v", tt.tier, got, tt.want)
		}
	}
}
