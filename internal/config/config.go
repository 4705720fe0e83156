// Package config loads and validates the reply agent configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultReadTimeoutSeconds is the default HTTP read timeout in seconds
	DefaultReadTimeoutSeconds = 10
	// DefaultWriteTimeoutSeconds is the default HTTP write timeout in seconds
	DefaultWriteTimeoutSeconds = 30
)

type Config struct {
	Debug     bool            `yaml:"debug"` // Application debug mode (controls log level and format)
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Agent     AgentConfig     `yaml:"agent"`
	Budget    BudgetConfig    `yaml:"budget"`
	Queue     QueueConfig     `yaml:"queue"`
	Templates TemplatesConfig `yaml:"templates"`
	Generator GeneratorConfig `yaml:"generator"`
	Platform  PlatformConfig  `yaml:"platform"`
	Feeds     FeedsConfig     `yaml:"feeds"`
}

type ServerConfig struct {
	Address      string        `yaml:"address"`       // e.g., ":8070"
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"` // Default: 30s
	CORSOrigins  []string      `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AgentConfig controls the posting pipeline loops.
type AgentConfig struct {
	SlotSchedule      string        `yaml:"slot_schedule"`       // cron expression for scheduling ticks
	MaxPostsPerWindow int           `yaml:"max_posts_per_window"`
	RateWindow        time.Duration `yaml:"rate_window"`         // trailing window for the rate gate
	MinSpacing        time.Duration `yaml:"min_spacing"`         // minimum gap since last successful post
	GenerateTimeout   time.Duration `yaml:"generate_timeout"`
	PublishTimeout    time.Duration `yaml:"publish_timeout"`
	WatchdogTimeout   time.Duration `yaml:"watchdog_timeout"`    // max age of a non-terminal decision
	WatchdogInterval  time.Duration `yaml:"watchdog_interval"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	ReconcileWindow   time.Duration `yaml:"reconcile_window"`    // how far back to list published items
	PostingGrace      time.Duration `yaml:"posting_grace"`       // age before a posting decision is zombie-checked
	PollInterval      time.Duration `yaml:"poll_interval"`       // candidate feed polling interval
	BlocklistTTL      time.Duration `yaml:"blocklist_ttl"`
}

// BudgetConfig controls the spend gate. All amounts are cents.
type BudgetConfig struct {
	Period         time.Duration `yaml:"period"`           // accounting period, e.g. 24h
	PeriodLimit    int64         `yaml:"period_limit"`     // hard spend cap per period
	CostPerPost    int64         `yaml:"cost_per_post"`    // reserved per admitted decision
	TightThreshold int64         `yaml:"tight_threshold"`  // remaining below this restricts claims to tier 1
}

// QueueConfig controls candidate tiering and expiry. Thresholds are inclusive
// lower bounds: a score exactly at a threshold gets the higher tier.
type QueueConfig struct {
	Tier1Threshold float64       `yaml:"tier1_threshold"`
	Tier2Threshold float64       `yaml:"tier2_threshold"`
	Tier1TTL       time.Duration `yaml:"tier1_ttl"`
	Tier2TTL       time.Duration `yaml:"tier2_ttl"`
	Tier3TTL       time.Duration `yaml:"tier3_ttl"`
}

// TemplatesConfig is the closed set of reply templates.
type TemplatesConfig struct {
	IDs           []string `yaml:"ids"`
	FallbackID    string   `yaml:"fallback_id"`    // used for the single generation retry
	ExploreRate   float64  `yaml:"explore_rate"`   // probability of exploring an arbitrary template
	PromptVersion string   `yaml:"prompt_version"`
}

type GeneratorConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type PlatformConfig struct {
	URL      string        `yaml:"url"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"`
	RateRPS  float64       `yaml:"rate_rps"` // request pacing toward the platform API
	Account  string        `yaml:"account"`
}

// FeedsConfig configures the candidate sources.
type FeedsConfig struct {
	Keywords        []string `yaml:"keywords"`
	CuratedAccounts []string `yaml:"curated_accounts"`
	FetchLimit      int      `yaml:"fetch_limit"`
}

// Validate checks if the server configuration is valid and sets defaults.
func (c *ServerConfig) Validate() error {
	if c.Address == "" {
		c.Address = ":8070"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeoutSeconds * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeoutSeconds * time.Second
	}
	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if c.Agent.SlotSchedule == "" {
		return errors.New("agent.slot_schedule is required")
	}
	if c.Agent.MaxPostsPerWindow <= 0 {
		return fmt.Errorf("agent.max_posts_per_window must be positive, got %d", c.Agent.MaxPostsPerWindow)
	}
	if c.Budget.PeriodLimit <= 0 {
		return fmt.Errorf("budget.period_limit must be positive, got %d", c.Budget.PeriodLimit)
	}
	if c.Budget.CostPerPost <= 0 {
		return fmt.Errorf("budget.cost_per_post must be positive, got %d", c.Budget.CostPerPost)
	}
	if c.Queue.Tier1Threshold <= c.Queue.Tier2Threshold {
		return fmt.Errorf("queue.tier1_threshold (%v) must be above tier2_threshold (%v)",
			c.Queue.Tier1Threshold, c.Queue.Tier2Threshold)
	}
	if len(c.Templates.IDs) == 0 {
		return errors.New("templates.ids must not be empty")
	}
	if c.Templates.FallbackID == "" {
		return errors.New("templates.fallback_id is required")
	}
	if !contains(c.Templates.IDs, c.Templates.FallbackID) {
		return fmt.Errorf("templates.fallback_id %q is not in templates.ids", c.Templates.FallbackID)
	}
	if c.Templates.ExploreRate < 0 || c.Templates.ExploreRate > 1 {
		return fmt.Errorf("templates.explore_rate must be in [0,1], got %v", c.Templates.ExploreRate)
	}
	if c.Generator.URL == "" {
		return errors.New("generator.url is required")
	}
	if c.Platform.URL == "" {
		return errors.New("platform.url is required")
	}
	return nil
}

// setDefaults sets default values for configuration fields
func setDefaults(cfg *Config) {
	if cfg.Database.Port == "" {
		cfg.Database.Port = "5432"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Agent.SlotSchedule == "" {
		cfg.Agent.SlotSchedule = "*/15 * * * *"
	}
	if cfg.Agent.MaxPostsPerWindow == 0 {
		cfg.Agent.MaxPostsPerWindow = 4
	}
	if cfg.Agent.RateWindow == 0 {
		cfg.Agent.RateWindow = time.Hour
	}
	if cfg.Agent.MinSpacing == 0 {
		cfg.Agent.MinSpacing = 10 * time.Minute
	}
	if cfg.Agent.GenerateTimeout == 0 {
		cfg.Agent.GenerateTimeout = 60 * time.Second
	}
	if cfg.Agent.PublishTimeout == 0 {
		cfg.Agent.PublishTimeout = 90 * time.Second
	}
	if cfg.Agent.WatchdogTimeout == 0 {
		cfg.Agent.WatchdogTimeout = 10 * time.Minute
	}
	if cfg.Agent.WatchdogInterval == 0 {
		cfg.Agent.WatchdogInterval = time.Minute
	}
	if cfg.Agent.ReconcileInterval == 0 {
		cfg.Agent.ReconcileInterval = 5 * time.Minute
	}
	if cfg.Agent.ReconcileWindow == 0 {
		cfg.Agent.ReconcileWindow = 24 * time.Hour
	}
	if cfg.Agent.PostingGrace == 0 {
		cfg.Agent.PostingGrace = 5 * time.Minute
	}
	if cfg.Agent.PollInterval == 0 {
		cfg.Agent.PollInterval = 5 * time.Minute
	}
	if cfg.Agent.BlocklistTTL == 0 {
		cfg.Agent.BlocklistTTL = 7 * 24 * time.Hour
	}
	if cfg.Budget.Period == 0 {
		cfg.Budget.Period = 24 * time.Hour
	}
	if cfg.Queue.Tier1Threshold == 0 {
		cfg.Queue.Tier1Threshold = 80
	}
	if cfg.Queue.Tier2Threshold == 0 {
		cfg.Queue.Tier2Threshold = 50
	}
	if cfg.Queue.Tier1TTL == 0 {
		cfg.Queue.Tier1TTL = 6 * time.Hour
	}
	if cfg.Queue.Tier2TTL == 0 {
		cfg.Queue.Tier2TTL = 3 * time.Hour
	}
	if cfg.Queue.Tier3TTL == 0 {
		cfg.Queue.Tier3TTL = time.Hour
	}
	if cfg.Templates.ExploreRate == 0 {
		cfg.Templates.ExploreRate = 0.1
	}
	if cfg.Templates.PromptVersion == "" {
		cfg.Templates.PromptVersion = "v1"
	}
	if cfg.Generator.Timeout == 0 {
		cfg.Generator.Timeout = 60 * time.Second
	}
	if cfg.Platform.Timeout == 0 {
		cfg.Platform.Timeout = 30 * time.Second
	}
	if cfg.Platform.RateRPS == 0 {
		cfg.Platform.RateRPS = 1
	}
	if cfg.Feeds.FetchLimit == 0 {
		cfg.Feeds.FetchLimit = 50
	}
}

// overrideWithEnvVars overrides configuration with environment variables
func overrideWithEnvVars(cfg *Config) {
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		cfg.Database.Port = v
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.Database.DBName = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PLATFORM_TOKEN"); v != "" {
		cfg.Platform.Token = v
	}
	if v := os.Getenv("GENERATOR_URL"); v != "" {
		cfg.Generator.URL = v
	}
	if v := os.Getenv("BUDGET_PERIOD_LIMIT"); v != "" {
		if limit, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Budget.PeriodLimit = limit
		}
	}
	if v := os.Getenv("APP_DEBUG"); v != "" {
		cfg.Debug = parseBool(v)
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Set defaults
	setDefaults(&cfg)

	// Override with environment variables if present
	overrideWithEnvVars(&cfg)

	// Set server defaults
	if err := cfg.Server.Validate(); err != nil {
		return nil, fmt.Errorf("server config validation: %w", err)
	}

	// Override server config with environment variable if present
	if port := os.Getenv("AGENT_PORT"); port != "" {
		cfg.Server.Address = ":" + port
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// TierTTL returns the configured TTL for a candidate tier. Higher tiers get
// longer TTLs since they are scarcer.
func (q *QueueConfig) TierTTL(tier int) time.Duration {
	switch tier {
	case 1:
		return q.Tier1TTL
	case 2:
		return q.Tier2TTL
	default:
		return q.Tier3TTL
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// parseBool parses a string value as a boolean.
// Returns true for "true", "1", "yes" (case-insensitive), false otherwise.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}
