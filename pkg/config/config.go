// Package config defines the service configuration tree and its
// load → defaults → validate pipeline.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration of the orchestration service.
type Config struct {
	Sessions SessionConfig `yaml:"sessions"`
	Agent    AgentConfig   `yaml:"agent"`
	Cost     CostConfig    `yaml:"cost"`
	Cluster  ClusterConfig `yaml:"cluster"`
	Embed    EmbedConfig   `yaml:"embedding"`
	Book     BookConfig    `yaml:"book"`
	Store    StoreConfig   `yaml:"store"`
	Logging  LoggingConfig `yaml:"logging"`
}

// SessionConfig controls session capacity and lifetime.
type SessionConfig struct {
	MaxSessions     int           `yaml:"max_sessions"`
	SessionTimeout  time.Duration `yaml:"session_timeout"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

func (c *SessionConfig) SetDefaults() {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 1000
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 60 * time.Second
	}
}

func (c *SessionConfig) Validate() error {
	if c.MaxSessions < 1 {
		return fmt.Errorf("sessions.max_sessions must be positive")
	}
	return nil
}

// AgentConfig controls the agent loop.
type AgentConfig struct {
	MaxSteps    int           `yaml:"max_steps"`
	ToolTimeout time.Duration `yaml:"tool_timeout"`
	AutoApprove bool          `yaml:"auto_approve"`
}

func (c *AgentConfig) SetDefaults() {
	if c.MaxSteps <= 0 {
		c.MaxSteps = 10
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 30 * time.Second
	}
}

// CostConfig controls cost tracking and tier gating.
type CostConfig struct {
	EnableTracking *bool  `yaml:"enable_tracking"`
	RetentionDays  int    `yaml:"retention_days"`
	DefaultTierID  string `yaml:"default_tier"`
}

func (c *CostConfig) SetDefaults() {
	if c.EnableTracking == nil {
		enabled := true
		c.EnableTracking = &enabled
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 90
	}
	if c.DefaultTierID == "" {
		c.DefaultTierID = "free"
	}
}

// TrackingEnabled reports whether cost tracking is on.
func (c *CostConfig) TrackingEnabled() bool {
	return c.EnableTracking == nil || *c.EnableTracking
}

// ClusterConfig holds cluster-discovery defaults.
type ClusterConfig struct {
	SampleSize     int     `yaml:"sample_size"`
	MaxClusters    int     `yaml:"max_clusters"`
	MinClusterSize int     `yaml:"min_cluster_size"`
	MinSimilarity  float64 `yaml:"min_similarity"`
}

func (c *ClusterConfig) SetDefaults() {
	if c.SampleSize <= 0 {
		c.SampleSize = 500
	}
	if c.MaxClusters <= 0 {
		c.MaxClusters = 10
	}
	if c.MinClusterSize <= 0 {
		c.MinClusterSize = 5
	}
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = 0.7
	}
}

// EmbedConfig holds embedding-driver defaults.
type EmbedConfig struct {
	BatchSize    int `yaml:"batch_size"`
	MinWordCount int `yaml:"min_word_count"`
	Concurrency  int `yaml:"concurrency"`
}

func (c *EmbedConfig) SetDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MinWordCount <= 0 {
		c.MinWordCount = 7
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
}

// BookConfig holds book-assembly defaults.
type BookConfig struct {
	MaxPassages   int `yaml:"max_passages"`
	RewritePasses int `yaml:"rewrite_passes"`
}

func (c *BookConfig) SetDefaults() {
	if c.MaxPassages <= 0 {
		c.MaxPassages = 50
	}
	if c.RewritePasses <= 0 {
		c.RewritePasses = 3
	}
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is one of "memory", "sqlite", "postgres", "mysql".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "memory"
	}
}

func (c *StoreConfig) Validate() error {
	switch c.Driver {
	case "memory", "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("store.driver %q unsupported (supported: memory, sqlite, postgres, mysql)", c.Driver)
	}
	if c.Driver != "memory" && c.DSN == "" {
		return fmt.Errorf("store.dsn is required for driver %q", c.Driver)
	}
	return nil
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// SetDefaults applies defaults across the whole tree.
func (c *Config) SetDefaults() {
	c.Sessions.SetDefaults()
	c.Agent.SetDefaults()
	c.Cost.SetDefaults()
	c.Cluster.SetDefaults()
	c.Embed.SetDefaults()
	c.Book.SetDefaults()
	c.Store.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks the whole tree.
func (c *Config) Validate() error {
	if err := c.Sessions.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	return nil
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references with environment values.
// Unset variables expand to the empty string.
func expandEnv(raw []byte) []byte {
	return envVarRe.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envVarRe.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads a YAML config file, expands ${VAR} references, applies defaults
// and validates. A .env file next to the working directory is honored when
// present.
func Load(path string) (*Config, error) {
	// Ignore a missing .env; it is optional.
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(expandEnv(raw), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}
