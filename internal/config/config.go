// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Health    HealthConfig    `mapstructure:"health"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// FetchConfig governs the document fetcher.
type FetchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	ThinBodyMinSize int  `mapstructure:"thin_body_min_size"`
}

// SchedulerConfig controls the batch loop and worker pool.
type SchedulerConfig struct {
	Concurrency         int  `mapstructure:"concurrency"`
	PollIntervalSeconds int  `mapstructure:"poll_interval_seconds"`
	Enabled             bool `mapstructure:"enabled"`
}

// HealthConfig holds the status-classification policy knobs.
type HealthConfig struct {
	ErrorThreshold  int `mapstructure:"error_threshold"`
	StaleMultiplier int `mapstructure:"stale_multiplier"`
}

// StorageConfig sets the raw-document archive backend.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"` // memory, local, gcs
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory stores.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for change-event publishing. An empty topic
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// NotifyConfig controls notification dispatch.
type NotifyConfig struct {
	FromAddress string `mapstructure:"from_address"`
	SubjectTag  string `mapstructure:"subject_tag"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POLICYWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("fetch.user_agent", "policywatch-bot/1.0")
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.thin_body_min_size", 2048)
	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("scheduler.poll_interval_seconds", 300)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("health.error_threshold", 3)
	v.SetDefault("health.stale_multiplier", 2)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "sources")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("notify.from_address", "alerts@policywatch.local")
	v.SetDefault("notify.subject_tag", "[PolicyWatch]")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Health.ErrorThreshold <= 0 {
		return fmt.Errorf("health.error_threshold must be > 0")
	}
	if c.Health.StaleMultiplier <= 0 {
		return fmt.Errorf("health.stale_multiplier must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Provider {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when provider is gcs")
	}
	if c.Storage.Provider == "local" && c.Storage.LocalDir == "" {
		return fmt.Errorf("storage.local_dir must be set when provider is local")
	}
	return nil
}

// FetchTimeout returns the fetch timeout as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// PollInterval returns the scheduler polling cadence as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Scheduler.PollIntervalSeconds) * time.Second
}
