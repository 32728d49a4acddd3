// Package config loads and validates scraper configuration via Viper.
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
	Registry  RegistryConfig  `mapstructure:"registry"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Fixtures  FixturesConfig  `mapstructure:"fixtures"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// RegistryConfig points at the source registry document.
type RegistryConfig struct {
	Path string `mapstructure:"path"`
}

// HTTPConfig tunes the outbound transport.
type HTTPConfig struct {
	UserAgent        string `mapstructure:"user_agent"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxConns         int    `mapstructure:"max_conns"`
	MaxIdlePerHost   int    `mapstructure:"max_idle_per_host"`
	LinkCacheTTLDays int    `mapstructure:"link_cache_ttl_days"`
}

// RateLimitConfig sets the default host bucket behavior; per-source
// rates from the registry override these.
type RateLimitConfig struct {
	DefaultRPS     float64 `mapstructure:"default_rps"`
	DefaultBurst   int     `mapstructure:"default_burst"`
	JitterFraction float64 `mapstructure:"jitter_fraction"`
	MaxJitterMs    int     `mapstructure:"max_jitter_ms"`
}

// FixturesConfig controls where scrape fixtures land.
type FixturesConfig struct {
	Dir string `mapstructure:"dir"`
}

// DBConfig controls access to the relational database. An empty DSN
// selects the in-memory store.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PubSubConfig holds metadata for publish-subscribe notifications. An
// empty project disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and file rotation.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	FilePath    string `mapstructure:"file_path"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// Load builds a Config from disk/environment. Environment variables use
// the SCRAPER_ prefix with dots replaced by underscores.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	v.SetDefault("registry.path", "configs/registry.yaml")
	v.SetDefault("http.user_agent", "BiotechTerminal/1.0 (contact@bioterminal.dev)")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_conns", 100)
	v.SetDefault("http.max_idle_per_host", 20)
	v.SetDefault("http.link_cache_ttl_days", 7)
	v.SetDefault("rate_limit.default_rps", 1.0)
	v.SetDefault("rate_limit.default_burst", 10)
	v.SetDefault("rate_limit.jitter_fraction", 0.1)
	v.SetDefault("rate_limit.max_jitter_ms", 250)
	v.SetDefault("fixtures.dir", "fixtures")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Registry.Path == "" {
		return fmt.Errorf("registry.path must be set")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.RateLimit.DefaultRPS <= 0 {
		return fmt.Errorf("rate_limit.default_rps must be > 0")
	}
	if c.RateLimit.JitterFraction < 0 || c.RateLimit.JitterFraction > 1 {
		return fmt.Errorf("rate_limit.jitter_fraction must be in [0, 1]")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}

// HTTPTimeout converts the transport timeout config into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// LinkCacheTTL converts the link cache config into a duration.
func (c Config) LinkCacheTTL() time.Duration {
	return time.Duration(c.HTTP.LinkCacheTTLDays) * 24 * time.Hour
}

// MaxJitter converts the jitter cap config into a duration.
func (c Config) MaxJitter() time.Duration {
	return time.Duration(c.RateLimit.MaxJitterMs) * time.Millisecond
}
