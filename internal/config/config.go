// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	localstorage "github.com/JakeFAU/spider-emissaries/internal/storage/local"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Models   ModelsConfig   `mapstructure:"models"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DatabaseConfig selects and configures the relational store.
type DatabaseConfig struct {
	// Driver is one of sqlite, postgres, or memory.
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ScraperConfig governs outbound fetches and text extraction.
type ScraperConfig struct {
	UserAgent      string          `mapstructure:"user_agent"`
	TimeoutSeconds int             `mapstructure:"timeout_seconds"`
	RespectRobots  bool            `mapstructure:"respect_robots"`
	MaxBodyBytes   int             `mapstructure:"max_body_bytes"`
	Extract        string          `mapstructure:"extract"`
	// BlockedHosts lists hosts (or "*.suffix" patterns) that are never fetched.
	BlockedHosts   []string        `mapstructure:"blocked_hosts"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig configures the per-host outbound limiter.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// ModelsConfig configures training and generation.
type ModelsConfig struct {
	LabelHash     string `mapstructure:"label_hash"`
	StateSize     int    `mapstructure:"state_size"`
	SentenceTries int    `mapstructure:"sentence_tries"`
}

// ChatConfig configures the chat simulator and chat listing.
type ChatConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MinDelay     time.Duration `mapstructure:"min_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	DefaultLimit int           `mapstructure:"default_limit"`
	MaxLimit     int           `mapstructure:"max_limit"`
}

// ArchiveConfig configures the optional model archive blob store.
type ArchiveConfig struct {
	// Backend is empty (disabled), memory, local, or gcs.
	Backend string              `mapstructure:"backend"`
	Bucket  string              `mapstructure:"bucket"`
	Prefix  string              `mapstructure:"prefix"`
	Local   localstorage.Config `mapstructure:"local"`
}

// PubSubConfig holds metadata for chat event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EMISSARY")
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
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return Config{}, fmt.Errorf("parse PORT: %w", err)
		}
		cfg.Server.Port = p
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "spider.db")
	v.SetDefault("scraper.user_agent", "spider-emissaries/0.1")
	v.SetDefault("scraper.timeout_seconds", 15)
	v.SetDefault("scraper.respect_robots", false)
	v.SetDefault("scraper.max_body_bytes", 10*1024*1024)
	v.SetDefault("scraper.extract", "text")
	v.SetDefault("scraper.rate_limit.enabled", false)
	v.SetDefault("scraper.rate_limit.default_rps", 1.0)
	v.SetDefault("scraper.rate_limit.default_burst", 2)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 200)
	v.SetDefault("models.label_hash", "sha1")
	v.SetDefault("models.state_size", 2)
	v.SetDefault("models.sentence_tries", 100)
	v.SetDefault("chat.enabled", true)
	v.SetDefault("chat.min_delay", "5s")
	v.SetDefault("chat.max_delay", "30s")
	v.SetDefault("chat.default_limit", 100)
	v.SetDefault("chat.max_limit", 1000)
	v.SetDefault("archive.prefix", "models")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Database.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the %s driver", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Scraper.TimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.timeout_seconds must be > 0")
	}
	switch c.Scraper.Extract {
	case "text", "markdown":
	default:
		return fmt.Errorf("scraper.extract %q must be text or markdown", c.Scraper.Extract)
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Models.LabelHash {
	case "sha1", "sha256":
	default:
		return fmt.Errorf("models.label_hash %q must be sha1 or sha256", c.Models.LabelHash)
	}
	if c.Models.StateSize <= 0 {
		return fmt.Errorf("models.state_size must be > 0")
	}
	if c.Models.SentenceTries <= 0 {
		return fmt.Errorf("models.sentence_tries must be > 0")
	}
	if c.Chat.Enabled {
		if c.Chat.MinDelay <= 0 {
			return fmt.Errorf("chat.min_delay must be > 0")
		}
		if c.Chat.MaxDelay < c.Chat.MinDelay {
			return fmt.Errorf("chat.max_delay must be >= chat.min_delay")
		}
	}
	switch c.Archive.Backend {
	case "", "memory":
	case "local":
		if strings.TrimSpace(c.Archive.Local.BaseDir) == "" {
			return fmt.Errorf("archive.local.base_dir is required for the local archive")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	return nil
}

// ScrapeTimeout converts the scraper timeout into a duration.
func (c Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.Scraper.TimeoutSeconds) * time.Second
}

// RequestTimeout returns the per-request handler budget.
func (c Config) RequestTimeout() time.Duration {
	if c.Server.RequestTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
