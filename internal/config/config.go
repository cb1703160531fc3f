// Package config provides YAML-based configuration loading for PeeRly.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level PeeRly configuration, loaded from peerly.yaml.
type Config struct {
	Env         string            `yaml:"env"`
	LogLevel    string            `yaml:"log_level"`
	HTTP        HTTPConfig        `yaml:"http"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Storage     StorageConfig     `yaml:"storage"`
	Auth        AuthConfig        `yaml:"auth"`
	Messaging   MessagingConfig   `yaml:"messaging"`
	Moderation  ModerationConfig  `yaml:"moderation"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Colleges    []CollegeConfig   `yaml:"colleges"`
}

// HTTPConfig holds API server settings.
type HTTPConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// RatePerSecond and RateBurst bound requests per client IP.
	RatePerSecond float64 `yaml:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst"`
}

// DatabaseConfig selects a gorm driver and its connection settings.
// When DSN is set it is passed to the driver verbatim.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxOpen  int    `yaml:"max_open"`
	MaxIdle  int    `yaml:"max_idle"`
}

// RedisConfig enables the cross-process change bridge, metadata cache and
// session revocation list. Empty URL means in-process only.
type RedisConfig struct {
	URL           string `yaml:"url"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// StorageConfig points at an S3-compatible bucket for listing images.
type StorageConfig struct {
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	PublicURL       string `yaml:"public_url"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// AuthConfig holds session token settings.
type AuthConfig struct {
	Secret     string        `yaml:"secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	CookieName string        `yaml:"cookie_name"`
}

// MessagingConfig tunes the conversation and message feed behavior.
type MessagingConfig struct {
	HistoryLimit      int           `yaml:"history_limit"`
	DirectoryLimit    int           `yaml:"directory_limit"`
	BadgeDelay        time.Duration `yaml:"badge_delay"`
	LocalEcho         *bool         `yaml:"local_echo"`
	SendRatePerMinute int           `yaml:"send_rate_per_minute"`
}

// EchoEnabled reports whether sent messages are appended to the sender's
// feed on persistence ack. Defaults to true.
func (m MessagingConfig) EchoEnabled() bool {
	return m.LocalEcho == nil || *m.LocalEcho
}

// ModerationConfig selects where abuse reports are forwarded.
type ModerationConfig struct {
	Provider  string `yaml:"provider"`
	ChannelID string `yaml:"channel_id"`
	Token     string `yaml:"token"`
}

// MaintenanceConfig holds cron schedules for background repair jobs.
type MaintenanceConfig struct {
	RecencyRepair string `yaml:"recency_repair"`
	// DailyDigest is when activity is summarized to the moderation
	// channel. Ignored without a moderation provider.
	DailyDigest string `yaml:"daily_digest"`
}

// CollegeConfig declares a campus whose students may sign up.
type CollegeConfig struct {
	Name        string `yaml:"name"`
	Slug        string `yaml:"slug"`
	EmailDomain string `yaml:"email_domain"`
	Location    string `yaml:"location"`
	LogoURL     string `yaml:"logo_url"`
}

// Load reads a YAML config file from path and returns a validated Config.
// A .env file next to the config, if present, is loaded into the process
// environment first so ${VAR} references can be expanded.
func Load(path string) (*Config, error) {
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", envPath, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands environment references in data and unmarshals it into a
// validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = "development"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.RatePerSecond == 0 {
		c.HTTP.RatePerSecond = 10
	}
	if c.HTTP.RateBurst == 0 {
		c.HTTP.RateBurst = 50
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Name == "" {
			c.Database.Name = "peerly.db"
		}
	case "postgres":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
	case "mysql":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
	}
	if c.Database.Name == "" {
		c.Database.Name = "peerly"
	}
	if c.Database.MaxOpen == 0 {
		c.Database.MaxOpen = 20
	}
	if c.Database.MaxIdle == 0 {
		c.Database.MaxIdle = 5
	}
	if c.Redis.ChannelPrefix == "" {
		c.Redis.ChannelPrefix = "peerly"
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "us-east-1"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 7 * 24 * time.Hour
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = "peerly_session"
	}
	if c.Messaging.HistoryLimit == 0 {
		c.Messaging.HistoryLimit = 100
	}
	if c.Messaging.DirectoryLimit == 0 {
		c.Messaging.DirectoryLimit = 50
	}
	if c.Messaging.BadgeDelay == 0 {
		c.Messaging.BadgeDelay = 500 * time.Millisecond
	}
	if c.Messaging.SendRatePerMinute == 0 {
		c.Messaging.SendRatePerMinute = 30
	}
	for i := range c.Colleges {
		c.Colleges[i].EmailDomain = strings.ToLower(strings.TrimPrefix(c.Colleges[i].EmailDomain, "@"))
	}
	if c.Maintenance.RecencyRepair == "" {
		c.Maintenance.RecencyRepair = "*/15 * * * *"
	}
	if c.Maintenance.DailyDigest == "" {
		c.Maintenance.DailyDigest = "0 8 * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Env {
	case "development", "test", "production":
	default:
		errs = append(errs, fmt.Sprintf("env %q must be development, test or production", c.Env))
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port %d out of range", c.HTTP.Port))
	}
	if c.HTTP.RatePerSecond < 0 || c.HTTP.RateBurst < 0 {
		errs = append(errs, "http.rate_per_second and http.rate_burst must not be negative")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite, postgres or mysql", c.Database.Driver))
	}
	if c.Auth.Secret == "" {
		errs = append(errs, "auth.secret is required")
	} else if c.Env == "production" && len(c.Auth.Secret) < 32 {
		errs = append(errs, "auth.secret must be at least 32 bytes in production")
	}
	if c.Storage.Bucket != "" && c.Storage.PublicURL == "" {
		errs = append(errs, "storage.public_url is required when storage.bucket is set")
	}
	if c.Messaging.HistoryLimit < 0 {
		errs = append(errs, "messaging.history_limit must be positive")
	}
	if c.Messaging.DirectoryLimit < 0 {
		errs = append(errs, "messaging.directory_limit must be positive")
	}
	if c.Messaging.BadgeDelay < 0 {
		errs = append(errs, "messaging.badge_delay must not be negative")
	}
	switch c.Moderation.Provider {
	case "":
	case "slack", "discord":
		if c.Moderation.ChannelID == "" {
			errs = append(errs, "moderation.channel_id is required")
		}
		if c.Moderation.Token == "" {
			errs = append(errs, "moderation.token is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("moderation.provider %q must be slack or discord", c.Moderation.Provider))
	}
	if _, err := cron.ParseStandard(c.Maintenance.RecencyRepair); err != nil {
		errs = append(errs, fmt.Sprintf("maintenance.recency_repair: %v", err))
	}
	if _, err := cron.ParseStandard(c.Maintenance.DailyDigest); err != nil {
		errs = append(errs, fmt.Sprintf("maintenance.daily_digest: %v", err))
	}
	seen := make(map[string]bool)
	for i, col := range c.Colleges {
		if col.Name == "" {
			errs = append(errs, fmt.Sprintf("colleges[%d].name is required", i))
		}
		if col.Slug == "" {
			errs = append(errs, fmt.Sprintf("colleges[%d].slug is required", i))
		} else if seen[col.Slug] {
			errs = append(errs, fmt.Sprintf("colleges[%d].slug %q is duplicated", i, col.Slug))
		}
		seen[col.Slug] = true
		if col.EmailDomain == "" {
			errs = append(errs, fmt.Sprintf("colleges[%d].email_domain is required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
