// Package config provides YAML-based configuration loading for Kinber.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Kinber configuration, loaded from kinber.yaml.
type Config struct {
	AppURL   string         `yaml:"app_url"`
	Backend  BackendConfig  `yaml:"backend"`
	Identity IdentityConfig `yaml:"identity"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Cache    CacheConfig    `yaml:"cache"`
	Share    ShareConfig    `yaml:"share"`
	Notify   NotifyConfig   `yaml:"notify"`
	Log      LogConfig      `yaml:"log"`
	Web      WebConfig      `yaml:"web"`
}

// BackendConfig points at the agent execution backend.
type BackendConfig struct {
	URL       string        `yaml:"url"`
	ModelName string        `yaml:"model_name"`
	Agent     string        `yaml:"agent"`
	Timeout   time.Duration `yaml:"timeout"`
}

// IdentityConfig holds the hosted auth/storage service settings.
type IdentityConfig struct {
	URL                string `yaml:"url"`
	AnonKey            string `yaml:"anon_key"`
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	RefreshSchedule    string `yaml:"refresh_schedule"`
}

// DatabaseConfig selects the relational store behind threads, messages,
// agents and profiles.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

// StorageConfig names the object storage bucket used for attachments.
type StorageConfig struct {
	Bucket         string `yaml:"bucket"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// RealtimeConfig controls the change feed used by the recents sidebar.
type RealtimeConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// CacheConfig selects the cache backend. An empty RedisURL means in-memory.
type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// ShareConfig holds optional chat platform targets for sharing threads.
type ShareConfig struct {
	Slack   ShareTarget `yaml:"slack"`
	Discord ShareTarget `yaml:"discord"`
}

// ShareTarget is a bot token plus the channel shares are posted to.
type ShareTarget struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// NotifyConfig controls how user notices are delivered outside the terminal.
type NotifyConfig struct {
	Command string `yaml:"command"`
}

// LogConfig controls log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// WebConfig holds settings for the local web front end.
type WebConfig struct {
	Port int `yaml:"port"`
}

// Load reads a YAML config file from path, applies environment overrides and
// returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return parse(data, os.Getenv)
}

// Parse unmarshals YAML bytes into a validated Config. Environment overrides
// are applied from the process environment.
func Parse(data []byte) (*Config, error) {
	return parse(data, os.Getenv)
}

func parse(data []byte, getenv func(string) string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(getenv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays KINBER_* environment variables on top of file values.
func (c *Config) applyEnv(getenv func(string) string) {
	overrides := []struct {
		key string
		dst *string
	}{
		{"KINBER_APP_URL", &c.AppURL},
		{"KINBER_BACKEND_URL", &c.Backend.URL},
		{"KINBER_IDENTITY_URL", &c.Identity.URL},
		{"KINBER_IDENTITY_ANON_KEY", &c.Identity.AnonKey},
		{"KINBER_GOOGLE_CLIENT_ID", &c.Identity.GoogleClientID},
		{"KINBER_GOOGLE_CLIENT_SECRET", &c.Identity.GoogleClientSecret},
		{"KINBER_DATABASE_DRIVER", &c.Database.Driver},
		{"KINBER_DATABASE_DSN", &c.Database.DSN},
		{"KINBER_REDIS_URL", &c.Cache.RedisURL},
		{"KINBER_SLACK_BOT_TOKEN", &c.Share.Slack.BotToken},
		{"KINBER_DISCORD_BOT_TOKEN", &c.Share.Discord.BotToken},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(getenv(o.key)); v != "" {
			*o.dst = v
		}
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	c.Backend.URL = strings.TrimRight(strings.TrimSpace(c.Backend.URL), "/")
	c.Identity.URL = strings.TrimRight(strings.TrimSpace(c.Identity.URL), "/")
	c.AppURL = strings.TrimRight(strings.TrimSpace(c.AppURL), "/")

	if c.AppURL == "" {
		c.AppURL = "https://kinber.com"
	}
	if c.Backend.ModelName == "" {
		c.Backend.ModelName = "gemini-2.0-flash-exp"
	}
	if c.Backend.Agent == "" {
		c.Backend.Agent = "default"
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 2 * time.Minute
	}
	if c.Identity.RefreshSchedule == "" {
		c.Identity.RefreshSchedule = "*/15 * * * *"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "kinber.db"
	}
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = "kinber_uploads"
	}
	if c.Storage.MaxUploadBytes == 0 {
		c.Storage.MaxUploadBytes = 50 << 20
	}
	if c.Realtime.PollInterval == 0 {
		c.Realtime.PollInterval = 2 * time.Second
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 30 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Backend.URL == "" {
		errs = append(errs, "backend.url is required")
	}
	if c.Identity.URL == "" {
		errs = append(errs, "identity.url is required")
	}
	if c.Identity.AnonKey == "" {
		errs = append(errs, "identity.anon_key is required")
	}
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required")
	}
	if c.Storage.MaxUploadBytes < 0 {
		errs = append(errs, "storage.max_upload_bytes must not be negative")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not supported", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
