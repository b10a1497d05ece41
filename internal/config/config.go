// Package config provides configuration management for the relay.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Log      LogConfig      `mapstructure:"log"`
}

// TelegramConfig holds delivery sink configuration.
type TelegramConfig struct {
	Token string `mapstructure:"token"`
	Debug bool   `mapstructure:"debug"`
}

// GitHubConfig holds webhook and API configuration.
type GitHubConfig struct {
	Token         string `mapstructure:"token"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	Mode          string `mapstructure:"mode"`          // webhook, polling, or both
	PollInterval  int    `mapstructure:"poll_interval"` // Polling interval in seconds
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	AdminToken string `mapstructure:"admin_token"`
}

// DispatchConfig holds fan-out configuration.
type DispatchConfig struct {
	MaxConcurrent  int `mapstructure:"max_concurrent"`  // Simultaneous in-flight deliveries
	AttemptTimeout int `mapstructure:"attempt_timeout"` // Per-attempt timeout in seconds
	RetentionDays  int `mapstructure:"retention_days"`  // Delivery log retention
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults. The webhook secret is deliberately not defaulted.
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.path", "./data/relay.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("telegram.debug", false)
	v.SetDefault("github.mode", "webhook")
	v.SetDefault("github.poll_interval", 300)
	v.SetDefault("dispatch.max_concurrent", 4)
	v.SetDefault("dispatch.attempt_timeout", 10)
	v.SetDefault("dispatch.retention_days", 30)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Read environment variables
	v.SetEnvPrefix("GHRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks if all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}
	switch c.GitHub.Mode {
	case "webhook", "polling", "both":
	default:
		return fmt.Errorf("invalid github mode %q (expected webhook, polling, or both)", c.GitHub.Mode)
	}
	if c.WebhookEnabled() && c.GitHub.WebhookSecret == "" {
		return fmt.Errorf("github webhook secret is required in %s mode", c.GitHub.Mode)
	}
	if c.Dispatch.MaxConcurrent < 1 {
		return fmt.Errorf("dispatch max_concurrent must be at least 1")
	}
	if c.Dispatch.AttemptTimeout < 1 {
		return fmt.Errorf("dispatch attempt_timeout must be at least 1 second")
	}
	return nil
}

// WebhookEnabled reports whether the webhook ingestion endpoint is active.
func (c *Config) WebhookEnabled() bool {
	return c.GitHub.Mode == "webhook" || c.GitHub.Mode == "both"
}

// PollingEnabled reports whether the polling ingestion loop is active.
func (c *Config) PollingEnabled() bool {
	return c.GitHub.Mode == "polling" || c.GitHub.Mode == "both"
}

// ServerAddress returns the full server address.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// AttemptTimeout returns the per-attempt delivery timeout as a duration.
func (c *Config) AttemptTimeout() time.Duration {
	return time.Duration(c.Dispatch.AttemptTimeout) * time.Second
}
