// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tathienbao/trailbot/internal/gateway/ibkr"
	"github.com/tathienbao/trailbot/internal/types"
	"gopkg.in/yaml.v3"
)

// Config represents the full application configuration.
type Config struct {
	Profile   string          `yaml:"profile"`
	Feed      FeedConfig      `yaml:"feed"`
	Trigger   TriggerConfig   `yaml:"trigger"`
	Execution ExecutionConfig `yaml:"execution"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Audit     AuditConfig     `yaml:"audit"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Shutdown  ShutdownConfig  `yaml:"shutdown"`
}

// FeedConfig holds instruction feed settings.
type FeedConfig struct {
	Type            string `yaml:"type"` // csv | http
	Path            string `yaml:"path"` // for csv
	URL             string `yaml:"url"`  // for http
	SyncIntervalSec int    `yaml:"sync_interval_sec"`
	TimeoutSec      int    `yaml:"timeout_sec"`
}

// TriggerConfig holds trigger evaluation settings.
type TriggerConfig struct {
	Mode string `yaml:"mode"` // immediate | price_crossing
}

// ExecutionConfig holds order submission settings.
type ExecutionConfig struct {
	OrderTimeoutSec int `yaml:"order_timeout_sec"`
}

// GatewayConfig holds order gateway settings.
type GatewayConfig struct {
	Type                 string `yaml:"type"` // ibkr | paper
	Host                 string `yaml:"host"`
	Port                 int    `yaml:"port"`
	ClientID             int    `yaml:"client_id"`
	ConnectTimeoutSec    int    `yaml:"connect_timeout_sec"`
	RequestTimeoutSec    int    `yaml:"request_timeout_sec"`
	RateLimitPerSecond   int    `yaml:"rate_limit_per_second"`
	AutoReconnect        bool   `yaml:"auto_reconnect"`
	ReconnectIntervalSec int    `yaml:"reconnect_interval_sec"`
	MaxReconnectTries    int    `yaml:"max_reconnect_tries"`
	EventBuffer          int    `yaml:"event_buffer"`
}

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Channels []ChannelConfig `yaml:"channels"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type string `yaml:"type"` // console | telegram | email

	// Telegram
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`

	// Email
	SMTPHost     string   `yaml:"smtp_host"`
	SMTPPort     int      `yaml:"smtp_port"`
	SMTPUsername string   `yaml:"smtp_username"`
	SMTPPassword string   `yaml:"smtp_password"`
	From         string   `yaml:"from"`
	To           []string `yaml:"to"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// ShutdownConfig holds shutdown settings.
type ShutdownConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration and fills in defaults.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Profile) == "" {
		errs = append(errs, "profile is required")
	}

	// Feed validation
	switch c.Feed.Type {
	case "csv":
		if c.Feed.Path == "" {
			errs = append(errs, "feed.path is required for csv")
		}
	case "http":
		if c.Feed.URL == "" {
			errs = append(errs, "feed.url is required for http")
		}
	default:
		errs = append(errs, "feed.type must be 'csv' or 'http'")
	}
	if c.Feed.SyncIntervalSec <= 0 {
		c.Feed.SyncIntervalSec = 300 // default
	}
	if c.Feed.TimeoutSec <= 0 {
		c.Feed.TimeoutSec = 15 // default
	}

	// Trigger validation
	if _, err := types.ParseTriggerMode(c.Trigger.Mode); err != nil {
		errs = append(errs, fmt.Sprintf("trigger.mode '%s' is not supported", c.Trigger.Mode))
	}

	// Execution validation
	if c.Execution.OrderTimeoutSec <= 0 {
		c.Execution.OrderTimeoutSec = 10 // default
	}

	// Gateway validation
	switch c.Gateway.Type {
	case "ibkr", "paper":
	case "":
		c.Gateway.Type = "paper" // default
	default:
		errs = append(errs, "gateway.type must be 'ibkr' or 'paper'")
	}
	if c.Gateway.Type == "ibkr" {
		if c.Gateway.Host == "" {
			c.Gateway.Host = "127.0.0.1"
		}
		if c.Gateway.Port <= 0 {
			c.Gateway.Port = 7497
		}
	}

	// Audit validation
	if c.Audit.Enabled && c.Audit.Path == "" {
		errs = append(errs, "audit.path is required when audit is enabled")
	}

	// Alerting validation
	for i, ch := range c.Alerting.Channels {
		switch ch.Type {
		case "console":
		case "telegram":
			if ch.BotToken == "" || ch.ChatID == "" {
				errs = append(errs, fmt.Sprintf("alerting.channels[%d]: telegram requires bot_token and chat_id", i))
			}
		case "email":
			if ch.SMTPHost == "" || ch.From == "" || len(ch.To) == 0 {
				errs = append(errs, fmt.Sprintf("alerting.channels[%d]: email requires smtp_host, from and to", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("alerting.channels[%d]: unknown type '%s'", i, ch.Type))
		}
	}

	// Metrics validation
	if c.Metrics.Enabled && c.Metrics.Port <= 0 {
		c.Metrics.Port = 9090 // default
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	// Shutdown validation
	if c.Shutdown.TimeoutSec <= 0 {
		c.Shutdown.TimeoutSec = 15 // default
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// TriggerMode returns the parsed trigger mode. Validate has already
// rejected unknown names.
func (c *Config) TriggerMode() types.TriggerMode {
	mode, _ := types.ParseTriggerMode(c.Trigger.Mode)
	return mode
}

// SyncInterval returns the feed poll interval.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Feed.SyncIntervalSec) * time.Second
}

// FeedTimeout returns the per-fetch feed timeout.
func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.Feed.TimeoutSec) * time.Second
}

// OrderTimeout returns the per-order gateway timeout.
func (c *Config) OrderTimeout() time.Duration {
	return time.Duration(c.Execution.OrderTimeoutSec) * time.Second
}

// ShutdownTimeout returns the shutdown timeout duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Shutdown.TimeoutSec) * time.Second
}

// ToIBKRConfig converts the gateway section to an ibkr.Config.
func (c *Config) ToIBKRConfig() ibkr.Config {
	out := ibkr.DefaultConfig()

	if c.Gateway.Host != "" {
		out.Host = c.Gateway.Host
	}
	if c.Gateway.Port > 0 {
		out.Port = c.Gateway.Port
	}
	if c.Gateway.ClientID > 0 {
		out.ClientID = c.Gateway.ClientID
	}
	if c.Gateway.ConnectTimeoutSec > 0 {
		out.ConnectTimeout = time.Duration(c.Gateway.ConnectTimeoutSec) * time.Second
	}
	if c.Gateway.RequestTimeoutSec > 0 {
		out.RequestTimeout = time.Duration(c.Gateway.RequestTimeoutSec) * time.Second
	}
	if c.Gateway.RateLimitPerSecond > 0 {
		out.MaxRequestsPerSecond = c.Gateway.RateLimitPerSecond
	}
	out.AutoReconnect = c.Gateway.AutoReconnect
	if c.Gateway.ReconnectIntervalSec > 0 {
		out.ReconnectInterval = time.Duration(c.Gateway.ReconnectIntervalSec) * time.Second
	}
	if c.Gateway.MaxReconnectTries > 0 {
		out.MaxReconnectTries = c.Gateway.MaxReconnectTries
	}
	if c.Gateway.EventBuffer > 0 {
		out.EventBuffer = c.Gateway.EventBuffer
	}

	return out
}
