package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds server configuration values.
type Config struct {
	ListenAddr        string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	AdminAddr         string        `mapstructure:"admin_addr" yaml:"admin_addr"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`
	MailboxSize       int           `mapstructure:"mailbox_size" yaml:"mailbox_size"`
	RouterQueueSize   int           `mapstructure:"router_queue_size" yaml:"router_queue_size"`
	MaxBodyBytes      int           `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	LoginTimeout      time.Duration `mapstructure:"login_timeout" yaml:"login_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	OnConflict        string        `mapstructure:"on_conflict" yaml:"on_conflict"`
	NotifyOffline     bool          `mapstructure:"notify_offline" yaml:"notify_offline"`
	RateLimit         float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst         int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		ListenAddr:        "127.0.0.1:8233",
		AdminAddr:         ":8080",
		LogLevel:          "info",
		LogFormat:         "console",
		MailboxSize:       100,
		RouterQueueSize:   100,
		MaxBodyBytes:      1 << 20,
		LoginTimeout:      10 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		OnConflict:        "reject",
		RateBurst:         10,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.ListenAddr != "" {
		c.ListenAddr = other.ListenAddr
	}
	if other.AdminAddr != "" {
		c.AdminAddr = other.AdminAddr
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.MailboxSize != 0 {
		c.MailboxSize = other.MailboxSize
	}
	if other.RouterQueueSize != 0 {
		c.RouterQueueSize = other.RouterQueueSize
	}
	if other.MaxBodyBytes != 0 {
		c.MaxBodyBytes = other.MaxBodyBytes
	}
	if other.LoginTimeout != 0 {
		c.LoginTimeout = other.LoginTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.OnConflict != "" {
		c.OnConflict = other.OnConflict
	}
	if other.NotifyOffline {
		c.NotifyOffline = true
	}
	if other.RateLimit != 0 {
		c.RateLimit = other.RateLimit
	}
	if other.RateBurst != 0 {
		c.RateBurst = other.RateBurst
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
}

// Validate reports every setting the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr must be set"))
	}
	if c.MailboxSize <= 0 {
		errs = append(errs, fmt.Errorf("mailbox_size must be positive, got %d", c.MailboxSize))
	}
	if c.RouterQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("router_queue_size must be positive, got %d", c.RouterQueueSize))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_body_bytes must be positive, got %d", c.MaxBodyBytes))
	}
	if c.LoginTimeout < 0 {
		errs = append(errs, fmt.Errorf("login_timeout must not be negative, got %s", c.LoginTimeout))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit must not be negative, got %v", c.RateLimit))
	}
	switch c.OnConflict {
	case "reject", "replace":
	default:
		errs = append(errs, fmt.Errorf("on_conflict must be reject or replace, got %q", c.OnConflict))
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be console or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}
