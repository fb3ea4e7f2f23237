package config

import (
	"errors"
	"fmt"
	"time"
)

// Participant store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`

	Presence     PresenceConfig     `mapstructure:"presence" yaml:"presence"`
	Participants ParticipantsConfig `mapstructure:"participants" yaml:"participants"`
	Redis        RedisConfig        `mapstructure:"redis" yaml:"redis"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit" yaml:"rate_limit"`
	CORS         CORSConfig         `mapstructure:"cors" yaml:"cors"`
}

// PresenceConfig controls heartbeat expiry.
type PresenceConfig struct {
	ExpiryWindow    time.Duration `mapstructure:"expiry_window" yaml:"expiry_window"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	RemoveTimeout   time.Duration `mapstructure:"remove_timeout" yaml:"remove_timeout"`
	AnnounceTimeout time.Duration `mapstructure:"announce_timeout" yaml:"announce_timeout"`
}

// ParticipantsConfig selects where participants live.
type ParticipantsConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
}

// RedisConfig is used when Participants.Backend is "redis".
type RedisConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Password  string `mapstructure:"password" yaml:"password"`
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// RateLimitConfig limits message writes per sender. PerSecond <= 0 disables it.
type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"per_second" yaml:"per_second"`
	Burst     int     `mapstructure:"burst" yaml:"burst"`
}

// CORSConfig lists browser origins allowed to call the REST API.
// An empty list allows any origin.
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins" yaml:"allow_origins"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":5000",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		DatabasePath:      "wirechat-presence.db",
		Presence: PresenceConfig{
			ExpiryWindow:    10 * time.Second,
			SweepInterval:   15 * time.Second,
			RemoveTimeout:   5 * time.Second,
			AnnounceTimeout: 5 * time.Second,
		},
		Participants: ParticipantsConfig{
			Backend: BackendSQLite,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "wirechat:",
		},
		RateLimit: RateLimitConfig{
			PerSecond: 5,
			Burst:     10,
		},
		CORS: CORSConfig{
			AllowOrigins: []string{},
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Only the fields exposed as command line flags are considered.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error

	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.Presence.ExpiryWindow <= 0 {
		errs = append(errs, fmt.Errorf("presence.expiry_window must be positive, got %s", c.Presence.ExpiryWindow))
	}
	if c.Presence.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("presence.sweep_interval must be positive, got %s", c.Presence.SweepInterval))
	}
	if c.Presence.RemoveTimeout <= 0 {
		errs = append(errs, fmt.Errorf("presence.remove_timeout must be positive, got %s", c.Presence.RemoveTimeout))
	}
	if c.Presence.AnnounceTimeout <= 0 {
		errs = append(errs, fmt.Errorf("presence.announce_timeout must be positive, got %s", c.Presence.AnnounceTimeout))
	}

	switch c.Participants.Backend {
	case BackendSQLite:
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown participants.backend %q", c.Participants.Backend))
	}

	if c.RateLimit.PerSecond > 0 && c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rate_limit.burst must be positive when rate limiting is enabled"))
	}

	return errors.Join(errs...)
}
