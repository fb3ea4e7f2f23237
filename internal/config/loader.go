package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "WIRECHAT"
	envConfigDefaultPath = "WIRECHAT_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load resolves configuration and returns it with the config file path.
// Precedence: defaults < config file < WIRECHAT_* env vars < caller overrides.
// A missing config file is created with the defaults.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	// presence.expiry_window -> WIRECHAT_PRESENCE_EXPIRY_WINDOW
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
		bootstrapConfigFile(logger, v, configPath, cfg)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, configPath, nil
}

func bootstrapConfigFile(logger *zerolog.Logger, v *viper.Viper, path string, cfg Config) {
	if err := writeDefaultConfig(path, cfg); err != nil {
		if logger != nil {
			logger.Warn().Err(err).Str("path", path).Msg("failed to write default config")
		}
		return
	}
	if logger != nil {
		logger.Info().Str("path", path).Msg("created default config")
	}
	if err := v.ReadInConfig(); err != nil && logger != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to read config after writing default")
	}
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("database_path", cfg.DatabasePath)

	v.SetDefault("presence.expiry_window", cfg.Presence.ExpiryWindow)
	v.SetDefault("presence.sweep_interval", cfg.Presence.SweepInterval)
	v.SetDefault("presence.remove_timeout", cfg.Presence.RemoveTimeout)
	v.SetDefault("presence.announce_timeout", cfg.Presence.AnnounceTimeout)

	v.SetDefault("participants.backend", cfg.Participants.Backend)

	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("redis.key_prefix", cfg.Redis.KeyPrefix)

	v.SetDefault("rate_limit.per_second", cfg.RateLimit.PerSecond)
	v.SetDefault("rate_limit.burst", cfg.RateLimit.Burst)

	v.SetDefault("cors.allow_origins", cfg.CORS.AllowOrigins)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

// defaultDocument renders durations as strings ("10s") so the generated
// file stays readable.
func defaultDocument(cfg Config) map[string]any {
	return map[string]any{
		"addr":                cfg.Addr,
		"read_header_timeout": cfg.ReadHeaderTimeout.String(),
		"shutdown_timeout":    cfg.ShutdownTimeout.String(),
		"log_level":           cfg.LogLevel,
		"log_format":          cfg.LogFormat,
		"database_path":       cfg.DatabasePath,
		"presence": map[string]any{
			"expiry_window":    cfg.Presence.ExpiryWindow.String(),
			"sweep_interval":   cfg.Presence.SweepInterval.String(),
			"remove_timeout":   cfg.Presence.RemoveTimeout.String(),
			"announce_timeout": cfg.Presence.AnnounceTimeout.String(),
		},
		"participants": map[string]any{
			"backend": cfg.Participants.Backend,
		},
		"redis": map[string]any{
			"addr":       cfg.Redis.Addr,
			"password":   cfg.Redis.Password,
			"db":         cfg.Redis.DB,
			"key_prefix": cfg.Redis.KeyPrefix,
		},
		"rate_limit": map[string]any{
			"per_second": cfg.RateLimit.PerSecond,
			"burst":      cfg.RateLimit.Burst,
		},
		"cors": map[string]any{
			"allow_origins": cfg.CORS.AllowOrigins,
		},
	}
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(defaultDocument(cfg))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
