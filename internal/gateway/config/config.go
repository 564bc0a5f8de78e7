// Package config provides configuration management for the tenant gateway.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the gateway.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Controller  ControllerConfig  `mapstructure:"controller"`
	Auth        AuthConfig        `mapstructure:"auth"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter"`
	CORS        CORSConfig        `mapstructure:"cors"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxUploadBytes caps a single PUT body.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

// ControllerConfig holds gRPC client configuration for the controller.
type ControllerConfig struct {
	Address string        `mapstructure:"address"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AuthConfig identifies the gateway to the controller. The gateway acts as
// the tenant; its token is minted from the cluster secret.
type AuthConfig struct {
	TenantID string `mapstructure:"tenant_id"`
	Secret   string `mapstructure:"secret"`
}

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// CORSConfig lists allowed browser origins.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
// (DATAPOND_GATEWAY_ prefix).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("gateway")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/datapond/")
	}

	v.SetEnvPrefix("DATAPOND_GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.write_timeout", "300s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_upload_bytes", int64(1<<30))

	v.SetDefault("controller.address", "localhost:50051")
	v.SetDefault("controller.timeout", "30s")

	v.SetDefault("auth.tenant_id", "")
	v.SetDefault("auth.secret", "")

	v.SetDefault("rate_limiter.enabled", true)
	v.SetDefault("rate_limiter.requests_per_second", 100.0)
	v.SetDefault("rate_limiter.burst_size", 200)

	v.SetDefault("cors.allowed_origins", []string{"*"})

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("server.max_upload_bytes must be positive")
	}
	if c.Controller.Address == "" {
		return errors.New("controller.address is required")
	}
	if c.Controller.Timeout <= 0 {
		return errors.New("controller.timeout must be positive")
	}
	if c.Auth.TenantID == "" {
		return errors.New("auth.tenant_id is required")
	}
	if c.Auth.Secret == "" {
		return errors.New("auth.secret is required")
	}
	if c.RateLimiter.Enabled {
		if c.RateLimiter.RequestsPerSecond <= 0 {
			return errors.New("rate_limiter.requests_per_second must be positive")
		}
		if c.RateLimiter.BurstSize <= 0 {
			return errors.New("rate_limiter.burst_size must be positive")
		}
	}
	return nil
}
