// Package config provides configuration management for the placement
// controller.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the controller configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Tenant      TenantConfig      `mapstructure:"tenant"`
	Placement   PlacementConfig   `mapstructure:"placement"`
	Provisioner ProvisionerConfig `mapstructure:"provisioner"`
	Gossip      GossipConfig      `mapstructure:"gossip"`
	Store       StoreConfig       `mapstructure:"store"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig represents gRPC server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Principal is the controller's own identity. Administrative calls must
	// come from it and shards accept only it.
	Principal       string        `mapstructure:"principal"`
	MaxMessageBytes int           `mapstructure:"max_message_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig holds the cluster token secret
type AuthConfig struct {
	Secret string `mapstructure:"secret"`
}

// TenantConfig controls startup self-registration
type TenantConfig struct {
	BootstrapID string `mapstructure:"bootstrap_id"`
	// PackagePath, when set, is loaded as the provisioning package at startup.
	PackagePath string `mapstructure:"package_path"`
}

// PlacementConfig represents shard capacity settings
type PlacementConfig struct {
	CapacityBytes int64   `mapstructure:"capacity_bytes"`
	FullThreshold float64 `mapstructure:"full_threshold"`
}

// PoolMemberConfig is a statically configured shard process
type PoolMemberConfig struct {
	ID      string `mapstructure:"id"`
	Address string `mapstructure:"address"`
}

// ProvisionerConfig selects how new shards are created
type ProvisionerConfig struct {
	// Mode is "local" (in-process shards) or "remote" (shard pool).
	Mode string `mapstructure:"mode"`
	// Engine and DataDir configure local shards.
	Engine      string `mapstructure:"engine"`
	DataDir     string `mapstructure:"data_dir"`
	Compression bool   `mapstructure:"compression"`
	// Discovery is "static" or "gossip" for remote mode.
	Discovery   string             `mapstructure:"discovery"`
	Pool        []PoolMemberConfig `mapstructure:"pool"`
	CallTimeout time.Duration      `mapstructure:"call_timeout"`
}

// GossipConfig holds gossip membership configuration
type GossipConfig struct {
	BindPort       int           `mapstructure:"bind_port"`
	SeedNodes      []string      `mapstructure:"seed_nodes"`
	GossipInterval time.Duration `mapstructure:"gossip_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval"`
}

// StoreConfig selects metadata and idempotency backends
type StoreConfig struct {
	Metadata       string        `mapstructure:"metadata"`
	Idempotency    string        `mapstructure:"idempotency"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
	UserCacheSize  int           `mapstructure:"user_cache_size"`
	UserCacheTTL   time.Duration `mapstructure:"user_cache_ttl"`
}

// DatabaseConfig represents PostgreSQL metadata store configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MinConnections int    `mapstructure:"min_connections"`
}

// RedisConfig represents Redis idempotency store configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// Environment variables use the DATAPOND_CONTROLLER_ prefix with dots
// replaced by underscores, e.g. DATAPOND_CONTROLLER_AUTH_SECRET.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("controller")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/datapond/")
	}

	v.SetEnvPrefix("DATAPOND_CONTROLLER")
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
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 50051)
	v.SetDefault("server.principal", "controller")
	v.SetDefault("server.max_message_bytes", 16*1024*1024)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("auth.secret", "")

	v.SetDefault("tenant.bootstrap_id", "")
	v.SetDefault("tenant.package_path", "")

	v.SetDefault("placement.capacity_bytes", int64(50*1024*1024*1024))
	v.SetDefault("placement.full_threshold", 0.05)

	v.SetDefault("provisioner.mode", "local")
	v.SetDefault("provisioner.engine", "memory")
	v.SetDefault("provisioner.data_dir", "/var/lib/datapond/controller/shards")
	v.SetDefault("provisioner.compression", false)
	v.SetDefault("provisioner.discovery", "static")
	v.SetDefault("provisioner.call_timeout", "30s")

	v.SetDefault("gossip.bind_port", 7947)
	v.SetDefault("gossip.seed_nodes", []string{})
	v.SetDefault("gossip.gossip_interval", "200ms")
	v.SetDefault("gossip.probe_timeout", "500ms")
	v.SetDefault("gossip.probe_interval", "1s")

	v.SetDefault("store.metadata", "memory")
	v.SetDefault("store.idempotency", "memory")
	v.SetDefault("store.idempotency_ttl", "24h")
	v.SetDefault("store.user_cache_size", 10000)
	v.SetDefault("store.user_cache_ttl", "5m")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "datapond")
	v.SetDefault("database.user", "datapond")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_connections", 20)
	v.SetDefault("database.min_connections", 2)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 50)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Server.Principal == "" {
		return errors.New("server.principal is required")
	}
	if c.Auth.Secret == "" {
		return errors.New("auth.secret is required")
	}
	if c.Placement.CapacityBytes <= 0 {
		return errors.New("placement.capacity_bytes must be positive")
	}
	if c.Placement.FullThreshold < 0 || c.Placement.FullThreshold >= 1 {
		return errors.New("placement.full_threshold must be in [0, 1)")
	}

	switch c.Provisioner.Mode {
	case "local":
		if c.Provisioner.Engine != "memory" && c.Provisioner.Engine != "badger" {
			return errors.New("provisioner.engine must be memory or badger")
		}
	case "remote":
		switch c.Provisioner.Discovery {
		case "static":
			if len(c.Provisioner.Pool) == 0 {
				return errors.New("provisioner.pool is required for static discovery")
			}
			for _, m := range c.Provisioner.Pool {
				if m.ID == "" || m.Address == "" {
					return errors.New("provisioner.pool entries need id and address")
				}
			}
		case "gossip":
		default:
			return errors.New("provisioner.discovery must be static or gossip")
		}
	default:
		return errors.New("provisioner.mode must be local or remote")
	}

	switch c.Store.Metadata {
	case "memory", "postgres":
	default:
		return errors.New("store.metadata must be memory or postgres")
	}
	switch c.Store.Idempotency {
	case "memory", "redis":
	default:
		return errors.New("store.idempotency must be memory or redis")
	}
	if c.Store.IdempotencyTTL <= 0 {
		return errors.New("store.idempotency_ttl must be positive")
	}
	return nil
}

// Address returns the gRPC listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
