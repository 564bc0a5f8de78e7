package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	ShardID          string        `yaml:"shard_id"`
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	AdvertiseAddress string        `yaml:"advertise_address"`
	MaxMessageBytes  int           `yaml:"max_message_bytes"`
	MaxConnections   int           `yaml:"max_connections"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
}

// ControllerConfig names the controller allowed to provision and call
// this shard.
type ControllerConfig struct {
	Principal string `yaml:"principal"`
}

// AuthConfig holds the cluster token secret
type AuthConfig struct {
	Secret string `yaml:"secret"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Engine        string `yaml:"engine"`
	DataDir       string `yaml:"data_dir"`
	Compression   bool   `yaml:"compression"`
	SegmentSize   int    `yaml:"segment_size"`
	CapacityBytes int64  `yaml:"capacity_bytes"`
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BindPort       int           `yaml:"bind_port"`
	SeedNodes      []string      `yaml:"seed_nodes"`
	GossipInterval time.Duration `yaml:"gossip_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents the complete configuration for a shard
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Controller ControllerConfig `yaml:"controller"`
	Auth       AuthConfig       `yaml:"auth"`
	Storage    StorageConfig    `yaml:"storage"`
	Gossip     GossipConfig     `yaml:"gossip"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoadConfig loads configuration from a file. DATAPOND_AUTH_SECRET overrides
// auth.secret so the secret can stay out of the file.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if secret := os.Getenv("DATAPOND_AUTH_SECRET"); secret != "" {
		cfg.Auth.Secret = secret
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 50061
	}
	if cfg.Server.AdvertiseAddress == "" {
		cfg.Server.AdvertiseAddress = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Server.MaxMessageBytes == 0 {
		cfg.Server.MaxMessageBytes = 16 * 1024 * 1024
	}
	if cfg.Server.MaxConnections == 0 {
		cfg.Server.MaxConnections = 1000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Controller.Principal == "" {
		cfg.Controller.Principal = "controller"
	}

	if cfg.Storage.Engine == "" {
		cfg.Storage.Engine = "badger"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/var/lib/datapond/shard"
	}
	if cfg.Storage.SegmentSize == 0 {
		cfg.Storage.SegmentSize = 1024 * 1024
	}
	if cfg.Storage.CapacityBytes == 0 {
		cfg.Storage.CapacityBytes = 50 * 1024 * 1024 * 1024
	}

	if cfg.Gossip.BindPort == 0 {
		cfg.Gossip.BindPort = 7946
	}
	if cfg.Gossip.GossipInterval == 0 {
		cfg.Gossip.GossipInterval = 200 * time.Millisecond
	}
	if cfg.Gossip.ProbeTimeout == 0 {
		cfg.Gossip.ProbeTimeout = 500 * time.Millisecond
	}
	if cfg.Gossip.ProbeInterval == 0 {
		cfg.Gossip.ProbeInterval = time.Second
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9091
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ShardID == "" {
		return fmt.Errorf("server.shard_id is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}
	switch c.Storage.Engine {
	case "badger", "memory":
	default:
		return fmt.Errorf("storage.engine must be badger or memory, got %q", c.Storage.Engine)
	}
	if c.Storage.CapacityBytes < 0 {
		return fmt.Errorf("storage.capacity_bytes must not be negative")
	}
	return nil
}
