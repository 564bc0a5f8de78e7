package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithEnvSecret(t *testing.T) {
	t.Setenv("DATAPOND_CONTROLLER_AUTH_SECRET", "s3cret")
	path := filepath.Join(t.TempDir(), "controller.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 6000\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.Server.Port)
	assert.Equal(t, "controller", cfg.Server.Principal)
	assert.Equal(t, "s3cret", cfg.Auth.Secret)
	assert.Equal(t, int64(50*1024*1024*1024), cfg.Placement.CapacityBytes)
	assert.InDelta(t, 0.05, cfg.Placement.FullThreshold, 1e-9)
	assert.Equal(t, "local", cfg.Provisioner.Mode)
	assert.Equal(t, 24*time.Hour, cfg.Store.IdempotencyTTL)
	assert.Equal(t, "0.0.0.0:6000", cfg.Server.Address())
}

func TestLoadRemoteStaticPool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "controller.yaml")
	body := `
auth:
  secret: x
tenant:
  bootstrap_id: tenant-svc
provisioner:
  mode: remote
  discovery: static
  pool:
    - id: shard-a
      address: 10.0.0.1:50061
    - id: shard-b
      address: 10.0.0.2:50061
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tenant-svc", cfg.Tenant.BootstrapID)
	require.Len(t, cfg.Provisioner.Pool, 2)
	assert.Equal(t, "shard-b", cfg.Provisioner.Pool[1].ID)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:      ServerConfig{Port: 1, Principal: "controller"},
			Auth:        AuthConfig{Secret: "x"},
			Placement:   PlacementConfig{CapacityBytes: 10, FullThreshold: 0.05},
			Provisioner: ProvisionerConfig{Mode: "local", Engine: "memory"},
			Store:       StoreConfig{Metadata: "memory", Idempotency: "memory", IdempotencyTTL: time.Hour},
		}
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(c *Config){
		"no secret":           func(c *Config) { c.Auth.Secret = "" },
		"no principal":        func(c *Config) { c.Server.Principal = "" },
		"zero capacity":       func(c *Config) { c.Placement.CapacityBytes = 0 },
		"threshold one":       func(c *Config) { c.Placement.FullThreshold = 1 },
		"bad mode":            func(c *Config) { c.Provisioner.Mode = "cloud" },
		"bad engine":          func(c *Config) { c.Provisioner.Engine = "rocks" },
		"static without pool": func(c *Config) { c.Provisioner = ProvisionerConfig{Mode: "remote", Discovery: "static"} },
		"bad discovery":       func(c *Config) { c.Provisioner = ProvisionerConfig{Mode: "remote", Discovery: "dns"} },
		"bad metadata store":  func(c *Config) { c.Store.Metadata = "mysql" },
		"bad idem store":      func(c *Config) { c.Store.Idempotency = "memcached" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
