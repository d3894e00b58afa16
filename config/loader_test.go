package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "inboxflow", cfg.Redis.KeyPrefix)
	assert.Equal(t, 25, cfg.Engine.MaxTurns)
	assert.Equal(t, 1, cfg.Oracle.MaxRetries)
	assert.False(t, cfg.Telemetry.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  http_port: 9000
  shutdown_timeout: 5s
storage:
  backend: redis
redis:
  addr: redis.internal:6379
  key_prefix: mailflow
engine:
  max_turns: 10
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "redis", cfg.Storage.Backend)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, "mailflow", cfg.Redis.KeyPrefix)
	assert.Equal(t, 10, cfg.Engine.MaxTurns)
	assert.Equal(t, "debug", cfg.Log.Level)

	// 未覆盖的字段保持默认值
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9000\n"), 0o600))

	t.Setenv("INBOXFLOW_SERVER_HTTP_PORT", "9100")
	t.Setenv("INBOXFLOW_STORAGE_BACKEND", "database")
	t.Setenv("INBOXFLOW_DATABASE_DRIVER", "sqlite")
	t.Setenv("INBOXFLOW_DATABASE_NAME", "inboxflow.db")
	t.Setenv("INBOXFLOW_ORACLE_TIMEOUT", "10s")
	t.Setenv("INBOXFLOW_TELEMETRY_ENABLED", "true")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.HTTPPort)
	assert.Equal(t, "database", cfg.Storage.Backend)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 10*time.Second, cfg.Oracle.Timeout)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "etcd" }},
		{"unknown driver", func(c *Config) {
			c.Storage.Backend = "database"
			c.Database.Driver = "oracle"
		}},
		{"zero max turns", func(c *Config) { c.Engine.MaxTurns = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	d := DefaultDatabaseConfig()
	assert.Contains(t, d.DSN(), "host=localhost")
	assert.Contains(t, d.DSN(), "dbname=inboxflow")

	d.Driver = "sqlite"
	d.Name = "/var/lib/inboxflow.db"
	assert.Equal(t, "/var/lib/inboxflow.db", d.DSN())

	d.Driver = "bogus"
	assert.Empty(t, d.DSN())
}
