package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warden.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "normal", cfg.Enforcement.Strictness)
	assert.True(t, cfg.Fetchers.Names.Internal)
	assert.False(t, cfg.Fetchers.Geo.IPStack.Enabled)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: pgx
  dsn: postgres://localhost/warden
  min_connections: 2
  max_connections: 8
fetchers:
  timeout: 2s
  names:
    internal: false
  geo:
    ipstack:
      enabled: true
      key: secret
enforcement:
  strictness: strict
  mute_commands: [msg, tell]
`)
	t.Setenv("WARDEN_ENFORCEMENT_STRICTNESS", "lenient")
	t.Setenv("WARDEN_STORAGE_MAX_CONNECTIONS", "12")
	t.Setenv("WARDEN_EVENTS_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "pgx", cfg.Storage.Driver)
	assert.Equal(t, 2, cfg.Storage.MinConnections)
	assert.Equal(t, 12, cfg.Storage.MaxConnections)
	assert.Equal(t, 2*time.Second, cfg.Fetchers.Timeout)
	assert.False(t, cfg.Fetchers.Names.Internal)
	assert.True(t, cfg.Fetchers.Names.Mojang, "unset keys keep defaults")
	assert.Equal(t, "secret", cfg.Fetchers.Geo.IPStack.Key)
	assert.Equal(t, "lenient", cfg.Enforcement.Strictness)
	assert.Equal(t, []string{"msg", "tell"}, cfg.Enforcement.MuteCommands)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.Kafka.Brokers)
}

func TestValidate(t *testing.T) {
	t.Run("min above max", func(t *testing.T) {
		cfg := Default()
		cfg.Storage.MinConnections = 10
		cfg.Storage.MaxConnections = 2
		assert.ErrorContains(t, cfg.Validate(), "exceeds")
	})

	t.Run("unknown strictness", func(t *testing.T) {
		cfg := Default()
		cfg.Enforcement.Strictness = "paranoid"
		assert.ErrorContains(t, cfg.Validate(), "enforcement.strictness")
	})

	t.Run("ipstack without key", func(t *testing.T) {
		cfg := Default()
		cfg.Fetchers.Geo.IPStack.Enabled = true
		assert.ErrorContains(t, cfg.Validate(), "ipstack.key")
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := Default()
		cfg.Storage.Driver = "oracle"
		assert.ErrorContains(t, cfg.Validate(), "storage.driver")
	})
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.ErrorContains(t, err, "read config")
}
