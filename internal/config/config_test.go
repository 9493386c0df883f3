package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	// Ensure no env vars interfere
	t.Setenv("TOUCHDB_HOST", "")
	t.Setenv("TOUCHDB_PORT", "")
	t.Setenv("NATS_URL", "")

	cfg := LoadConfig()

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 5984, cfg.Server.Port)
	assert.Equal(t, "cel", cfg.Views.Language)
	assert.Equal(t, 100, cfg.Replication.BatchSize)
	assert.Equal(t, "nats://localhost:4222", cfg.Events.NatsURL)
	assert.False(t, cfg.Events.Enabled)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
}

func TestLoadConfig_EnvVars(t *testing.T) {
	t.Setenv("TOUCHDB_HOST", "0.0.0.0")
	t.Setenv("TOUCHDB_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("NATS_URL", "nats://test:4222")
	t.Setenv("TOUCHDB_AUTH_ENABLED", "true")
	t.Setenv("TOUCHDB_PRIVATE_KEY_FILE", "/tmp/key.pem")
	t.Setenv("VIEW_LANGUAGE", "other")

	cfg := LoadConfig()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "nats://test:4222", cfg.Events.NatsURL)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "/tmp/key.pem", cfg.Auth.PrivateKeyFile)
	assert.Equal(t, "other", cfg.Views.Language)
}

func TestLoadConfig_InvalidEnvIgnored(t *testing.T) {
	t.Setenv("TOUCHDB_PORT", "not-a-port")
	t.Setenv("TOUCHDB_AUTH_ENABLED", "maybe")

	cfg := LoadConfig()

	assert.Equal(t, 5984, cfg.Server.Port)
	assert.False(t, cfg.Auth.Enabled)
}

func TestLoadConfig_FileOverride(t *testing.T) {
	// Create config directory
	err := os.Mkdir("config", 0755)
	require.NoError(t, err)
	defer os.RemoveAll("config")

	configContent := []byte(`
server:
  port: 7070
  shutdown_timeout: 3s
replication:
  batch_size: 25
events:
  enabled: true
  subject_prefix: "couch"
`)
	err = os.WriteFile("config/config.yml", configContent, 0644)
	require.NoError(t, err)

	cfg := LoadConfig()

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 25, cfg.Replication.BatchSize)
	assert.True(t, cfg.Events.Enabled)
	assert.Equal(t, "couch", cfg.Events.SubjectPrefix)
}

func TestLoadConfig_LocalFileOverride(t *testing.T) {
	err := os.Mkdir("config", 0755)
	require.NoError(t, err)
	defer os.RemoveAll("config")

	err = os.WriteFile("config/config.yml", []byte(`
server:
  host: "filehost"
  port: 7070
`), 0644)
	require.NoError(t, err)

	err = os.WriteFile("config/config.local.yml", []byte(`
server:
  host: "localhost2"
`), 0644)
	require.NoError(t, err)

	cfg := LoadConfig()

	assert.Equal(t, "localhost2", cfg.Server.Host) // Overridden
	assert.Equal(t, 7070, cfg.Server.Port)         // Inherited from config.yml
}

func TestLoadConfig_EnvOverrideFile(t *testing.T) {
	err := os.Mkdir("config", 0755)
	require.NoError(t, err)
	defer os.RemoveAll("config")

	err = os.WriteFile("config/config.yml", []byte(`
events:
  nats_url: "nats://file:4222"
`), 0644)
	require.NoError(t, err)

	t.Setenv("NATS_URL", "nats://env:4222")

	cfg := LoadConfig()

	assert.Equal(t, "nats://env:4222", cfg.Events.NatsURL)
}

func TestLoadConfig_MalformedFileKeepsDefaults(t *testing.T) {
	err := os.Mkdir("config", 0755)
	require.NoError(t, err)
	defer os.RemoveAll("config")

	require.NoError(t, os.WriteFile("config/config.yml", []byte("server: [unterminated"), 0644))

	cfg := LoadConfig()

	assert.Equal(t, 5984, cfg.Server.Port)
}
