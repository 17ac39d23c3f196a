package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "muxcache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfigsAreValid(t *testing.T) {
	require.NoError(t, DefaultClientConfig().Validate())
	require.NoError(t, DefaultServerConfig().Validate())
	assert.Equal(t, "0.0.0.0:8080", DefaultServerConfig().Address())
}

func TestLoadClientConfigFromFileAndEnv(t *testing.T) {
	t.Setenv("CACHE_HOST", "cache.internal")
	path := writeFile(t, `
address: ${CACHE_HOST}:9000
request_timeout: 750ms
queue_size: 64
id_scheme: ksuid
log:
  level: debug
  format: json
`)
	t.Setenv("CACHEMIR_QUEUE_SIZE", "128")

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "cache.internal:9000", cfg.Address)
	assert.Equal(t, 750*time.Millisecond, cfg.RequestTimeout)
	assert.Equal(t, 128, cfg.QueueSize, "environment overrides the file")
	assert.Equal(t, IDSchemeKSUID, cfg.IDScheme)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, DefaultDialTimeout, cfg.DialTimeout, "unset values keep defaults")
}

func TestLoadClientConfigWithoutFile(t *testing.T) {
	t.Setenv("CACHEMIR_ADDRESS", "10.0.0.5:7000")
	t.Setenv("CACHEMIR_REQUEST_TIMEOUT", "2s")

	cfg, err := LoadClientConfig("")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:7000", cfg.Address)
	assert.Equal(t, 2*time.Second, cfg.RequestTimeout)
}

func TestLoadClientConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
	}{
		{name: "missing port", file: "address: localhost\n"},
		{name: "bad scheme", file: "id_scheme: snowflake\n"},
		{name: "zero queue", file: "queue_size: 0\n"},
		{name: "bad yaml", file: "address: [\n"},
		{name: "bad log level", file: "log:\n  level: chatty\n  format: console\n"},
		{name: "bad env duration", env: map[string]string{"CACHEMIR_DIAL_TIMEOUT": "soon"}},
		{name: "bad env int", env: map[string]string{"CACHEMIR_QUEUE_SIZE": "many"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = writeFile(t, tt.file)
			}
			_, err := LoadClientConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadClientConfigMissingFile(t *testing.T) {
	_, err := LoadClientConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadServerConfig(t *testing.T) {
	path := writeFile(t, `
host: 127.0.0.1
port: 7070
clean_interval: 30s
metrics_addr: 127.0.0.1:9100
`)
	t.Setenv("CACHEMIR_PORT", "7071")

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7071", cfg.Address())
	assert.Equal(t, 30*time.Second, cfg.CleanInterval)
	assert.Equal(t, "127.0.0.1:9100", cfg.MetricsAddr)
}

func TestServerConfigValidate(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg = DefaultServerConfig()
	cfg.Shards = 0
	assert.Error(t, cfg.Validate())
}
