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

	assert.Equal(t, "127.0.0.1:7787", cfg.Daemon.Listen)
	assert.Equal(t, 30, cfg.Daemon.HeartbeatIntervalSeconds)
	assert.Equal(t, 60, cfg.Daemon.BrowserCheckIntervalSeconds)
	assert.Contains(t, cfg.Daemon.BrowserProcesses, "chrome")
	assert.Equal(t, "~/.local/share/tabmon", cfg.Storage.DataDir)
	assert.Equal(t, "sessions.db", cfg.Storage.File)
	assert.True(t, cfg.Storage.Encrypt)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "tabmon.log", cfg.Logging.File)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, 2, cfg.Client.Retries)
	assert.Equal(t, 200*time.Millisecond, cfg.RetryDelay())
	assert.Equal(t, 5*time.Second, cfg.ClientTimeout())
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, time.Minute, cfg.BrowserCheckInterval())
	assert.NoError(t, cfg.Validate())
}

func TestLoadValidYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
daemon:
  listen: "127.0.0.1:9999"
  browser_processes: ["firefox"]
storage:
  encrypt: false
logging:
  level: "debug"
client:
  retries: 5
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(yamlContent), 0644))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	// Overridden values
	assert.Equal(t, "127.0.0.1:9999", cfg.Daemon.Listen)
	assert.Equal(t, []string{"firefox"}, cfg.Daemon.BrowserProcesses)
	assert.False(t, cfg.Storage.Encrypt)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5, cfg.Client.Retries)

	// Defaults preserved
	assert.Equal(t, 30, cfg.Daemon.HeartbeatIntervalSeconds)
	assert.Equal(t, "sessions.db", cfg.Storage.File)
	assert.Equal(t, 200, cfg.Client.RetryDelayMs)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"invalid yaml", "daemon: [unclosed", "parsing config file"},
		{"bad listen address", "daemon:\n  listen: \"nocolon\"\n", "daemon.listen"},
		{"zero heartbeat", "daemon:\n  heartbeat_interval_seconds: 0\n", "heartbeat_interval_seconds"},
		{"metrics without endpoint", "metrics:\n  enabled: true\n  endpoint: \"\"\n", "metrics.endpoint"},
		{"negative retries", "client:\n  retries: -1\n", "must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadOrCreateAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := LoadOrCreateAt(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config should be written")

	// Second call reads the written file
	again, err := LoadOrCreateAt(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		in   string
		want string
	}{
		{"~/data", filepath.Join(home, "data")},
		{"~", home},
		{"/abs/path", "/abs/path"},
		{"relative", "relative"},
		{"~user/x", "~user/x"},
	}
	for _, tt := range tests {
		got, err := ExpandPath(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestPaths(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.DataDir = dir

	db, err := cfg.DBPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sessions.db"), db)

	logPath, err := cfg.LogPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tabmon.log"), logPath)

	cfg.Logging.File = "/var/log/tabmon.log"
	logPath, err = cfg.LogPath()
	require.NoError(t, err)
	assert.Equal(t, "/var/log/tabmon.log", logPath)

	cfg.Logging.File = ""
	logPath, err = cfg.LogPath()
	require.NoError(t, err)
	assert.Empty(t, logPath)
}
