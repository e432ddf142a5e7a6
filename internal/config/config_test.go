package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	t.Setenv("NETWATCH_POLL_INTERVAL", "")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 5, cfg.ResolveRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.ResolveRetryDelay)
	assert.Equal(t, "--iface", cfg.WorkerIfaceFlag)
	assert.Empty(t, cfg.UpstreamGRPCAddr)
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poll_interval: 7s\ninterpreter: /opt/py/python\nresolve_retries: 2\nlog_json: true\n"), 0o600))
	t.Setenv(ConfigFileEnv, path)
	t.Setenv("NETWATCH_POLL_INTERVAL", "9s")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 9*time.Second, cfg.PollInterval, "env wins over file")
	assert.Equal(t, "/opt/py/python", cfg.Interpreter)
	assert.Equal(t, 2, cfg.ResolveRetries)
	assert.True(t, cfg.LogJSON)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv(ConfigFileEnv, filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	base, err := Load()
	require.NoError(t, err)

	bad := base
	bad.PollInterval = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.LogLevel = "verbose"
	assert.Error(t, bad.Validate())

	bad = base
	bad.ResolveRetries = -1
	assert.Error(t, bad.Validate())
}

func TestTLSConfig_Disabled(t *testing.T) {
	cfg := Config{}
	tlsCfg, err := cfg.TLSConfig()
	require.NoError(t, err)
	assert.Nil(t, tlsCfg)
}

func TestLoad_AllowedOrigins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("allowed_origins:\n  - http://localhost:5173\n  - tauri://localhost\n"), 0o600))
	t.Setenv(ConfigFileEnv, path)
	t.Setenv("NETWATCH_ALLOWED_ORIGINS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:5173", "tauri://localhost"}, cfg.AllowedOrigins)

	t.Setenv("NETWATCH_ALLOWED_ORIGINS", " https://ui.local , ,http://127.0.0.1:3000")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://ui.local", "http://127.0.0.1:3000"}, cfg.AllowedOrigins)
}
