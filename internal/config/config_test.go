package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.WorkspaceRoot)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "auto", cfg.Log.Format)
	assert.Equal(t, 90*time.Second, cfg.SubAgent.AttemptTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.SubAgent.RetryBackoff)
	assert.Equal(t, 300*time.Second, cfg.Approval.Timeout)
	assert.Equal(t, filepath.Join(cfg.WorkspaceRoot, ".orchestrix", "state.db"), cfg.StateDBPath)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
workspace_root: `+dir+`
log:
  level: debug
  format: json
sub_agent:
  attempt_timeout: 30s
http:
  listen: 127.0.0.1:9999
`), 0o640))

	cfg, err := NewLoader().WithConfigFile(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.WorkspaceRoot)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 30*time.Second, cfg.SubAgent.AttemptTimeout)
	assert.Equal(t, "127.0.0.1:9999", cfg.HTTP.Listen)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ORCHESTRIX_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := &Config{WorkspaceRoot: "/tmp"}
	cfg.Log.Level = "verbose"
	cfg.SubAgent.AttemptTimeout = 5 * time.Second
	assert.Error(t, cfg.Validate())

	cfg.Log.Level = "info"
	cfg.SubAgent.AttemptTimeout = 500 * time.Millisecond
	assert.Error(t, cfg.Validate())

	cfg.SubAgent.AttemptTimeout = 2 * time.Second
	assert.NoError(t, cfg.Validate())
}
