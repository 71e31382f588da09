package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, BackendFile, cfg.Backend)
	assert.Equal(t, ".agentic/analytics/events.jsonl", cfg.File.OutputPath)
	assert.Equal(t, 3, cfg.HTTP.MaxRetries)
	assert.Equal(t, 100, cfg.SQL.UseCopyThreshold)
}

func TestLoadMergesYAMLOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aef.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: http
http:
  base_url: https://events.example.com
  max_retries: 7
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendHTTP, cfg.Backend)
	assert.Equal(t, "https://events.example.com", cfg.HTTP.BaseURL)
	assert.Equal(t, 7, cfg.HTTP.MaxRetries)
	// Untouched defaults survive the merge.
	assert.Equal(t, 30.0, cfg.HTTP.RetryMaxDelay)
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aef.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: sql
sql:
  database_url: ${TEST_AEF_DATABASE_URL}
`), 0o644))

	require.NoError(t, os.Setenv("TEST_AEF_DATABASE_URL", "postgres://localhost/aef"))
	defer os.Unsetenv("TEST_AEF_DATABASE_URL")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/aef", cfg.SQL.DatabaseURL)
}

func TestEnvEventsPathOverridesOutputPath(t *testing.T) {
	require.NoError(t, os.Setenv(EnvEventsPath, "/tmp/override.jsonl"))
	defer os.Unsetenv(EnvEventsPath)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.jsonl", cfg.File.OutputPath)
}

func TestValidateRejectsHTTPBackendWithoutBaseURL(t *testing.T) {
	cfg := Defaults()
	cfg.Backend = BackendHTTP
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
}

func TestValidateRejectsSQLBackendWithoutDatabaseURL(t *testing.T) {
	cfg := Defaults()
	cfg.Backend = BackendSQL
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database_url")
}
