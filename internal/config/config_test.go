package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("IDEMPOTENCY_TABLE", "idempotency")
	t.Setenv("USERS_TABLE", "users")
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 48*time.Hour, cfg.RecordTTL)
	assert.Equal(t, 15*time.Minute, cfg.InProgressLease)
	assert.Equal(t, 5*time.Second, cfg.CaptureTimeout)
	assert.Equal(t, "TaskBundle/Idempotency", cfg.MetricsNamespace)
	assert.False(t, cfg.RunLocal)
}

func TestLoadMissingTables(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("IDEMPOTENCY_TABLE", "")
	t.Setenv("USERS_TABLE", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IDEMPOTENCY_TABLE required")
	assert.Contains(t, err.Error(), "USERS_TABLE required")
}

func TestLoadInvalidDuration(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequired(t)
	t.Setenv("IDEMPOTENCY_RECORD_TTL", "two days")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IDEMPOTENCY_RECORD_TTL")
}

func TestLoadLeaseMustBeShorterThanTTL(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequired(t)
	t.Setenv("IDEMPOTENCY_RECORD_TTL", "1h")
	t.Setenv("IDEMPOTENCY_IN_PROGRESS_LEASE", "2h")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadEnvironmentFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "environments"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "environments", "staging.env"),
		[]byte("USERS_TABLE=users-staging\nRUN_LOCAL=true\n"), 0o644))
	t.Chdir(dir)

	t.Setenv("APP_ENV", "staging")
	t.Setenv("IDEMPOTENCY_TABLE", "idempotency")
	t.Setenv("USERS_TABLE", "")
	t.Setenv("RUN_LOCAL", "")
	// godotenv does not override variables that are already present, even when empty,
	// so unset them for the file to apply.
	require.NoError(t, os.Unsetenv("USERS_TABLE"))
	require.NoError(t, os.Unsetenv("RUN_LOCAL"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "users-staging", cfg.UsersTable)
	assert.True(t, cfg.RunLocal)
}

func TestLoadEmptyMetricsNamespaceDisables(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequired(t)
	t.Setenv("METRICS_NAMESPACE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.MetricsNamespace)
}
