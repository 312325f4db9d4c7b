package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
database:
  host: localhost
  user: notifier
  password: ${TEST_DB_PASSWORD}
  dbname: notifier
catalog:
  client_id: id
  client_secret: secret
job:
  cron_secret: ${TEST_CRON_SECRET}
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "s3cret")
	t.Setenv("TEST_CRON_SECRET", "cron")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, "cron", cfg.Job.CronSecret)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "check-new-releases", cfg.Job.Name)
	assert.Equal(t, 30, cfg.Job.UsersPerBatch)
	assert.Equal(t, 45*time.Second, cfg.Job.MaxExecutionTime)
	assert.Equal(t, 6*time.Hour, cfg.Job.ReleaseWindow)
	assert.Equal(t, 200*time.Millisecond, cfg.Job.RequestDelay)
	assert.Equal(t, 90*time.Second, cfg.Job.StaleAfter)
	assert.Equal(t, 60*time.Second, cfg.Catalog.TokenMargin)
	assert.Equal(t, 24, cfg.Catalog.LookbackMonths)
	assert.Equal(t, "https://accounts.spotify.com/api/token", cfg.Catalog.TokenURL)
	assert.True(t, cfg.Job.OverlapGuardEnabled())
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_ParsesDurationsAndGuard(t *testing.T) {
	t.Setenv("TEST_CRON_SECRET", "cron")

	cfg, err := Load(writeConfig(t, minimalYAML+`
  max_execution_time: 20s
  release_window: 3h
  guard_overlap: false
log_level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, 20*time.Second, cfg.Job.MaxExecutionTime)
	assert.Equal(t, 40*time.Second, cfg.Job.StaleAfter)
	assert.Equal(t, 3*time.Hour, cfg.Job.ReleaseWindow)
	assert.False(t, cfg.Job.OverlapGuardEnabled())
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_MissingCronSecret(t *testing.T) {
	t.Setenv("TEST_CRON_SECRET", "")

	_, err := Load(writeConfig(t, minimalYAML))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CronSecret")
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	t.Setenv("TEST_CRON_SECRET", "cron")

	_, err := Load(writeConfig(t, minimalYAML+"log_level: verbose\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LogLevel")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("NOTIFIER_DATABASE_HOST", "db.internal")
	t.Setenv("NOTIFIER_DATABASE_USER", "notifier")
	t.Setenv("NOTIFIER_DATABASE_DB_NAME", "notifier")
	t.Setenv("NOTIFIER_CATALOG_CLIENT_ID", "id")
	t.Setenv("NOTIFIER_CATALOG_CLIENT_SECRET", "secret")
	t.Setenv("NOTIFIER_JOB_CRON_SECRET", "cron")
	t.Setenv("NOTIFIER_JOB_USERS_PER_BATCH", "10")
	t.Setenv("NOTIFIER_JOB_MAX_EXECUTION_TIME", "25s")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 10, cfg.Job.UsersPerBatch)
	assert.Equal(t, 25*time.Second, cfg.Job.MaxExecutionTime)
	assert.Equal(t, "cron", cfg.Job.CronSecret)
	assert.Equal(t, "host=db.internal port=5432 user=notifier password= dbname=notifier sslmode=disable", cfg.Database.DSN())
}
