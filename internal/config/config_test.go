package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("REOPEN_WINDOW_DAYS", "")
	t.Setenv("AUTO_CLOSE_SCHEDULE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Postgres.DSN)
	assert.Equal(t, 7*24*time.Hour, cfg.Workflow.ReopenWindow())
	assert.Equal(t, 7*24*time.Hour, cfg.Workflow.AutoCloseAfter())
	assert.Equal(t, "0 * * * *", cfg.Workflow.AutoCloseSchedule)
	assert.Equal(t, 2*time.Second, cfg.Workflow.LockWait())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REOPEN_WINDOW_DAYS", "3")
	t.Setenv("AUTO_ASSIGN_ENABLED", "true")
	t.Setenv("OUTBOX_BATCH_SIZE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3*24*time.Hour, cfg.Workflow.ReopenWindow())
	assert.True(t, cfg.Workflow.AutoAssignEnabled)
	assert.Equal(t, 50, cfg.Outbox.BatchSize)
}

func TestValidateRejectsBadSchedule(t *testing.T) {
	t.Setenv("AUTO_CLOSE_SCHEDULE", "every tuesday")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTO_CLOSE_SCHEDULE")
}

func TestValidateRejectsNonPositiveWindow(t *testing.T) {
	t.Setenv("AUTO_CLOSE_AFTER_DAYS", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTO_CLOSE_AFTER_DAYS")
}
