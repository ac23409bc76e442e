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
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.BusDriver)
	assert.Equal(t, "memory", cfg.QueueDriver)
	assert.Equal(t, 24*time.Hour, cfg.OverdueLookback)
	assert.Equal(t, "@hourly", cfg.ReminderScanCron)
	assert.True(t, cfg.MentionStrict)
}

func TestLoadRequiresDriverSettings(t *testing.T) {
	t.Setenv("BUS_DRIVER", "amqp")
	t.Setenv("STORE_DRIVER", "redis")
	t.Setenv("QUEUE_DRIVER", "postgres")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RABBITMQ_URL")
	assert.Contains(t, err.Error(), "REDIS_URL")
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("QUEUE_DRIVER", "cassandra")
	_, err := Load()
	assert.ErrorContains(t, err, "QUEUE_DRIVER")
}

func TestTypedHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("WORKER_COUNT", "many")
	t.Setenv("MENTION_STRICT", "sometimes")
	t.Setenv("DRAIN_RATE_PER_SEC", "12.5")
	t.Setenv("PUSH_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.True(t, cfg.MentionStrict)
	assert.Equal(t, 12.5, cfg.DrainRatePerSec)
	assert.Equal(t, 2*time.Second, cfg.PushTimeout)
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifyd.env")
	require.NoError(t, os.WriteFile(path, []byte("QUEUE_DRIVER=sqlite\nSQLITE_PATH=/tmp/q.db\nMENTION_HANDLES=bob=u-2\n"), 0o600))
	// godotenv never overrides variables already present in the environment.
	t.Setenv("QUEUE_DRIVER", "sqlite")
	t.Cleanup(func() {
		os.Unsetenv("SQLITE_PATH")
		os.Unsetenv("MENTION_HANDLES")
	})

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/q.db", cfg.QueueDSN())
	assert.Equal(t, "bob=u-2", cfg.MentionHandles)

	_, err = LoadFrom(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
