package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/bus"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/config"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/models"
	"github.com/cuonglevan23/taskflow-backend-sub002/pkg/logger"
)

func memoryConfig() *config.Config {
	return &config.Config{
		BusDriver:           "memory",
		BusPartitions:       2,
		BusBuffer:           16,
		RedeliveryDelay:     time.Millisecond,
		StoreDriver:         "memory",
		QueueDriver:         "memory",
		MentionStrict:       true,
		MentionPreviewChars: 40,
	}
}

func TestOpenMemoryDrivers(t *testing.T) {
	cfg := memoryConfig()
	log := logger.Discard()

	b, err := openBus(cfg, log)
	require.NoError(t, err)
	defer b.Close()
	assert.IsType(t, &bus.MemoryBus{}, b)

	stores, err := openStores(cfg)
	require.NoError(t, err)
	assert.NoError(t, stores.close())

	queue, err := openQueue(cfg, log)
	require.NoError(t, err)
	assert.Nil(t, queue.status)

	tasks, err := openTasks(cfg)
	require.NoError(t, err)
	assert.Nil(t, tasks)
}

func TestOpenRedisStores(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.StoreDriver = "redis"
	cfg.RedisURL = "redis://" + mr.Addr()
	cfg.PresenceTTL = time.Minute

	stores, err := openStores(cfg)
	require.NoError(t, err)
	defer stores.close()

	first, err := stores.presence.AddSession(context.Background(), "u1", "s1")
	require.NoError(t, err)
	assert.True(t, first)
	assert.True(t, mr.Exists("presence:u1"))
}

func TestOpenSQLiteQueue(t *testing.T) {
	cfg := memoryConfig()
	cfg.QueueDriver = "sqlite"
	cfg.SQLitePath = filepath.Join(t.TempDir(), "queue.db")

	queue, err := openQueue(cfg, logger.Discard())
	require.NoError(t, err)
	defer queue.close()
	require.NotNil(t, queue.status)

	ctx := context.Background()
	ev := models.NotificationEvent{ID: "e1", UserID: "u1", Title: "Task assigned", Type: models.TypeGeneric, CreatedAt: time.Now().UTC()}
	require.NoError(t, queue.queue.Enqueue(ctx, ev))
	entries, err := queue.queue.Peek(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e1", entries[0].Event.ID)
}

func TestMentionNotifierRejectsBadHandles(t *testing.T) {
	cfg := memoryConfig()
	cfg.MentionHandles = "bob=u-2,broken"
	_, err := newMentionNotifier(cfg, bus.NewMemoryBus(1, 1, time.Millisecond), nil, logger.Discard())
	assert.ErrorContains(t, err, "MENTION_HANDLES")
}
