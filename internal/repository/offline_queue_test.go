package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/models"
)

// newTestDB opens a private in-memory sqlite database.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenDatabase("sqlite", ":memory:")
	require.NoError(t, err, "opening test database")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func testEvent(id, userID string) models.NotificationEvent {
	return models.NotificationEvent{
		ID:        id,
		UserID:    userID,
		Title:     "title " + id,
		Content:   "body",
		Type:      models.TypeGeneric,
		Reference: &models.Reference{EntityID: "t1", EntityType: "TASK"},
		Metadata:  map[string]interface{}{"k": "v"},
		CreatedAt: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
		Priority:  2,
	}
}

func TestOfflineQueueFIFO(t *testing.T) {
	q, err := NewOfflineQueue(newTestDB(t), "", 0, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, q.Enqueue(ctx, testEvent(id, "u1")))
	}
	require.NoError(t, q.Enqueue(ctx, testEvent("x1", "u2")))

	entries, err := q.Peek(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2", "e3"}, queuedIDs(entries))
	assert.Equal(t, "title e1", entries[0].Event.Title)
	assert.Equal(t, "TASK", entries[0].Event.Reference.EntityType)
	assert.Equal(t, "v", entries[0].Event.Metadata["k"])

	entries, err = q.Peek(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	n, err := q.Len(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOfflineQueueEnqueueIsIdempotent(t *testing.T) {
	q, err := NewOfflineQueue(newTestDB(t), "", 0, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testEvent("e1", "u1")))
	require.NoError(t, q.Enqueue(ctx, testEvent("e1", "u1")))

	n, err := q.Len(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "redelivered event must appear once")
}

func TestOfflineQueueRemove(t *testing.T) {
	q, err := NewOfflineQueue(newTestDB(t), "", 0, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, q.Enqueue(ctx, testEvent(id, "u1")))
	}
	entries, _ := q.Peek(ctx, "u1", 2)
	require.NoError(t, q.Remove(ctx, "u1", []uint64{entries[0].Seq, entries[1].Seq}))

	entries, err = q.Peek(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"e3"}, queuedIDs(entries))
	assert.NoError(t, q.Remove(ctx, "u1", nil))
}

func TestOfflineQueueTrimsOldest(t *testing.T) {
	q, err := NewOfflineQueue(newTestDB(t), "bounded_queue", 2, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"e1", "e2", "e3", "e4"} {
		require.NoError(t, q.Enqueue(ctx, testEvent(id, "u1")))
	}
	entries, err := q.Peek(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"e3", "e4"}, queuedIDs(entries))
}

func TestOfflineQueueDropsUndecodableRows(t *testing.T) {
	db := newTestDB(t)
	q, err := NewOfflineQueue(db, "", 0, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testEvent("e1", "u1")))
	bad := OfflineEntry{UserID: "u1", EventID: "garbled", Payload: datatypes.JSON(`[1,2]`), CreatedAt: time.Now().UTC()}
	require.NoError(t, db.Table("offline_notifications").Create(&bad).Error)
	require.NoError(t, q.Enqueue(ctx, testEvent("e2", "u1")))
	require.NoError(t, q.Enqueue(ctx, testEvent("e3", "u1")))

	entries, err := q.Peek(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2"}, queuedIDs(entries), "a full page despite the bad row")

	n, err := q.Len(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "the undecodable row is gone")
}

func TestStatusStoreUpsert(t *testing.T) {
	s, err := NewStatusStore(newTestDB(t), "")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.UpdateStatus(ctx, "e1", "u1", models.OutcomeQueuedOffline, ""))
	require.NoError(t, s.UpdateStatus(ctx, "e1", "u1", models.OutcomeDrained, "reconnect"))

	ds, err := s.Get(ctx, "e1", "u1")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDrained, ds.Status)
	assert.Equal(t, "reconnect", ds.Detail)

	_, err = s.Get(ctx, "e1", "u2")
	assert.ErrorIs(t, err, ErrNotFound)
}
