package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/bus"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/models"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/services"
)

// TestReminderReachesOnlineAndOfflineRecipients walks a reminder through
// scan, bus, consumer, router, offline queue and reconnect drain.
func TestReminderReachesOnlineAndOfflineRecipients(t *testing.T) {
	f := newFixture(nil)
	memBus := bus.NewMemoryBus(4, 64, time.Millisecond)
	defer memBus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := NewDispatcher(memBus, bus.TopicNotifications, 2, 3, testLogger, nil)
	go func() {
		_ = dispatcher.Start(ctx, NewNotificationConsumer(f.router, f.ledger, f.counter, testLogger))
	}()

	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	tasks := staticTasks{{
		ID:          "t1",
		Title:       "Ship release",
		Deadline:    now.Add(2 * time.Hour),
		CreatorID:   "u-creator",
		AssigneeIDs: []string{"u-a1", "u-a2"},
	}}
	scanner := services.NewReminderScanner(tasks, f.ledger, services.NewBusReminderSender(memBus, testLogger), 0, nil, testLogger)

	_, err := f.presence.AddSession(ctx, "u-creator", "s-creator")
	require.NoError(t, err)

	res := scanner.Scan(ctx, now)
	assert.Equal(t, 3, res.Sent)

	require.Eventually(t, func() bool {
		a1, _ := f.queue.Len(ctx, "u-a1")
		a2, _ := f.queue.Len(ctx, "u-a2")
		return a1 == 1 && a2 == 1 && len(f.pusher.notifications("s-creator")) == 1
	}, 3*time.Second, 10*time.Millisecond)

	live := f.pusher.notifications("s-creator")[0].Notification
	assert.Equal(t, "Task due in 3 hours", live.Title)
	n, _ := f.queue.Len(ctx, "u-creator")
	assert.Zero(t, n, "online creator gets no queue entry")

	lifecycle := services.NewSessionLifecycle(f.presence, f.router, f.counter, testLogger)
	require.NoError(t, lifecycle.OnConnect(ctx, "u-a1", "s-a1"))

	drained := f.pusher.notifications("s-a1")
	require.Len(t, drained, 1)
	assert.Equal(t, "u-a1", drained[0].Notification.UserID)
	a1, _ := f.queue.Len(ctx, "u-a1")
	assert.Zero(t, a1)
	a2, _ := f.queue.Len(ctx, "u-a2")
	assert.Equal(t, int64(1), a2)
}

type staticTasks []models.Task

func (s staticTasks) DueBetween(_ context.Context, from, to time.Time) ([]models.Task, error) {
	var out []models.Task
	for _, task := range s {
		if task.Deadline.After(from) && !task.Deadline.After(to) {
			out = append(out, task)
		}
	}
	return out, nil
}
