package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/models"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/repository"
)

func TestSessionLifecyclePresenceTransitions(t *testing.T) {
	f := newRouterFixture(RouterConfig{})
	l := NewSessionLifecycle(f.presence, f.router, repository.NewMemoryCounter(), testLogger)
	ctx := context.Background()

	require.NoError(t, l.OnConnect(ctx, "u1", "s1"))
	require.NoError(t, l.OnConnect(ctx, "u1", "s2"))
	require.NoError(t, l.OnDisconnect(ctx, "u1", "s1"))

	online, _ := f.presence.IsOnline(ctx, "u1")
	assert.True(t, online)
	require.Len(t, f.transport.broadcasts, 1, "only the first session announces")

	require.NoError(t, l.OnDisconnect(ctx, "u1", "s2"))
	online, _ = f.presence.IsOnline(ctx, "u1")
	assert.False(t, online)
	require.Len(t, f.transport.broadcasts, 2)
	assert.False(t, f.transport.broadcasts[1].Presence.Online)
}

func TestSessionLifecycleDrainsOnConnect(t *testing.T) {
	f := newRouterFixture(RouterConfig{})
	counter := repository.NewMemoryCounter()
	l := NewSessionLifecycle(f.presence, f.router, counter, testLogger)
	ctx := context.Background()

	require.NoError(t, f.router.Route(ctx, "u1", event("e1")))
	_, _ = counter.IncrUnread(ctx, "u1")

	require.NoError(t, l.OnConnect(ctx, "u1", "s1"))
	assert.Len(t, f.transport.envelopes("s1", models.EnvelopeNotification), 1)
	counts := f.transport.envelopes("s1", models.EnvelopeUnreadCountUpdate)
	require.Len(t, counts, 1)
	assert.Equal(t, int64(1), *counts[0].UnreadCount)

	require.NoError(t, l.MarkRead(ctx, "u1"))
	counts = f.transport.envelopes("s1", models.EnvelopeUnreadCountUpdate)
	require.Len(t, counts, 2)
	assert.Zero(t, *counts[1].UnreadCount)
	unread, _ := counter.Unread(ctx, "u1")
	assert.Zero(t, unread)
}

// gatedQueue holds the first Enqueue until release is closed.
type gatedQueue struct {
	*repository.MemoryQueue
	entered chan struct{}
	release chan struct{}
}

func (q *gatedQueue) Enqueue(ctx context.Context, ev models.NotificationEvent) error {
	close(q.entered)
	<-q.release
	return q.MemoryQueue.Enqueue(ctx, ev)
}

func TestConnectDuringOfflineEnqueueDeliversEvent(t *testing.T) {
	presence := repository.NewMemoryPresence()
	queue := &gatedQueue{MemoryQueue: repository.NewMemoryQueue(0), entered: make(chan struct{}), release: make(chan struct{})}
	transport := newFakeTransport()
	router := NewDeliveryRouter(presence, queue, transport, transport, nil, nil, testLogger, RouterConfig{PushTimeout: time.Second})
	l := NewSessionLifecycle(presence, router, nil, testLogger)
	ctx := context.Background()

	routed := make(chan error, 1)
	go func() { routed <- router.Route(ctx, "u1", event("e1")) }()
	<-queue.entered

	connected := make(chan error, 1)
	go func() { connected <- l.OnConnect(ctx, "u1", "s1") }()
	time.Sleep(20 * time.Millisecond)
	close(queue.release)

	require.NoError(t, <-routed)
	require.NoError(t, <-connected)

	online, err := presence.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, online)
	assert.Empty(t, queuedIDs(t, queue.MemoryQueue, "u1"), "nothing stranded in the backlog")
	assert.Len(t, transport.envelopes("s1", models.EnvelopeNotification), 1)
}

// gatedTransport holds the first push until release is closed.
type gatedTransport struct {
	*fakeTransport
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedTransport) PushToSession(ctx context.Context, sessionID string, env models.DeliveryEnvelope) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.fakeTransport.PushToSession(ctx, sessionID, env)
}

func TestLiveEventWaitsForBacklogDrain(t *testing.T) {
	presence := repository.NewMemoryPresence()
	queue := repository.NewMemoryQueue(0)
	transport := &gatedTransport{fakeTransport: newFakeTransport(), entered: make(chan struct{}), release: make(chan struct{})}
	router := NewDeliveryRouter(presence, queue, transport, transport, nil, nil, testLogger, RouterConfig{PushTimeout: time.Second, DrainBatchSize: 1})
	l := NewSessionLifecycle(presence, router, nil, testLogger)
	ctx := context.Background()

	require.NoError(t, router.Route(ctx, "u1", event("e1")))
	require.NoError(t, router.Route(ctx, "u1", event("e2")))

	connected := make(chan error, 1)
	go func() { connected <- l.OnConnect(ctx, "u1", "s1") }()
	<-transport.entered

	routed := make(chan error, 1)
	go func() { routed <- router.Route(ctx, "u1", event("e3")) }()
	time.Sleep(20 * time.Millisecond)
	close(transport.release)

	require.NoError(t, <-connected)
	require.NoError(t, <-routed)

	var got []string
	for _, env := range transport.envelopes("s1", models.EnvelopeNotification) {
		got = append(got, env.Notification.ID)
	}
	assert.Equal(t, []string{"e1", "e2", "e3"}, got, "backlog first, then the live event")
	assert.Empty(t, queuedIDs(t, queue, "u1"))
}
