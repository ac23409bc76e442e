package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/models"
)

type lifecycleEvent struct {
	kind      string
	userID    string
	sessionID string
}

type fakeLifecycle struct {
	mu     sync.Mutex
	events []lifecycleEvent
	conns  chan string
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{conns: make(chan string, 4)}
}

func (f *fakeLifecycle) record(kind, userID, sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, lifecycleEvent{kind: kind, userID: userID, sessionID: sessionID})
}

func (f *fakeLifecycle) OnConnect(_ context.Context, userID, sessionID string) error {
	f.record("connect", userID, sessionID)
	f.conns <- sessionID
	return nil
}

func (f *fakeLifecycle) OnDisconnect(_ context.Context, userID, sessionID string) error {
	f.record("disconnect", userID, sessionID)
	return nil
}

func (f *fakeLifecycle) OnHeartbeat(_ context.Context, userID string) {
	f.record("heartbeat", userID, "")
}

func (f *fakeLifecycle) MarkRead(_ context.Context, userID string) error {
	f.record("mark_read", userID, "")
	return nil
}

func (f *fakeLifecycle) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?platform=ios&userId=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func newTestHub(t *testing.T) (*Hub, *fakeLifecycle, *httptest.Server) {
	t.Helper()
	lc := newFakeLifecycle()
	hub := NewHub(lc, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, lc, srv
}

func waitSession(t *testing.T, lc *fakeLifecycle) string {
	t.Helper()
	select {
	case id := <-lc.conns:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("session never connected")
	}
	return ""
}

func TestPushToSession(t *testing.T) {
	hub, lc, srv := newTestHub(t)
	conn := dial(t, srv, "u1")
	defer conn.Close()
	sessionID := waitSession(t, lc)

	open := hub.Sessions("u1")
	require.Len(t, open, 1)
	assert.Equal(t, sessionID, open[0].ID)
	assert.Equal(t, "mobile", models.PlatformCategory(open[0].Platform))

	ev := models.NotificationEvent{ID: "e1", UserID: "u1", Title: "hi", Type: models.TypeGeneric}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, hub.PushToSession(ctx, sessionID, models.NewNotificationEnvelope(ev, time.Now())))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env models.DeliveryEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, models.EnvelopeNotification, env.Type)
	assert.Equal(t, "notifications-u1", env.Channel)
	assert.Equal(t, "e1", env.Notification.ID)
}

func TestPushToUnknownSession(t *testing.T) {
	hub, _, _ := newTestHub(t)
	err := hub.PushToSession(context.Background(), "nope", models.DeliveryEnvelope{})
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestBroadcastReachesEverySession(t *testing.T) {
	hub, lc, srv := newTestHub(t)
	a := dial(t, srv, "u1")
	defer a.Close()
	waitSession(t, lc)
	b := dial(t, srv, "u2")
	defer b.Close()
	waitSession(t, lc)

	require.NoError(t, hub.Broadcast(context.Background(), models.PresenceChannel, models.NewPresenceEnvelope("u3", true, time.Now())))
	for _, conn := range []*websocket.Conn{a, b} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var env models.DeliveryEnvelope
		require.NoError(t, json.Unmarshal(data, &env))
		assert.Equal(t, models.EnvelopePresenceUpdate, env.Type)
		assert.Equal(t, "u3", env.Presence.UserID)
	}
}

func TestClientMessagesAndDisconnect(t *testing.T) {
	hub, lc, srv := newTestHub(t)
	conn := dial(t, srv, "u1")
	waitSession(t, lc)
	assert.Equal(t, 1, hub.SessionCount())

	require.NoError(t, conn.WriteJSON(map[string]string{"type": ClientMarkRead}))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": ClientPing}))
	require.Eventually(t, func() bool {
		return lc.count("mark_read") == 1 && lc.count("heartbeat") == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return lc.count("disconnect") == 1 && hub.SessionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMissingUserID(t *testing.T) {
	_, _, srv := newTestHub(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if assert.NotNil(t, resp) {
		assert.Equal(t, 400, resp.StatusCode)
	}
}
