// Package gateway is the live transport: it holds client websocket sessions,
// pushes delivery envelopes to them and feeds connection events back into the
// session lifecycle.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/models"
)

var (
	ErrUnknownSession = errors.New("gateway: unknown session")
	ErrSessionClosed  = errors.New("gateway: session closed")
	ErrSessionBusy    = errors.New("gateway: session send buffer full")
)

// Lifecycle receives connection events.
type Lifecycle interface {
	OnConnect(ctx context.Context, userID, sessionID string) error
	OnDisconnect(ctx context.Context, userID, sessionID string) error
	OnHeartbeat(ctx context.Context, userID string)
	MarkRead(ctx context.Context, userID string) error
}

// Config tunes websocket sessions.
type Config struct {
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
}

func (c *Config) applyDefaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
}

// Client message types.
const (
	ClientMarkRead = "MARK_READ"
	ClientPing     = "PING"
)

type clientMessage struct {
	Type string `json:"type"`
}

// Hub tracks every open session of this node.
type Hub struct {
	lifecycle Lifecycle
	cfg       Config
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewHub(lifecycle Lifecycle, cfg Config, logger *slog.Logger) *Hub {
	cfg.applyDefaults()
	return &Hub{
		lifecycle: lifecycle,
		cfg:       cfg,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
	}
}

// SetLifecycle wires the lifecycle after construction, for callers whose
// lifecycle itself depends on the hub.
func (h *Hub) SetLifecycle(lifecycle Lifecycle) {
	h.lifecycle = lifecycle
}

type outgoing struct {
	payload []byte
	result  chan error
}

type session struct {
	models.Session
	conn *websocket.Conn
	send chan outgoing
	done chan struct{}
	once sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// PushToSession queues env on the session and waits for the write to finish.
func (h *Hub) PushToSession(ctx context.Context, sessionID string, env models.DeliveryEnvelope) error {
	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownSession
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	out := outgoing{payload: payload, result: make(chan error, 1)}
	select {
	case <-s.done:
		return ErrSessionClosed
	case s.send <- out:
	default:
		return ErrSessionBusy
	}

	select {
	case err := <-out.result:
		return err
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast queues env on every open session without waiting for the writes.
// Sessions whose buffer is full miss the envelope.
func (h *Hub) Broadcast(_ context.Context, channel string, env models.DeliveryEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		select {
		case s.send <- outgoing{payload: payload, result: make(chan error, 1)}:
		default:
			h.logger.Debug("broadcast dropped for busy session", slog.String("channel", channel), slog.String("session_id", s.ID))
		}
	}
	return nil
}

// SessionCount returns the number of open sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Sessions lists the open sessions of userID.
func (h *Hub) Sessions(userID string) []models.Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []models.Session
	for _, s := range h.sessions {
		if s.UserID == userID {
			out = append(out, s.Session)
		}
	}
	return out
}

// Close ends every open session.
func (h *Hub) Close() {
	h.mu.RLock()
	open := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		open = append(open, s)
	}
	h.mu.RUnlock()
	for _, s := range open {
		s.close()
	}
}

// ServeHTTP upgrades GET /ws?userId=<id> to a websocket session.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("user_id", userID), slog.Any("error", err))
		return
	}

	s := &session{
		Session: models.Session{
			ID:          uuid.NewString(),
			UserID:      userID,
			Platform:    r.URL.Query().Get("platform"),
			ConnectedAt: time.Now().UTC(),
		},
		conn: conn,
		send: make(chan outgoing, h.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	go h.writePump(s)

	logger := h.logger.With(
		slog.String("user_id", userID),
		slog.String("session_id", s.ID),
		slog.String("platform", models.PlatformCategory(s.Platform)),
	)
	logger.Info("session opened")

	defer func() {
		h.mu.Lock()
		delete(h.sessions, s.ID)
		h.mu.Unlock()
		s.close()
		if err := h.lifecycle.OnDisconnect(context.Background(), userID, s.ID); err != nil {
			logger.Error("disconnect handling failed", slog.Any("error", err))
		}
		logger.Info("session closed")
	}()

	if err := h.lifecycle.OnConnect(ctx, userID, s.ID); err != nil {
		logger.Error("connect handling failed", slog.Any("error", err))
		return
	}
	h.readPump(ctx, s, logger)
}

func (h *Hub) readPump(ctx context.Context, s *session, logger *slog.Logger) {
	s.conn.SetReadLimit(h.cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		h.lifecycle.OnHeartbeat(ctx, s.UserID)
		return s.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("read failed", slog.Any("error", err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("ignoring malformed client message", slog.Any("error", err))
			continue
		}
		switch msg.Type {
		case ClientMarkRead:
			if err := h.lifecycle.MarkRead(ctx, s.UserID); err != nil {
				logger.Warn("mark read failed", slog.Any("error", err))
			}
		case ClientPing:
			h.lifecycle.OnHeartbeat(ctx, s.UserID)
		default:
			logger.Debug("ignoring client message", slog.String("type", msg.Type))
		}
	}
}

func (h *Hub) writePump(s *session) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case out := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			err := s.conn.WriteMessage(websocket.TextMessage, out.payload)
			out.result <- err
			if err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}
