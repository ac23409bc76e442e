package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/bus"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/models"
	"github.com/cuonglevan23/taskflow-backend-sub002/pkg/metrics"
)

const maxEventBody = 1 << 20

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Metrics   *metrics.Metrics
	Publisher bus.Publisher
	// Gateway serves websocket upgrades on /ws when set.
	Gateway http.Handler
	Logger  *slog.Logger
	Started time.Time
	// PublishTimeout bounds how long ingestion waits for the bus outcome.
	PublishTimeout time.Duration
}

type response struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    interface{}            `json:"data,omitempty"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// NewRouter wires health, metrics, event ingestion and the websocket gateway.
func NewRouter(deps Deps) http.Handler {
	if deps.PublishTimeout <= 0 {
		deps.PublishTimeout = 5 * time.Second
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Success: true,
			Message: "notification service healthy",
			Meta: map[string]interface{}{
				"uptime_seconds": int(time.Since(deps.Started).Seconds()),
				"timestamp":      time.Now().UTC(),
			},
		})
	})
	mux.Handle("GET /metrics", deps.Metrics.Handler())
	mux.Handle("POST /v1/events/{topic}", &ingestHandler{deps: deps})
	if deps.Gateway != nil {
		mux.Handle("GET /ws", deps.Gateway)
	}
	return mux
}

// ingestHandler publishes events from collaborators that cannot reach the bus.
type ingestHandler struct {
	deps Deps
}

var topicAliases = map[string]string{
	"notifications":        bus.TopicNotifications,
	bus.TopicNotifications: bus.TopicNotifications,
	"chat":                 bus.TopicChat,
	bus.TopicChat:          bus.TopicChat,
	"system":               bus.TopicSystem,
	bus.TopicSystem:        bus.TopicSystem,
}

func (h *ingestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topic, ok := topicAliases[r.PathValue("topic")]
	if !ok {
		writeJSON(w, http.StatusNotFound, response{Message: "unknown topic " + r.PathValue("topic")})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{Message: "unable to read request body"})
		return
	}

	key, id, payload, err := decodeEvent(topic, body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{Message: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.deps.PublishTimeout)
	defer cancel()
	if err := bus.PublishAndWait(ctx, h.deps.Publisher, topic, key, payload); err != nil {
		h.deps.Logger.Error("event ingestion failed", slog.String("topic", topic), slog.String("id", id), slog.Any("error", err))
		status := http.StatusInternalServerError
		if errors.Is(err, bus.ErrBufferFull) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, response{Message: "event could not be published"})
		return
	}

	writeJSON(w, http.StatusAccepted, response{
		Success: true,
		Message: "event accepted",
		Data:    map[string]string{"id": id, "topic": topic},
	})
}

// decodeEvent validates the body for topic and returns its partition key, id
// and the record to publish.
func decodeEvent(topic string, body []byte) (string, string, interface{}, error) {
	switch topic {
	case bus.TopicChat:
		var msg models.ChatMessageEvent
		if err := json.Unmarshal(body, &msg); err != nil {
			return "", "", nil, err
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now().UTC()
		}
		return msg.ConversationID, msg.ID, msg, msg.Validate()
	case bus.TopicSystem:
		var sys models.SystemNotificationEvent
		if err := json.Unmarshal(body, &sys); err != nil {
			return "", "", nil, err
		}
		if sys.CreatedAt.IsZero() {
			sys.CreatedAt = time.Now().UTC()
		}
		return sys.PartitionKey(), sys.ID, sys, sys.Validate()
	default:
		var ev models.NotificationEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", "", nil, err
		}
		if ev.Type == "" {
			ev.Type = models.TypeGeneric
		}
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = time.Now().UTC()
		}
		return ev.UserID, ev.ID, ev, ev.Validate()
	}
}
