package services

import (
	"context"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/models"
)

// SessionPusher is the live transport's push primitive. A push that fails or
// does not finish before ctx is done counts as undelivered.
type SessionPusher interface {
	PushToSession(ctx context.Context, sessionID string, envelope models.DeliveryEnvelope) error
}

// Broadcaster sends an envelope to every subscriber of a shared channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel string, envelope models.DeliveryEnvelope) error
}

// PresenceStore tracks which users hold at least one live session.
type PresenceStore interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
	// AddSession reports whether sessionID is the user's first session.
	AddSession(ctx context.Context, userID, sessionID string) (bool, error)
	// RemoveSession reports whether sessionID was the user's last session.
	RemoveSession(ctx context.Context, userID, sessionID string) (bool, error)
	SessionsOf(ctx context.Context, userID string) ([]string, error)
}

// OfflineQueue is the per-user FIFO backlog for users without a live session.
type OfflineQueue interface {
	// Enqueue appends the event to its user's backlog; enqueueing an event id
	// that is already queued for the user is a no-op.
	Enqueue(ctx context.Context, event models.NotificationEvent) error
	Peek(ctx context.Context, userID string, limit int) ([]models.QueuedNotification, error)
	Remove(ctx context.Context, userID string, seqs []uint64) error
}

// Ledger is an insert-if-absent key set shared by every worker instance.
type Ledger interface {
	// InsertIfAbsent reports whether key was inserted by this call.
	InsertIfAbsent(ctx context.Context, key string) (bool, error)
	Contains(ctx context.Context, key string) (bool, error)
	// ClearPrefix deletes the keys starting with prefix that match accepts.
	// A nil match accepts every key.
	ClearPrefix(ctx context.Context, prefix string, match func(key string) bool) (int, error)
}

// UnreadCounter keeps each user's unread notification count.
type UnreadCounter interface {
	IncrUnread(ctx context.Context, userID string) (int64, error)
	ResetUnread(ctx context.Context, userID string) error
	Unread(ctx context.Context, userID string) (int64, error)
}

// StatusRecorder persists the latest delivery outcome per event and recipient.
type StatusRecorder interface {
	UpdateStatus(ctx context.Context, eventID, userID, status, detail string) error
}
