package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotificationType classifies a notification for clients.
type NotificationType string

const (
	TypeGeneric  NotificationType = "generic"
	TypeMention  NotificationType = "mention"
	TypeSystem   NotificationType = "system"
	TypeReminder NotificationType = "reminder"
)

// Valid reports whether t is one of the known notification types.
func (t NotificationType) Valid() bool {
	switch t {
	case TypeGeneric, TypeMention, TypeSystem, TypeReminder:
		return true
	default:
		return false
	}
}

// ErrInvalidEvent is returned by Validate for payloads that can never be delivered.
var ErrInvalidEvent = errors.New("invalid notification event")

// Reference points a notification at the entity it is about.
type Reference struct {
	EntityID   string `json:"entityId"`
	EntityType string `json:"entityType"`
}

// NotificationEvent is the payload carried on the notification topic. It is
// immutable once published and may be consumed more than once.
type NotificationEvent struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"userId"`
	Title     string                 `json:"title"`
	Content   string                 `json:"content"`
	Type      NotificationType       `json:"type"`
	Reference *Reference             `json:"reference,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
	ExpiresAt *time.Time             `json:"expiresAt,omitempty"`
	Priority  int                    `json:"priority"`
}

// NewNotificationEvent builds an event with a fresh id and creation time.
func NewNotificationEvent(userID string, typ NotificationType, title, content string) NotificationEvent {
	return NotificationEvent{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Content:   content,
		Type:      typ,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate rejects events that are missing identity, a target or a known type.
func (e NotificationEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.UserID == "" {
		return fmt.Errorf("%w: missing userId for %s", ErrInvalidEvent, e.ID)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q for %s", ErrInvalidEvent, e.Type, e.ID)
	}
	return nil
}

// Expired reports whether the event has an expiry at or before now.
func (e NotificationEvent) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// ForUser returns a copy of the event addressed to userID.
func (e NotificationEvent) ForUser(userID string) NotificationEvent {
	e.UserID = userID
	return e
}

// QueuedNotification is an event sitting in a user's offline backlog. Seq is
// monotonically increasing per queue and defines FIFO order.
type QueuedNotification struct {
	Seq   uint64
	Event NotificationEvent
}
