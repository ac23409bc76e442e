package models

import "time"

// EnvelopeType tags what a DeliveryEnvelope carries.
type EnvelopeType string

const (
	EnvelopeNotification      EnvelopeType = "NOTIFICATION"
	EnvelopeUnreadCountUpdate EnvelopeType = "UNREAD_COUNT_UPDATE"
	EnvelopePresenceUpdate    EnvelopeType = "PRESENCE_UPDATE"
	EnvelopeBatch             EnvelopeType = "BATCH_NOTIFICATIONS"
)

// PresenceChannel is the shared channel every client listens on for presence changes.
const PresenceChannel = "presence"

// UserChannel returns the addressable channel name for a single user.
func UserChannel(userID string) string {
	return "notifications-" + userID
}

// PresenceUpdate is the body of a PRESENCE_UPDATE envelope.
type PresenceUpdate struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// DeliveryEnvelope wraps a payload for the live transport. It is built per
// delivery attempt and never persisted.
type DeliveryEnvelope struct {
	Type          EnvelopeType        `json:"type"`
	UserID        string              `json:"userId,omitempty"`
	Channel       string              `json:"channel"`
	Timestamp     time.Time           `json:"timestamp"`
	Notification  *NotificationEvent  `json:"notification,omitempty"`
	Notifications []NotificationEvent `json:"notifications,omitempty"`
	UnreadCount   *int64              `json:"unreadCount,omitempty"`
	Presence      *PresenceUpdate     `json:"presence,omitempty"`
}

func NewNotificationEnvelope(event NotificationEvent, now time.Time) DeliveryEnvelope {
	return DeliveryEnvelope{
		Type:         EnvelopeNotification,
		UserID:       event.UserID,
		Channel:      UserChannel(event.UserID),
		Timestamp:    now.UTC(),
		Notification: &event,
	}
}

func NewBatchEnvelope(userID string, events []NotificationEvent, now time.Time) DeliveryEnvelope {
	return DeliveryEnvelope{
		Type:          EnvelopeBatch,
		UserID:        userID,
		Channel:       UserChannel(userID),
		Timestamp:     now.UTC(),
		Notifications: events,
	}
}

func NewUnreadCountEnvelope(userID string, count int64, now time.Time) DeliveryEnvelope {
	return DeliveryEnvelope{
		Type:        EnvelopeUnreadCountUpdate,
		UserID:      userID,
		Channel:     UserChannel(userID),
		Timestamp:   now.UTC(),
		UnreadCount: &count,
	}
}

func NewPresenceEnvelope(userID string, online bool, now time.Time) DeliveryEnvelope {
	return DeliveryEnvelope{
		Type:      EnvelopePresenceUpdate,
		UserID:    userID,
		Channel:   PresenceChannel,
		Timestamp: now.UTC(),
		Presence:  &PresenceUpdate{UserID: userID, Online: online},
	}
}
