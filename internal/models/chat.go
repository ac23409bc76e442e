package models

import (
	"fmt"
	"time"
)

// ChatMessageEvent is the payload carried on the chat topic, keyed by conversation id.
type ChatMessageEvent struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	RecipientIDs   []string  `json:"recipientIds"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (m ChatMessageEvent) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: chat message missing id", ErrInvalidEvent)
	}
	if m.ConversationID == "" {
		return fmt.Errorf("%w: chat message %s missing conversationId", ErrInvalidEvent, m.ID)
	}
	if m.SenderID == "" {
		return fmt.Errorf("%w: chat message %s missing senderId", ErrInvalidEvent, m.ID)
	}
	return nil
}

// SenderLabel is how the sender is named in notification titles.
func (m ChatMessageEvent) SenderLabel() string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return m.SenderID
}

// SystemNotificationEvent is the payload carried on the system topic: one
// notification template fanned out to a list of users.
type SystemNotificationEvent struct {
	ID        string                 `json:"id"`
	UserIDs   []string               `json:"userIds"`
	Title     string                 `json:"title"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
	ExpiresAt *time.Time             `json:"expiresAt,omitempty"`
	Priority  int                    `json:"priority"`
}

func (s SystemNotificationEvent) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: system notification missing id", ErrInvalidEvent)
	}
	return nil
}

// PartitionKey is the bus key for the event: its first recipient, or
// "system" when there is none.
func (s SystemNotificationEvent) PartitionKey() string {
	if len(s.UserIDs) > 0 {
		return s.UserIDs[0]
	}
	return "system"
}

// Notification builds the system-type event delivered to each recipient.
func (s SystemNotificationEvent) Notification() NotificationEvent {
	return NotificationEvent{
		ID:        s.ID,
		Title:     s.Title,
		Content:   s.Content,
		Type:      TypeSystem,
		Metadata:  s.Metadata,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
		Priority:  s.Priority,
	}
}
