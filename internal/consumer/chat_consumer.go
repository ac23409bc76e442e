package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/bus"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/models"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/services"
)

// ChatConsumer handles the chat topic: every participant except the sender
// gets a message notification, and mentioned users get a mention event.
type ChatConsumer struct {
	deliverer
	mentions     *services.MentionNotifier
	previewChars int
}

func NewChatConsumer(router *services.DeliveryRouter, ledger services.Ledger, counter services.UnreadCounter, mentions *services.MentionNotifier, previewChars int, logger *slog.Logger) *ChatConsumer {
	return &ChatConsumer{
		deliverer:    deliverer{router: router, ledger: ledger, counter: counter, logger: logger},
		mentions:     mentions,
		previewChars: previewChars,
	}
}

func (c *ChatConsumer) Handle(ctx context.Context, msg bus.Delivery) error {
	var chat models.ChatMessageEvent
	if err := json.Unmarshal(msg.Body, &chat); err != nil {
		return NewUnrecoverableError("decoding chat message: %s", err)
	}
	if err := chat.Validate(); err != nil {
		return NewUnrecoverableError("%s", err)
	}

	if c.mentions != nil {
		c.mentions.Notify(ctx, chat)
	}

	recipients := make([]string, 0, len(chat.RecipientIDs))
	for _, id := range chat.RecipientIDs {
		if id != chat.SenderID {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) == 0 {
		return nil
	}

	event := models.NotificationEvent{
		ID:        chat.ID,
		Title:     fmt.Sprintf("New message from %s", chat.SenderLabel()),
		Content:   services.Preview(chat.Content, c.previewChars),
		Type:      models.TypeGeneric,
		Reference: &models.Reference{EntityID: chat.ConversationID, EntityType: "CONVERSATION"},
		Metadata: map[string]interface{}{
			"conversationId": chat.ConversationID,
			"senderId":       chat.SenderID,
		},
		CreatedAt: chat.CreatedAt,
	}
	return c.deliver(ctx, recipients, event)
}
