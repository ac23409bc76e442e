package consumer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/bus"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/models"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/services"
)

// SystemConsumer handles the system topic: one template fanned out to a user list.
type SystemConsumer struct {
	deliverer
}

func NewSystemConsumer(router *services.DeliveryRouter, ledger services.Ledger, counter services.UnreadCounter, logger *slog.Logger) *SystemConsumer {
	return &SystemConsumer{
		deliverer: deliverer{router: router, ledger: ledger, counter: counter, logger: logger},
	}
}

func (c *SystemConsumer) Handle(ctx context.Context, msg bus.Delivery) error {
	var sys models.SystemNotificationEvent
	if err := json.Unmarshal(msg.Body, &sys); err != nil {
		return NewUnrecoverableError("decoding system notification: %s", err)
	}
	if err := sys.Validate(); err != nil {
		return NewUnrecoverableError("%s", err)
	}
	if len(sys.UserIDs) == 0 {
		return nil
	}
	event := sys.Notification()
	event.Title = services.FillPlaceholders(event.Title, sys.Metadata)
	event.Content = services.FillPlaceholders(event.Content, sys.Metadata)
	return c.deliver(ctx, sys.UserIDs, event)
}
