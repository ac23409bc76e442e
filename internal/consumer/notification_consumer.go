package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/bus"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/models"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/services"
)

// ProcessedKeyPrefix prefixes the ledger keys of events already routed to a user.
const ProcessedKeyPrefix = "processed:"

func processedKey(eventID, userID string) string {
	return ProcessedKeyPrefix + eventID + ":" + userID
}

// deliverer routes an event to recipients at most once per (event, user) as
// far as the processed ledger can tell, and bumps their unread counts.
type deliverer struct {
	router  *services.DeliveryRouter
	ledger  services.Ledger
	counter services.UnreadCounter
	logger  *slog.Logger
}

func (d *deliverer) deliver(ctx context.Context, userIDs []string, event models.NotificationEvent) error {
	pending := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		done, err := d.ledger.Contains(ctx, processedKey(event.ID, userID))
		if err != nil {
			d.logger.Warn("processed ledger unavailable", slog.String("event_id", event.ID), slog.Any("error", err))
		}
		if done {
			d.logger.Debug("skipping already processed event", slog.String("event_id", event.ID), slog.String("user_id", userID))
			continue
		}
		pending = append(pending, userID)
	}
	if len(pending) == 0 {
		return nil
	}

	expired := event.Expired(time.Now())
	var failed []string
	for userID, err := range d.router.RouteToMany(ctx, pending, event) {
		if err != nil {
			d.logger.Warn("routing failed", slog.String("event_id", event.ID), slog.String("user_id", userID), slog.Any("error", err))
			failed = append(failed, userID)
			continue
		}
		if _, err := d.ledger.InsertIfAbsent(ctx, processedKey(event.ID, userID)); err != nil {
			d.logger.Warn("marking event processed failed", slog.String("event_id", event.ID), slog.Any("error", err))
		}
		if !expired {
			d.bumpUnread(ctx, userID)
		}
	}
	if len(failed) > 0 {
		return NewRecoverableError("routing %s failed for %d of %d recipients", event.ID, len(failed), len(pending))
	}
	return nil
}

func (d *deliverer) bumpUnread(ctx context.Context, userID string) {
	if d.counter == nil {
		return
	}
	count, err := d.counter.IncrUnread(ctx, userID)
	if err != nil {
		d.logger.Warn("unread counter update failed", slog.String("user_id", userID), slog.Any("error", err))
		return
	}
	d.router.RouteUnreadCountUpdate(ctx, userID, count)
}

// NotificationConsumer handles the notification topic: one event, one recipient.
type NotificationConsumer struct {
	deliverer
}

func NewNotificationConsumer(router *services.DeliveryRouter, ledger services.Ledger, counter services.UnreadCounter, logger *slog.Logger) *NotificationConsumer {
	return &NotificationConsumer{
		deliverer: deliverer{router: router, ledger: ledger, counter: counter, logger: logger},
	}
}

func (c *NotificationConsumer) Handle(ctx context.Context, msg bus.Delivery) error {
	var event models.NotificationEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return NewUnrecoverableError("decoding notification event: %s", err)
	}
	if err := event.Validate(); err != nil {
		return NewUnrecoverableError("%s", err)
	}
	return c.deliver(ctx, []string{event.UserID}, event)
}
