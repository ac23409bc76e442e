package services

import (
	"context"

	"log/slog"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/models"
)

// StatusUpdater records delivery outcomes. Failures are logged and never
// interrupt delivery. A nil *StatusUpdater records nothing.
type StatusUpdater struct {
	store  StatusRecorder
	logger *slog.Logger
}

func NewStatusUpdater(store StatusRecorder, logger *slog.Logger) *StatusUpdater {
	if store == nil {
		return nil
	}
	return &StatusUpdater{
		store:  store,
		logger: logger,
	}
}

func (s *StatusUpdater) MarkDeliveredLive(ctx context.Context, event models.NotificationEvent) {
	s.record(ctx, event, models.OutcomeDeliveredLive, "")
}

func (s *StatusUpdater) MarkQueued(ctx context.Context, event models.NotificationEvent, detail string) {
	s.record(ctx, event, models.OutcomeQueuedOffline, detail)
}

func (s *StatusUpdater) MarkDrained(ctx context.Context, event models.NotificationEvent) {
	s.record(ctx, event, models.OutcomeDrained, "")
}

func (s *StatusUpdater) MarkExpired(ctx context.Context, event models.NotificationEvent) {
	s.record(ctx, event, models.OutcomeDroppedExpired, "")
}

func (s *StatusUpdater) record(ctx context.Context, event models.NotificationEvent, status, detail string) {
	if s == nil {
		return
	}
	if err := s.store.UpdateStatus(ctx, event.ID, event.UserID, status, detail); err != nil {
		s.logger.Error("failed to update delivery status",
			slog.String("event_id", event.ID),
			slog.String("user_id", event.UserID),
			slog.String("status", status),
			slog.Any("error", err),
		)
	}
}
