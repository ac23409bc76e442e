package services

import (
	"context"
	"fmt"
	"log/slog"
)

// SessionLifecycle reacts to transport connection events: it keeps presence
// current, announces presence changes and replays the backlog on connect.
type SessionLifecycle struct {
	presence PresenceStore
	router   *DeliveryRouter
	counter  UnreadCounter
	logger   *slog.Logger
}

func NewSessionLifecycle(presence PresenceStore, router *DeliveryRouter, counter UnreadCounter, logger *slog.Logger) *SessionLifecycle {
	return &SessionLifecycle{
		presence: presence,
		router:   router,
		counter:  counter,
		logger:   logger,
	}
}

// OnConnect registers the session and replays the backlog. The session must
// already accept pushes. Events routed to the user meanwhile wait until the
// backlog is drained.
func (l *SessionLifecycle) OnConnect(ctx context.Context, userID, sessionID string) error {
	unlock := l.router.lockUser(userID)
	first, err := l.presence.AddSession(ctx, userID, sessionID)
	if err != nil {
		unlock()
		return fmt.Errorf("registering session %s: %w", sessionID, err)
	}
	if first {
		l.router.BroadcastPresence(ctx, userID, true)
	}
	drained, drainErr := l.router.drain(ctx, userID)
	unlock()

	if drainErr != nil {
		l.logger.Error("backlog drain failed", slog.String("user_id", userID), slog.Any("error", drainErr))
	} else if drained > 0 {
		l.logger.Info("backlog drained", slog.String("user_id", userID), slog.Int("count", drained))
	}

	if l.counter != nil {
		if count, err := l.counter.Unread(ctx, userID); err == nil {
			l.router.RouteUnreadCountUpdate(ctx, userID, count)
		}
	}
	return nil
}

func (l *SessionLifecycle) OnDisconnect(ctx context.Context, userID, sessionID string) error {
	last, err := l.presence.RemoveSession(ctx, userID, sessionID)
	if err != nil {
		return fmt.Errorf("removing session %s: %w", sessionID, err)
	}
	if last {
		l.router.BroadcastPresence(ctx, userID, false)
	}
	return nil
}

type presenceToucher interface {
	Touch(ctx context.Context, userID string) error
}

// OnHeartbeat extends the presence record's lifetime on stores that expire it.
func (l *SessionLifecycle) OnHeartbeat(ctx context.Context, userID string) {
	toucher, ok := l.presence.(presenceToucher)
	if !ok {
		return
	}
	if err := toucher.Touch(ctx, userID); err != nil {
		l.logger.Debug("presence refresh failed", slog.String("user_id", userID), slog.Any("error", err))
	}
}

// MarkRead resets the user's unread count and pushes the new count.
func (l *SessionLifecycle) MarkRead(ctx context.Context, userID string) error {
	if l.counter == nil {
		return nil
	}
	if err := l.counter.ResetUnread(ctx, userID); err != nil {
		return fmt.Errorf("resetting unread count of %s: %w", userID, err)
	}
	l.router.RouteUnreadCountUpdate(ctx, userID, 0)
	return nil
}
