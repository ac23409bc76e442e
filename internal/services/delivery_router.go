package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/models"
	"github.com/cuonglevan23/taskflow-backend-sub002/pkg/metrics"
)

// RouterConfig tunes live pushes and backlog drains.
type RouterConfig struct {
	// PushTimeout bounds a single push to one session.
	PushTimeout time.Duration
	// DrainBatchSize is the number of queued events sent per drain page.
	DrainBatchSize int
	// DrainRatePerSec caps drain pages per second per user. Zero is unlimited.
	DrainRatePerSec float64
}

const userLockShards = 64

// DeliveryRouter decides, per recipient, between a live push and the offline
// queue. A routed event is never lost: if no live session accepts it, it is
// queued. Routing, draining and session registration for one user are
// serialized, so a live push never overtakes that user's backlog.
type DeliveryRouter struct {
	presence    PresenceStore
	queue       OfflineQueue
	pusher      SessionPusher
	broadcaster Broadcaster
	status      *StatusUpdater
	metrics     *metrics.Metrics
	logger      *slog.Logger
	cfg         RouterConfig
	now         func() time.Time

	userLocks [userLockShards]sync.Mutex
}

func NewDeliveryRouter(
	presence PresenceStore,
	queue OfflineQueue,
	pusher SessionPusher,
	broadcaster Broadcaster,
	status *StatusUpdater,
	metrics *metrics.Metrics,
	logger *slog.Logger,
	cfg RouterConfig,
) *DeliveryRouter {
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 2 * time.Second
	}
	if cfg.DrainBatchSize <= 0 {
		cfg.DrainBatchSize = 50
	}
	return &DeliveryRouter{
		presence:    presence,
		queue:       queue,
		pusher:      pusher,
		broadcaster: broadcaster,
		status:      status,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Route delivers event to userID. An offline user, or one whose sessions all
// fail the push, gets the event queued. The only error returned is a failed
// enqueue, which the caller should retry.
func (r *DeliveryRouter) Route(ctx context.Context, userID string, event models.NotificationEvent) error {
	event = event.ForUser(userID)
	now := r.now()
	if event.Expired(now) {
		r.metrics.IncExpired()
		r.status.MarkExpired(ctx, event)
		r.logger.Debug("dropping expired notification", slog.String("event_id", event.ID), slog.String("user_id", userID))
		return nil
	}

	unlock := r.lockUser(userID)
	defer unlock()

	online, err := r.presence.IsOnline(ctx, userID)
	if err != nil {
		r.logger.Warn("presence lookup failed, assuming offline", slog.String("user_id", userID), slog.Any("error", err))
		online = false
	}
	if online {
		if r.pushLive(ctx, userID, models.NewNotificationEnvelope(event, now)) {
			r.metrics.IncDeliveredLive()
			r.status.MarkDeliveredLive(ctx, event)
			return nil
		}
		return r.enqueue(ctx, event, "all sessions failed")
	}
	return r.enqueue(ctx, event, "")
}

// lockUser takes the delivery lock of userID's shard and returns its release.
func (r *DeliveryRouter) lockUser(userID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	mu := &r.userLocks[h.Sum32()%userLockShards]
	mu.Lock()
	return mu.Unlock
}

func (r *DeliveryRouter) enqueue(ctx context.Context, event models.NotificationEvent, detail string) error {
	if err := r.queue.Enqueue(ctx, event); err != nil {
		r.metrics.IncFailed()
		return fmt.Errorf("queueing %s for %s: %w", event.ID, event.UserID, err)
	}
	r.metrics.IncQueued()
	r.status.MarkQueued(ctx, event, detail)
	return nil
}

// pushLive pushes env to every session of userID and reports whether at least
// one session accepted it.
func (r *DeliveryRouter) pushLive(ctx context.Context, userID string, env models.DeliveryEnvelope) bool {
	sessions, err := r.presence.SessionsOf(ctx, userID)
	if err != nil {
		r.logger.Warn("session lookup failed", slog.String("user_id", userID), slog.Any("error", err))
		return false
	}

	delivered := false
	for _, sessionID := range sessions {
		pushCtx, cancel := context.WithTimeout(ctx, r.cfg.PushTimeout)
		err := r.pusher.PushToSession(pushCtx, sessionID, env)
		cancel()
		if err != nil {
			r.logger.Debug("push to session failed",
				slog.String("user_id", userID),
				slog.String("session_id", sessionID),
				slog.String("type", string(env.Type)),
				slog.Any("error", err),
			)
			continue
		}
		delivered = true
	}
	return delivered
}

// RouteUnreadCountUpdate pushes the unread count to a live user. It is best
// effort and never queued.
func (r *DeliveryRouter) RouteUnreadCountUpdate(ctx context.Context, userID string, count int64) {
	online, err := r.presence.IsOnline(ctx, userID)
	if err != nil || !online {
		return
	}
	r.pushLive(ctx, userID, models.NewUnreadCountEnvelope(userID, count, r.now()))
}

// RouteToMany routes an independent copy of event to each distinct user id.
// The result holds the routing error, if any, per user.
func (r *DeliveryRouter) RouteToMany(ctx context.Context, userIDs []string, event models.NotificationEvent) map[string]error {
	results := make(map[string]error, len(userIDs))
	for _, userID := range userIDs {
		if userID == "" {
			continue
		}
		if _, seen := results[userID]; seen {
			continue
		}
		results[userID] = r.Route(ctx, userID, event)
	}
	return results
}

// BroadcastPresence announces a presence change on the shared presence
// channel. Failures are logged only.
func (r *DeliveryRouter) BroadcastPresence(ctx context.Context, userID string, online bool) {
	if r.broadcaster == nil {
		return
	}
	env := models.NewPresenceEnvelope(userID, online, r.now())
	if err := r.broadcaster.Broadcast(ctx, models.PresenceChannel, env); err != nil {
		r.logger.Debug("presence broadcast failed", slog.String("user_id", userID), slog.Any("error", err))
	}
}

// Drain replays userID's backlog oldest first. Entries leave the queue only
// after a live session accepted them; the drain stops at the first page no
// session accepts. It returns the number of events delivered.
func (r *DeliveryRouter) Drain(ctx context.Context, userID string) (int, error) {
	unlock := r.lockUser(userID)
	defer unlock()
	return r.drain(ctx, userID)
}

// drain requires the caller to hold userID's delivery lock.
func (r *DeliveryRouter) drain(ctx context.Context, userID string) (int, error) {
	limit := rate.Inf
	if r.cfg.DrainRatePerSec > 0 {
		limit = rate.Limit(r.cfg.DrainRatePerSec)
	}
	limiter := rate.NewLimiter(limit, 1)

	delivered := 0
	for {
		if err := limiter.Wait(ctx); err != nil {
			return delivered, err
		}

		page, err := r.queue.Peek(ctx, userID, r.cfg.DrainBatchSize)
		if err != nil {
			return delivered, fmt.Errorf("reading backlog of %s: %w", userID, err)
		}
		if len(page) == 0 {
			return delivered, nil
		}

		now := r.now()
		var (
			events  []models.NotificationEvent
			seqs    []uint64
			expired []uint64
		)
		for _, entry := range page {
			if entry.Event.Expired(now) {
				expired = append(expired, entry.Seq)
				r.metrics.IncExpired()
				r.status.MarkExpired(ctx, entry.Event)
				continue
			}
			events = append(events, entry.Event)
			seqs = append(seqs, entry.Seq)
		}
		if len(expired) > 0 {
			if err := r.queue.Remove(ctx, userID, expired); err != nil {
				return delivered, fmt.Errorf("dropping expired backlog of %s: %w", userID, err)
			}
		}

		if len(events) > 0 {
			env := models.NewBatchEnvelope(userID, events, now)
			if len(events) == 1 {
				env = models.NewNotificationEnvelope(events[0], now)
			}
			if !r.pushLive(ctx, userID, env) {
				r.logger.Info("drain interrupted, backlog kept",
					slog.String("user_id", userID),
					slog.Int("delivered", delivered),
				)
				return delivered, nil
			}
			if err := r.queue.Remove(ctx, userID, seqs); err != nil {
				return delivered, fmt.Errorf("removing drained backlog of %s: %w", userID, err)
			}
			for _, event := range events {
				r.status.MarkDrained(ctx, event)
			}
			delivered += len(events)
			r.metrics.AddDrained(len(events))
		}

		if len(page) < r.cfg.DrainBatchSize {
			return delivered, nil
		}
	}
}
