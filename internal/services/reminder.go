package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/bus"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/models"
	"github.com/cuonglevan23/taskflow-backend-sub002/pkg/metrics"
)

// ScanState is the phase of a reminder scan cycle.
type ScanState string

const (
	ScanIdle            ScanState = "IDLE"
	ScanScanning24Hours ScanState = "SCANNING_24H"
	ScanScanning3Hours  ScanState = "SCANNING_3H"
	ScanScanningOverdue ScanState = "SCANNING_OVERDUE"
)

// TaskSource lists open tasks whose deadline falls in (from, to].
type TaskSource interface {
	DueBetween(ctx context.Context, from, to time.Time) ([]models.Task, error)
}

// ReminderSender hands one reminder event to the delivery pipeline.
type ReminderSender interface {
	SendReminder(ctx context.Context, event models.NotificationEvent) error
}

// BusReminderSender publishes reminders on the notification topic keyed by recipient.
type BusReminderSender struct {
	publisher bus.Publisher
	logger    *slog.Logger
}

func NewBusReminderSender(publisher bus.Publisher, logger *slog.Logger) *BusReminderSender {
	return &BusReminderSender{publisher: publisher, logger: logger}
}

func (s *BusReminderSender) SendReminder(ctx context.Context, event models.NotificationEvent) error {
	bus.PublishAndForget(ctx, s.publisher, s.logger, bus.TopicNotifications, event.UserID, event)
	return nil
}

// ScanResult summarizes one scan cycle.
type ScanResult struct {
	Matched int
	Skipped int
	Sent    int
	Failed  int
}

var reminderNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("notifications/reminder"))

// ReminderScanner emits deadline reminders at most once per task, threshold
// class and time bucket.
type ReminderScanner struct {
	tasks           TaskSource
	ledger          Ledger
	sender          ReminderSender
	overdueLookback time.Duration
	metrics         *metrics.Metrics
	logger          *slog.Logger

	mu    sync.Mutex
	state atomic.Value
}

func NewReminderScanner(tasks TaskSource, ledger Ledger, sender ReminderSender, overdueLookback time.Duration, m *metrics.Metrics, logger *slog.Logger) *ReminderScanner {
	if overdueLookback <= 0 {
		overdueLookback = 24 * time.Hour
	}
	s := &ReminderScanner{
		tasks:           tasks,
		ledger:          ledger,
		sender:          sender,
		overdueLookback: overdueLookback,
		metrics:         m,
		logger:          logger,
	}
	s.state.Store(ScanIdle)
	return s
}

// State returns the phase of the scan in progress, or ScanIdle.
func (s *ReminderScanner) State() ScanState {
	return s.state.Load().(ScanState)
}

// Scan runs one cycle relative to now. Windows are (now, now+3h] for the
// 3 hour class, (now+3h, now+24h] for the 24 hour class and
// (now-lookback, now] for overdue tasks. A failing window or task is logged
// and the cycle continues.
func (s *ReminderScanner) Scan(ctx context.Context, now time.Time) ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.state.Store(ScanIdle)

	windows := []struct {
		state    ScanState
		class    models.ThresholdClass
		from, to time.Time
	}{
		{ScanScanning24Hours, models.Threshold24Hours, now.Add(3 * time.Hour), now.Add(24 * time.Hour)},
		{ScanScanning3Hours, models.Threshold3Hours, now, now.Add(3 * time.Hour)},
		{ScanScanningOverdue, models.ThresholdOverdue, now.Add(-s.overdueLookback), now},
	}

	var res ScanResult
	for _, w := range windows {
		s.state.Store(w.state)
		tasks, err := s.tasks.DueBetween(ctx, w.from, w.to)
		if err != nil {
			s.logger.Error("reminder window query failed", slog.String("class", string(w.class)), slog.Any("error", err))
			continue
		}
		for _, task := range tasks {
			if task.Completed {
				continue
			}
			res.Matched++
			s.remindSafely(ctx, task, w.class, now, &res)
		}
	}

	s.logger.Info("reminder scan finished",
		slog.Int("matched", res.Matched),
		slog.Int("skipped", res.Skipped),
		slog.Int("sent", res.Sent),
		slog.Int("failed", res.Failed),
	)
	return res
}

func (s *ReminderScanner) remindSafely(ctx context.Context, task models.Task, class models.ThresholdClass, now time.Time, res *ScanResult) {
	defer func() {
		if r := recover(); r != nil {
			res.Failed++
			s.logger.Error("reminder for task panicked", slog.String("task_id", task.ID), slog.Any("panic", r))
		}
	}()
	s.remind(ctx, task, class, now, res)
}

// remind claims the dedup key first; once claimed it stays claimed even if
// every send fails.
func (s *ReminderScanner) remind(ctx context.Context, task models.Task, class models.ThresholdClass, now time.Time, res *ScanResult) {
	key := models.NewReminderKey(task.ID, class, now)
	inserted, err := s.ledger.InsertIfAbsent(ctx, key.String())
	if err != nil {
		res.Skipped++
		s.logger.Warn("reminder ledger unavailable, skipping send", slog.String("key", key.String()), slog.Any("error", err))
		return
	}
	if !inserted {
		res.Skipped++
		return
	}

	recipients := task.Recipients()
	if len(recipients) == 0 {
		s.logger.Warn("task has no recipients", slog.String("task_id", task.ID))
		return
	}
	for _, userID := range recipients {
		event := reminderEvent(task, key, userID, now)
		if err := s.sender.SendReminder(ctx, event); err != nil {
			res.Failed++
			s.logger.Error("sending reminder failed",
				slog.String("task_id", task.ID),
				slog.String("user_id", userID),
				slog.String("class", string(class)),
				slog.Any("error", err),
			)
			continue
		}
		res.Sent++
		s.metrics.IncRemindersSent()
	}
}

// Sweep clears reminder keys whose bucket ended before now's bucket. Keys of
// the bucket in progress stay, so a later scan in the same bucket stays quiet.
func (s *ReminderScanner) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.ledger.ClearPrefix(ctx, models.ReminderKeyPrefix, func(raw string) bool {
		key, ok := models.ParseReminderKey(raw)
		return ok && key.Expired(now)
	})
	if err != nil {
		return n, fmt.Errorf("sweeping reminder ledger: %w", err)
	}
	s.logger.Info("reminder ledger swept", slog.Int("cleared", n))
	return n, nil
}

func reminderEvent(task models.Task, key models.ReminderKey, userID string, now time.Time) models.NotificationEvent {
	var title, content string
	priority := 1
	deadline := task.Deadline.UTC().Format(time.RFC3339)
	switch key.Class {
	case models.Threshold24Hours:
		title = "Task due in 24 hours"
		content = fmt.Sprintf("%q is due at %s.", task.Title, deadline)
	case models.Threshold3Hours:
		title = "Task due in 3 hours"
		content = fmt.Sprintf("%q is due at %s.", task.Title, deadline)
		priority = 2
	default:
		title = "Task overdue"
		content = fmt.Sprintf("%q was due at %s.", task.Title, deadline)
		priority = 3
	}

	return models.NotificationEvent{
		ID:        uuid.NewSHA1(reminderNamespace, []byte(key.String()+":"+userID)).String(),
		UserID:    userID,
		Title:     title,
		Content:   content,
		Type:      models.TypeReminder,
		Reference: &models.Reference{EntityID: task.ID, EntityType: "TASK"},
		Metadata: map[string]interface{}{
			"threshold": string(key.Class),
			"deadline":  deadline,
		},
		CreatedAt: now.UTC(),
		Priority:  priority,
	}
}
