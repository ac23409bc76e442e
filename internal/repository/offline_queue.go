package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/models"
)

// OfflineEntry is one queued notification row. ID doubles as the FIFO sequence.
type OfflineEntry struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement"`
	UserID    string         `gorm:"size:128;not null;index;uniqueIndex:idx_offline_user_event"`
	EventID   string         `gorm:"size:128;not null;uniqueIndex:idx_offline_user_event"`
	Payload   datatypes.JSON `gorm:"not null"`
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// OfflineQueue is the durable per-user backlog backed by gorm.
type OfflineQueue struct {
	db         *gorm.DB
	tableName  string
	maxPerUser int
	logger     *slog.Logger
}

// NewOfflineQueue migrates the queue table. maxPerUser <= 0 leaves the
// backlog unbounded; otherwise the oldest rows are trimmed on overflow.
func NewOfflineQueue(db *gorm.DB, tableName string, maxPerUser int, logger *slog.Logger) (*OfflineQueue, error) {
	if tableName == "" {
		tableName = "offline_notifications"
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.Table(tableName).AutoMigrate(&OfflineEntry{}); err != nil {
		return nil, fmt.Errorf("migrating %s: %w", tableName, err)
	}
	return &OfflineQueue{
		db:         db,
		tableName:  tableName,
		maxPerUser: maxPerUser,
		logger:     logger,
	}, nil
}

// Enqueue appends event to its user's backlog. A second enqueue of the same
// event id for the same user is a no-op.
func (q *OfflineQueue) Enqueue(ctx context.Context, event models.NotificationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", event.ID, err)
	}
	entry := OfflineEntry{
		UserID:    event.UserID,
		EventID:   event.ID,
		Payload:   datatypes.JSON(payload),
		ExpiresAt: event.ExpiresAt,
		CreatedAt: time.Now().UTC(),
	}
	err = q.db.WithContext(ctx).Table(q.tableName).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "event_id"}},
			DoNothing: true,
		}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("queueing event %s for %s: %w", event.ID, event.UserID, err)
	}
	if q.maxPerUser > 0 {
		return q.trim(ctx, event.UserID)
	}
	return nil
}

func (q *OfflineQueue) trim(ctx context.Context, userID string) error {
	var cutoff []uint64
	err := q.db.WithContext(ctx).Table(q.tableName).
		Where("user_id = ?", userID).
		Order("id DESC").
		Offset(q.maxPerUser).
		Limit(1).
		Pluck("id", &cutoff).Error
	if err != nil {
		return fmt.Errorf("finding trim point for %s: %w", userID, err)
	}
	if len(cutoff) == 0 {
		return nil
	}
	err = q.db.WithContext(ctx).Table(q.tableName).
		Where("user_id = ? AND id <= ?", userID, cutoff[0]).
		Delete(&OfflineEntry{}).Error
	if err != nil {
		return fmt.Errorf("trimming queue for %s: %w", userID, err)
	}
	return nil
}

// Peek returns up to limit of the oldest queued notifications without
// removing them. Rows whose payload no longer decodes are deleted and the
// page is read again.
func (q *OfflineQueue) Peek(ctx context.Context, userID string, limit int) ([]models.QueuedNotification, error) {
	for {
		var rows []OfflineEntry
		tx := q.db.WithContext(ctx).Table(q.tableName).
			Where("user_id = ?", userID).
			Order("id ASC")
		if limit > 0 {
			tx = tx.Limit(limit)
		}
		if err := tx.Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("reading queue for %s: %w", userID, err)
		}

		out := make([]models.QueuedNotification, 0, len(rows))
		var poison []uint64
		for _, row := range rows {
			var event models.NotificationEvent
			if err := json.Unmarshal(row.Payload, &event); err != nil {
				q.logger.Error("dropping undecodable queued event",
					slog.String("user_id", userID),
					slog.String("event_id", row.EventID),
					slog.Uint64("seq", row.ID),
					slog.Any("error", err),
				)
				poison = append(poison, row.ID)
				continue
			}
			out = append(out, models.QueuedNotification{Seq: row.ID, Event: event})
		}
		if len(poison) == 0 {
			return out, nil
		}
		if err := q.Remove(ctx, userID, poison); err != nil {
			return nil, err
		}
	}
}

// Remove deletes delivered entries by sequence.
func (q *OfflineQueue) Remove(ctx context.Context, userID string, seqs []uint64) error {
	if len(seqs) == 0 {
		return nil
	}
	err := q.db.WithContext(ctx).Table(q.tableName).
		Where("user_id = ? AND id IN ?", userID, seqs).
		Delete(&OfflineEntry{}).Error
	if err != nil {
		return fmt.Errorf("removing %d entries for %s: %w", len(seqs), userID, err)
	}
	return nil
}

func (q *OfflineQueue) Len(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := q.db.WithContext(ctx).Table(q.tableName).
		Where("user_id = ?", userID).
		Count(&n).Error
	return n, err
}
