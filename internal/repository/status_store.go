package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeliveryStatus is the latest delivery outcome for one event and recipient.
// Task and chat services read this table as delivery confirmation.
type DeliveryStatus struct {
	EventID   string `gorm:"primaryKey;size:128"`
	UserID    string `gorm:"primaryKey;size:128"`
	Status    string `gorm:"size:32;not null"`
	Detail    string
	UpdatedAt time.Time
}

type StatusStore struct {
	db        *gorm.DB
	tableName string
}

func NewStatusStore(db *gorm.DB, tableName string) (*StatusStore, error) {
	if tableName == "" {
		tableName = "notification_delivery_statuses"
	}
	if err := db.Table(tableName).AutoMigrate(&DeliveryStatus{}); err != nil {
		return nil, err
	}
	return &StatusStore{
		db:        db,
		tableName: tableName,
	}, nil
}

func (s *StatusStore) UpdateStatus(ctx context.Context, eventID, userID, status, detail string) error {
	ds := DeliveryStatus{
		EventID:   eventID,
		UserID:    userID,
		Status:    status,
		Detail:    detail,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Table(s.tableName).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "detail", "updated_at"}),
		}).Create(&ds).Error
}

// Get returns the recorded status, or ErrNotFound.
func (s *StatusStore) Get(ctx context.Context, eventID, userID string) (*DeliveryStatus, error) {
	var ds DeliveryStatus
	err := s.db.WithContext(ctx).Table(s.tableName).
		Where("event_id = ? AND user_id = ?", eventID, userID).
		Take(&ds).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ds, nil
}
