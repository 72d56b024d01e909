package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store is the persistence surface the processor drains. It is an interface
// so processor logic tests can run against an in-memory fake.
type Store interface {
	Enqueue(ctx context.Context, msg *Message) error
	FetchPending(ctx context.Context, limit int) ([]Message, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause string, maxRetries int) error
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteDeadLetteredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// GormStore is the gorm-backed Store.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps a gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates the outbox table.
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&Message{})
}

// WithTx returns a store bound to the caller's transaction, so enqueues
// commit and roll back with the business write.
func (s *GormStore) WithTx(tx *gorm.DB) *GormStore {
	return &GormStore{db: tx}
}

// Enqueue inserts a pending row.
func (s *GormStore) Enqueue(ctx context.Context, msg *Message) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("enqueue outbox message: %w", err)
	}
	return nil
}

// FetchPending returns due pending rows, oldest first. A row is due when it
// has no scheduled retry or its retry time has passed.
func (s *GormStore) FetchPending(ctx context.Context, limit int) ([]Message, error) {
	var msgs []Message
	err := s.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", time.Now().UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox messages: %w", err)
	}
	return msgs, nil
}

// MarkProcessed finalizes a published row. Marking an already-processed row
// again is a no-op, which makes redundant publishes after a crash harmless.
// A row that failed before succeeding loses its retry schedule and error, so
// a Processed row never carries a future next_retry_at.
func (s *GormStore) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).
		Model(&Message{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]any{
			"status":        StatusProcessed,
			"processed_at":  &now,
			"next_retry_at": nil,
			"last_error":    "",
		}).Error
	if err != nil {
		return fmt.Errorf("mark outbox message processed: %w", err)
	}
	return nil
}

// MarkFailed records a publish failure: the retry counter goes up and the
// row is either rescheduled with exponential backoff or dead-lettered once
// the counter reaches maxRetries.
func (s *GormStore) MarkFailed(ctx context.Context, id uuid.UUID, cause string, maxRetries int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg Message
		if err := tx.Where("id = ?", id).First(&msg).Error; err != nil {
			return fmt.Errorf("load outbox message for failure: %w", err)
		}

		msg.RetryCount++
		msg.LastError = cause

		if msg.RetryCount >= maxRetries {
			msg.Status = StatusDeadLettered
			msg.NextRetryAt = nil
		} else {
			// 2s, 4s, 8s... after the 1st, 2nd, 3rd failure.
			next := time.Now().UTC().Add(time.Duration(1<<uint(msg.RetryCount)) * time.Second)
			msg.NextRetryAt = &next
		}

		if err := tx.Save(&msg).Error; err != nil {
			return fmt.Errorf("record outbox failure: %w", err)
		}
		return nil
	})
}

// DeleteProcessedBefore prunes processed rows older than cutoff.
func (s *GormStore) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status = ? AND processed_at < ?", StatusProcessed, cutoff).
		Delete(&Message{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune processed outbox messages: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteDeadLetteredBefore prunes dead-lettered rows older than cutoff.
func (s *GormStore) DeleteDeadLetteredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", StatusDeadLettered, cutoff).
		Delete(&Message{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune dead-lettered outbox messages: %w", res.Error)
	}
	return res.RowsAffected, nil
}
