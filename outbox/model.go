// Package outbox implements a transactional outbox: domain events are
// written to a database table inside the business transaction, then a
// background processor drains the table into JetStream with retry, backoff
// and a dead-letter terminal state.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status is the lifecycle state of an outbox row.
type Status string

const (
	StatusPending      Status = "pending"
	StatusProcessed    Status = "processed"
	StatusDeadLettered Status = "dead_lettered"
)

// Message is one stored outbound event.
type Message struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Subject     string         `gorm:"not null"`
	Payload     datatypes.JSON `gorm:"type:jsonb"`
	Headers     datatypes.JSON `gorm:"type:jsonb"`
	Status      Status         `gorm:"not null;default:pending;index:idx_outbox_status_retry"`
	RetryCount  int            `gorm:"not null;default:0"`
	LastError   string
	NextRetryAt *time.Time `gorm:"index:idx_outbox_status_retry"`
	CreatedAt   time.Time  `gorm:"not null;index"`
	ProcessedAt *time.Time
}

// TableName pins the table name regardless of gorm naming strategy.
func (Message) TableName() string { return "outbox_messages" }

// BeforeCreate assigns the id when the caller did not.
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// NewMessage builds a pending outbox row for a JSON payload.
func NewMessage(subject string, payload any, headers nats.Header) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	msg := &Message{
		ID:      uuid.New(),
		Subject: subject,
		Payload: datatypes.JSON(data),
		Status:  StatusPending,
	}
	if len(headers) > 0 {
		hdrs, err := json.Marshal(headers)
		if err != nil {
			return nil, err
		}
		msg.Headers = datatypes.JSON(hdrs)
	}
	return msg, nil
}

// WireHeaders decodes the stored headers, or returns nil when none were
// stored.
func (m *Message) WireHeaders() nats.Header {
	if len(m.Headers) == 0 {
		return nil
	}
	var h nats.Header
	if err := json.Unmarshal(m.Headers, &h); err != nil {
		return nil
	}
	return h
}
