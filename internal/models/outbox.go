package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type OutboxKind string

const (
	OutboxNotification  OutboxKind = "notification"
	OutboxEmail         OutboxKind = "email"
	OutboxReceiptRender OutboxKind = "receipt.render"
	OutboxPaymentStatus OutboxKind = "payment.status"
)

type OutboxStatus string

const (
	OutboxPending OutboxStatus = "PENDING"
	OutboxSent    OutboxStatus = "SENT"
	OutboxFailed  OutboxStatus = "FAILED"
)

// OutboxMessage is a side effect recorded in the same transaction as the
// payment transition that caused it.
type OutboxMessage struct {
	ID          uuid.UUID  `gorm:"type:uuid;primary_key"`
	AggregateID uuid.UUID  `gorm:"type:uuid;not null;index"`
	Kind        OutboxKind `gorm:"size:32;not null"`
	Key         string     `gorm:"column:msg_key;size:100"`
	Payload     datatypes.JSON
	Status      OutboxStatus `gorm:"size:12;not null;default:'PENDING';index"`
	Attempts    int          `gorm:"not null;default:0"`
	LastError   string       `gorm:"type:text"`
	AvailableAt time.Time    `gorm:"not null;index"`
	CreatedAt   time.Time
	SentAt      *time.Time
}

func (msg *OutboxMessage) BeforeCreate(tx *gorm.DB) (err error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	return
}
