package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Receipt struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key"`
	PaymentID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	Payment       *Payment
	ReceiptNumber string `gorm:"size:40;uniqueIndex;not null"`
	IssuedAt      time.Time
	DocumentPath  string
	RenderedAt    *time.Time
}

func (receipt *Receipt) BeforeCreate(tx *gorm.DB) (err error) {
	if receipt.ID == uuid.Nil {
		receipt.ID = uuid.New()
	}
	return
}
