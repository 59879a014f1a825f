package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
)

type PaymentMethod string

const (
	MethodCard   PaymentMethod = "CARD"
	MethodCash   PaymentMethod = "CASH"
	MethodMobile PaymentMethod = "MOBILE"
)

type Payment struct {
	ID            uuid.UUID       `gorm:"type:uuid;primary_key"`
	TxRef         string          `gorm:"size:100;uniqueIndex;not null"`
	UserID        uuid.UUID       `gorm:"type:uuid;not null;index"`
	User          User
	ShipmentID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	Shipment      Shipment  `gorm:"constraint:OnDelete:CASCADE;"`
	Amount        decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Method        PaymentMethod   `gorm:"size:20;not null;default:'CARD'"`
	Status        PaymentStatus   `gorm:"size:12;not null;default:'PENDING';index"`
	TransactionID *string         `gorm:"size:128"`
	Meta          datatypes.JSON
	Receipt       *Receipt `gorm:"constraint:OnDelete:CASCADE;"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (payment *Payment) BeforeCreate(tx *gorm.DB) (err error) {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	return
}
