package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ShipmentStatus string

const (
	ShipmentPending   ShipmentStatus = "PENDING"
	ShipmentInTransit ShipmentStatus = "IN_TRANSIT"
	ShipmentDelivered ShipmentStatus = "DELIVERED"
	ShipmentCanceled  ShipmentStatus = "CANCELED"
)

type Shipment struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primary_key"`
	TrackingNumber     string          `gorm:"size:20;unique;not null"`
	OriginAddress      string          `gorm:"size:255;not null"`
	DestinationAddress string          `gorm:"size:255;not null"`
	Weight             decimal.Decimal `gorm:"type:decimal(6,2);not null"`
	Cost               decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0"`
	Status             ShipmentStatus  `gorm:"size:20;not null;default:'PENDING'"`
	UserID             uuid.UUID       `gorm:"type:uuid;not null;index"`
	User               User
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (shipment *Shipment) BeforeCreate(tx *gorm.DB) (err error) {
	if shipment.ID == uuid.Nil {
		shipment.ID = uuid.New()
	}
	return
}
