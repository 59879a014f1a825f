package notify

import (
	"time"

	"github.com/google/uuid"
)

type NotificationPayload struct {
	RecipientID uuid.UUID `json:"recipient_id"`
	Message     string    `json:"message"`
	Link        string    `json:"link,omitempty"`
}

type EmailPayload struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	HTML    string   `json:"html,omitempty"`
}

// PaymentStatusEvent is published for every payment state transition.
type PaymentStatusEvent struct {
	PaymentID     uuid.UUID `json:"payment_id"`
	ShipmentID    uuid.UUID `json:"shipment_id"`
	UserID        uuid.UUID `json:"user_id"`
	TxRef         string    `json:"tx_ref"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Amount        string    `json:"amount"`
	Status        string    `json:"status"`
	ReceiptNumber string    `json:"receipt_number,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
