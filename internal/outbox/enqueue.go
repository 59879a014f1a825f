package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/farellandr/quariarbox/internal/models"
)

// Enqueue records a message in the caller's transaction. It is delivered only
// if that transaction commits.
func Enqueue(tx *gorm.DB, aggregateID uuid.UUID, kind models.OutboxKind, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}

	msg := models.OutboxMessage{
		AggregateID: aggregateID,
		Kind:        kind,
		Key:         key,
		Payload:     datatypes.JSON(body),
		Status:      models.OutboxPending,
		AvailableAt: time.Now().UTC(),
	}
	if err := tx.Create(&msg).Error; err != nil {
		return fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return nil
}

// Decode unmarshals a message payload into v.
func Decode(msg *models.OutboxMessage, v any) error {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.Kind, err)
	}
	return nil
}
