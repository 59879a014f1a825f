package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/farellandr/quariarbox/internal/models"
	"github.com/farellandr/quariarbox/internal/outbox"
)

var ErrNotFound = errors.New("notification not found")

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(tx *gorm.DB, payload NotificationPayload) (*models.Notification, error) {
	n := &models.Notification{
		RecipientID: payload.RecipientID,
		Message:     payload.Message,
		Link:        payload.Link,
	}
	if err := tx.Omit("Recipient").Create(n).Error; err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Store) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool) ([]models.Notification, error) {
	var notifications []models.Notification
	query := s.db.WithContext(ctx).Where("recipient_id = ?", userID)
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}
	err := query.Order("created_at DESC").Find(&notifications).Error
	return notifications, err
}

// MarkRead flags one notification of userID as read. Notifications of other
// users are reported as ErrNotFound.
func (s *Store) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND recipient_id = ?", id, userID).
		Update("is_read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

func (s *Store) Delete(ctx context.Context, userID, id uuid.UUID) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND recipient_id = ?", id, userID).
		Delete(&models.Notification{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("recipient_id = ?", userID).
		Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}

// HandleOutbox stores a queued notification.
func (s *Store) HandleOutbox(ctx context.Context, tx *gorm.DB, msg *models.OutboxMessage) error {
	var payload NotificationPayload
	if err := outbox.Decode(msg, &payload); err != nil {
		return err
	}
	_, err := s.Create(tx.WithContext(ctx), payload)
	return err
}
