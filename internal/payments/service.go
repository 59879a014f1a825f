package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/farellandr/quariarbox/internal/models"
)

type Config struct {
	SiteURL  string
	Currency string
	Title    string
	Logo     string
}

// ReceiptIssuer returns the receipt of a payment, creating it if needed,
// inside the caller's transaction.
type ReceiptIssuer interface {
	Issue(tx *gorm.DB, payment *models.Payment) (*models.Receipt, bool, error)
}

// Trigger is told when committed work has been queued for delivery.
type Trigger interface {
	Trigger()
}

type Service struct {
	db       *gorm.DB
	cfg      Config
	receipts ReceiptIssuer
	trigger  Trigger
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(db *gorm.DB, cfg Config, receipts ReceiptIssuer, trigger Trigger, logger *zap.Logger) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "NGN"
	}
	if cfg.Title == "" {
		cfg.Title = "QuariarBox Courier"
	}
	if cfg.Logo == "" {
		cfg.Logo = cfg.SiteURL + "/static/img/gallery/logo.png"
	}
	return &Service{
		db:       db,
		cfg:      cfg,
		receipts: receipts,
		trigger:  trigger,
		logger:   logger.With(zap.String("component", "payments")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// EncodeMeta marshals v for use as payment metadata. Values that cannot be
// marshalled are recorded as null.
func EncodeMeta(v any) json.RawMessage {
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

// CreateForShipment creates the pending payment of a newly created shipment.
// It runs in the caller's transaction so the shipment and its payment commit together.
func (s *Service) CreateForShipment(tx *gorm.DB, shipment *models.Shipment) (*models.Payment, error) {
	var existing models.Payment
	err := tx.Where("shipment_id = ?", shipment.ID).Take(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	amount := AmountForWeight(shipment.Weight)
	if err := tx.Model(shipment).Update("cost", amount).Error; err != nil {
		return nil, fmt.Errorf("update shipment cost: %w", err)
	}
	shipment.Cost = amount

	for attempt := 0; attempt < maxTxRefAttempts; attempt++ {
		payment := &models.Payment{
			TxRef:      NewTxRef(),
			UserID:     shipment.UserID,
			ShipmentID: shipment.ID,
			Amount:     amount,
			Method:     models.MethodCard,
			Status:     models.PaymentPending,
		}
		err := tx.Transaction(func(sp *gorm.DB) error {
			return sp.Omit(clause.Associations).Create(payment).Error
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Either the tx_ref collided or a concurrent request created the
			// payment for this shipment first.
			if err := tx.Where("shipment_id = ?", shipment.ID).Take(&existing).Error; err == nil {
				return &existing, nil
			}
			s.logger.Warn("tx_ref collision, retrying", zap.String("tx_ref", payment.TxRef))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create payment: %w", err)
		}

		s.logger.Info("payment created",
			zap.String("tx_ref", payment.TxRef),
			zap.String("shipment_id", shipment.ID.String()),
			zap.String("amount", amount.StringFixed(2)))
		return payment, nil
	}
	return nil, ErrTxRefExhausted
}

// SyncAmount recomputes the shipment cost and the amount of its unsettled
// payment after the shipment was edited. The amount of a PAID payment is frozen.
func (s *Service) SyncAmount(tx *gorm.DB, shipment *models.Shipment) error {
	amount := AmountForWeight(shipment.Weight)
	if err := tx.Model(shipment).Update("cost", amount).Error; err != nil {
		return fmt.Errorf("update shipment cost: %w", err)
	}
	shipment.Cost = amount

	res := tx.Model(&models.Payment{}).
		Where("shipment_id = ? AND status <> ?", shipment.ID, models.PaymentPaid).
		Updates(map[string]any{"amount": amount, "updated_at": s.now()})
	if res.Error != nil {
		return fmt.Errorf("sync payment amount: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		s.logger.Debug("no unsettled payment to sync", zap.String("shipment_id", shipment.ID.String()))
	}
	return nil
}

func (s *Service) GetByTxRef(ctx context.Context, txRef string) (*models.Payment, error) {
	return s.find(s.db.WithContext(ctx).Where("tx_ref = ?", txRef))
}

func (s *Service) GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Payment, error) {
	return s.find(s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID))
}

func (s *Service) GetByTxRefForUser(ctx context.Context, txRef string, userID uuid.UUID) (*models.Payment, error) {
	return s.find(s.db.WithContext(ctx).Where("tx_ref = ? AND user_id = ?", txRef, userID))
}

func (s *Service) GetForShipment(ctx context.Context, shipmentID, userID uuid.UUID) (*models.Payment, error) {
	return s.find(s.db.WithContext(ctx).Where("shipment_id = ? AND user_id = ?", shipmentID, userID))
}

// ListPaidForUser returns one page of the user's paid payments, newest first,
// and the total number of paid payments.
func (s *Service) ListPaidForUser(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.Payment, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	paid := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.Payment{}).
			Where("user_id = ? AND status = ?", userID, models.PaymentPaid)
	}

	var total int64
	if err := paid().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var payments []models.Payment
	err := paid().Preload("Shipment").Preload("Receipt").
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

func (s *Service) find(query *gorm.DB) (*models.Payment, error) {
	var payment models.Payment
	err := query.Preload("User").Preload("Shipment").Preload("Receipt").Take(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func lockPayment(tx *gorm.DB, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func loadPayment(tx *gorm.DB, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := tx.Preload("User").Preload("Shipment").Where("id = ?", id).Take(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}
