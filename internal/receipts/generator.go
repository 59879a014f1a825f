package receipts

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/farellandr/quariarbox/internal/helpers"
	"github.com/farellandr/quariarbox/internal/models"
	"github.com/farellandr/quariarbox/internal/outbox"
)

const maxNumberAttempts = 5

var ErrNotFound = errors.New("receipt not found")

type Config struct {
	Dir      string
	Company  string
	Currency string
}

// RenderTask is the outbox payload asking for a receipt document.
type RenderTask struct {
	ReceiptNumber string `json:"receipt_number"`
}

type Generator struct {
	db     *gorm.DB
	cfg    Config
	signer *Signer
	logger *zap.Logger
	now    func() time.Time
}

func NewGenerator(db *gorm.DB, cfg Config, signer *Signer, logger *zap.Logger) *Generator {
	if cfg.Company == "" {
		cfg.Company = "QuariarBox Courier"
	}
	if cfg.Currency == "" {
		cfg.Currency = "NGN"
	}
	return &Generator{
		db:     db,
		cfg:    cfg,
		signer: signer,
		logger: logger.With(zap.String("component", "receipts")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Issue returns the receipt of payment, creating it when there is none yet.
// It must run inside the caller's transaction. created reports whether this
// call inserted the receipt; only then is a render task queued.
func (g *Generator) Issue(tx *gorm.DB, payment *models.Payment) (*models.Receipt, bool, error) {
	existing, err := findByPayment(tx, payment.ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		now := g.now()
		receipt := &models.Receipt{
			PaymentID:     payment.ID,
			ReceiptNumber: NewNumber(now),
			IssuedAt:      now,
		}

		var inserted bool
		err := tx.Transaction(func(sp *gorm.DB) error {
			res := sp.Omit(clause.Associations).
				Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "payment_id"}}, DoNothing: true}).
				Create(receipt)
			if res.Error != nil {
				return res.Error
			}
			inserted = res.RowsAffected == 1
			return nil
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			g.logger.Warn("receipt number collision, retrying", zap.String("receipt_number", receipt.ReceiptNumber))
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("insert receipt: %w", err)
		}

		if !inserted {
			existing, err := findByPayment(tx, payment.ID)
			if err != nil {
				return nil, false, fmt.Errorf("reload receipt: %w", err)
			}
			return existing, false, nil
		}

		if err := outbox.Enqueue(tx, payment.ID, models.OutboxReceiptRender, receipt.ReceiptNumber, RenderTask{ReceiptNumber: receipt.ReceiptNumber}); err != nil {
			return nil, false, err
		}
		g.logger.Info("receipt issued",
			zap.String("receipt_number", receipt.ReceiptNumber),
			zap.String("tx_ref", payment.TxRef))
		return receipt, true, nil
	}

	return nil, false, fmt.Errorf("could not allocate a unique receipt number after %d attempts", maxNumberAttempts)
}

func findByPayment(tx *gorm.DB, paymentID uuid.UUID) (*models.Receipt, error) {
	var receipt models.Receipt
	if err := tx.Where("payment_id = ?", paymentID).Take(&receipt).Error; err != nil {
		return nil, err
	}
	return &receipt, nil
}

// DocumentPath is where the document of a receipt number is stored.
func (g *Generator) DocumentPath(number string) string {
	return filepath.Join(g.cfg.Dir, "receipt_"+number+".pdf")
}

// Render writes the receipt document once. Later calls are no-ops.
func (g *Generator) Render(ctx context.Context, number string) (*models.Receipt, error) {
	return g.render(g.db.WithContext(ctx), number)
}

// HandleOutbox renders the receipt named by a queued render task.
func (g *Generator) HandleOutbox(ctx context.Context, tx *gorm.DB, msg *models.OutboxMessage) error {
	var task RenderTask
	if err := outbox.Decode(msg, &task); err != nil {
		return err
	}
	_, err := g.render(tx.WithContext(ctx), task.ReceiptNumber)
	return err
}

func (g *Generator) render(db *gorm.DB, number string) (*models.Receipt, error) {
	receipt, err := g.loadByNumber(db, number)
	if err != nil {
		return nil, err
	}

	path := g.DocumentPath(number)
	if receipt.RenderedAt != nil && helpers.FileExists(receipt.DocumentPath) {
		return receipt, nil
	}

	if !helpers.FileExists(path) {
		content, err := g.document(receipt)
		if err != nil {
			return nil, fmt.Errorf("render receipt %s: %w", number, err)
		}
		if _, err := helpers.SaveDocument(g.cfg.Dir, filepath.Base(path), content); err != nil {
			return nil, fmt.Errorf("store receipt %s: %w", number, err)
		}
	}

	if receipt.RenderedAt == nil {
		renderedAt := g.now()
		err = db.Model(&models.Receipt{}).
			Where("id = ? AND rendered_at IS NULL", receipt.ID).
			Updates(map[string]any{"document_path": path, "rendered_at": renderedAt}).Error
		if err != nil {
			return nil, fmt.Errorf("record rendered receipt %s: %w", number, err)
		}
		receipt.RenderedAt = &renderedAt
	}
	// a document rebuilt after the first render keeps its original rendered_at
	if receipt.DocumentPath != path {
		err = db.Model(&models.Receipt{}).
			Where("id = ?", receipt.ID).
			Update("document_path", path).Error
		if err != nil {
			return nil, fmt.Errorf("record receipt path %s: %w", number, err)
		}
	}
	receipt.DocumentPath = path

	g.logger.Info("receipt rendered", zap.String("receipt_number", number), zap.String("path", path))
	return receipt, nil
}

func (g *Generator) document(receipt *models.Receipt) ([]byte, error) {
	payment := receipt.Payment
	var transactionID string
	if payment.TransactionID != nil {
		transactionID = *payment.TransactionID
	}

	return renderDocument(documentData{
		Company:        g.cfg.Company,
		Number:         receipt.ReceiptNumber,
		IssuedAt:       receipt.IssuedAt,
		CustomerName:   payment.User.DisplayName(),
		CustomerEmail:  payment.User.Email,
		TrackingNumber: payment.Shipment.TrackingNumber,
		Origin:         payment.Shipment.OriginAddress,
		Destination:    payment.Shipment.DestinationAddress,
		Weight:         payment.Shipment.Weight.StringFixed(2),
		TxRef:          payment.TxRef,
		TransactionID:  transactionID,
		Method:         string(payment.Method),
		Status:         string(payment.Status),
		Currency:       g.cfg.Currency,
		Amount:         payment.Amount.StringFixed(2),
		QRContent:      g.signer.Token(receipt.ReceiptNumber, payment.TxRef),
	})
}

func (g *Generator) loadByNumber(db *gorm.DB, number string) (*models.Receipt, error) {
	var receipt models.Receipt
	err := db.Preload("Payment.User").Preload("Payment.Shipment").
		Where("receipt_number = ?", number).
		Take(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// ForShipment returns the receipt of a shipment owned by userID.
func (g *Generator) ForShipment(ctx context.Context, userID, shipmentID uuid.UUID) (*models.Receipt, error) {
	var receipt models.Receipt
	err := g.db.WithContext(ctx).
		Preload("Payment.User").Preload("Payment.Shipment").
		Joins("JOIN payments ON payments.id = receipts.payment_id").
		Where("payments.shipment_id = ? AND payments.user_id = ?", shipmentID, userID).
		Take(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Validate resolves a scanned receipt token to its receipt.
func (g *Generator) Validate(ctx context.Context, token string) (*models.Receipt, error) {
	number, txRef, err := g.signer.Parse(token)
	if err != nil {
		return nil, err
	}
	receipt, err := g.loadByNumber(g.db.WithContext(ctx), number)
	if err != nil {
		return nil, err
	}
	if receipt.Payment == nil || receipt.Payment.TxRef != txRef {
		return nil, ErrInvalidToken
	}
	return receipt, nil
}
