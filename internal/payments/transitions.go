package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/farellandr/quariarbox/internal/models"
)

type PaidInput struct {
	TransactionID string
	Meta          json.RawMessage
	// SkipReceipt marks the payment paid without issuing a receipt.
	SkipReceipt bool
}

type FailedInput struct {
	TransactionID string
	Meta          json.RawMessage
}

// Transition is the outcome of a state change request. Changed is true only
// for the call that actually moved the payment into its new status.
type Transition struct {
	Payment  *models.Payment
	Receipt  *models.Receipt
	Previous models.PaymentStatus
	Changed  bool
}

// MarkPaid settles the payment. Calling it again on a PAID payment records the
// new gateway reference, returns the existing receipt and queues no side effects.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, in PaidInput) (*Transition, error) {
	var result Transition
	queued := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockPayment(tx, id)
		if err != nil {
			return err
		}
		result.Previous = current.Status
		now := s.now()

		updates := gatewayUpdates(in.TransactionID, in.Meta)
		updates["status"] = models.PaymentPaid
		updates["updated_at"] = now
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status <> ?", id, models.PaymentPaid).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("mark paid: %w", res.Error)
		}
		result.Changed = res.RowsAffected == 1

		if !result.Changed {
			s.auditOverwrite(current, in.TransactionID, in.Meta)
			refresh := gatewayUpdates(in.TransactionID, in.Meta)
			refresh["updated_at"] = now
			if err := tx.Model(&models.Payment{}).Where("id = ?", id).Updates(refresh).Error; err != nil {
				return fmt.Errorf("update settled payment: %w", err)
			}
		}

		payment, err := loadPayment(tx, id)
		if err != nil {
			return err
		}
		result.Payment = payment

		created := false
		if !in.SkipReceipt {
			receipt, isNew, err := s.receipts.Issue(tx, payment)
			if err != nil {
				return fmt.Errorf("issue receipt: %w", err)
			}
			result.Receipt = receipt
			payment.Receipt = receipt
			created = isNew
			queued = queued || created
		}

		switch {
		case result.Changed:
			if err := s.enqueuePaid(tx, payment, result.Receipt); err != nil {
				return err
			}
			queued = true
		case created:
			// paid earlier without a receipt
			if err := s.enqueueReceiptIssued(tx, payment, result.Receipt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		s.logger.Info("payment marked paid",
			zap.String("tx_ref", result.Payment.TxRef),
			zap.String("previous_status", string(result.Previous)),
			zap.String("transaction_id", in.TransactionID))
	}
	if queued {
		s.wake()
	}
	return &result, nil
}

// MarkFailed records a failed attempt. A PAID payment is never demoted:
// ErrPaymentSettled is returned and nothing changes.
func (s *Service) MarkFailed(ctx context.Context, id uuid.UUID, in FailedInput) (*Transition, error) {
	var result Transition

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockPayment(tx, id)
		if err != nil {
			return err
		}
		result.Previous = current.Status
		if current.Status == models.PaymentPaid {
			return ErrPaymentSettled
		}
		now := s.now()

		updates := gatewayUpdates(in.TransactionID, in.Meta)
		updates["status"] = models.PaymentFailed
		updates["updated_at"] = now
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", id, models.PaymentPending).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("mark failed: %w", res.Error)
		}
		result.Changed = res.RowsAffected == 1

		if !result.Changed {
			s.auditOverwrite(current, in.TransactionID, in.Meta)
			refresh := gatewayUpdates(in.TransactionID, in.Meta)
			refresh["updated_at"] = now
			res := tx.Model(&models.Payment{}).
				Where("id = ? AND status = ?", id, models.PaymentFailed).
				Updates(refresh)
			if res.Error != nil {
				return fmt.Errorf("update failed payment: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrPaymentSettled
			}
		}

		payment, err := loadPayment(tx, id)
		if err != nil {
			return err
		}
		result.Payment = payment

		if result.Changed {
			return s.enqueueFailed(tx, payment)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		s.logger.Info("payment marked failed",
			zap.String("tx_ref", result.Payment.TxRef),
			zap.String("transaction_id", in.TransactionID))
		s.wake()
	}
	return &result, nil
}

// RefreshForRetry gives a FAILED payment a new tx_ref and returns it to
// PENDING with the previous gateway reference cleared. A PENDING payment is
// returned unchanged.
func (s *Service) RefreshForRetry(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var refreshed *models.Payment
	changed := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockPayment(tx, id)
		if err != nil {
			return err
		}

		switch current.Status {
		case models.PaymentPaid:
			return ErrPaymentSettled
		case models.PaymentPending:
			refreshed, err = loadPayment(tx, id)
			return err
		}

		var newRef string
		for attempt := 0; ; attempt++ {
			if attempt == maxTxRefAttempts {
				return ErrTxRefExhausted
			}
			newRef = NewTxRef()

			var rows int64
			err := tx.Transaction(func(sp *gorm.DB) error {
				res := sp.Model(&models.Payment{}).
					Where("id = ? AND status = ?", id, models.PaymentFailed).
					Updates(map[string]any{
						"tx_ref":         newRef,
						"status":         models.PaymentPending,
						"transaction_id": nil,
						"meta":           nil,
						"updated_at":     s.now(),
					})
				rows = res.RowsAffected
				return res.Error
			})
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				s.logger.Warn("tx_ref collision, retrying", zap.String("tx_ref", newRef))
				continue
			}
			if err != nil {
				return fmt.Errorf("refresh payment: %w", err)
			}
			if rows == 0 {
				return ErrPaymentSettled
			}
			break
		}

		refreshed, err = loadPayment(tx, id)
		if err != nil {
			return err
		}
		changed = true
		s.logger.Info("payment refreshed for retry",
			zap.String("old_tx_ref", current.TxRef),
			zap.String("tx_ref", newRef))
		return s.enqueueStatus(tx, refreshed, nil)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.wake()
	}
	return refreshed, nil
}

func gatewayUpdates(transactionID string, meta json.RawMessage) map[string]any {
	updates := map[string]any{}
	if transactionID != "" {
		updates["transaction_id"] = transactionID
	}
	if meta != nil {
		updates["meta"] = datatypes.JSON(meta)
	}
	return updates
}

// auditOverwrite logs gateway data replacing what an already settled
// payment recorded. The newest report wins.
func (s *Service) auditOverwrite(current *models.Payment, transactionID string, meta json.RawMessage) {
	var oldTransactionID string
	if current.TransactionID != nil {
		oldTransactionID = *current.TransactionID
	}
	transactionChanged := transactionID != "" && transactionID != oldTransactionID
	metaChanged := meta != nil && !bytes.Equal(current.Meta, meta)
	if !transactionChanged && !metaChanged {
		return
	}

	s.logger.Warn("overwriting gateway data of settled payment",
		zap.String("tx_ref", current.TxRef),
		zap.String("status", string(current.Status)),
		zap.String("old_transaction_id", oldTransactionID),
		zap.String("new_transaction_id", transactionID),
		zap.ByteString("old_meta", current.Meta),
		zap.ByteString("new_meta", meta))
}

func (s *Service) wake() {
	if s.trigger != nil {
		s.trigger.Trigger()
	}
}
