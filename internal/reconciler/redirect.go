package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/farellandr/quariarbox/internal/models"
	"github.com/farellandr/quariarbox/internal/payments"
)

const (
	FlashSuccess = "success"
	FlashError   = "error"
	FlashInfo    = "info"
)

// RedirectParams are the query parameters the gateway appends when it sends
// the payer back.
type RedirectParams struct {
	Status        string
	TxRef         string
	TransactionID string
}

type RedirectOutcome struct {
	ShipmentID uuid.UUID
	Status     models.PaymentStatus
	Level      string
	Message    string
}

// Location is the shipment detail page carrying the flash message.
func (o *RedirectOutcome) Location() string {
	q := url.Values{}
	q.Set("flash_level", o.Level)
	q.Set("flash", o.Message)
	return fmt.Sprintf("/v1/shipments/%s?%s", o.ShipmentID, q.Encode())
}

// VerifyRedirect settles the payer's own payment from a gateway redirect.
// The redirect is untrusted: success is only accepted after the gateway
// confirms the transaction for the same tx_ref. payments.ErrNotFound is
// returned when the tx_ref is unknown or belongs to another user.
func (r *Reconciler) VerifyRedirect(ctx context.Context, userID uuid.UUID, params RedirectParams) (*RedirectOutcome, error) {
	log := r.logger.With(
		zap.String("tx_ref", params.TxRef),
		zap.String("transaction_id", params.TransactionID),
		zap.String("status", params.Status),
	)

	if params.TxRef == "" {
		return nil, payments.ErrNotFound
	}

	unlock := r.lock(ctx, params.TxRef)
	defer unlock()

	payment, err := r.payments.GetByTxRefForUser(ctx, params.TxRef, userID)
	if err != nil {
		if errors.Is(err, payments.ErrNotFound) {
			log.Warn("redirect for unknown or foreign payment")
		}
		return nil, err
	}
	outcome := &RedirectOutcome{ShipmentID: payment.ShipmentID, Status: payment.Status}

	if params.Status != "successful" {
		log.Info("gateway reported unsuccessful payment")
		meta := payments.EncodeMeta(map[string]string{"reason": params.Status})
		return r.fail(ctx, log, outcome, payment, params.TransactionID, meta, "Payment was not successful.")
	}

	verifyCtx, cancel := context.WithTimeout(ctx, r.cfg.VerifyTimeout)
	result, err := r.verifier.Verify(verifyCtx, params.TransactionID)
	cancel()
	if err != nil {
		log.Error("payment verification request failed", zap.Error(err))
		meta := payments.EncodeMeta(map[string]string{"error": err.Error()})
		return r.fail(ctx, log, outcome, payment, params.TransactionID, meta, "Payment verification failed. Please contact support.")
	}

	if !result.Verified(payment.TxRef) {
		log.Warn("payment verification mismatch",
			zap.String("verify_status", result.Status),
			zap.String("verified_tx_ref", result.TxRef))
		return r.fail(ctx, log, outcome, payment, params.TransactionID, result.Raw, "Payment verification failed.")
	}

	transactionID := params.TransactionID
	if transactionID == "" {
		transactionID = result.TransactionID
	}
	meta := result.Data
	if len(meta) == 0 {
		meta = result.Raw
	}

	tr, err := r.payments.MarkPaid(ctx, payment.ID, payments.PaidInput{TransactionID: transactionID, Meta: meta})
	if err != nil {
		log.Error("failed to mark payment paid", zap.Error(err))
		return nil, err
	}
	log.Info("payment verified", zap.Bool("changed", tr.Changed))

	outcome.Status = models.PaymentPaid
	outcome.Level = FlashSuccess
	outcome.Message = "Payment for shipment successful."
	return outcome, nil
}

func (r *Reconciler) fail(ctx context.Context, log *zap.Logger, outcome *RedirectOutcome, payment *models.Payment, transactionID string, meta json.RawMessage, message string) (*RedirectOutcome, error) {
	_, err := r.payments.MarkFailed(ctx, payment.ID, payments.FailedInput{TransactionID: transactionID, Meta: meta})
	if errors.Is(err, payments.ErrPaymentSettled) {
		log.Info("payment already paid, ignoring failure report")
		outcome.Status = models.PaymentPaid
		outcome.Level = FlashInfo
		outcome.Message = "This shipment is already paid for."
		return outcome, nil
	}
	if err != nil {
		log.Error("failed to mark payment failed", zap.Error(err))
		return nil, err
	}

	outcome.Status = models.PaymentFailed
	outcome.Level = FlashError
	outcome.Message = message
	return outcome, nil
}
