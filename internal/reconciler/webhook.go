package reconciler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/farellandr/quariarbox/internal/helpers"
	"github.com/farellandr/quariarbox/internal/models"
	"github.com/farellandr/quariarbox/internal/payments"
)

const (
	WebhookReceived         = "Received"
	WebhookAlreadyProcessed = "Already processed"
	WebhookFailed           = "Failed"
	WebhookNotFound         = "No record of Payment"
	WebhookError            = "error"
	WebhookInternalError    = "Internal server error"
)

// WebhookResult is the HTTP status code and body status to answer with.
type WebhookResult struct {
	Code   int
	Status string
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		ID            flexString `json:"id"`
		TxRef         string     `json:"tx_ref"`
		TransactionID flexString `json:"transaction_id"`
		Status        string     `json:"status"`
	} `json:"data"`
}

// HandleWebhook authenticates a gateway notification and applies it.
// It never returns an error: every outcome, including a panic, maps to a
// WebhookResult.
func (r *Reconciler) HandleWebhook(ctx context.Context, signature string, body []byte) (result WebhookResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Unhandled panic in webhook", zap.Any("panic", rec), zap.Stack("stack"))
			result = WebhookResult{Code: http.StatusInternalServerError, Status: WebhookInternalError}
		}
	}()

	if !helpers.SecureCompare(signature, r.cfg.SecretHash) {
		r.logger.Warn("Invalid webhook signature", zap.Bool("signature_present", signature != ""))
		return WebhookResult{Code: http.StatusForbidden, Status: WebhookError}
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		r.logger.Error("Malformed webhook payload", zap.Error(err))
		return WebhookResult{Code: http.StatusInternalServerError, Status: WebhookInternalError}
	}

	txRef := payload.Data.TxRef
	transactionID := string(payload.Data.TransactionID)
	if transactionID == "" {
		transactionID = string(payload.Data.ID)
	}
	status := strings.ToLower(payload.Data.Status)

	log := r.logger.With(
		zap.String("tx_ref", txRef),
		zap.String("transaction_id", transactionID),
		zap.String("status", status),
	)
	log.Info("Webhook received", zap.String("event", payload.Event))

	unlock := r.lock(ctx, txRef)
	defer unlock()

	payment, err := r.payments.GetByTxRef(ctx, txRef)
	if errors.Is(err, payments.ErrNotFound) {
		log.Error("Payment not found")
		return WebhookResult{Code: http.StatusNotFound, Status: WebhookNotFound}
	}
	if err != nil {
		log.Error("Failed to load payment", zap.Error(err))
		return WebhookResult{Code: http.StatusInternalServerError, Status: WebhookInternalError}
	}

	if status == "successful" {
		if payment.Status == models.PaymentPaid {
			log.Info("Payment already PAID")
			return WebhookResult{Code: http.StatusOK, Status: WebhookAlreadyProcessed}
		}

		tr, err := r.payments.MarkPaid(ctx, payment.ID, payments.PaidInput{TransactionID: transactionID, Meta: body})
		if err != nil {
			log.Error("Failed to mark payment PAID", zap.Error(err))
			return WebhookResult{Code: http.StatusInternalServerError, Status: WebhookInternalError}
		}
		if !tr.Changed {
			log.Info("Payment already PAID")
			return WebhookResult{Code: http.StatusOK, Status: WebhookAlreadyProcessed}
		}
		log.Info("Payment marked as PAID")
		return WebhookResult{Code: http.StatusOK, Status: WebhookReceived}
	}

	if payment.Status == models.PaymentFailed || payment.Status == models.PaymentPaid {
		log.Info("Payment already settled, ignoring", zap.String("payment_status", string(payment.Status)))
		return WebhookResult{Code: http.StatusOK, Status: WebhookAlreadyProcessed}
	}

	tr, err := r.payments.MarkFailed(ctx, payment.ID, payments.FailedInput{TransactionID: transactionID, Meta: body})
	if errors.Is(err, payments.ErrPaymentSettled) {
		log.Info("Payment already PAID, ignoring failure")
		return WebhookResult{Code: http.StatusOK, Status: WebhookAlreadyProcessed}
	}
	if err != nil {
		log.Error("Failed to mark payment FAILED", zap.Error(err))
		return WebhookResult{Code: http.StatusInternalServerError, Status: WebhookInternalError}
	}
	if !tr.Changed {
		log.Info("Payment already FAILED")
		return WebhookResult{Code: http.StatusOK, Status: WebhookAlreadyProcessed}
	}
	log.Warn("Payment marked as FAILED", zap.String("reason", status))
	return WebhookResult{Code: http.StatusForbidden, Status: WebhookFailed}
}
