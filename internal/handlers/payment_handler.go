package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/farellandr/quariarbox/internal/gateway"
	"github.com/farellandr/quariarbox/internal/helpers"
	"github.com/farellandr/quariarbox/internal/models"
	"github.com/farellandr/quariarbox/internal/payments"
	"github.com/farellandr/quariarbox/internal/reconciler"
)

func initiateErrorMessage(err error) string {
	switch {
	case errors.Is(err, gateway.ErrUnavailable):
		return "Error connecting to payment gateway please try again later"
	case errors.Is(err, gateway.ErrBadResponse):
		return "Received invalid response from payment gateway"
	default:
		return "Error initialising payment. Please try again."
	}
}

// InitiatePayment sends the payer to the gateway checkout page. A FAILED
// payment gets a fresh tx_ref first.
func (h *Handler) InitiatePayment(c *gin.Context) {
	userID, ok := helpers.CurrentUserID(c)
	if !ok {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token.")
		return
	}
	paymentID, ok := helpers.ParseUUIDParam(c, "id")
	if !ok {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid payment ID.")
		return
	}

	ctx := c.Request.Context()
	payment, err := h.payments.GetForUser(ctx, paymentID, userID)
	if errors.Is(err, payments.ErrNotFound) {
		helpers.RespondWithError(c, http.StatusNotFound, "Payment not found.")
		return
	}
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving payment.")
		return
	}

	redirect := func(level, message string) {
		out := reconciler.RedirectOutcome{ShipmentID: payment.ShipmentID, Status: payment.Status, Level: level, Message: message}
		c.Redirect(http.StatusFound, out.Location())
	}

	if payment.Status == models.PaymentPaid {
		redirect(reconciler.FlashInfo, "This shipment is already paid for.")
		return
	}

	if payment.Status == models.PaymentFailed {
		refreshed, err := h.payments.RefreshForRetry(ctx, payment.ID)
		if errors.Is(err, payments.ErrPaymentSettled) {
			redirect(reconciler.FlashInfo, "This shipment is already paid for.")
			return
		}
		if err != nil {
			h.logger.Error("failed to refresh payment", zap.String("payment_id", paymentID.String()), zap.Error(err))
			helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to prepare payment.")
			return
		}
		payment = refreshed
	}

	result, err := h.gateway.Initiate(ctx, h.payments.BuildGatewayPayload(payment))
	if err != nil {
		h.logger.Warn("payment initiation failed", zap.String("tx_ref", payment.TxRef), zap.Error(err))
		redirect(reconciler.FlashError, initiateErrorMessage(err))
		return
	}

	h.logger.Info("payment initiated", zap.String("tx_ref", payment.TxRef))
	c.Redirect(http.StatusFound, result.Link)
}

// VerifyPayment is the gateway's redirect_url.
func (h *Handler) VerifyPayment(c *gin.Context) {
	userID, ok := helpers.CurrentUserID(c)
	if !ok {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token.")
		return
	}

	out, err := h.reconciler.VerifyRedirect(c.Request.Context(), userID, reconciler.RedirectParams{
		Status:        c.Query("status"),
		TxRef:         c.Query("tx_ref"),
		TransactionID: c.Query("transaction_id"),
	})
	if errors.Is(err, payments.ErrNotFound) {
		helpers.RespondWithError(c, http.StatusNotFound, "Payment not found.")
		return
	}
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to verify payment.")
		return
	}
	c.Redirect(http.StatusFound, out.Location())
}

func (h *Handler) PaymentWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		helpers.RespondWithStatus(c, http.StatusInternalServerError, reconciler.WebhookInternalError)
		return
	}
	result := h.reconciler.HandleWebhook(c.Request.Context(), c.GetHeader("verif-hash"), body)
	helpers.RespondWithStatus(c, result.Code, result.Status)
}

func (h *Handler) PaymentHistory(c *gin.Context) {
	userID, ok := helpers.CurrentUserID(c)
	if !ok {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token.")
		return
	}
	page, limit := helpers.ParsePagination(c)

	list, total, err := h.payments.ListPaidForUser(c.Request.Context(), userID, page, limit)
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving payments.")
		return
	}

	items := make([]gin.H, 0, len(list))
	for i := range list {
		p := &list[i]
		item := gin.H{
			"id":              p.ID,
			"tx_ref":          p.TxRef,
			"amount":          p.Amount.StringFixed(2),
			"method":          p.Method,
			"status":          p.Status,
			"shipment_id":     p.ShipmentID,
			"tracking_number": p.Shipment.TrackingNumber,
			"created_at":      p.CreatedAt,
		}
		if p.Receipt != nil {
			item["receipt_number"] = p.Receipt.ReceiptNumber
		}
		items = append(items, item)
	}

	c.JSON(http.StatusOK, gin.H{
		"payments": items,
		"page":     page,
		"limit":    limit,
		"total":    total,
	})
}
