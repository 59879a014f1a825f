package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/farellandr/quariarbox/internal/helpers"
	"github.com/farellandr/quariarbox/internal/models"
	"github.com/farellandr/quariarbox/internal/receipts"
)

func receiptResponse(receipt *models.Receipt) gin.H {
	resp := gin.H{
		"id":             receipt.ID,
		"receipt_number": receipt.ReceiptNumber,
		"issued_at":      receipt.IssuedAt,
		"rendered":       receipt.RenderedAt != nil,
	}
	if p := receipt.Payment; p != nil {
		resp["payment"] = gin.H{
			"tx_ref":         p.TxRef,
			"transaction_id": p.TransactionID,
			"amount":         p.Amount.StringFixed(2),
			"method":         p.Method,
			"status":         p.Status,
		}
		resp["shipment"] = gin.H{
			"id":              p.Shipment.ID,
			"tracking_number": p.Shipment.TrackingNumber,
			"weight":          p.Shipment.Weight.StringFixed(2),
		}
		resp["customer"] = gin.H{
			"name":  p.User.DisplayName(),
			"email": p.User.Email,
		}
	}
	return resp
}

func (h *Handler) shipmentReceipt(c *gin.Context) (*models.Receipt, bool) {
	userID, ok := helpers.CurrentUserID(c)
	if !ok {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token.")
		return nil, false
	}
	shipmentID, ok := helpers.ParseUUIDParam(c, "shipment_id")
	if !ok {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid shipment ID.")
		return nil, false
	}

	receipt, err := h.receipts.ForShipment(c.Request.Context(), userID, shipmentID)
	if errors.Is(err, receipts.ErrNotFound) {
		helpers.RespondWithError(c, http.StatusNotFound, "Receipt not found.")
		return nil, false
	}
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving receipt.")
		return nil, false
	}
	return receipt, true
}

func (h *Handler) GetReceipt(c *gin.Context) {
	receipt, ok := h.shipmentReceipt(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipt": receiptResponse(receipt)})
}

// DownloadReceipt serves the stored document, rendering it now if the
// queued render has not run yet.
func (h *Handler) DownloadReceipt(c *gin.Context) {
	receipt, ok := h.shipmentReceipt(c)
	if !ok {
		return
	}

	path := receipt.DocumentPath
	if receipt.RenderedAt == nil || !helpers.FileExists(path) {
		rendered, err := h.receipts.Render(c.Request.Context(), receipt.ReceiptNumber)
		if err != nil {
			h.logger.Error("failed to render receipt", zap.String("receipt_number", receipt.ReceiptNumber), zap.Error(err))
			helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to generate receipt.")
			return
		}
		path = rendered.DocumentPath
	}

	c.Header("Content-Type", "application/pdf")
	c.FileAttachment(path, "receipt_"+receipt.ReceiptNumber+".pdf")
}

func (h *Handler) ValidateReceipt(c *gin.Context) {
	var validationRequest struct {
		QRData string `json:"qr_data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&validationRequest); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	receipt, err := h.receipts.Validate(c.Request.Context(), validationRequest.QRData)
	switch {
	case errors.Is(err, receipts.ErrInvalidToken):
		helpers.RespondWithError(c, http.StatusForbidden, "Invalid QR code signature")
		return
	case errors.Is(err, receipts.ErrNotFound):
		helpers.RespondWithError(c, http.StatusNotFound, "Receipt not found")
		return
	case err != nil:
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to validate receipt")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Receipt is valid",
		"receipt": receiptResponse(receipt),
	})
}
