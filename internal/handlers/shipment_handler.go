package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/farellandr/quariarbox/internal/helpers"
	"github.com/farellandr/quariarbox/internal/models"
)

var maxWeight = decimal.RequireFromString("9999.99")

type CreateShipmentRequest struct {
	OriginAddress      string          `json:"origin_address" binding:"required,max=255"`
	DestinationAddress string          `json:"destination_address" binding:"required,max=255"`
	Weight             decimal.Decimal `json:"weight"`
}

type UpdateShipmentRequest struct {
	OriginAddress      *string          `json:"origin_address" binding:"omitempty,max=255"`
	DestinationAddress *string          `json:"destination_address" binding:"omitempty,max=255"`
	Weight             *decimal.Decimal `json:"weight"`
}

func validWeight(w decimal.Decimal) bool {
	return w.IsPositive() && w.LessThanOrEqual(maxWeight)
}

func newTrackingNumber() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

func (h *Handler) CreateShipment(c *gin.Context) {
	userID, ok := helpers.CurrentUserID(c)
	if !ok {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token.")
		return
	}

	var req CreateShipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid input. Please check your fields.")
		return
	}
	if !validWeight(req.Weight) {
		helpers.RespondWithError(c, http.StatusBadRequest, "Weight must be between 0.01 and 9999.99.")
		return
	}

	shipment := models.Shipment{
		TrackingNumber:     newTrackingNumber(),
		OriginAddress:      req.OriginAddress,
		DestinationAddress: req.DestinationAddress,
		Weight:             req.Weight.Round(2),
		Status:             models.ShipmentPending,
		UserID:             userID,
	}

	var payment *models.Payment
	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("User").Create(&shipment).Error; err != nil {
			return err
		}
		var err error
		payment, err = h.payments.CreateForShipment(tx, &shipment)
		return err
	})
	if err != nil {
		h.logger.Error("failed to create shipment", zap.Error(err))
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to create shipment.")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":  "Shipment created successfully.",
		"shipment": shipmentResponse(&shipment, payment),
	})
}

func (h *Handler) UpdateShipment(c *gin.Context) {
	userID, ok := helpers.CurrentUserID(c)
	if !ok {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token.")
		return
	}
	shipmentID, ok := helpers.ParseUUIDParam(c, "id")
	if !ok {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid shipment ID.")
		return
	}

	var req UpdateShipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid input. Please check your fields.")
		return
	}
	if req.Weight != nil && !validWeight(*req.Weight) {
		helpers.RespondWithError(c, http.StatusBadRequest, "Weight must be between 0.01 and 9999.99.")
		return
	}

	var shipment models.Shipment
	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ?", shipmentID, userID).First(&shipment).Error; err != nil {
			return err
		}

		updates := map[string]any{}
		if req.OriginAddress != nil {
			shipment.OriginAddress = *req.OriginAddress
			updates["origin_address"] = shipment.OriginAddress
		}
		if req.DestinationAddress != nil {
			shipment.DestinationAddress = *req.DestinationAddress
			updates["destination_address"] = shipment.DestinationAddress
		}
		if req.Weight != nil {
			shipment.Weight = req.Weight.Round(2)
			updates["weight"] = shipment.Weight
		}
		if len(updates) > 0 {
			if err := tx.Model(&shipment).Updates(updates).Error; err != nil {
				return err
			}
		}
		return h.payments.SyncAmount(tx, &shipment)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		helpers.RespondWithError(c, http.StatusNotFound, "Shipment not found.")
		return
	}
	if err != nil {
		h.logger.Error("failed to update shipment", zap.String("shipment_id", shipmentID.String()), zap.Error(err))
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to update shipment.")
		return
	}

	payment, err := h.payments.GetForShipment(c.Request.Context(), shipment.ID, userID)
	if err != nil {
		payment = nil
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "Shipment updated successfully.",
		"shipment": shipmentResponse(&shipment, payment),
	})
}

// GetShipment is also where payment redirects land, so the flash carried
// in the query string is echoed back.
func (h *Handler) GetShipment(c *gin.Context) {
	userID, ok := helpers.CurrentUserID(c)
	if !ok {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token.")
		return
	}
	shipmentID, ok := helpers.ParseUUIDParam(c, "id")
	if !ok {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid shipment ID.")
		return
	}

	var shipment models.Shipment
	err := h.db.WithContext(c.Request.Context()).Where("id = ? AND user_id = ?", shipmentID, userID).First(&shipment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		helpers.RespondWithError(c, http.StatusNotFound, "Shipment not found.")
		return
	}
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving shipment.")
		return
	}

	payment, err := h.payments.GetForShipment(c.Request.Context(), shipment.ID, userID)
	if err != nil {
		payment = nil
	}

	resp := gin.H{"shipment": shipmentResponse(&shipment, payment)}
	if msg := c.Query("flash"); msg != "" {
		resp["flash"] = gin.H{"level": c.DefaultQuery("flash_level", "info"), "message": msg}
	}
	c.JSON(http.StatusOK, resp)
}

func shipmentResponse(shipment *models.Shipment, payment *models.Payment) gin.H {
	resp := gin.H{
		"id":                  shipment.ID,
		"tracking_number":     shipment.TrackingNumber,
		"origin_address":      shipment.OriginAddress,
		"destination_address": shipment.DestinationAddress,
		"weight":              shipment.Weight.StringFixed(2),
		"cost":                shipment.Cost.StringFixed(2),
		"status":              shipment.Status,
	}
	if payment != nil {
		resp["payment"] = gin.H{
			"id":     payment.ID,
			"tx_ref": payment.TxRef,
			"amount": payment.Amount.StringFixed(2),
			"status": payment.Status,
		}
	}
	return resp
}
