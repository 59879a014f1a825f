package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/farellandr/quariarbox/internal/helpers"
	"github.com/farellandr/quariarbox/internal/notify"
)

func (h *Handler) ListNotifications(c *gin.Context) {
	userID, ok := helpers.CurrentUserID(c)
	if !ok {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token.")
		return
	}

	list, err := h.notifications.ListForUser(c.Request.Context(), userID, c.Query("unread") == "true")
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving notifications.")
		return
	}

	items := make([]gin.H, 0, len(list))
	for _, n := range list {
		items = append(items, gin.H{
			"id":         n.ID,
			"message":    n.Message,
			"link":       n.Link,
			"is_read":    n.IsRead,
			"created_at": n.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items})
}

func (h *Handler) MarkNotificationRead(c *gin.Context) {
	userID, ok := helpers.CurrentUserID(c)
	if !ok {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token.")
		return
	}
	notificationID, ok := helpers.ParseUUIDParam(c, "id")
	if !ok {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid notification ID.")
		return
	}

	err := h.notifications.MarkRead(c.Request.Context(), userID, notificationID)
	if errors.Is(err, notify.ErrNotFound) {
		helpers.RespondWithError(c, http.StatusNotFound, "Notification not found.")
		return
	}
	if err != nil {
		h.logger.Error("failed to mark notification read", zap.String("notification_id", notificationID.String()), zap.Error(err))
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error updating notification.")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notification marked as read."})
}

func (h *Handler) MarkAllNotificationsRead(c *gin.Context) {
	userID, ok := helpers.CurrentUserID(c)
	if !ok {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token.")
		return
	}

	updated, err := h.notifications.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to mark notifications read", zap.String("user_id", userID.String()), zap.Error(err))
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error updating notifications.")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "All notifications marked as read.", "updated": updated})
}

func (h *Handler) DeleteNotification(c *gin.Context) {
	userID, ok := helpers.CurrentUserID(c)
	if !ok {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token.")
		return
	}
	notificationID, ok := helpers.ParseUUIDParam(c, "id")
	if !ok {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid notification ID.")
		return
	}

	err := h.notifications.Delete(c.Request.Context(), userID, notificationID)
	if errors.Is(err, notify.ErrNotFound) {
		helpers.RespondWithError(c, http.StatusNotFound, "Notification not found.")
		return
	}
	if err != nil {
		h.logger.Error("failed to delete notification", zap.String("notification_id", notificationID.String()), zap.Error(err))
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error deleting notification.")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notification deleted."})
}

func (h *Handler) DeleteAllNotifications(c *gin.Context) {
	userID, ok := helpers.CurrentUserID(c)
	if !ok {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token.")
		return
	}

	deleted, err := h.notifications.DeleteAll(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to delete notifications", zap.String("user_id", userID.String()), zap.Error(err))
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error deleting notifications.")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "All notifications deleted.", "deleted": deleted})
}
