package helpers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

func HTTPStatusText(code int) string {
	return http.StatusText(code)
}

func RespondWithError(c *gin.Context, statusCode int, customMessage string) {
	c.AbortWithStatusJSON(statusCode, ErrorResponse{
		Error:   HTTPStatusText(statusCode),
		Message: customMessage,
	})
}

// RespondWithStatus writes the {"status": ...} body the payment gateway expects
// from webhook endpoints.
func RespondWithStatus(c *gin.Context, statusCode int, status string) {
	c.AbortWithStatusJSON(statusCode, StatusResponse{Status: status})
}
