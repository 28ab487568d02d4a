package responses

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/supportdeck/agent-server/internal/utils/apperrors"
)

// ErrorResponse is the error payload returned to clients.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// HandleError maps a domain or repository error to an HTTP response.
func HandleError(c *gin.Context, err error, message string) {
	status := http.StatusInternalServerError
	requestID := ""

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status = apperrors.HTTPStatus(appErr)
		requestID = appErr.RequestID
	}
	if requestID == "" {
		requestID = apperrors.RequestID(c.Request.Context())
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     message,
		RequestID: requestID,
	})
}
