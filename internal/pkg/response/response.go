// internal/pkg/response/response.go
package response

import (
	"errors"
	"net/http"

	xerrors "condo-session/internal/pkg/errors"

	"github.com/gin-gonic/gin"
)

// Response defines the standard API response format.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Success sends a successful response with a message and optional data.
func Success(c *gin.Context, status int, message string, data interface{}) {
	if status == 0 {
		status = http.StatusOK
	}

	c.JSON(status, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Error sends a standardized error response.
func Error(c *gin.Context, code int, message string, err error, data ...interface{}) {
	// Abort before writing so later handlers never run.
	c.Abort()

	response := Response{
		Success: false,
		Message: message,
	}

	if err != nil {
		response.Error = err.Error()
	}

	if len(data) > 0 {
		response.Data = data[0]
	}

	c.JSON(code, response)
}

// FromError picks the status for err from the shared sentinels.
func FromError(c *gin.Context, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, xerrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, xerrors.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, xerrors.ErrUnauthorized), errors.Is(err, xerrors.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, xerrors.ErrReadOnly):
		status = http.StatusForbidden
	case errors.Is(err, xerrors.ErrOffline):
		status = http.StatusServiceUnavailable
	}
	Error(c, status, message, err)
}

// ValidationError sends a 400 Bad Request response for invalid input.
func ValidationError(c *gin.Context, message string, err error) {
	Error(c, http.StatusBadRequest, message, err)
}

// Unauthorized sends a 401 Unauthorized response.
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, message, nil)
}

// NotFound sends a 404 Not Found response.
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message, nil)
}
