package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-presence/internal/core"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidArgument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, core.ErrForbidden):
		// Non-owners editing a message get 401, as the existing clients expect.
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a service error onto a status code and body. Store
// failures are logged and reported without details.
func writeError(c *gin.Context, logger *zerolog.Logger, err error, msg string) {
	status := statusFromError(err)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Str("request_id", c.GetString(ContextKeyRequestID)).Msg(msg)
		c.JSON(status, ErrorResponse{Error: "internal server error"})
		return
	}
	logger.Debug().Err(err).Int("status", status).Msg(msg)
	c.JSON(status, ErrorResponse{Error: err.Error()})
}
