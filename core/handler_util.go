package core

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// respondError sends unified error payload {"error": {"code", "message"}}.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// respondServiceError maps workflow errors onto the error envelope. Validation
// and not-found messages are shown to the caller; store failures are logged
// and reported generically.
func respondServiceError(c *gin.Context, logger *slog.Logger, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", verr.Error())
	case errors.Is(err, ErrAccountExists):
		respondError(c, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrNoPendingCode):
		respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ErrSchemaMissing):
		logger.ErrorContext(c.Request.Context(), "schema missing", "error", err)
		respondError(c, http.StatusServiceUnavailable, "SCHEMA_MISSING", err.Error())
	default:
		logger.ErrorContext(c.Request.Context(), "request failed", "path", c.Request.URL.Path, "error", err)
		respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "operation failed")
	}
}
