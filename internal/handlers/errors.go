package handlers

import (
	"errors"
	"net/http"

	"github.com/atharvakonge/classroom-market/internal/apperr"
	"github.com/gin-gonic/gin"
)

var statusByKind = map[apperr.Kind]int{
	apperr.KindNotFound:           http.StatusNotFound,
	apperr.KindInvalidAmount:      http.StatusBadRequest,
	apperr.KindInvalidQuantity:    http.StatusBadRequest,
	apperr.KindInvalidInput:       http.StatusBadRequest,
	apperr.KindInsufficientFunds:  http.StatusBadRequest,
	apperr.KindInsufficientShares: http.StatusBadRequest,
	apperr.KindDuplicateUsername:  http.StatusConflict,
	apperr.KindDuplicateCode:      http.StatusConflict,
	apperr.KindUnauthorized:       http.StatusForbidden,
	apperr.KindStorage:            http.StatusInternalServerError,
}

// respondError writes err as {"error", "kind"}. Storage faults are logged
// and their detail is not sent to the client.
func (h *Handler) respondError(c *gin.Context, err error) {
	if errors.Is(err, ErrProcessorStopped) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("unexpected error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	status, ok := statusByKind[appErr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	msg := appErr.Error()
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		msg = appErr.Msg
	}
	c.JSON(status, gin.H{"error": msg, "kind": appErr.Kind.String()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": apperr.KindInvalidInput.String()})
}
