package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Maksone34334/x402new/internal/cdp"
)

// SettleHandler relays settlement requests to the custodial signing
// service using server-held credentials.
type SettleHandler struct {
	relay  *cdp.Relay
	logger *zap.Logger
}

// NewSettleHandler builds a settlement relay handler.
func NewSettleHandler(relay *cdp.Relay, log *zap.Logger) *SettleHandler {
	return &SettleHandler{relay: relay, logger: log}
}

// Settle forwards the request body to the custodial service and passes
// through its status code, content type, and body verbatim.
func (h *SettleHandler) Settle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "Invalid request body"))
		return
	}

	result, err := h.relay.Settle(c.Request.Context(), body)
	if err != nil {
		if errors.Is(err, cdp.ErrNotConfigured) {
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "CDP credentials are not configured"))
			return
		}
		h.logger.Error("settlement relay failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "Settlement relay failed"))
		return
	}

	contentType := result.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(result.Status, contentType, result.Body)
}
