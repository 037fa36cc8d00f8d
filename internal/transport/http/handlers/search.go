package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Maksone34334/x402new/internal/infra/logger"
	"github.com/Maksone34334/x402new/internal/osint"
	"github.com/Maksone34334/x402new/internal/transport/http/middleware"
	"github.com/Maksone34334/x402new/internal/x402"
)

// SearchHandler serves the paid intelligence lookup endpoint.
type SearchHandler struct {
	payments *x402.ResourceServer
	lookups  *osint.Client
	metrics  *middleware.HTTPMetrics
	logger   *zap.Logger
}

// NewSearchHandler builds a search handler bound to the payment gate and
// the upstream lookup client.
func NewSearchHandler(payments *x402.ResourceServer, lookups *osint.Client, metrics *middleware.HTTPMetrics, log *zap.Logger) *SearchHandler {
	return &SearchHandler{
		payments: payments,
		lookups:  lookups,
		metrics:  metrics,
		logger:   log,
	}
}

// Search gates the lookup behind the payment handshake. Settlement runs
// strictly after a successful lookup; a failed lookup never settles.
func (h *SearchHandler) Search(c *gin.Context) {
	ctx := c.Request.Context()

	gate, err := h.payments.Process(ctx, x402.RequestInfo{
		Method: c.Request.Method,
		Path:   c.Request.URL.Path,
		Header: c.GetHeader,
	})
	if err != nil {
		h.logger.Error("payment gate unavailable", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "Payment verification unavailable"))
		return
	}

	if gate.Kind == x402.KindPaymentError {
		h.recordPayment("challenged")
		h.writePaymentError(c, gate.Response)
		return
	}
	if gate.Kind == x402.KindPaymentVerified {
		h.recordPayment("verified")
	}

	// Input validation happens behind the gate: an unpaid request is
	// answered with a challenge before its body is ever inspected.
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "Search request is required"))
		return
	}

	document, err := h.lookups.Search(ctx, osint.Query{
		Request: req.Request,
		Limit:   req.Limit,
		Lang:    req.Lang,
	})
	if err != nil {
		h.logger.Warn("lookup failed",
			zap.String("query", logger.MaskQuery(req.Request)),
			zap.Error(err),
		)
		h.respondLookupError(c, err)
		return
	}

	if gate.Kind == x402.KindPaymentVerified {
		outcome := h.payments.Settle(ctx, gate.Payload, gate.Requirements)
		if outcome.Success {
			h.recordPayment("settled")
			for name, value := range outcome.Headers {
				c.Header(name, value)
			}
		} else {
			h.recordPayment("settle_failed")
		}
	}

	c.Data(http.StatusOK, "application/json", document)
}

// writePaymentError renders a challenge or rejection. The body is enriched
// with decoded header context so callers can debug a failed handshake
// without parsing base64 themselves; a decode failure of the enrichment
// never masks the payment error itself.
func (h *SearchHandler) writePaymentError(c *gin.Context, resp *x402.ChallengeResponse) {
	if resp == nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "Payment verification unavailable"))
		return
	}

	for name, value := range resp.Headers {
		c.Header(name, value)
	}

	body := make(map[string]any, len(resp.Body)+2)
	for k, v := range resp.Body {
		body[k] = v
	}
	if required := resp.Headers[x402.HeaderPaymentRequired]; required != "" {
		body["x402_payment_required"] = x402.DecodePaymentRequiredLenient(required)
	}
	if signature := c.GetHeader(x402.HeaderPaymentSignature); signature != "" {
		body["x402_payment_signature"] = x402.DecodePaymentSignatureLenient(signature)
	}

	c.JSON(resp.Status, body)
}

func (h *SearchHandler) respondLookupError(c *gin.Context, err error) {
	var reported *osint.ReportedError
	if errors.As(err, &reported) {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "Lookup failed: "+reported.Code))
		return
	}

	var status *osint.StatusError
	if errors.As(err, &status) {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, status.Error()))
		return
	}

	RespondWithMappedError(c, err, []ErrorCase{
		{Err: osint.ErrEmptyQuery, Status: http.StatusBadRequest, Message: "Search request is required"},
		{Err: osint.ErrInvalidToken, Status: http.StatusUnauthorized, Message: "Invalid API Token"},
		{Err: osint.ErrNotConfigured, Status: http.StatusInternalServerError, Message: "Search service is not configured"},
	}, http.StatusInternalServerError, "Search failed")
}

func (h *SearchHandler) recordPayment(outcome string) {
	if h.metrics != nil {
		h.metrics.RecordPaymentOutcome(outcome)
	}
}
