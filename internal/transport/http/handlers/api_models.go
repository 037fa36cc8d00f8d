package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// SearchRequest defines the payload for the paid lookup endpoint.
type SearchRequest struct {
	Request string `json:"request" binding:"required"`
	Limit   int    `json:"limit"`
	Lang    string `json:"lang"`
}

// RateLimitTierStats summarizes one limiter tier for the admin endpoint.
type RateLimitTierStats struct {
	Name          string `json:"name"`
	MaxRequests   int    `json:"max_requests"`
	WindowMs      int64  `json:"window_ms"`
	TrackedKeys   int    `json:"tracked_keys"`
	ActiveEntries int    `json:"active_entries"`
}

// RateLimitStatsResponse wraps both limiter tiers.
type RateLimitStatsResponse struct {
	Paid      RateLimitTierStats `json:"paid"`
	Anonymous RateLimitTierStats `json:"anonymous"`
	Timestamp time.Time          `json:"timestamp"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}
