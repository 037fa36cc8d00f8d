package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Maksone34334/x402new/internal/ratelimit"
)

// AdminHandler exposes operator-only introspection endpoints.
type AdminHandler struct {
	paid      *ratelimit.Limiter
	anonymous *ratelimit.Limiter
}

// NewAdminHandler builds an admin handler over both limiter tiers.
func NewAdminHandler(paid, anonymous *ratelimit.Limiter) *AdminHandler {
	return &AdminHandler{paid: paid, anonymous: anonymous}
}

// RateLimits returns current counters for both limiter tiers.
func (h *AdminHandler) RateLimits(c *gin.Context) {
	c.JSON(http.StatusOK, RateLimitStatsResponse{
		Paid:      tierStats(h.paid),
		Anonymous: tierStats(h.anonymous),
		Timestamp: time.Now().UTC(),
	})
}

func tierStats(limiter *ratelimit.Limiter) RateLimitTierStats {
	if limiter == nil {
		return RateLimitTierStats{}
	}

	stats := limiter.Stats()
	return RateLimitTierStats{
		Name:          stats.Name,
		MaxRequests:   stats.MaxRequests,
		WindowMs:      stats.WindowMs,
		TrackedKeys:   stats.TrackedKeys,
		ActiveEntries: stats.ActiveEntries,
	}
}
