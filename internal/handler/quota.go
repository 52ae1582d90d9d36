package handler

import (
	"errors"
	"net/http"

	"github.com/gastrack/gateway/internal/quota"
	"github.com/gastrack/gateway/internal/storage"
	"github.com/gin-gonic/gin"
)

// QuotaHandler is the operator-facing surface over the quota core: usage
// lookup, quota/tier mutation and counter reset. Unlike the request path,
// every route here fails with 503 when the store is down - a silent
// administrative no-op would be worse than a visible error.
type QuotaHandler struct {
	service *quota.Service
}

func NewQuotaHandler(service *quota.Service) *QuotaHandler {
	return &QuotaHandler{service: service}
}

func (h *QuotaHandler) storeGuard(c *gin.Context) bool {
	if !h.service.StoreReady() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Quota store unavailable",
		})
		return false
	}
	return true
}

// Usage returns the caller's consumption across all windows.
func (h *QuotaHandler) Usage(c *gin.Context) {
	if !h.storeGuard(c) {
		return
	}

	callerKey := c.Param("key")
	c.JSON(http.StatusOK, h.service.Usage(c.Request.Context(), callerKey))
}

type quotaRequest struct {
	Tier              *string `json:"tier"`
	RequestsPerMinute *int    `json:"requests_per_minute"`
	RequestsPerHour   *int    `json:"requests_per_hour"`
	RequestsPerDay    *int    `json:"requests_per_day"`
}

// SetQuota updates a caller's tier and/or custom quota. Input is validated
// before any store call; unsupplied quota fields keep their previous value.
func (h *QuotaHandler) SetQuota(c *gin.Context) {
	var req quotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	update := quota.QuotaUpdate{
		RequestsPerMinute: req.RequestsPerMinute,
		RequestsPerHour:   req.RequestsPerHour,
		RequestsPerDay:    req.RequestsPerDay,
	}

	if req.Tier == nil && update.IsEmpty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No fields to update"})
		return
	}

	var tier quota.Tier
	if req.Tier != nil {
		parsed, err := quota.ParseTier(*req.Tier)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tier = parsed
	}

	if err := update.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.storeGuard(c) {
		return
	}

	ctx := c.Request.Context()
	callerKey := c.Param("key")

	var cfg *quota.CallerConfig
	var err error

	if tier != "" {
		if cfg, err = h.service.SetTier(ctx, callerKey, tier); err != nil {
			h.mutationError(c, err)
			return
		}
	}
	if !update.IsEmpty() {
		if cfg, err = h.service.UpdateQuota(ctx, callerKey, update); err != nil {
			h.mutationError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, cfg)
}

// ResetCounters clears the caller's live counters in every window.
func (h *QuotaHandler) ResetCounters(c *gin.Context) {
	if !h.storeGuard(c) {
		return
	}

	callerKey := c.Param("key")
	if err := h.service.ResetCounters(c.Request.Context(), callerKey); err != nil {
		h.mutationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Counters reset successfully",
		"key":     callerKey,
	})
}

func (h *QuotaHandler) mutationError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Quota store unavailable"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
