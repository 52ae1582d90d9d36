package handler

import (
	"net/http"

	"github.com/gastrack/gateway/internal/proxy"
	"github.com/gin-gonic/gin"
)

// SystemHandler exposes circuit breaker state for the proxied services.
type SystemHandler struct {
	proxies map[string]*proxy.Proxy
}

func NewSystemHandler(proxies map[string]*proxy.Proxy) *SystemHandler {
	return &SystemHandler{proxies: proxies}
}

func (h *SystemHandler) BreakerStatus(c *gin.Context) {
	statuses := make(map[string]interface{}, len(h.proxies))

	for path, p := range h.proxies {
		snap := p.BreakerSnapshot()
		statuses[path] = gin.H{
			"state":        snap.State.String(),
			"failures":     snap.Failures,
			"last_failure": snap.LastFailure,
			"changed_at":   snap.ChangedAt,
		}
	}

	c.JSON(http.StatusOK, statuses)
}

func (h *SystemHandler) ResetBreaker(c *gin.Context) {
	// Wildcard param includes the leading slash (e.g., "/api/reports")
	service := c.Param("service")

	p, exists := h.proxies[service]
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Service not found"})
		return
	}

	p.ResetBreaker()

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset successfully",
		"service": service,
	})
}
