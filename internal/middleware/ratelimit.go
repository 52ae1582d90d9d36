package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gastrack/gateway/internal/config"
	"github.com/gastrack/gateway/internal/quota"
	"github.com/gin-gonic/gin"
)

// AdmissionService is the slice of the quota service the filter needs.
type AdmissionService interface {
	CheckLimit(ctx context.Context, callerKey string) quota.AdmissionStatus
	RecordRequest(ctx context.Context, callerKey string)
	StoreReady() bool
}

// AdmissionFilter enforces per-caller quotas on every inbound request.
//
// Identity comes from the X-API-Key header, falling back to a bearer token.
// When neither is present, or when the counter store is down, the
// configured fallback policy decides between letting the request through
// untracked and rejecting it outright.
func AdmissionFilter(svc AdmissionService, policy config.FallbackPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		callerKey, ok := extractCallerKey(c)
		if !ok {
			switch policy {
			case config.FallbackStrict:
				c.JSON(http.StatusUnauthorized, gin.H{
					"error": "API key required",
				})
				c.Abort()
			default:
				setUnlimitedHeaders(c)
				c.Next()
			}
			return
		}

		if !svc.StoreReady() {
			switch policy {
			case config.FallbackStrict:
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"error": "Rate limiting temporarily unavailable",
				})
				c.Abort()
			default:
				log.Printf("quota store unavailable, admitting %s untracked", callerKey)
				setUnlimitedHeaders(c)
				c.Next()
			}
			return
		}

		status := svc.CheckLimit(c.Request.Context(), callerKey)

		c.Header("X-RateLimit-Limit", headerValue(status.Limit))
		c.Header("X-RateLimit-Remaining", headerValue(status.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", status.ResetTime))

		if !status.Allowed {
			retryAfter := status.ResetTime - time.Now().Unix()
			if retryAfter < 0 {
				retryAfter = 0
			}

			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       fmt.Sprintf("Rate limit exceeded for %s window", status.Window),
				"window":      status.Window.String(),
				"retry_after": retryAfter,
			})
			c.Abort()
			return
		}

		// Counting happens off the request path. The response does not wait
		// for it; a lost increment is logged inside the engine and dropped.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			svc.RecordRequest(ctx, callerKey)
		}()

		c.Next()
	}
}

// extractCallerKey pulls the caller identity from the primary identity
// header, then from a bearer token. The second return is false only when
// neither header carries a value; an unknown key is still an identity.
func extractCallerKey(c *gin.Context) (string, bool) {
	if key := strings.TrimSpace(c.GetHeader("X-API-Key")); key != "" {
		return key, true
	}

	auth := c.GetHeader("Authorization")
	if token, found := strings.CutPrefix(auth, "Bearer "); found {
		if token = strings.TrimSpace(token); token != "" {
			return token, true
		}
	}

	return "", false
}

func setUnlimitedHeaders(c *gin.Context) {
	c.Header("X-RateLimit-Limit", headerValue(quota.Unlimited))
	c.Header("X-RateLimit-Remaining", headerValue(quota.Unlimited))
	c.Header("X-RateLimit-Reset", "0")
}

func headerValue(n int) string {
	if n < 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", n)
}
