package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gastrack/gateway/internal/service"
	"github.com/gin-gonic/gin"
)

// APIKeyValidator resolves a presented key against the issued-key records.
// A key that was never issued passes through untouched - the admission
// filter still meters it under the default tier. Only a key that exists
// and has been revoked is rejected here.
func APIKeyValidator(apiKeyService *service.APIKeyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader("X-API-Key"))
		if key == "" {
			c.Next()
			return
		}

		apiKey, err := apiKeyService.Validate(c.Request.Context(), key)
		if err != nil || apiKey == nil {
			c.Next()
			return
		}

		if !apiKey.IsActive {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "API key has been revoked",
			})
			c.Abort()
			return
		}

		c.Set("api_key", apiKey)
		c.Set("api_key_id", apiKey.ID)
		c.Set("api_key_tier", apiKey.Tier)

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			apiKeyService.UpdateLastUsed(ctx, apiKey.ID)
		}()

		c.Next()
	}
}
