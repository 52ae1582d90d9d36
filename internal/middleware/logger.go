package middleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger writes one access log line per request, tagged with the request
// id and the caller identity when one was presented.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		caller := c.GetHeader("X-API-Key")
		if caller == "" {
			caller = "-"
		}

		log.Printf("[%s] %s %s - %d - %v - %s - caller=%s",
			c.GetString("request_id"),
			c.Request.Method,
			path,
			c.Writer.Status(),
			time.Since(start),
			c.ClientIP(),
			caller,
		)
	}
}
