package middleware

import (
	"net/http" // HTTP status codes
	"time"     // Request duration

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/google/uuid"     // Request IDs
	"github.com/sirupsen/logrus" // Structured logging
)

// Request ID header and context key
const (
	HeaderRequestID = "X-Request-ID"
	RequestIDKey    = "requestID"
)

// RequestID keeps a caller-supplied request ID or assigns a new one, echoing it on the response
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// RequestLogger logs one structured line per request
func RequestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"request_id": c.GetString(RequestIDKey),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).String(),
			"client":     c.ClientIP(),
		})
		if wallet := c.GetString(WalletKey); wallet != "" {
			entry = entry.WithField("wallet", wallet)
		}
		if mode := c.GetString(BillingModeKey); mode != "" {
			entry = entry.WithField("billing_mode", mode)
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("Request served")
			return
		}
		entry.Info("Request served")
	}
}
