package api

import (
	"context"  // Ping deadlines
	"net/http" // HTTP status codes
	"time"     // Ping timeout

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"gorm.io/gorm"                 // GORM ORM library
)

// Component states reported by HealthHandler
const (
	StatusOK       = "ok"
	StatusDown     = "down"
	StatusDisabled = "disabled"
)

// HealthHandler reports liveness plus the state of the ledger database and Redis.
// Both are optional, so the gateway itself stays healthy when they are down.
func HealthHandler(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		ledgerState := StatusDisabled
		if db != nil {
			ledgerState = StatusOK
			if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
				ledgerState = StatusDown
			}
		}
		redisState := StatusDisabled
		if rdb != nil {
			redisState = StatusOK
			if err := rdb.Ping(ctx).Err(); err != nil {
				redisState = StatusDown
			}
		}
		status := StatusOK
		if ledgerState == StatusDown || redisState == StatusDown {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "ledger": ledgerState, "redis": redisState})
	}
}
