package middleware

import (
	"net/http"                    // HTTP status codes
	"x402_gateway/internal/utils" // Role names

	"github.com/gin-gonic/gin" // Gin web framework
)

// AdminOnlyMiddleware requires the admin role claim set by JWTAuthMiddleware
func AdminOnlyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(RoleKey)
		// No token was validated upstream of this handler
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		if role != utils.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}
