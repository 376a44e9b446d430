package api

import (
	"crypto/subtle"               // Constant time comparison
	"net/http"                    // HTTP status codes
	"time"                        // Token lifetime
	"x402_gateway/internal/utils" // Utility functions

	"github.com/gin-gonic/gin"   // Gin web framework
	"golang.org/x/crypto/bcrypt" // Password hashing
)

// Request struct for login
type LoginRequest struct {
	Username string `json:"username" binding:"required"` // Username must be provided
	Password string `json:"password" binding:"required"` // Password must be provided
}

// Response struct for authentication
type AuthResponse struct {
	Token     string `json:"token"`      // JWT token
	ExpiresIn int64  `json:"expires_in"` // Lifetime in seconds
}

// AdminCredentials configures the single admin account
type AdminCredentials struct {
	Username     string        // Admin login name
	PasswordHash string        // Bcrypt hash of the password
	JWTSecret    string        // Token signing key
	TokenTTL     time.Duration // Token lifetime
}

// LoginHandler checks the admin credentials and returns a JWT token
func LoginHandler(creds AdminCredentials) gin.HandlerFunc {
	if creds.TokenTTL <= 0 {
		creds.TokenTTL = 24 * time.Hour // Token expires in 24 hours
	}
	return func(c *gin.Context) {
		var req LoginRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(creds.Username)) == 1
		// bcrypt runs even when the username is wrong
		passErr := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(req.Password))
		if !userOK || passErr != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		token, err := utils.GenerateJWT(creds.Username, utils.RoleAdmin, creds.JWTSecret, creds.TokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}
		c.JSON(http.StatusOK, AuthResponse{Token: token, ExpiresIn: int64(creds.TokenTTL / time.Second)})
	}
}
