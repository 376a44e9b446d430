package api

import (
	"net/http"                         // HTTP status codes
	"strings"                          // String manipulation
	"x402_gateway/internal/ledger"     // Credit ledger
	"x402_gateway/internal/middleware" // Wallet header
	"x402_gateway/internal/money"      // Micros formatting

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
)

// BalanceResponse is a wallet's spendable credit
type BalanceResponse struct {
	Wallet        string `json:"wallet"`        // Wallet address
	BalanceMicros int64  `json:"balanceMicros"` // Balance in micros
	Balance       string `json:"balance"`       // Balance in units
}

func newBalanceResponse(wallet string, micros int64) BalanceResponse {
	return BalanceResponse{Wallet: wallet, BalanceMicros: micros, Balance: money.FormatUnits(micros)}
}

// BalanceHandler returns the caller's credit balance, identified by the wallet header
func BalanceHandler(l *ledger.Ledger, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet := strings.TrimSpace(c.GetHeader(middleware.HeaderWallet)) // Get caller wallet
		if wallet == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_sender_wallet"})
			return
		}
		micros, err := l.BalanceOf(c.Request.Context(), wallet)
		if err != nil {
			log.WithFields(logrus.Fields{"wallet": wallet, "error": err.Error()}).Error("Balance lookup failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Ledger unavailable"})
			return
		}
		c.JSON(http.StatusOK, newBalanceResponse(wallet, micros))
	}
}
