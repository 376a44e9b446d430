package api

import (
	"encoding/json"                    // Manual credit payload
	"fmt"                              // Cache keys
	"net/http"                         // HTTP status codes
	"strconv"                          // String conversion
	"strings"                          // String manipulation
	"time"                             // Time durations
	"x402_gateway/internal/ledger"     // Credit ledger
	"x402_gateway/internal/middleware" // Token subject key
	"x402_gateway/internal/money"      // Unit parsing
	"x402_gateway/internal/utils"      // Utility functions

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/google/uuid"       // Manual settlement keys
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logging library
)

const (
	listCacheTTL    = 60 * time.Second // Admin list cache lifetime
	defaultPageSize = 20               // Default page size
	maxPageSize     = 100              // Largest page size accepted
)

// EventPage is one page of a wallet's event log
type EventPage[T any] struct {
	Events     []T   `json:"events"`      // Events, newest first
	Page       int   `json:"page"`        // Current page
	PageSize   int   `json:"page_size"`   // Page size
	Total      int64 `json:"total"`       // Total number of events
	TotalPages int   `json:"total_pages"` // Total pages
	Cached     bool  `json:"cached"`      // Served from cache
}

// pageFromQuery reads page and page_size, falling back to defaults on bad input
func pageFromQuery(c *gin.Context) ledger.Page {
	p := ledger.Page{Page: 1, PageSize: defaultPageSize}
	if v, err := strconv.Atoi(c.Query("page")); err == nil && v > 0 {
		p.Page = v // Set page if valid
	}
	if v, err := strconv.Atoi(c.Query("page_size")); err == nil && v > 0 && v <= maxPageSize {
		p.PageSize = v // Set page size within limits
	}
	return p
}

// listCachePrefix namespaces cached pages of one wallet's log
func listCachePrefix(kind, wallet string) string {
	return "admin:" + kind + ":" + wallet + ":"
}

// WalletHandler returns a wallet's balance
func WalletHandler(l *ledger.Ledger, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet := c.Param("wallet")
		micros, err := l.BalanceOf(c.Request.Context(), wallet)
		if err != nil {
			log.WithFields(logrus.Fields{"wallet": wallet, "error": err.Error()}).Error("Balance lookup failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Ledger unavailable"})
			return
		}
		c.JSON(http.StatusOK, newBalanceResponse(wallet, micros))
	}
}

// listHandler serves a paginated, cached event log for the :wallet path parameter
func listHandler[T any](kind string, rdb *redis.Client, log logrus.FieldLogger,
	fetch func(c *gin.Context, wallet string, p ledger.Page) ([]T, int64, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		wallet := c.Param("wallet")
		p := pageFromQuery(c)
		cacheKey := fmt.Sprintf("%spage=%d:size=%d", listCachePrefix(kind, wallet), p.Page, p.PageSize)

		// If cached data found, return it
		var cached EventPage[T]
		if found, err := utils.GetCache(ctx, rdb, cacheKey, &cached); err == nil && found {
			cached.Cached = true
			c.JSON(http.StatusOK, cached)
			return
		} else if err != nil {
			log.WithFields(logrus.Fields{"key": cacheKey, "error": err.Error()}).Warn("Cache read failed")
		}

		events, total, err := fetch(c, wallet, p)
		if err != nil {
			log.WithFields(logrus.Fields{"wallet": wallet, "kind": kind, "error": err.Error()}).Error("Event listing failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Ledger unavailable"})
			return
		}
		if events == nil {
			events = []T{} // Render an empty list, not null
		}
		resp := EventPage[T]{
			Events:     events,
			Page:       p.Page,
			PageSize:   p.PageSize,
			Total:      total,
			TotalPages: int((total + int64(p.PageSize) - 1) / int64(p.PageSize)),
		}
		// Cache the response for future requests
		if err := utils.SetCache(ctx, rdb, cacheKey, resp, listCacheTTL); err != nil {
			log.WithFields(logrus.Fields{"key": cacheKey, "error": err.Error()}).Warn("Cache write failed")
		}
		c.JSON(http.StatusOK, resp)
	}
}

// ListPaymentsHandler returns a wallet's payment events
func ListPaymentsHandler(l *ledger.Ledger, rdb *redis.Client, log logrus.FieldLogger) gin.HandlerFunc {
	return listHandler("payments", rdb, log, func(c *gin.Context, wallet string, p ledger.Page) ([]paymentEventView, int64, error) {
		events, total, err := l.PaymentEvents(c.Request.Context(), wallet, p)
		views := make([]paymentEventView, len(events))
		for i, e := range events {
			views[i] = paymentEventView{
				ID:             e.ID,
				Wallet:         e.Wallet,
				AmountMicros:   e.AmountMicros,
				Amount:         money.FormatUnits(e.AmountMicros),
				Resource:       e.Resource,
				SettlementKey:  e.SettlementKey,
				SettleResponse: optionalJSON(e.SettleResponse),
				CreatedAt:      e.CreatedAt,
			}
		}
		return views, total, err
	})
}

// ListUsageHandler returns a wallet's usage events
func ListUsageHandler(l *ledger.Ledger, rdb *redis.Client, log logrus.FieldLogger) gin.HandlerFunc {
	return listHandler("usage", rdb, log, func(c *gin.Context, wallet string, p ledger.Page) ([]usageEventView, int64, error) {
		events, total, err := l.UsageEvents(c.Request.Context(), wallet, p)
		views := make([]usageEventView, len(events))
		for i, e := range events {
			views[i] = usageEventView{
				ID:           e.ID,
				Wallet:       e.Wallet,
				AmountMicros: e.AmountMicros,
				Amount:       money.FormatUnits(e.AmountMicros),
				Endpoint:     e.Endpoint,
				BillingMode:  e.BillingMode,
				Description:  e.Description,
				Metadata:     optionalJSON(e.Metadata),
				CreatedAt:    e.CreatedAt,
			}
		}
		return views, total, err
	})
}

// optionalJSON maps a stored JSON null to an omitted field
func optionalJSON(b []byte) json.RawMessage {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return json.RawMessage(b)
}

// paymentEventView is a payment event as returned to admins
type paymentEventView struct {
	ID             uint            `json:"id"`
	Wallet         string          `json:"wallet"`
	AmountMicros   int64           `json:"amountMicros"`
	Amount         string          `json:"amount"`
	Resource       string          `json:"resource"`
	SettlementKey  string          `json:"settlementKey"`
	SettleResponse json.RawMessage `json:"settleResponse,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// usageEventView is a usage event as returned to admins
type usageEventView struct {
	ID           uint            `json:"id"`
	Wallet       string          `json:"wallet"`
	AmountMicros int64           `json:"amountMicros"`
	Amount       string          `json:"amount"`
	Endpoint     string          `json:"endpoint"`
	BillingMode  string          `json:"billingMode"`
	Description  string          `json:"description"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// CreditRequest is a manual top-up
type CreditRequest struct {
	Wallet string `json:"wallet" binding:"required"` // Wallet to credit
	Amount string `json:"amount" binding:"required"` // Decimal units, e.g. "5.00"
	Note   string `json:"note"`                      // Free-form reason
}

// ManualCreditHandler credits a wallet outside the payment flow
func ManualCreditHandler(l *ledger.Ledger, rdb *redis.Client, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if !l.Enabled() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Ledger not configured"})
			return
		}
		var req CreditRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		wallet := strings.TrimSpace(req.Wallet)
		micros, err := money.ParseUnits(req.Amount)
		if err != nil || micros <= 0 || wallet == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Amount must be a positive decimal with at most 6 places"})
			return
		}
		key := "manual:" + uuid.NewString()
		payload, _ := json.Marshal(map[string]string{
			"note":     req.Note,
			"operator": c.GetString(middleware.SubjectKey),
		})
		err = l.Credit(ctx, wallet, micros, ledger.PaymentRecord{
			Resource:       "manual",
			SettlementKey:  key,
			PaymentPayload: payload,
		})
		if err != nil {
			log.WithFields(logrus.Fields{"wallet": wallet, "amount_micros": micros, "error": err.Error()}).Error("Manual credit failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Ledger unavailable"})
			return
		}
		// Drop cached payment pages for this wallet
		if err := utils.DeleteCachePrefix(ctx, rdb, listCachePrefix("payments", wallet)); err != nil {
			log.WithFields(logrus.Fields{"wallet": wallet, "error": err.Error()}).Warn("Cache invalidation failed")
		}
		log.WithFields(logrus.Fields{
			"wallet":         wallet,
			"amount_micros":  micros,
			"settlement_key": key,
			"operator":       c.GetString(middleware.SubjectKey),
		}).Info("Manual credit applied")
		resp := gin.H{
			"wallet":        wallet,
			"amountMicros":  micros,
			"settlementKey": key,
		}
		// The credit stands even if the balance cannot be read back
		if balance, err := l.BalanceOf(ctx, wallet); err == nil {
			resp["balanceMicros"] = balance
		}
		c.JSON(http.StatusCreated, resp)
	}
}
