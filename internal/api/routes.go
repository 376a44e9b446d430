package api

import (
	"x402_gateway/internal/admission"  // Payment admission engine
	"x402_gateway/internal/ledger"     // Credit ledger
	"x402_gateway/internal/middleware" // Gateway middleware
	"x402_gateway/internal/proxy"      // Upstream forwarders

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logging library
	"gorm.io/gorm"                 // GORM ORM library
)

// Upstreams holds one forwarder per proxied API; nil entries are not routed
type Upstreams struct {
	OpenAI    *proxy.Forwarder
	Anthropic *proxy.Forwarder
	Sheets    *proxy.Forwarder
}

// Deps are the objects the routes are built from
type Deps struct {
	DB            *gorm.DB      // Ledger database, nil when disabled
	Redis         *redis.Client // Cache and settlement guard, nil when disabled
	Ledger        *ledger.Ledger
	Engine        *admission.Engine
	PublicBaseURL string
	Admin         AdminCredentials // Zero value disables the admin API
	Upstreams     Upstreams
	Logger        logrus.FieldLogger
}

// RegisterRoutes mounts health, balance, admin and proxied routes on r
func RegisterRoutes(r *gin.Engine, d Deps) {
	log := d.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	r.GET("/healthz", HealthHandler(d.DB, d.Redis))
	r.GET("/v1/balance", BalanceHandler(d.Ledger, log))

	// Admin routes (JWT, admin role)
	if d.Admin.JWTSecret != "" && d.Admin.Username != "" && d.Admin.PasswordHash != "" {
		r.POST("/admin/login", LoginHandler(d.Admin))
		admin := r.Group("/admin")
		admin.Use(middleware.JWTAuthMiddleware(d.Admin.JWTSecret), middleware.AdminOnlyMiddleware())
		admin.GET("/wallets/:wallet", WalletHandler(d.Ledger, log))
		admin.GET("/wallets/:wallet/payments", ListPaymentsHandler(d.Ledger, d.Redis, log))
		admin.GET("/wallets/:wallet/usage", ListUsageHandler(d.Ledger, d.Redis, log))
		admin.POST("/credits", ManualCreditHandler(d.Ledger, d.Redis, log))
	}

	// Proxied routes, gated by payment admission
	gated := r.Group("/")
	gated.Use(middleware.PaymentMiddleware(d.Engine, d.PublicBaseURL))
	if f := d.Upstreams.OpenAI; f != nil {
		gated.POST("/openai/v1/chat/completions", f.Handle)
		gated.GET("/openai/v1/models", f.Handle)
	}
	if f := d.Upstreams.Anthropic; f != nil {
		gated.POST("/claude/v1/messages", f.Handle)
	}
	if f := d.Upstreams.Sheets; f != nil {
		gated.GET("/sheets/v4/spreadsheets/:spreadsheetId/values/:range", f.Handle)
		gated.PUT("/sheets/v4/spreadsheets/:spreadsheetId/values/:range", f.Handle)
	}
}
