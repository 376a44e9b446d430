package main

import (
	"context"                           // context package is needed for Redis operations
	"net/http"                          // HTTP server
	"os/signal"                         // Shutdown signals
	"syscall"                           // Signal numbers
	"time"                              // Timeouts
	"x402_gateway/internal/admission"   // Payment admission engine
	"x402_gateway/internal/api"         // Custom package for API handlers
	"x402_gateway/internal/config"      // Custom package for configuration
	"x402_gateway/internal/db"          // Database connection
	"x402_gateway/internal/facilitator" // Facilitator client
	"x402_gateway/internal/idempotency" // Settlement guard
	"x402_gateway/internal/ledger"      // Credit ledger
	"x402_gateway/internal/middleware"  // Request logging
	"x402_gateway/internal/pricing"     // Pricing catalog
	"x402_gateway/internal/proxy"       // Upstream forwarders

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logrus for structured logging
	"gorm.io/gorm"                 // GORM ORM library
)

// Main function to set up and run the gateway
func main() {
	cfg := config.LoadConfig() // Load configuration

	// Setup logger
	if cfg.IsProd {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	log := logrus.StandardLogger()

	// Missing credentials are fatal at startup
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// Connect to the ledger database if configured
	var gdb *gorm.DB
	if cfg.LedgerConfigured() {
		var err error
		gdb, err = db.Open(cfg)
		if err != nil {
			log.Fatalf("failed to connect to DB: %v", err) // Fatal error if DB connection fails
		}
	} else {
		log.Warn("DB_HOST not set, ledger disabled; every priced request requires payment")
	}
	l := ledger.New(gdb, log)

	// Setup Redis client if configured
	var redisClient *redis.Client
	var guard admission.Guard = idempotency.NopGuard{}
	if cfg.RedisConfigured() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr, // Redis server address
			Password: cfg.RedisPass, // Redis password
			DB:       cfg.RedisDB,   // Redis database number
		})
		// Test Redis connection
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		guard = idempotency.NewRedisGuard(redisClient, time.Duration(cfg.MaxTimeoutSeconds)*time.Second)
	} else {
		log.Warn("REDIS_ADDR not set, admin caching and the settlement guard are disabled")
	}

	catalog, err := pricing.Load(cfg.PricingFile)
	if err != nil {
		log.Fatalf("failed to load pricing: %v", err)
	}

	engine := admission.New(admission.Options{
		Catalog: catalog,
		Ledger:  l,
		Facilitator: facilitator.NewClient(facilitator.Config{
			BaseURL: cfg.FacilitatorURL,
			APIKey:  cfg.FacilitatorAPIKey,
			Timeout: cfg.FacilitatorTimeout,
		}),
		Guard: guard,
		Requirements: admission.RequirementsTemplate{
			Network:           cfg.Network,
			PayTo:             cfg.PayTo,
			Asset:             cfg.Asset,
			MaxTimeoutSeconds: cfg.MaxTimeoutSeconds,
			Extra:             map[string]any{"name": cfg.AssetName, "version": cfg.AssetVersion},
		},
		Logger: log,
	})

	upstreams := api.Upstreams{
		OpenAI:    mustForwarder(log, "openai", cfg.OpenAIBaseURL, "/openai", cfg.OpenAIAPIKey, proxy.Bearer),
		Anthropic: mustForwarder(log, "anthropic", cfg.AnthropicBaseURL, "/claude", cfg.AnthropicAPIKey, proxy.Anthropic),
		Sheets:    mustForwarder(log, "sheets", cfg.SheetsBaseURL, "/sheets", cfg.SheetsAPIKey, proxy.QueryKey),
	}

	// Set Mode to Release if in production
	if cfg.IsProd {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup Gin
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger(log))

	// Set trusted proxies for Gin
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Fatalf("failed to set trusted proxies: %v", err)
	}

	api.RegisterRoutes(r, api.Deps{
		DB:            gdb,
		Redis:         redisClient,
		Ledger:        l,
		Engine:        engine,
		PublicBaseURL: cfg.PublicBaseURL,
		Admin: api.AdminCredentials{
			Username:     cfg.AdminUsername,
			PasswordHash: cfg.AdminPasswordHash,
			JWTSecret:    cfg.JWTSecret,
		},
		Upstreams: upstreams,
		Logger:    log,
	})

	log.WithFields(logrus.Fields{
		"port":           cfg.AppPort,
		"priced_routes":  catalog.Len(),
		"ledger_enabled": l.Enabled(),
		"admin_enabled":  cfg.AdminConfigured(),
	}).Info("Gateway starting")

	srv := &http.Server{Addr: ":" + cfg.AppPort, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()
	<-ctx.Done()

	// Let in-flight requests finish their settlement
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithField("error", err.Error()).Error("Graceful shutdown failed")
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	log.Info("Gateway stopped")
}

func mustForwarder(log *logrus.Logger, name, baseURL, prefix, key string, auth func(string) func(*http.Request)) *proxy.Forwarder {
	if key == "" {
		log.WithField("upstream", name).Warn("No API key configured, forwarding without credentials")
	}
	f, err := proxy.New(proxy.Upstream{Name: name, BaseURL: baseURL, Prefix: prefix, Authorize: auth(key)}, log)
	if err != nil {
		log.Fatalf("invalid upstream: %v", err)
	}
	return f
}
