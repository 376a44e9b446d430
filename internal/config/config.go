package config

import (
	"fmt"     // For error formatting
	"os"      // For environment variables
	"strconv" // For string to int conversion
	"strings" // For list parsing
	"time"    // For timeouts

	"github.com/joho/godotenv" // For loading .env files
)

// Config holds the application configuration
type Config struct {
	AppPort        string   // Application port
	IsProd         bool     // Is production environment
	TrustedProxies []string // Proxies gin trusts for client IP and forwarded headers

	DBDriver   string // Database driver: mysql or postgres
	DBUser     string // Database user
	DBPassword string // Database password
	DBHost     string // Database host, empty disables the ledger
	DBPort     string // Database port
	DBName     string // Database name

	RedisAddr string // Redis server address, empty disables the settlement guard
	RedisPass string // Redis password
	RedisDB   int    // Redis database number

	JWTSecret         string // JWT secret key for admin tokens
	AdminUsername     string // Admin login name
	AdminPasswordHash string // Bcrypt hash of the admin password

	FacilitatorURL     string        // Base URL of the x402 facilitator
	FacilitatorAPIKey  string        // Optional bearer token for the facilitator
	FacilitatorTimeout time.Duration // Per-call facilitator timeout

	PayTo             string // Address receiving payments
	Network           string // Payment network identifier
	Asset             string // Token contract address
	AssetName         string // EIP-712 token name
	AssetVersion      string // EIP-712 token version
	MaxTimeoutSeconds int    // Validity window advertised in requirements
	PublicBaseURL     string // Canonical base for resource URLs

	PricingFile string // Optional YAML pricing catalog

	OpenAIBaseURL    string // OpenAI upstream
	OpenAIAPIKey     string // OpenAI key
	AnthropicBaseURL string // Anthropic upstream
	AnthropicAPIKey  string // Anthropic key
	SheetsBaseURL    string // Google Sheets upstream
	SheetsAPIKey     string // Google Sheets key
}

// ConfigurationError lists required settings that are missing
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "missing required configuration: " + strings.Join(e.Missing, ", ")
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	_ = godotenv.Load() // Load .env file if present
	redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	return &Config{
		AppPort:        getEnv("APP_PORT", "8080"),                        // Application port
		IsProd:         os.Getenv("IS_PROD") == "true",                    // Is production environment
		TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", "127.0.0.1")), // Trusted proxies

		DBDriver:   getEnv("DB_DRIVER", "mysql"), // Database driver
		DBUser:     os.Getenv("DB_USER"),         // Database user
		DBPassword: os.Getenv("DB_PASSWORD"),     // Database password
		DBHost:     os.Getenv("DB_HOST"),         // Database host
		DBPort:     os.Getenv("DB_PORT"),         // Database port
		DBName:     os.Getenv("DB_NAME"),         // Database name

		RedisAddr: os.Getenv("REDIS_ADDR"), // Redis server address
		RedisPass: os.Getenv("REDIS_PASS"), // Redis password
		RedisDB:   redisDB,                 // Redis database number

		JWTSecret:         os.Getenv("JWT_SECRET"),          // JWT secret key
		AdminUsername:     os.Getenv("ADMIN_USERNAME"),      // Admin login name
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"), // Admin bcrypt hash

		FacilitatorURL:     strings.TrimRight(os.Getenv("FACILITATOR_URL"), "/"), // Facilitator base URL
		FacilitatorAPIKey:  os.Getenv("FACILITATOR_API_KEY"),                     // Facilitator bearer token
		FacilitatorTimeout: getDuration("FACILITATOR_TIMEOUT", 30*time.Second),   // Facilitator timeout

		PayTo:             os.Getenv("X402_PAY_TO"),                                           // Recipient address
		Network:           getEnv("X402_NETWORK", "base-sepolia"),                             // Network
		Asset:             getEnv("X402_ASSET", "0x036CbD53842c5426634e7929541eC2318f3dCF7e"), // USDC on Base Sepolia
		AssetName:         getEnv("X402_ASSET_NAME", "USDC"),                                  // Token name
		AssetVersion:      getEnv("X402_ASSET_VERSION", "2"),                                  // Token version
		MaxTimeoutSeconds: getInt("X402_MAX_TIMEOUT_SECONDS", 60),                             // Validity window
		PublicBaseURL:     strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),               // Resource URL base

		PricingFile: os.Getenv("PRICING_FILE"), // Pricing catalog file

		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com"),        // OpenAI upstream
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),                                // OpenAI key
		AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),  // Anthropic upstream
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),                             // Anthropic key
		SheetsBaseURL:    getEnv("SHEETS_BASE_URL", "https://sheets.googleapis.com"), // Sheets upstream
		SheetsAPIKey:     os.Getenv("SHEETS_API_KEY"),                                // Sheets key
	}
}

// Validate reports every missing setting the gateway cannot start without
func (c *Config) Validate() error {
	var missing []string
	if c.FacilitatorURL == "" {
		missing = append(missing, "FACILITATOR_URL")
	}
	if c.PayTo == "" {
		missing = append(missing, "X402_PAY_TO")
	}
	if c.DBDriver != "mysql" && c.DBDriver != "postgres" {
		missing = append(missing, fmt.Sprintf("DB_DRIVER (unsupported %q)", c.DBDriver))
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

// LedgerConfigured reports whether a ledger database is configured
func (c *Config) LedgerConfigured() bool {
	return c.DBHost != ""
}

// RedisConfigured reports whether Redis is configured
func (c *Config) RedisConfigured() bool {
	return c.RedisAddr != ""
}

// AdminConfigured reports whether the admin API can issue tokens
func (c *Config) AdminConfigured() bool {
	return c.JWTSecret != "" && c.AdminUsername != "" && c.AdminPasswordHash != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
