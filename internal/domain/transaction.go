package domain

import (
	"time" // Timestamps

	"gorm.io/datatypes" // JSON columns
)

// Billing modes recorded on usage events
const (
	BillingModeCredit  = "credit"  // Drawn from stored balance
	BillingModePayment = "payment" // Funded by a just-settled payment
)

// PaymentEvent Model, append-only record of a settled payment
type PaymentEvent struct {
	ID             uint           `gorm:"primaryKey"`                    // Primary key
	Wallet         string         `gorm:"size:128;not null;index"`       // Credited wallet
	AmountMicros   int64          `gorm:"not null"`                      // Credited amount
	Resource       string         `gorm:"size:2048"`                     // Resource URL that was paid for
	SettlementKey  string         `gorm:"size:128;not null;uniqueIndex"` // Idempotency key, one credit per settlement
	PaymentPayload datatypes.JSON // Decoded X-PAYMENT payload
	VerifyResponse datatypes.JSON // Facilitator verify verdict
	SettleResponse datatypes.JSON // Facilitator settle verdict
	CreatedAt      time.Time      // Creation time
}

// UsageEvent Model, append-only record of a balance debit
type UsageEvent struct {
	ID           uint           `gorm:"primaryKey"`              // Primary key
	Wallet       string         `gorm:"size:128;not null;index"` // Debited wallet
	AmountMicros int64          `gorm:"not null"`                // Debited amount
	Endpoint     string         `gorm:"size:512;not null"`       // "METHOD /path" of the billed route
	BillingMode  string         `gorm:"size:16;not null"`        // credit or payment
	Description  string         `gorm:"size:512"`                // Route description
	Metadata     datatypes.JSON // Optional request details
	CreatedAt    time.Time      // Creation time
}
