package db

import (
	"x402_gateway/internal/domain" // Importing domain models

	"gorm.io/gorm" // GORM ORM library
)

// Migrate creates or updates the ledger tables
func Migrate(db *gorm.DB) error {
	// AutoMigrate will create tables, missing columns and indexes
	return db.AutoMigrate(&domain.Balance{}, &domain.PaymentEvent{}, &domain.UsageEvent{})
}
