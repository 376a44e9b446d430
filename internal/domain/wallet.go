package domain

import "time" // Timestamps

// Balance Model, one row per wallet
type Balance struct {
	Wallet        string    `gorm:"primaryKey;size:128"` // Caller wallet identifier
	BalanceMicros int64     `gorm:"not null;default:0"`  // Spendable credit in micros, never negative
	UpdatedAt     time.Time // Last mutation time
}
