package ledger

import "errors" // Sentinel errors

var (
	// ErrLedgerUnavailable wraps backing store failures.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	// ErrInsufficientCredit is returned when a debit exceeds the balance at the instant of the update.
	ErrInsufficientCredit = errors.New("insufficient credit")
	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrDuplicateSettlement is returned when a settlement key was already credited.
	ErrDuplicateSettlement = errors.New("settlement already credited")
)
