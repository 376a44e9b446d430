package ledger

import (
	"context"                      // Request contexts
	"encoding/json"                // Raw payment payloads
	"errors"                       // Error values
	"fmt"                          // Error formatting
	"time"                         // Update timestamps
	"x402_gateway/internal/domain" // Event models

	"github.com/sirupsen/logrus" // Logrus for structured logging
	"gorm.io/datatypes"          // JSON columns
	"gorm.io/gorm"               // GORM ORM library
	"gorm.io/gorm/clause"        // Upsert clauses
)

// UsageRecord describes a debit for the usage log.
type UsageRecord struct {
	Endpoint    string         // "METHOD /path"
	BillingMode string         // credit or payment
	Description string         // Route description
	Metadata    map[string]any // Optional request details
}

// PaymentRecord describes a settled payment for the payment log.
type PaymentRecord struct {
	Resource       string
	SettlementKey  string
	PaymentPayload json.RawMessage
	VerifyResponse any
	SettleResponse any
}

// Sufficiency is the result of HasSufficient.
type Sufficiency struct {
	Sufficient    bool
	BalanceMicros int64
}

// Ledger is the credit ledger. A Ledger built without a database is disabled:
// balances read as zero and mutations are no-ops.
type Ledger struct {
	db  *gorm.DB           // nil when disabled
	log logrus.FieldLogger // Logger
	now func() time.Time   // Clock, replaced in tests
}

// New returns a ledger backed by db, or a disabled ledger when db is nil.
func New(db *gorm.DB, log logrus.FieldLogger) *Ledger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Ledger{db: db, log: log, now: time.Now}
}

// Enabled reports whether a backing store is configured.
func (l *Ledger) Enabled() bool {
	return l.db != nil
}

// BalanceOf returns the wallet balance in micros, zero for unknown wallets.
func (l *Ledger) BalanceOf(ctx context.Context, wallet string) (int64, error) {
	if !l.Enabled() {
		return 0, nil
	}
	var bal domain.Balance
	err := l.db.WithContext(ctx).Where("wallet = ?", wallet).Take(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil // Unknown wallet
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read balance: %v", ErrLedgerUnavailable, err)
	}
	return bal.BalanceMicros, nil
}

// HasSufficient reports whether the wallet balance covers amount.
func (l *Ledger) HasSufficient(ctx context.Context, wallet string, amount int64) (Sufficiency, error) {
	bal, err := l.BalanceOf(ctx, wallet)
	if err != nil {
		return Sufficiency{}, err
	}
	return Sufficiency{Sufficient: l.Enabled() && bal >= amount, BalanceMicros: bal}, nil
}

// Debit subtracts amount from the wallet in a single conditional update and then
// appends a usage event. A failed append is logged; the debit stands.
func (l *Ledger) Debit(ctx context.Context, wallet string, amount int64, usage UsageRecord) error {
	if !l.Enabled() {
		return nil
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	res := l.db.WithContext(ctx).Model(&domain.Balance{}).
		Where("wallet = ? AND balance_micros >= ?", wallet, amount).
		Updates(map[string]any{
			"balance_micros": gorm.Expr("balance_micros - ?", amount),
			"updated_at":     l.now(),
		})
	if res.Error != nil {
		return fmt.Errorf("%w: debit: %v", ErrLedgerUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientCredit
	}

	event := domain.UsageEvent{
		Wallet:       wallet,
		AmountMicros: amount,
		Endpoint:     usage.Endpoint,
		BillingMode:  usage.BillingMode,
		Description:  usage.Description,
		Metadata:     toJSON(usage.Metadata),
	}
	if err := l.db.WithContext(ctx).Create(&event).Error; err != nil {
		l.log.WithFields(logrus.Fields{
			"wallet":        wallet,
			"amount_micros": amount,
			"endpoint":      usage.Endpoint,
			"error":         err.Error(),
		}).Error("Usage event append failed")
	}
	return nil
}

// Credit appends a payment event and increments the wallet balance in one
// transaction. A settlement key that was already credited returns
// ErrDuplicateSettlement and leaves the balance untouched.
func (l *Ledger) Credit(ctx context.Context, wallet string, amount int64, payment PaymentRecord) error {
	if !l.Enabled() {
		return nil
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	now := l.now()
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event := domain.PaymentEvent{
			Wallet:         wallet,
			AmountMicros:   amount,
			Resource:       payment.Resource,
			SettlementKey:  payment.SettlementKey,
			PaymentPayload: rawJSON(payment.PaymentPayload),
			VerifyResponse: toJSON(payment.VerifyResponse),
			SettleResponse: toJSON(payment.SettleResponse),
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "settlement_key"}},
			DoNothing: true,
		}).Create(&event)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrDuplicateSettlement // Rolls back, balance untouched
		}
		// Create the row if absent, then increment; portable across MySQL, Postgres and SQLite.
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&domain.Balance{Wallet: wallet, UpdatedAt: now}).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Balance{}).
			Where("wallet = ?", wallet).
			Updates(map[string]any{
				"balance_micros": gorm.Expr("balance_micros + ?", amount),
				"updated_at":     now,
			}).Error
	})
	if errors.Is(err, ErrDuplicateSettlement) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: credit: %v", ErrLedgerUnavailable, err)
	}
	return nil
}

// HasSettlement reports whether a settlement key has already been credited.
func (l *Ledger) HasSettlement(ctx context.Context, key string) (bool, error) {
	if !l.Enabled() {
		return false, nil
	}
	var count int64
	if err := l.db.WithContext(ctx).Model(&domain.PaymentEvent{}).
		Where("settlement_key = ?", key).Count(&count).Error; err != nil {
		return false, fmt.Errorf("%w: lookup settlement: %v", ErrLedgerUnavailable, err)
	}
	return count > 0, nil
}

// Page is a window into an event log, newest first.
type Page struct {
	Page     int
	PageSize int
}

func (p Page) offset() int {
	return (p.Page - 1) * p.PageSize
}

// PaymentEvents lists a wallet's payment events and the total count.
func (l *Ledger) PaymentEvents(ctx context.Context, wallet string, p Page) ([]domain.PaymentEvent, int64, error) {
	var events []domain.PaymentEvent
	total, err := l.list(ctx, &domain.PaymentEvent{}, &events, wallet, p)
	return events, total, err
}

// UsageEvents lists a wallet's usage events and the total count.
func (l *Ledger) UsageEvents(ctx context.Context, wallet string, p Page) ([]domain.UsageEvent, int64, error) {
	var events []domain.UsageEvent
	total, err := l.list(ctx, &domain.UsageEvent{}, &events, wallet, p)
	return events, total, err
}

func (l *Ledger) list(ctx context.Context, model, dest any, wallet string, p Page) (int64, error) {
	if !l.Enabled() {
		return 0, nil
	}
	var total int64
	q := l.db.WithContext(ctx).Model(model).Where("wallet = ?", wallet).Session(&gorm.Session{})
	if err := q.Count(&total).Error; err != nil {
		return 0, fmt.Errorf("%w: count events: %v", ErrLedgerUnavailable, err)
	}
	if err := q.Order("created_at desc, id desc").Offset(p.offset()).Limit(p.PageSize).Find(dest).Error; err != nil {
		return 0, fmt.Errorf("%w: list events: %v", ErrLedgerUnavailable, err)
	}
	return total, nil
}

// jsonNull replaces SQL NULL, which datatypes.JSON cannot scan.
var jsonNull = datatypes.JSON("null")

func rawJSON(b json.RawMessage) datatypes.JSON {
	if len(b) == 0 {
		return jsonNull
	}
	return datatypes.JSON(b)
}

func toJSON(v any) datatypes.JSON {
	if v == nil {
		return jsonNull
	}
	b, err := json.Marshal(v)
	if err != nil {
		return jsonNull
	}
	return datatypes.JSON(b)
}
