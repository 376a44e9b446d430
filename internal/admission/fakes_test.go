package admission

import (
	"context"
	"encoding/json"
	"sync"
	"x402_gateway/internal/ledger"
	"x402_gateway/internal/pricing"
	"x402_gateway/internal/x402"
)

type countingCatalog struct {
	*pricing.Catalog
	calls int
}

func (c *countingCatalog) PriceFor(method, path string) (pricing.RouteConfig, bool) {
	c.calls++
	return c.Catalog.PriceFor(method, path)
}

type fakeLedger struct {
	mu          sync.Mutex
	enabled     bool
	balances    map[string]int64
	settlements map[string]bool
	payments    []ledger.PaymentRecord
	usage       []ledger.UsageRecord
	balanceErr  error
	debitErr    error
	creditErr   error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{enabled: true, balances: map[string]int64{}, settlements: map[string]bool{}}
}

func (l *fakeLedger) Enabled() bool { return l.enabled }

func (l *fakeLedger) HasSufficient(_ context.Context, wallet string, amount int64) (ledger.Sufficiency, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balanceErr != nil {
		return ledger.Sufficiency{}, l.balanceErr
	}
	bal := l.balances[wallet]
	return ledger.Sufficiency{Sufficient: bal >= amount, BalanceMicros: bal}, nil
}

func (l *fakeLedger) Debit(_ context.Context, wallet string, amount int64, usage ledger.UsageRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.debitErr != nil {
		return l.debitErr
	}
	if l.balances[wallet] < amount {
		return ledger.ErrInsufficientCredit
	}
	l.balances[wallet] -= amount
	l.usage = append(l.usage, usage)
	return nil
}

func (l *fakeLedger) Credit(_ context.Context, wallet string, amount int64, payment ledger.PaymentRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.creditErr != nil {
		return l.creditErr
	}
	if l.settlements[payment.SettlementKey] {
		return ledger.ErrDuplicateSettlement
	}
	l.settlements[payment.SettlementKey] = true
	l.balances[wallet] += amount
	l.payments = append(l.payments, payment)
	return nil
}

func (l *fakeLedger) HasSettlement(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settlements[key], nil
}

type fakeFacilitator struct {
	verify      func() (*x402.VerifyResponse, error)
	settle      func() (*x402.SettleResponse, error)
	verifyCalls int
	settleCalls int
	lastReq     x402.PaymentRequirements
}

func (f *fakeFacilitator) Verify(_ context.Context, _ json.RawMessage, req x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	f.verifyCalls++
	f.lastReq = req
	if f.verify != nil {
		return f.verify()
	}
	return &x402.VerifyResponse{IsValid: true, Payer: "0xPayer"}, nil
}

func (f *fakeFacilitator) Settle(_ context.Context, _ json.RawMessage, req x402.PaymentRequirements) (*x402.SettleResponse, error) {
	f.settleCalls++
	if f.settle != nil {
		return f.settle()
	}
	return &x402.SettleResponse{Success: true, Transaction: "0xtx", Network: "base-sepolia", Payer: "0xPayer"}, nil
}

type fakeGuard struct {
	held     map[string]bool
	released []string
}

func (g *fakeGuard) Acquire(_ context.Context, key string) (bool, error) {
	if g.held[key] {
		return false, nil
	}
	g.held[key] = true
	return true, nil
}

func (g *fakeGuard) Release(_ context.Context, key string) error {
	delete(g.held, key)
	g.released = append(g.released, key)
	return nil
}
