package admission

import (
	"context"                       // Context for collaborators
	"encoding/json"                 // Raw payment payloads
	"x402_gateway/internal/ledger"  // Credit ledger
	"x402_gateway/internal/pricing" // Pricing catalog
	"x402_gateway/internal/x402"    // Wire types
)

// Rejection reasons surfaced to callers.
const (
	ReasonMissingWallet      = "missing_sender_wallet"
	ReasonPaymentRequired    = "X-PAYMENT header is required"
	ReasonInvalidPayment     = "Invalid X-PAYMENT header"
	ReasonPaymentInvalid     = "payment_invalid"
	ReasonVerificationFailed = "payment_verification_failed"
	ReasonWalletMismatch     = "sender_wallet_mismatch"
	ReasonSettlementFailed   = "settlement_failed"
	ReasonAlreadySettled     = "payment_already_settled"
	ReasonSettlementInFlight = "payment_in_progress"
)

// HeaderBillingMode tells the caller how a billed response was funded.
const HeaderBillingMode = "X-Billing-Mode"

// Catalog prices routes.
type Catalog interface {
	PriceFor(method, path string) (pricing.RouteConfig, bool)
}

// Ledger is the credit ledger as seen by the engine.
type Ledger interface {
	Enabled() bool
	HasSufficient(ctx context.Context, wallet string, amount int64) (ledger.Sufficiency, error)
	Debit(ctx context.Context, wallet string, amount int64, usage ledger.UsageRecord) error
	Credit(ctx context.Context, wallet string, amount int64, payment ledger.PaymentRecord) error
	HasSettlement(ctx context.Context, key string) (bool, error)
}

// Facilitator verifies and settles payment proofs.
type Facilitator interface {
	Verify(ctx context.Context, payload json.RawMessage, req x402.PaymentRequirements) (*x402.VerifyResponse, error)
	Settle(ctx context.Context, payload json.RawMessage, req x402.PaymentRequirements) (*x402.SettleResponse, error)
}

// Guard marks a settlement key as in flight.
type Guard interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Mode is how an admitted request is funded.
type Mode int

const (
	ModePassThrough Mode = iota // not billable
	ModeRejected                // answered by the engine
	ModeCredit                  // funded from stored balance
	ModePayment                 // funded by the attached payment
)

func (m Mode) String() string {
	switch m {
	case ModePassThrough:
		return "pass_through"
	case ModeRejected:
		return "rejected"
	case ModeCredit:
		return "credit"
	case ModePayment:
		return "payment"
	}
	return "unknown"
}

// Request is the transport-independent view of an incoming call.
type Request struct {
	Method        string
	Route         string // matched route pattern
	Wallet        string
	ResourceURL   string // canonical absolute URL
	PaymentHeader string // raw X-PAYMENT value
}

// Rejection is a response the engine sends instead of the handler's.
type Rejection struct {
	Status int // HTTP status
	Body   any // JSON body
}

// PaymentContext carries the payment proof and verdicts through one request.
type PaymentContext struct {
	Payload       x402.PaymentPayload
	Raw           json.RawMessage
	Requirements  x402.PaymentRequirements
	Verify        *x402.VerifyResponse
	Settle        *x402.SettleResponse
	SettlementKey string

	guarded bool
}

// Admission is the result of the pre-handler phase.
type Admission struct {
	Mode      Mode
	Wallet    string
	Route     pricing.RouteConfig
	Payment   *PaymentContext
	Rejection *Rejection
}

// Billable reports whether the handler's outcome must be passed to Complete.
func (a *Admission) Billable() bool {
	return a.Mode == ModeCredit || a.Mode == ModePayment
}

// Outcome is what the handler did, observed before or after bytes reached the client.
type Outcome struct {
	Status    int
	Committed bool // headers already sent
}

// Completion tells the transport how to finish the response.
type Completion struct {
	Override *Rejection        // replaces the handler response; only set when not committed
	Headers  map[string]string // added to the handler response
	Charged  bool
}
