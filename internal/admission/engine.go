// Package admission decides whether a billable request may run, how it is
// funded, and reconciles the outcome with the facilitator and the ledger.
//
// A request passes through two phases. Admit runs before the handler:
// wallet resolution, pricing lookup, credit check and, when credit does not
// cover the price, payment decode and verification. Complete runs after the
// handler has produced its status but before the transport releases the
// response, so a failed settlement can still replace a successful response.
package admission

import (
	"context"                       // Request contexts
	"errors"                        // Error values
	"net/http"                      // HTTP status codes
	"strconv"                       // String conversion
	"strings"                       // String manipulation
	"x402_gateway/internal/domain"  // Event models
	"x402_gateway/internal/ledger"  // Credit ledger
	"x402_gateway/internal/pricing" // Pricing catalog
	"x402_gateway/internal/x402"    // Wire types

	"github.com/sirupsen/logrus" // Logrus for structured logging
)

// RequirementsTemplate holds the route-independent parts of PaymentRequirements.
type RequirementsTemplate struct {
	Scheme            string         // Payment scheme, exact by default
	Network           string         // e.g. base-sepolia
	PayTo             string         // Receiving address
	Asset             string         // Token contract address
	MaxTimeoutSeconds int            // Payment validity window
	Extra             map[string]any // Scheme-specific extras
}

// Options wires an Engine.
type Options struct {
	Catalog      Catalog
	Ledger       Ledger
	Facilitator  Facilitator
	Guard        Guard // optional
	Requirements RequirementsTemplate
	Logger       logrus.FieldLogger // optional
}

// Engine is the payment admission state machine. It holds no per-request state.
type Engine struct {
	catalog     Catalog              // Route prices
	ledger      Ledger               // Stored credit
	facilitator Facilitator          // Verify and settle
	guard       Guard                // nil disables the in-flight guard
	tmpl        RequirementsTemplate // Requirements shared by every route
	log         logrus.FieldLogger   // Logger
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Requirements.Scheme == "" {
		opts.Requirements.Scheme = "exact"
	}
	return &Engine{
		catalog:     opts.Catalog,
		ledger:      opts.Ledger,
		facilitator: opts.Facilitator,
		guard:       opts.Guard,
		tmpl:        opts.Requirements,
		log:         opts.Logger,
	}
}

// Admit runs the pre-handler phase.
func (e *Engine) Admit(ctx context.Context, req Request) *Admission {
	wallet := strings.TrimSpace(req.Wallet)
	if wallet == "" {
		return reject(http.StatusBadRequest, map[string]string{"error": ReasonMissingWallet})
	}

	route, ok := e.catalog.PriceFor(req.Method, req.Route)
	if !ok {
		return &Admission{Mode: ModePassThrough, Wallet: wallet}
	}
	log := e.log.WithFields(logrus.Fields{
		"wallet":        wallet,
		"route":         route.Route.String(),
		"amount_micros": route.PriceMicros,
	})

	if e.ledger.Enabled() {
		s, err := e.ledger.HasSufficient(ctx, wallet, route.PriceMicros)
		switch {
		case err != nil:
			log.WithField("error", err.Error()).Warn("Balance check failed, requiring payment")
		case s.Sufficient:
			return &Admission{Mode: ModeCredit, Wallet: wallet, Route: route}
		}
	}

	requirements := e.requirementsFor(route, req.ResourceURL)
	challenge := func(reason string) *Admission {
		return reject(http.StatusPaymentRequired, x402.NewPaymentRequired(reason, requirements))
	}

	if strings.TrimSpace(req.PaymentHeader) == "" {
		return challenge(ReasonPaymentRequired)
	}

	decoded, err := x402.DecodePaymentHeader(req.PaymentHeader)
	if err != nil {
		log.WithField("error", err.Error()).Info("Rejected malformed payment header")
		return challenge(ReasonInvalidPayment)
	}
	key := decoded.Key()

	if seen, err := e.ledger.HasSettlement(ctx, key); err != nil {
		log.WithField("error", err.Error()).Warn("Settlement lookup failed")
	} else if seen {
		log.WithField("settlement_key", key).Warn("Rejected replayed payment")
		return challenge(ReasonAlreadySettled)
	}

	verdict, err := e.facilitator.Verify(ctx, decoded.Raw, requirements)
	if err != nil {
		log.WithField("error", err.Error()).Error("Payment verification call failed")
		return challenge(ReasonVerificationFailed)
	}
	if !verdict.IsValid {
		reason := verdict.InvalidReason
		if reason == "" {
			reason = ReasonPaymentInvalid
		}
		log.WithField("reason", reason).Info("Payment rejected by facilitator")
		return challenge(reason)
	}
	if verdict.Payer != "" && !strings.EqualFold(verdict.Payer, wallet) {
		log.WithField("payer", verdict.Payer).Warn("Payer does not match sender wallet")
		return challenge(ReasonWalletMismatch)
	}

	pc := &PaymentContext{
		Payload:       decoded.Payload,
		Raw:           decoded.Raw,
		Requirements:  requirements,
		Verify:        verdict,
		SettlementKey: key,
	}
	if e.guard != nil {
		acquired, err := e.guard.Acquire(ctx, key)
		switch {
		case err != nil:
			log.WithField("error", err.Error()).Warn("Settlement guard unavailable")
		case !acquired:
			return challenge(ReasonSettlementInFlight)
		default:
			pc.guarded = true
		}
	}

	return &Admission{Mode: ModePayment, Wallet: wallet, Route: route, Payment: pc}
}

// Complete runs the post-handler phase. It never settles or charges for a
// handler status of 400 or above.
func (e *Engine) Complete(ctx context.Context, adm *Admission, out Outcome) Completion {
	// The caller may have gone away; accounting must still finish.
	ctx = context.WithoutCancel(ctx)

	switch adm.Mode {
	case ModeCredit:
		return e.completeCredit(ctx, adm, out)
	case ModePayment:
		if adm.Payment.guarded {
			defer e.release(ctx, adm)
		}
		return e.completePayment(ctx, adm, out)
	}
	return Completion{}
}

func (e *Engine) completeCredit(ctx context.Context, adm *Admission, out Outcome) Completion {
	if out.Status >= http.StatusBadRequest {
		return Completion{}
	}
	err := e.ledger.Debit(ctx, adm.Wallet, adm.Route.PriceMicros, usageRecord(adm, domain.BillingModeCredit, out))
	if err != nil {
		// The caller already has the result; a failed debit is an accounting incident.
		e.log.WithFields(logrus.Fields{
			"wallet":        adm.Wallet,
			"route":         adm.Route.Route.String(),
			"amount_micros": adm.Route.PriceMicros,
			"billing_mode":  domain.BillingModeCredit,
			"error":         err.Error(),
		}).Error("Credit debit failed after serving request")
		return Completion{Headers: map[string]string{HeaderBillingMode: domain.BillingModeCredit}}
	}
	return Completion{Headers: map[string]string{HeaderBillingMode: domain.BillingModeCredit}, Charged: true}
}

func (e *Engine) completePayment(ctx context.Context, adm *Admission, out Outcome) Completion {
	pc := adm.Payment
	log := e.log.WithFields(logrus.Fields{
		"wallet":        adm.Wallet,
		"route":         adm.Route.Route.String(),
		"amount_micros": adm.Route.PriceMicros,
		"billing_mode":  domain.BillingModePayment,
	})
	if out.Status >= http.StatusBadRequest {
		log.WithField("status", out.Status).Info("Handler failed, payment not settled")
		return Completion{}
	}

	settled, err := e.facilitator.Settle(ctx, pc.Raw, pc.Requirements)
	if err == nil && !settled.Success {
		reason := settled.ErrorReason
		if reason == "" {
			reason = "unknown"
		}
		err = errors.New(reason)
	}
	if err != nil {
		if out.Committed {
			log.WithField("error", err.Error()).Error("Settlement failed after response was sent")
			return Completion{}
		}
		log.WithField("error", err.Error()).Warn("Settlement failed, withholding response")
		return Completion{Override: &Rejection{
			Status: http.StatusPaymentRequired,
			Body:   x402.NewPaymentRequired(ReasonSettlementFailed, pc.Requirements),
		}}
	}
	pc.Settle = settled

	headers := map[string]string{HeaderBillingMode: domain.BillingModePayment}
	if encoded, err := x402.EncodePaymentResponse(*settled); err == nil {
		headers[x402.HeaderPaymentResponse] = encoded
	}

	err = e.ledger.Credit(ctx, adm.Wallet, adm.Route.PriceMicros, ledger.PaymentRecord{
		Resource:       pc.Requirements.Resource,
		SettlementKey:  pc.SettlementKey,
		PaymentPayload: pc.Raw,
		VerifyResponse: pc.Verify,
		SettleResponse: settled,
	})
	switch {
	case errors.Is(err, ledger.ErrDuplicateSettlement):
		log.WithField("settlement_key", pc.SettlementKey).Warn("Settlement already credited, skipping debit")
		return Completion{Headers: headers}
	case err != nil:
		log.WithFields(logrus.Fields{"transaction": settled.Transaction, "error": err.Error()}).
			Error("Credit after settlement failed")
		return Completion{Headers: headers}
	}

	if err := e.ledger.Debit(ctx, adm.Wallet, adm.Route.PriceMicros, usageRecord(adm, domain.BillingModePayment, out)); err != nil {
		log.WithFields(logrus.Fields{"transaction": settled.Transaction, "error": err.Error()}).
			Error("Debit after settlement failed")
	}
	log.WithField("transaction", settled.Transaction).Info("Payment settled")
	return Completion{Headers: headers, Charged: true}
}

func (e *Engine) release(ctx context.Context, adm *Admission) {
	if err := e.guard.Release(ctx, adm.Payment.SettlementKey); err != nil {
		e.log.WithFields(logrus.Fields{
			"settlement_key": adm.Payment.SettlementKey,
			"error":          err.Error(),
		}).Warn("Settlement guard release failed")
	}
}

func (e *Engine) requirementsFor(route pricing.RouteConfig, resource string) x402.PaymentRequirements {
	extra := make(map[string]any, len(e.tmpl.Extra))
	for k, v := range e.tmpl.Extra {
		extra[k] = v
	}
	return x402.PaymentRequirements{
		Scheme:            e.tmpl.Scheme,
		Network:           e.tmpl.Network,
		MaxAmountRequired: strconv.FormatInt(route.PriceMicros, 10),
		Resource:          resource,
		Description:       route.Description,
		MimeType:          route.MimeType,
		PayTo:             e.tmpl.PayTo,
		MaxTimeoutSeconds: e.tmpl.MaxTimeoutSeconds,
		Asset:             e.tmpl.Asset,
		Extra:             extra,
	}
}

func usageRecord(adm *Admission, mode string, out Outcome) ledger.UsageRecord {
	meta := map[string]any{"status": out.Status}
	if adm.Payment != nil {
		meta["resource"] = adm.Payment.Requirements.Resource
		if adm.Payment.Settle != nil {
			meta["transaction"] = adm.Payment.Settle.Transaction
		}
	}
	return ledger.UsageRecord{
		Endpoint:    adm.Route.Route.String(),
		BillingMode: mode,
		Description: adm.Route.Description,
		Metadata:    meta,
	}
}

func reject(status int, body any) *Admission {
	return &Admission{Mode: ModeRejected, Rejection: &Rejection{Status: status, Body: body}}
}
