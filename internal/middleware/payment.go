package middleware

import (
	"bytes"                           // Body rewinding
	"encoding/json"                   // Body wallet field
	"io"                              // Body reading
	"net/http"                        // HTTP status codes
	"strings"                         // String manipulation
	"x402_gateway/internal/admission" // Payment admission engine
	"x402_gateway/internal/x402"      // Protocol headers

	"github.com/gin-gonic/gin" // Gin web framework
)

// Request keys and limits
const (
	HeaderWallet      = "X-Wallet-Address" // Caller wallet header
	BodyWalletField   = "sender_wallet"    // Caller wallet body field
	WalletKey         = "wallet"           // gin context key for the resolved wallet
	PaymentContextKey = "x402Payment"      // gin context key for *admission.PaymentContext
	BillingModeKey    = "billingMode"      // gin context key for the funding mode
	maxWalletBody     = 1 << 20            // Largest body inspected for a wallet field
)

// PaymentMiddleware gates catalogued routes behind credit or an x402 payment
func PaymentMiddleware(engine *admission.Engine, publicBaseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		wallet := resolveWallet(c) // Header first, then JSON body

		adm := engine.Admit(ctx, admission.Request{
			Method:        c.Request.Method,
			Route:         c.FullPath(),
			Wallet:        wallet,
			ResourceURL:   resourceURL(c, publicBaseURL),
			PaymentHeader: c.GetHeader(x402.HeaderPayment),
		})
		// Rejected before the handler runs
		if adm.Rejection != nil {
			c.AbortWithStatusJSON(adm.Rejection.Status, adm.Rejection.Body)
			return
		}
		c.Set(WalletKey, adm.Wallet)
		// Free route, nothing to reconcile
		if !adm.Billable() {
			c.Next()
			return
		}
		c.Set(BillingModeKey, adm.Mode.String())
		if adm.Payment != nil {
			c.Set(PaymentContextKey, adm.Payment)
		}

		// Phase one: run the handler into a buffer
		original := c.Writer
		bw := newBufferedWriter(original)
		c.Writer = bw
		func() {
			defer func() {
				c.Writer = original // Recovery and later middleware write to the real writer
				if r := recover(); r != nil {
					// A crashed handler is never charged; release the settlement guard and re-panic
					engine.Complete(ctx, adm, admission.Outcome{Status: http.StatusInternalServerError, Committed: bw.committed})
					panic(r)
				}
			}()
			c.Next()
		}()

		// Phase two: settle or debit, then release the response
		done := engine.Complete(ctx, adm, admission.Outcome{Status: bw.Status(), Committed: bw.committed})
		if done.Override != nil && !bw.committed {
			c.AbortWithStatusJSON(done.Override.Status, done.Override.Body)
			return
		}
		bw.commit(done.Headers)
	}
}

// resolveWallet reads the caller wallet from the header, else from the JSON body field.
// The body field is removed whenever present so upstreams never see it.
func resolveWallet(c *gin.Context) string {
	fromBody := stripBodyWallet(c)
	if w := strings.TrimSpace(c.GetHeader(HeaderWallet)); w != "" {
		return w
	}
	return fromBody
}

// stripBodyWallet removes the wallet field from a JSON object body and returns its value
func stripBodyWallet(c *gin.Context) string {
	if c.Request.Body == nil || !strings.HasPrefix(c.ContentType(), "application/json") {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWalletBody+1))
	if err != nil || len(raw) > maxWalletBody {
		// Unreadable or too large to inspect, hand the stream on as is
		c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(raw), c.Request.Body))
		return ""
	}
	restore := func(b []byte) {
		c.Request.Body = io.NopCloser(bytes.NewReader(b))
		c.Request.ContentLength = int64(len(b))
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		restore(raw) // Not a JSON object
		return ""
	}
	field, ok := fields[BodyWalletField]
	if !ok {
		restore(raw)
		return ""
	}
	delete(fields, BodyWalletField)
	stripped, err := json.Marshal(fields)
	if err != nil {
		restore(raw)
		return ""
	}
	restore(stripped)
	var wallet string
	if err := json.Unmarshal(field, &wallet); err != nil {
		return "" // Present but not a string
	}
	return strings.TrimSpace(wallet)
}

// resourceURL is the canonical absolute URL of the request, without query
func resourceURL(c *gin.Context, publicBaseURL string) string {
	if publicBaseURL != "" {
		return publicBaseURL + c.Request.URL.Path
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	host := c.Request.Host
	if fwd := c.GetHeader("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return scheme + "://" + host + c.Request.URL.Path
}

// PaymentFromContext returns the payment context stashed for the handler
func PaymentFromContext(c *gin.Context) (*admission.PaymentContext, bool) {
	v, ok := c.Get(PaymentContextKey)
	if !ok {
		return nil, false
	}
	pc, ok := v.(*admission.PaymentContext)
	return pc, ok
}
