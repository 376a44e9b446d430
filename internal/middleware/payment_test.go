package middleware

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"x402_gateway/internal/admission"
	"x402_gateway/internal/domain"
	"x402_gateway/internal/facilitator"
	"x402_gateway/internal/ledger"
	"x402_gateway/internal/pricing"
	"x402_gateway/internal/x402"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const payer = "0xPayer"

type fakeFacilitator struct {
	server      *httptest.Server
	verifyCalls atomic.Int32
	settleCalls atomic.Int32
	verifyBody  string
	settleBody  string
}

func newFakeFacilitator(t *testing.T) *fakeFacilitator {
	f := &fakeFacilitator{
		verifyBody: `{"isValid":true,"payer":"0xPayer"}`,
		settleBody: `{"success":true,"transaction":"0xtx","network":"base-sepolia","payer":"0xPayer"}`,
	}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/verify":
			f.verifyCalls.Add(1)
			io.WriteString(w, f.verifyBody)
		case "/settle":
			f.settleCalls.Add(1)
			io.WriteString(w, f.settleBody)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

type recordingGuard struct {
	acquired atomic.Int32
	released atomic.Int32
}

func (g *recordingGuard) Acquire(context.Context, string) (bool, error) {
	g.acquired.Add(1)
	return true, nil
}

func (g *recordingGuard) Release(context.Context, string) error {
	g.released.Add(1)
	return nil
}

type gateway struct {
	router      *gin.Engine
	guard       *recordingGuard
	ledger      *ledger.Ledger
	db          *gorm.DB
	facilitator *fakeFacilitator
	hook        *test.Hook
	handlerRuns atomic.Int32
}

func newGateway(t *testing.T, handler gin.HandlerFunc) *gateway {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, gdb.AutoMigrate(&domain.Balance{}, &domain.PaymentEvent{}, &domain.UsageEvent{}))

	log, hook := test.NewNullLogger()
	cat, err := pricing.New(pricing.Defaults()...)
	require.NoError(t, err)
	g := &gateway{db: gdb, ledger: ledger.New(gdb, log), facilitator: newFakeFacilitator(t), hook: hook, guard: &recordingGuard{}}
	engine := admission.New(admission.Options{
		Catalog:      cat,
		Ledger:       g.ledger,
		Facilitator:  facilitator.NewClient(facilitator.Config{BaseURL: g.facilitator.server.URL}),
		Guard:        g.guard,
		Requirements: admission.RequirementsTemplate{Network: "base-sepolia", PayTo: "0xMerchant", Asset: "0xUSDC", MaxTimeoutSeconds: 60},
		Logger:       log,
	})

	r := gin.New()
	r.Use(gin.RecoveryWithWriter(io.Discard))
	api := r.Group("/")
	api.Use(PaymentMiddleware(engine, ""))
	counted := func(c *gin.Context) {
		g.handlerRuns.Add(1)
		handler(c)
	}
	api.POST("/openai/v1/chat/completions", counted)
	api.GET("/openai/v1/models", counted)
	g.router = r
	return g
}

func okHandler(c *gin.Context) {
	c.Header("X-Upstream", "openai")
	c.JSON(http.StatusOK, gin.H{"id": "chatcmpl-1"})
}

func paymentHeader(t *testing.T) string {
	t.Helper()
	h, err := x402.EncodePaymentHeader(x402.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base-sepolia",
		Payload:     json.RawMessage(`{"signature":"0xsig","authorization":{"from":"0xPayer"}}`),
	})
	require.NoError(t, err)
	return h
}

func (g *gateway) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	g.router.ServeHTTP(w, req)
	return w
}

func (g *gateway) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, g.db.Model(model).Count(&n).Error)
	return n
}

func TestPaymentMiddleware_MissingWallet(t *testing.T) {
	g := newGateway(t, okHandler)

	for _, path := range []string{"/openai/v1/chat/completions", "/openai/v1/models"} {
		method := http.MethodPost
		if strings.HasSuffix(path, "models") {
			method = http.MethodGet
		}
		w := g.do(method, path, "", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"missing_sender_wallet"}`, w.Body.String())
	}
	assert.Zero(t, g.handlerRuns.Load())
}

func TestPaymentMiddleware_FreeRoutePassesThrough(t *testing.T) {
	g := newGateway(t, okHandler)

	w := g.do(http.MethodGet, "/openai/v1/models", "", map[string]string{HeaderWallet: payer})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-Billing-Mode"))
	assert.Equal(t, int32(1), g.handlerRuns.Load())
}

func TestPaymentMiddleware_Challenge(t *testing.T) {
	g := newGateway(t, okHandler)

	w := g.do(http.MethodPost, "/openai/v1/chat/completions", `{}`, map[string]string{HeaderWallet: payer})

	require.Equal(t, http.StatusPaymentRequired, w.Code)
	var body x402.PaymentRequiredResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.X402Version)
	require.Len(t, body.Accepts, 1)
	assert.Equal(t, "60000", body.Accepts[0].MaxAmountRequired)
	assert.Equal(t, "http://example.com/openai/v1/chat/completions", body.Accepts[0].Resource)
	assert.Zero(t, g.handlerRuns.Load())
}

func TestPaymentMiddleware_CreditPath(t *testing.T) {
	g := newGateway(t, okHandler)
	require.NoError(t, g.ledger.Credit(context.Background(), payer, 100000, ledger.PaymentRecord{SettlementKey: "seed"}))

	w := g.do(http.MethodPost, "/openai/v1/chat/completions", `{}`, map[string]string{HeaderWallet: payer})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"chatcmpl-1"}`, w.Body.String())
	assert.Equal(t, "credit", w.Header().Get("X-Billing-Mode"))
	assert.Equal(t, "openai", w.Header().Get("X-Upstream"))
	assert.Equal(t, int32(1), g.handlerRuns.Load())
	bal, err := g.ledger.BalanceOf(context.Background(), payer)
	require.NoError(t, err)
	assert.Equal(t, int64(40000), bal)

	var usage []domain.UsageEvent
	require.NoError(t, g.db.Find(&usage).Error)
	require.Len(t, usage, 1)
	assert.Equal(t, "credit", usage[0].BillingMode)
	assert.Equal(t, int64(1), g.count(t, &domain.PaymentEvent{}), "only the seed credit")
	assert.Zero(t, g.facilitator.verifyCalls.Load())
}

func TestPaymentMiddleware_WalletFromBodyIsStripped(t *testing.T) {
	var forwarded string
	g := newGateway(t, func(c *gin.Context) {
		b, _ := io.ReadAll(c.Request.Body)
		forwarded = string(b)
		c.JSON(http.StatusOK, gin.H{})
	})
	require.NoError(t, g.ledger.Credit(context.Background(), payer, 60000, ledger.PaymentRecord{SettlementKey: "seed"}))

	w := g.do(http.MethodPost, "/openai/v1/chat/completions", `{"model":"gpt-4o","sender_wallet":"0xPayer"}`,
		map[string]string{"Content-Type": "application/json"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"model":"gpt-4o"}`, forwarded)
}

func TestPaymentMiddleware_PaymentPath(t *testing.T) {
	g := newGateway(t, okHandler)

	w := g.do(http.MethodPost, "/openai/v1/chat/completions", `{}`, map[string]string{
		HeaderWallet:       payer,
		x402.HeaderPayment: paymentHeader(t),
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"chatcmpl-1"}`, w.Body.String())
	assert.Equal(t, "payment", w.Header().Get("X-Billing-Mode"))
	resp, err := x402.DecodePaymentResponse(w.Header().Get(x402.HeaderPaymentResponse))
	require.NoError(t, err)
	assert.Equal(t, "0xtx", resp.Transaction)
	assert.Equal(t, int32(1), g.facilitator.settleCalls.Load())

	bal, err := g.ledger.BalanceOf(context.Background(), payer)
	require.NoError(t, err)
	assert.Zero(t, bal)
	assert.Equal(t, int64(1), g.count(t, &domain.PaymentEvent{}))
	assert.Equal(t, int64(1), g.count(t, &domain.UsageEvent{}))

	// The same proof again is a replay.
	w = g.do(http.MethodPost, "/openai/v1/chat/completions", `{}`, map[string]string{
		HeaderWallet:       payer,
		x402.HeaderPayment: paymentHeader(t),
	})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), admission.ReasonAlreadySettled)
	assert.Equal(t, int32(1), g.handlerRuns.Load())
}

func TestPaymentMiddleware_MalformedPayment(t *testing.T) {
	g := newGateway(t, okHandler)

	w := g.do(http.MethodPost, "/openai/v1/chat/completions", `{}`, map[string]string{
		HeaderWallet:       payer,
		x402.HeaderPayment: base64.StdEncoding.EncodeToString([]byte("{broken")),
	})

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid X-PAYMENT header")
	assert.Zero(t, g.facilitator.verifyCalls.Load())
}

func TestPaymentMiddleware_HandlerFailureIsNotSettled(t *testing.T) {
	g := newGateway(t, func(c *gin.Context) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream down"})
	})

	w := g.do(http.MethodPost, "/openai/v1/chat/completions", `{}`, map[string]string{
		HeaderWallet:       payer,
		x402.HeaderPayment: paymentHeader(t),
	})

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{"error":"upstream down"}`, w.Body.String())
	assert.Equal(t, int32(1), g.facilitator.verifyCalls.Load())
	assert.Zero(t, g.facilitator.settleCalls.Load())
	assert.Zero(t, g.count(t, &domain.PaymentEvent{}))
}

func TestPaymentMiddleware_SettlementFailureReplacesResponse(t *testing.T) {
	g := newGateway(t, okHandler)
	g.facilitator.settleBody = `{"success":false,"errorReason":"insufficient_funds"}`

	w := g.do(http.MethodPost, "/openai/v1/chat/completions", `{}`, map[string]string{
		HeaderWallet:       payer,
		x402.HeaderPayment: paymentHeader(t),
	})

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), admission.ReasonSettlementFailed)
	assert.NotContains(t, w.Body.String(), "chatcmpl-1")
	assert.Empty(t, w.Header().Get("X-Upstream"))
	assert.Zero(t, g.count(t, &domain.PaymentEvent{}))
}

func TestPaymentMiddleware_StreamedResponseCannotBeWithdrawn(t *testing.T) {
	g := newGateway(t, func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Status(http.StatusOK)
		c.Writer.WriteString("data: one\n\n")
		c.Writer.Flush()
		c.Writer.WriteString("data: two\n\n")
	})
	g.facilitator.settleBody = `{"success":false,"errorReason":"nonce_used"}`

	w := g.do(http.MethodPost, "/openai/v1/chat/completions", `{}`, map[string]string{
		HeaderWallet:       payer,
		x402.HeaderPayment: paymentHeader(t),
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "data: one\n\ndata: two\n\n", w.Body.String())
	assert.Equal(t, int32(1), g.facilitator.settleCalls.Load())
	var logged bool
	for _, e := range g.hook.AllEntries() {
		logged = logged || e.Message == "Settlement failed after response was sent"
	}
	assert.True(t, logged)
}

func TestResourceURL(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "http://internal:8080/claude/v1/messages?x=1", nil)

	assert.Equal(t, "http://internal:8080/claude/v1/messages", resourceURL(c, ""))

	c.Request.Header.Set("X-Forwarded-Proto", "https")
	c.Request.Header.Set("X-Forwarded-Host", "api.example.com")
	assert.Equal(t, "https://api.example.com/claude/v1/messages", resourceURL(c, ""))

	assert.Equal(t, "https://pay.example.com/claude/v1/messages", resourceURL(c, "https://pay.example.com"))
}

func TestPaymentMiddleware_WalletHeaderStillStripsBodyField(t *testing.T) {
	var forwarded string
	g := newGateway(t, func(c *gin.Context) {
		b, _ := io.ReadAll(c.Request.Body)
		forwarded = string(b)
		c.JSON(http.StatusOK, gin.H{})
	})
	require.NoError(t, g.ledger.Credit(context.Background(), payer, 60000, ledger.PaymentRecord{SettlementKey: "seed"}))

	w := g.do(http.MethodPost, "/openai/v1/chat/completions", `{"model":"gpt-4o","sender_wallet":"0xSomeoneElse"}`,
		map[string]string{"Content-Type": "application/json", HeaderWallet: payer})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"model":"gpt-4o"}`, forwarded)
	bal, err := g.ledger.BalanceOf(context.Background(), payer)
	require.NoError(t, err)
	assert.Zero(t, bal, "header wallet is the one charged")
}

func TestPaymentMiddleware_NonStringBodyWalletIsStripped(t *testing.T) {
	var forwarded string
	g := newGateway(t, func(c *gin.Context) {
		b, _ := io.ReadAll(c.Request.Body)
		forwarded = string(b)
		c.JSON(http.StatusOK, gin.H{})
	})

	w := g.do(http.MethodGet, "/openai/v1/models", `{"sender_wallet":42,"limit":5}`,
		map[string]string{"Content-Type": "application/json", HeaderWallet: payer})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"limit":5}`, forwarded)
}

func TestPaymentMiddleware_PanickingHandlerOnCredit(t *testing.T) {
	g := newGateway(t, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"partial": true})
		panic("boom")
	})
	require.NoError(t, g.ledger.Credit(context.Background(), payer, 100000, ledger.PaymentRecord{SettlementKey: "seed"}))

	w := g.do(http.MethodPost, "/openai/v1/chat/completions", `{}`, map[string]string{HeaderWallet: payer})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "partial")
	assert.Empty(t, w.Header().Get("X-Billing-Mode"))
	bal, err := g.ledger.BalanceOf(context.Background(), payer)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), bal)
	assert.Zero(t, g.count(t, &domain.UsageEvent{}))
}

func TestPaymentMiddleware_PanickingHandlerOnPayment(t *testing.T) {
	g := newGateway(t, func(c *gin.Context) {
		panic("boom")
	})

	w := g.do(http.MethodPost, "/openai/v1/chat/completions", `{}`, map[string]string{
		HeaderWallet:       payer,
		x402.HeaderPayment: paymentHeader(t),
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, int32(1), g.facilitator.verifyCalls.Load())
	assert.Zero(t, g.facilitator.settleCalls.Load())
	assert.Equal(t, int32(1), g.guard.acquired.Load())
	assert.Equal(t, int32(1), g.guard.released.Load())
	assert.Zero(t, g.count(t, &domain.PaymentEvent{}))
}
