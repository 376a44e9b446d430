package facilitator

import (
	"bytes"                      // Request bodies
	"context"                    // Request contexts
	"encoding/json"              // JSON encoding
	"fmt"                        // Error formatting
	"io"                         // Response bodies
	"net/http"                   // HTTP client
	"strings"                    // URL joining
	"time"                       // Client timeout
	"x402_gateway/internal/x402" // Wire types
)

const maxErrorBody = 4 << 10 // Error bodies kept for logging

// Error is returned for transport failures and non-2xx facilitator responses.
type Error struct {
	Op         string // verify or settle
	StatusCode int    // zero for transport failures
	Body       string // Truncated response body
	Err        error  // Transport or decode error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("facilitator %s returned status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("facilitator %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config configures a Client.
type Config struct {
	BaseURL string        // Facilitator root URL
	APIKey  string        // optional bearer token
	Timeout time.Duration // Per-call timeout
}

// Client talks to a facilitator over HTTP. It never retries.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a facilitator client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second // Default timeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type request struct {
	X402Version         int                      `json:"x402Version"`
	PaymentPayload      json.RawMessage          `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

// Verify checks a payment payload against requirements via POST /verify.
func (c *Client) Verify(ctx context.Context, payload json.RawMessage, req x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	var out x402.VerifyResponse
	if err := c.call(ctx, "verify", payload, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle executes a verified payment via POST /settle.
func (c *Client) Settle(ctx context.Context, payload json.RawMessage, req x402.PaymentRequirements) (*x402.SettleResponse, error) {
	var out x402.SettleResponse
	if err := c.call(ctx, "settle", payload, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, op string, payload json.RawMessage, req x402.PaymentRequirements, out any) error {
	body, err := json.Marshal(request{
		X402Version:         x402.Version,
		PaymentPayload:      payload,
		PaymentRequirements: req,
	})
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+op, bytes.NewReader(body))
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close() // Close response body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &Error{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
