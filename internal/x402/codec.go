package x402

import (
	"bytes"           // Request bodies
	"crypto/sha256"   // Settlement key digest
	"encoding/base64" // X-PAYMENT header encoding
	"encoding/hex"    // Digest encoding
	"encoding/json"   // JSON encoding
	"errors"          // Error values
	"fmt"             // Error formatting
	"strings"         // String manipulation
)

// ErrInvalidPaymentHeader is returned when X-PAYMENT is not base64-encoded JSON.
var ErrInvalidPaymentHeader = errors.New("invalid X-PAYMENT header")

// DecodedPayment is a parsed X-PAYMENT header plus the exact JSON it carried.
type DecodedPayment struct {
	Payload PaymentPayload  // Parsed payload
	Raw     json.RawMessage // Decoded JSON as sent
}

// Key returns the SHA-256 hex digest of the decoded JSON, used to recognise replays.
func (d *DecodedPayment) Key() string {
	var compact bytes.Buffer
	src := []byte(d.Raw)
	if err := json.Compact(&compact, src); err == nil {
		src = compact.Bytes() // Whitespace does not change the key
	}
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])
}

// DecodePaymentHeader decodes a base64 JSON X-PAYMENT header.
func DecodePaymentHeader(header string) (*DecodedPayment, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %v", ErrInvalidPaymentHeader, err)
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrInvalidPaymentHeader)
	}
	var payload PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: parse JSON: %v", ErrInvalidPaymentHeader, err)
	}
	return &DecodedPayment{Payload: payload, Raw: json.RawMessage(raw)}, nil
}

// EncodePaymentHeader encodes a payload for the X-PAYMENT header.
func EncodePaymentHeader(p PaymentPayload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// EncodePaymentResponse encodes a settle verdict for the X-PAYMENT-RESPONSE header.
func EncodePaymentResponse(s SettleResponse) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal payment response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodePaymentResponse decodes an X-PAYMENT-RESPONSE header.
func DecodePaymentResponse(header string) (*SettleResponse, error) {
	b, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	var s SettleResponse
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	return &s, nil
}
