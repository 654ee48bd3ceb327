package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSecret is returned when no signing secret is configured.
	ErrNoSecret = errors.New("webhook secret not configured")
	// ErrInvalidSignature is returned when the signature does not match the body.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Verifier checks HMAC-SHA256 signatures over raw webhook bodies.
type Verifier struct {
	secret []byte
}

// NewVerifier resolves the shared secret from cfg. The plaintext secret wins
// over the base64 one; with neither set it fails.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.Secret != "" {
		return &Verifier{secret: []byte(cfg.Secret)}, nil
	}
	if cfg.SecretB64 != "" {
		secret, err := base64.StdEncoding.DecodeString(cfg.SecretB64)
		if err != nil {
			return nil, fmt.Errorf("decoding WEBHOOK_SECRET_B64: %w", err)
		}
		if len(secret) == 0 {
			return nil, ErrNoSecret
		}
		return &Verifier{secret: secret}, nil
	}
	return nil, ErrNoSecret
}

// NewCheckoutVerifier returns the verifier for checkout signatures the
// user's client relays. The gateway signs those with its API key secret,
// RAZORPAY_KEY_SECRET; without it the webhook secret is used.
func NewCheckoutVerifier(cfg Config) (*Verifier, error) {
	if cfg.CheckoutSecret != "" {
		return &Verifier{secret: []byte(cfg.CheckoutSecret)}, nil
	}
	return NewVerifier(cfg)
}

// Verify checks the hex signature against body in constant time. A
// "sha256=" prefix is accepted.
func (v *Verifier) Verify(body []byte, signature string) error {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(got, v.mac(body)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the hex signature the gateway would send for body.
func (v *Verifier) Sign(body []byte) string {
	return hex.EncodeToString(v.mac(body))
}

func (v *Verifier) mac(body []byte) []byte {
	h := hmac.New(sha256.New, v.secret)
	h.Write(body)
	return h.Sum(nil)
}
