// Package razorpay refunds captured payments through the Razorpay API, the
// gateway whose HMAC-signed webhooks the ledger ingests by default.
package razorpay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	rzp "github.com/razorpay/razorpay-go"

	"payrecon/internal/refund"
)

// Config holds Razorpay API credentials.
type Config struct {
	KeyID     string `envconfig:"RAZORPAY_KEY_ID"`
	KeySecret string `envconfig:"RAZORPAY_KEY_SECRET"`
	Speed     string `envconfig:"RAZORPAY_REFUND_SPEED" default:"normal"`
}

// Enabled reports whether credentials are configured.
func (c Config) Enabled() bool { return c.KeyID != "" && c.KeySecret != "" }

type refundFunc func(paymentID string, amount int, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)

// Refunder refunds captured Razorpay payments.
type Refunder struct {
	speed  string
	logger *slog.Logger
	refund refundFunc
}

// NewRefunder returns a refunder using cfg's API key.
func NewRefunder(cfg Config, logger *slog.Logger) (*Refunder, error) {
	if !cfg.Enabled() {
		return nil, errors.New("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET must be set")
	}
	client := rzp.NewClient(cfg.KeyID, cfg.KeySecret)
	return &Refunder{speed: cfg.Speed, logger: logger, refund: client.Payment.Refund}, nil
}

// Refund refunds req.Amount of payment req.PaymentRef and returns the
// Razorpay refund id. Our refund id travels as the receipt, the notes and
// the idempotency header, so the refund.processed webhook can be matched
// back and a retried call does not refund twice.
func (r *Refunder) Refund(ctx context.Context, req refund.GatewayRefund) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("refund amount must be positive, got %s", req.Amount)
	}

	data := map[string]interface{}{
		"speed": r.speed,
	}
	var headers map[string]string
	if req.RefundID != "" {
		data["receipt"] = req.RefundID
		data["notes"] = map[string]interface{}{"refundId": req.RefundID}
		headers = map[string]string{"X-Refund-Idempotency": req.RefundID}
	}

	resp, err := r.refund(req.PaymentRef, int(req.Amount.AmountMinor), data, headers)
	if err != nil {
		return "", fmt.Errorf("razorpay refund %s: %w", req.PaymentRef, err)
	}
	id, _ := resp["id"].(string)
	if id == "" {
		return "", fmt.Errorf("razorpay refund %s: response has no refund id", req.PaymentRef)
	}

	status, _ := resp["status"].(string)
	r.logger.Info("razorpay refund created",
		"payment_id", req.PaymentRef,
		"refund_id", req.RefundID,
		"gateway_refund_id", id,
		"amount", req.Amount.AmountMinor,
		"status", status,
	)
	return id, nil
}
