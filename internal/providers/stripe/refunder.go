// Package stripe refunds payment intents through Stripe and decodes Stripe
// webhooks into gateway events.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gostripe "github.com/stripe/stripe-go/v83"
	stripeRefund "github.com/stripe/stripe-go/v83/refund"

	"payrecon/internal/refund"
)

// Config holds Stripe configuration
type Config struct {
	SecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	WebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	Reason        string `envconfig:"STRIPE_REFUND_REASON" default:"requested_by_customer"`
}

// Enabled reports whether a key is configured.
func (c Config) Enabled() bool { return c.SecretKey != "" }

// Refunder refunds captured payment intents.
type Refunder struct {
	reason string
	logger *slog.Logger
	create func(params *gostripe.RefundParams) (*gostripe.Refund, error)
}

// NewRefunder configures the Stripe client key and returns a refunder.
func NewRefunder(cfg Config, logger *slog.Logger) (*Refunder, error) {
	if !cfg.Enabled() {
		return nil, errors.New("STRIPE_SECRET_KEY is not set")
	}
	gostripe.Key = cfg.SecretKey
	return &Refunder{reason: cfg.Reason, logger: logger, create: stripeRefund.New}, nil
}

// Refund refunds req.Amount of the payment intent req.PaymentRef and returns
// the Stripe refund id. req.RefundID is the idempotency key, so a retried
// call returns the refund created by the first.
func (r *Refunder) Refund(ctx context.Context, req refund.GatewayRefund) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("refund amount must be positive, got %s", req.Amount)
	}

	params := &gostripe.RefundParams{
		PaymentIntent: gostripe.String(req.PaymentRef),
		Amount:        gostripe.Int64(req.Amount.AmountMinor),
	}
	if r.reason != "" {
		params.Reason = gostripe.String(r.reason)
	}
	if req.RefundID != "" {
		params.SetIdempotencyKey(req.RefundID)
		params.AddMetadata("refund_id", req.RefundID)
	}

	re, err := r.create(params)
	if err != nil {
		var serr *gostripe.Error
		if errors.As(err, &serr) {
			return "", fmt.Errorf("stripe refund %s: %s (%s)", req.PaymentRef, serr.Msg, serr.Code)
		}
		return "", fmt.Errorf("stripe refund %s: %w", req.PaymentRef, err)
	}

	r.logger.Info("stripe refund created",
		"payment_intent", req.PaymentRef,
		"refund_id", req.RefundID,
		"gateway_refund_id", re.ID,
		"amount", req.Amount.AmountMinor,
		"status", string(re.Status),
	)
	return re.ID, nil
}
