package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gostripe "github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	gw "payrecon/internal/webhook"
)

// SourceName is stored with every Stripe webhook event.
const SourceName = "stripe"

// WebhookSource verifies Stripe-Signature headers and maps Stripe events
// onto gateway events. Event ids are prefixed so they never collide with
// the primary gateway's.
type WebhookSource struct {
	secret string
}

// NewWebhookSource returns a source checking signatures with secret.
func NewWebhookSource(secret string) (*WebhookSource, error) {
	if secret == "" {
		return nil, errors.New("STRIPE_WEBHOOK_SECRET is not set")
	}
	return &WebhookSource{secret: secret}, nil
}

func (s *WebhookSource) Name() string { return SourceName }

func (s *WebhookSource) Decode(body []byte, signature, _ string) (*gw.Event, error) {
	evt, err := webhook.ConstructEventWithOptions(body, signature, s.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrNotSigned),
			errors.Is(err, webhook.ErrInvalidHeader),
			errors.Is(err, webhook.ErrNoValidSignature),
			errors.Is(err, webhook.ErrTooOld):
			return nil, gw.ErrInvalidSignature
		}
		return nil, fmt.Errorf("%w: %v", gw.ErrMalformedPayload, err)
	}
	return toEvent(evt)
}

func (s *WebhookSource) Parse(body []byte, _ string) (*gw.Event, error) {
	var evt gostripe.Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", gw.ErrMalformedPayload, err)
	}
	return toEvent(evt)
}

func toEvent(evt gostripe.Event) (*gw.Event, error) {
	if evt.ID == "" {
		return nil, fmt.Errorf("%w: missing event id", gw.ErrMalformedPayload)
	}
	out := &gw.Event{
		ID:        SourceName + ":" + evt.ID,
		Type:      gw.EventUnknown,
		RawType:   string(evt.Type),
		CreatedAt: time.Unix(evt.Created, 0).UTC(),
	}
	if evt.Data == nil {
		return out, nil
	}

	switch evt.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi gostripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: %v", gw.ErrMalformedPayload, err)
		}
		// A payment intent is both the order and the payment.
		p := &gw.PaymentEntity{
			ID:       pi.ID,
			OrderID:  pi.ID,
			Amount:   pi.AmountReceived,
			Currency: string(pi.Currency),
			Notes:    gw.Notes(pi.Metadata),
		}
		out.Type = gw.EventPaymentCaptured
		if evt.Type == "payment_intent.payment_failed" {
			out.Type = gw.EventPaymentFailed
			p.Amount = pi.Amount
			if pi.LastPaymentError != nil {
				p.ErrorDescription = pi.LastPaymentError.Msg
			}
		}
		out.Payment = p

	case "refund.created", "refund.updated":
		var re gostripe.Refund
		if err := json.Unmarshal(evt.Data.Raw, &re); err != nil {
			return nil, fmt.Errorf("%w: %v", gw.ErrMalformedPayload, err)
		}
		// Pending and failed refunds change nothing in the ledger.
		if re.Status != gostripe.RefundStatusSucceeded {
			return out, nil
		}
		r := &gw.RefundEntity{
			ID:       re.ID,
			Amount:   re.Amount,
			Currency: string(re.Currency),
			Notes:    gw.Notes(re.Metadata),
		}
		if re.PaymentIntent != nil {
			r.PaymentID = re.PaymentIntent.ID
		}
		out.Type = gw.EventRefundProcessed
		out.Refund = r
	}
	return out, nil
}
