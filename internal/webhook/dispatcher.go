package webhook

import (
	"context"
	"errors"
	"log/slog"

	"payrecon/internal/ledger"
)

// LedgerMutator applies gateway events to the ledger.
type LedgerMutator interface {
	ApplyPaymentCaptured(ctx context.Context, ev ledger.PaymentCaptured) error
	ApplyPaymentFailed(ctx context.Context, ev ledger.PaymentFailed) error
	ApplyRefundProcessed(ctx context.Context, ev ledger.RefundProcessed) (int, error)
}

// Dispatcher routes a parsed event to its ledger mutation.
type Dispatcher struct {
	mutator LedgerMutator
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher
func NewDispatcher(mutator LedgerMutator, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{mutator: mutator, logger: logger}
}

// Dispatch applies ev. Events that cannot be attributed to a booking are
// logged and dropped; only store failures are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) error {
	switch ev.Type {
	case EventPaymentCaptured:
		return d.paymentCaptured(ctx, ev)
	case EventPaymentFailed:
		return d.paymentFailed(ctx, ev)
	case EventRefundProcessed:
		return d.refundProcessed(ctx, ev)
	case EventUnknown:
		d.logger.Info("unhandled webhook event", "event_id", ev.ID, "event_type", ev.RawType)
		return nil
	default:
		d.logger.Warn("unhandled webhook event", "event_id", ev.ID, "event_type", string(ev.Type))
		return nil
	}
}

func (d *Dispatcher) paymentCaptured(ctx context.Context, ev *Event) error {
	p := ev.Payment
	if p == nil {
		d.logger.Warn("payment event without payment entity", "event_id", ev.ID)
		return nil
	}
	bookingID := p.Notes.BookingID()
	if bookingID == "" {
		d.logger.Warn("captured payment has no booking reference",
			"event_id", ev.ID,
			"order_id", p.OrderID,
		)
		return nil
	}

	return d.ignoreMissing(ev, d.mutator.ApplyPaymentCaptured(ctx, ledger.PaymentCaptured{
		OrderID:   p.OrderID,
		PaymentID: p.ID,
		BookingID: bookingID,
		Amount:    p.Money(),
	}))
}

func (d *Dispatcher) paymentFailed(ctx context.Context, ev *Event) error {
	p := ev.Payment
	if p == nil {
		d.logger.Warn("payment event without payment entity", "event_id", ev.ID)
		return nil
	}
	bookingID := p.Notes.BookingID()
	if bookingID == "" {
		d.logger.Warn("failed payment has no booking reference",
			"event_id", ev.ID,
			"order_id", p.OrderID,
		)
		return nil
	}

	return d.ignoreMissing(ev, d.mutator.ApplyPaymentFailed(ctx, ledger.PaymentFailed{
		OrderID:     p.OrderID,
		PaymentID:   p.ID,
		BookingID:   bookingID,
		Amount:      p.Money(),
		Description: p.ErrorDescription,
	}))
}

func (d *Dispatcher) refundProcessed(ctx context.Context, ev *Event) error {
	r := ev.Refund
	if r == nil {
		d.logger.Warn("refund event without refund entity", "event_id", ev.ID)
		return nil
	}

	_, err := d.mutator.ApplyRefundProcessed(ctx, ledger.RefundProcessed{
		RefundID:  r.ID,
		RefundRef: r.Notes.RefundRef(),
		PaymentID: r.PaymentID,
		Amount:    r.Money(),
	})
	return d.ignoreMissing(ev, err)
}

func (d *Dispatcher) ignoreMissing(ev *Event, err error) error {
	if errors.Is(err, ledger.ErrMissingReference) {
		d.logger.Warn("webhook event missing reference", "event_id", ev.ID, "event_type", ev.RawType, "error", err)
		return nil
	}
	return err
}
