// Package ledger applies gateway-reported state changes to bookings,
// payments and refunds.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"payrecon/internal/common/money"
	"payrecon/internal/ledger/domain"
)

// Writer is the set of merge-writes the mutator needs. Every method must be
// safe to repeat with the same arguments.
type Writer interface {
	MergePayment(ctx context.Context, patch domain.PaymentPatch) error
	MergeBooking(ctx context.Context, id string, patch domain.BookingPatch) (bool, error)
	MergeBookings(ctx context.Context, ids []string, patch domain.BookingPatch) (int64, error)
	FindBookingsByPaymentRef(ctx context.Context, paymentID string) ([]*domain.Booking, error)
	UpsertGatewayRefund(ctx context.Context, r *domain.Refund) (string, error)
}

// Store opens a transaction-scoped Writer.
type Store interface {
	WithTx(ctx context.Context, fn func(w Writer) error) error
}

// ErrMissingReference is returned when an event lacks a key the mutation is
// addressed by.
var ErrMissingReference = errors.New("missing reference")

// PaymentCaptured is a successful capture reported by the gateway.
type PaymentCaptured struct {
	OrderID   string
	PaymentID string
	BookingID string
	Amount    money.Money
}

// PaymentFailed is a failed payment attempt reported by the gateway.
type PaymentFailed struct {
	OrderID     string
	PaymentID   string
	BookingID   string
	Amount      money.Money
	Description string
}

// RefundProcessed is a completed refund reported by the gateway. RefundID is
// the gateway's id; RefundRef is our refund id when the gateway echoes it
// back, empty for refunds issued outside this service.
type RefundProcessed struct {
	RefundID  string
	RefundRef string
	PaymentID string
	Amount    money.Money
}

// ClientConfirmation is a payment the user's client confirmed synchronously,
// carrying the order and payment ids the gateway signed at checkout.
type ClientConfirmation struct {
	OrderID   string
	PaymentID string
	BookingID string
}

// Mutator turns gateway events into ledger writes.
type Mutator struct {
	store  Store
	logger *slog.Logger
}

// NewMutator creates a mutator
func NewMutator(store Store, logger *slog.Logger) *Mutator {
	return &Mutator{store: store, logger: logger}
}

// ApplyPaymentCaptured marks the payment captured and the booking paid and
// confirmed.
func (m *Mutator) ApplyPaymentCaptured(ctx context.Context, ev PaymentCaptured) error {
	if ev.OrderID == "" || ev.BookingID == "" {
		return fmt.Errorf("payment captured: %w", ErrMissingReference)
	}

	return m.store.WithTx(ctx, func(w Writer) error {
		amount := ev.Amount
		err := w.MergePayment(ctx, domain.PaymentPatch{
			OrderID:     ev.OrderID,
			PaymentID:   optional(ev.PaymentID),
			BookingID:   &ev.BookingID,
			Amount:      &amount,
			Status:      domain.Ptr(domain.PaymentRecordCaptured),
			VerifiedVia: domain.Ptr(domain.VerifiedByWebhook),
		})
		if err != nil {
			return err
		}

		found, err := w.MergeBooking(ctx, ev.BookingID, domain.BookingPatch{
			PaymentStatus:    domain.Ptr(domain.PaymentPaid),
			Status:           domain.Ptr(domain.BookingConfirmed),
			GatewayOrderID:   &ev.OrderID,
			GatewayPaymentID: optional(ev.PaymentID),
		})
		if err != nil {
			return err
		}
		if !found {
			m.logger.Warn("captured payment references unknown booking",
				"booking_id", ev.BookingID,
				"order_id", ev.OrderID,
			)
		}

		m.logger.Info("payment captured",
			"booking_id", ev.BookingID,
			"order_id", ev.OrderID,
			"amount", amount.String(),
		)
		return nil
	})
}

// ApplyClientConfirmation applies the same captured/paid merge as a
// payment.captured webhook. The payment is recorded as verified by the
// client unless the webhook already verified it; either arrival order ends
// in the same booking state.
func (m *Mutator) ApplyClientConfirmation(ctx context.Context, ev ClientConfirmation) error {
	if ev.OrderID == "" || ev.PaymentID == "" || ev.BookingID == "" {
		return fmt.Errorf("client confirmation: %w", ErrMissingReference)
	}

	return m.store.WithTx(ctx, func(w Writer) error {
		err := w.MergePayment(ctx, domain.PaymentPatch{
			OrderID:     ev.OrderID,
			PaymentID:   &ev.PaymentID,
			BookingID:   &ev.BookingID,
			Status:      domain.Ptr(domain.PaymentRecordCaptured),
			VerifiedVia: domain.Ptr(domain.VerifiedByClient),
		})
		if err != nil {
			return err
		}

		found, err := w.MergeBooking(ctx, ev.BookingID, domain.BookingPatch{
			PaymentStatus:    domain.Ptr(domain.PaymentPaid),
			Status:           domain.Ptr(domain.BookingConfirmed),
			GatewayOrderID:   &ev.OrderID,
			GatewayPaymentID: &ev.PaymentID,
		})
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("client confirmation for booking %s: %w", ev.BookingID, ErrMissingReference)
		}

		m.logger.Info("payment confirmed by client",
			"booking_id", ev.BookingID,
			"order_id", ev.OrderID,
		)
		return nil
	})
}

// ApplyPaymentFailed marks the booking and payment failed.
func (m *Mutator) ApplyPaymentFailed(ctx context.Context, ev PaymentFailed) error {
	if ev.BookingID == "" {
		return fmt.Errorf("payment failed: %w", ErrMissingReference)
	}

	return m.store.WithTx(ctx, func(w Writer) error {
		found, err := w.MergeBooking(ctx, ev.BookingID, domain.BookingPatch{
			PaymentStatus:    domain.Ptr(domain.PaymentFailed),
			Status:           domain.Ptr(domain.BookingPaymentFailed),
			FailureReason:    &ev.Description,
			GatewayOrderID:   optional(ev.OrderID),
			GatewayPaymentID: optional(ev.PaymentID),
		})
		if err != nil {
			return err
		}
		if !found {
			m.logger.Warn("failed payment references unknown booking", "booking_id", ev.BookingID)
		}

		if ev.OrderID == "" {
			return nil
		}

		patch := domain.PaymentPatch{
			OrderID:          ev.OrderID,
			PaymentID:        optional(ev.PaymentID),
			BookingID:        &ev.BookingID,
			Status:           domain.Ptr(domain.PaymentRecordFailed),
			VerifiedVia:      domain.Ptr(domain.VerifiedByWebhook),
			ErrorDescription: &ev.Description,
		}
		if ev.Amount.IsPositive() {
			amount := ev.Amount
			patch.Amount = &amount
		}
		return w.MergePayment(ctx, patch)
	})
}

// ApplyRefundProcessed marks every booking paid through the refunded payment
// and records the refund. It returns the number of bookings updated.
func (m *Mutator) ApplyRefundProcessed(ctx context.Context, ev RefundProcessed) (int, error) {
	if ev.RefundID == "" || ev.PaymentID == "" {
		return 0, fmt.Errorf("refund processed: %w", ErrMissingReference)
	}

	var updated int
	err := m.store.WithTx(ctx, func(w Writer) error {
		bookings, err := w.FindBookingsByPaymentRef(ctx, ev.PaymentID)
		if err != nil {
			return err
		}

		refund := &domain.Refund{
			ID:              ev.RefundRef,
			GatewayRefundID: ev.RefundID,
			Amount:          ev.Amount,
			PaymentMode:     domain.ModeGateway,
			Status:          domain.RefundProcessed,
			ProcessedBy:     "gateway",
		}

		if len(bookings) == 0 {
			m.logger.Warn("refund references no known booking",
				"refund_id", ev.RefundID,
				"payment_id", ev.PaymentID,
			)
			_, err := w.UpsertGatewayRefund(ctx, refund)
			return err
		}
		if len(bookings) > 1 {
			m.logger.Warn("refund matches several bookings",
				"refund_id", ev.RefundID,
				"payment_id", ev.PaymentID,
				"count", len(bookings),
			)
		}

		first := bookings[0]
		refund.BookingID = first.ID
		refund.UserID = first.UserID
		refund.PartnerID = first.PartnerID
		if refund.Amount.Currency == "" {
			refund.Amount.Currency = first.Amount.Currency
		}
		refundID, err := w.UpsertGatewayRefund(ctx, refund)
		if err != nil {
			return err
		}

		ids := make([]string, len(bookings))
		for i, b := range bookings {
			ids[i] = b.ID
		}
		n, err := w.MergeBookings(ctx, ids, domain.BookingPatch{
			RefundStatus:    domain.Ptr(domain.RefundProcessed),
			RefundID:        &refundID,
			GatewayRefundID: &ev.RefundID,
			RefundAmount:    &ev.Amount.AmountMinor,
		})
		if err != nil {
			return err
		}
		updated = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}

	m.logger.Info("refund processed",
		"refund_id", ev.RefundID,
		"payment_id", ev.PaymentID,
		"bookings", updated,
	)
	return updated, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
