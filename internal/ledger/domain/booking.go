package domain

import (
	"time"

	"payrecon/internal/common/money"
)

// PaymentStatus is the booking-side view of whether it has been paid for.
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
	PaymentFailed PaymentStatus = "failed"
)

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch v := PaymentStatus(s); v {
	case PaymentUnpaid, PaymentPaid, PaymentFailed:
		return v, nil
	}
	return "", unknown("payment status", s)
}

func (s *PaymentStatus) Scan(src any) error { return scanEnum(src, s, ParsePaymentStatus) }

// BookingStatus is the lifecycle of a reservation.
type BookingStatus string

const (
	BookingPending         BookingStatus = "pending"
	BookingConfirmed       BookingStatus = "confirmed"
	BookingPaymentFailed   BookingStatus = "payment_failed"
	BookingCancelledByUser BookingStatus = "cancelled_by_user"
	BookingCompleted       BookingStatus = "completed"
)

func ParseBookingStatus(s string) (BookingStatus, error) {
	switch v := BookingStatus(s); v {
	case BookingPending, BookingConfirmed, BookingPaymentFailed, BookingCancelledByUser, BookingCompleted:
		return v, nil
	}
	return "", unknown("booking status", s)
}

func (s *BookingStatus) Scan(src any) error { return scanEnum(src, s, ParseBookingStatus) }

// SettlementStatus tracks whether a booking has been claimed by a payout.
type SettlementStatus string

const (
	SettlementNone      SettlementStatus = "none"
	SettlementRequested SettlementStatus = "requested"
	SettlementSettled   SettlementStatus = "settled"
)

func ParseSettlementStatus(s string) (SettlementStatus, error) {
	switch v := SettlementStatus(s); v {
	case SettlementNone, SettlementRequested, SettlementSettled:
		return v, nil
	}
	return "", unknown("booking settlement status", s)
}

func (s *SettlementStatus) Scan(src any) error { return scanEnum(src, s, ParseSettlementStatus) }

// Booking is a reservation made by a user with a partner. Bookings are never
// deleted; cancellation is a status.
type Booking struct {
	ID               string           `json:"id"`
	PartnerID        string           `json:"partner_id"`
	UserID           string           `json:"user_id"`
	Amount           money.Money      `json:"amount"`
	PaymentStatus    PaymentStatus    `json:"payment_status"`
	Status           BookingStatus    `json:"status"`
	SettlementStatus SettlementStatus `json:"settlement_status"`
	GatewayOrderID   string           `json:"gateway_order_id,omitempty"`
	GatewayPaymentID string           `json:"gateway_payment_id,omitempty"`
	FailureReason    string           `json:"failure_reason,omitempty"`
	RefundStatus     *RefundStatus    `json:"refund_status,omitempty"`
	RefundID         string           `json:"refund_id,omitempty"`
	GatewayRefundID  string           `json:"gateway_refund_id,omitempty"`
	RefundAmount     *money.Money     `json:"refund_amount,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Settleable reports whether the booking is finished from the customer's
// side, which is when an invoice can be issued for it.
func (b *Booking) Settleable() bool {
	return b.Status == BookingCompleted || b.PaymentStatus == PaymentPaid
}

// BookingPatch is a merge-write: nil fields are left untouched, set fields
// are assigned absolutely so re-applying the patch is a no-op.
type BookingPatch struct {
	PaymentStatus    *PaymentStatus
	Status           *BookingStatus
	GatewayOrderID   *string
	GatewayPaymentID *string
	FailureReason    *string
	RefundStatus     *RefundStatus
	// RefundID is always our refunds.id; the gateway's id goes in
	// GatewayRefundID.
	RefundID         *string
	GatewayRefundID  *string
	RefundAmount     *int64
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
