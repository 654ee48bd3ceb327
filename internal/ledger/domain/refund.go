package domain

import (
	"errors"
	"fmt"
	"time"

	"payrecon/internal/common/money"
)

// RefundStatus is the lifecycle of a refund.
type RefundStatus string

const (
	RefundPending RefundStatus = "pending"
	// RefundApproving is held while the gateway call for an approval is in
	// flight. Only the admin action that claimed it moves it on.
	RefundApproving RefundStatus = "approving"
	RefundApproved  RefundStatus = "approved"
	RefundProcessed RefundStatus = "processed"
	RefundRejected  RefundStatus = "rejected"
)

func ParseRefundStatus(s string) (RefundStatus, error) {
	switch v := RefundStatus(s); v {
	case RefundPending, RefundApproving, RefundApproved, RefundProcessed, RefundRejected:
		return v, nil
	}
	return "", unknown("refund status", s)
}

func (s *RefundStatus) Scan(src any) error { return scanEnum(src, s, ParseRefundStatus) }

// PaymentMode is how a refund reaches the customer.
type PaymentMode string

const (
	// ModeGateway refunds go back through the payment gateway.
	ModeGateway PaymentMode = "gateway"
	// ModeManual refunds are paid out by operations outside the gateway.
	ModeManual PaymentMode = "manual"
)

func ParsePaymentMode(s string) (PaymentMode, error) {
	switch v := PaymentMode(s); v {
	case ModeGateway, ModeManual:
		return v, nil
	}
	return "", unknown("payment mode", s)
}

func (m *PaymentMode) Scan(src any) error { return scanEnum(src, m, ParsePaymentMode) }

// ErrRefundNotPending is returned when an admin acts on a refund that has
// already been decided.
var ErrRefundNotPending = errors.New("refund is not pending")

// Refund is a refund request or a gateway-reported refund.
type Refund struct {
	ID              string       `json:"id"`
	BookingID       string       `json:"booking_id,omitempty"`
	UserID          string       `json:"user_id,omitempty"`
	PartnerID       string       `json:"partner_id,omitempty"`
	Amount          money.Money  `json:"amount"`
	PaymentMode     PaymentMode  `json:"payment_mode"`
	Status          RefundStatus `json:"refund_status"`
	GatewayRefundID string       `json:"gateway_refund_id,omitempty"`
	InvoiceRef      string       `json:"invoice_ref,omitempty"`
	Reason          string       `json:"reason,omitempty"`
	ProcessedBy     string       `json:"processed_by,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// IsOpen reports whether the refund still blocks a new request for its
// booking.
func (s RefundStatus) IsOpen() bool {
	switch s {
	case RefundPending, RefundApproving, RefundApproved:
		return true
	case RefundProcessed, RefundRejected:
		return false
	}
	return false
}

// Claim reserves a pending gateway refund for adminID before the gateway is
// called.
func (r *Refund) Claim(adminID string, now time.Time) error {
	if r.Status != RefundPending {
		return fmt.Errorf("%w: status is %s", ErrRefundNotPending, r.Status)
	}
	r.Status = RefundApproving
	r.ProcessedBy = adminID
	r.UpdatedAt = now
	return nil
}

// Release returns a claimed refund to pending after a failed gateway call.
func (r *Refund) Release(now time.Time) error {
	if r.Status != RefundApproving {
		return fmt.Errorf("refund %s is %s, not approving", r.ID, r.Status)
	}
	r.Status = RefundPending
	r.ProcessedBy = ""
	r.UpdatedAt = now
	return nil
}

// Approve moves a pending manual refund, or a claimed gateway refund, to
// approved. For gateway refunds the gateway's refund id is recorded.
func (r *Refund) Approve(adminID, gatewayRefundID string, now time.Time) error {
	switch {
	case r.Status == RefundPending && r.PaymentMode == ModeManual:
	case r.Status == RefundApproving && r.PaymentMode == ModeGateway:
	default:
		return fmt.Errorf("%w: status is %s", ErrRefundNotPending, r.Status)
	}
	r.Status = RefundApproved
	r.ProcessedBy = adminID
	if gatewayRefundID != "" {
		r.GatewayRefundID = gatewayRefundID
	}
	r.UpdatedAt = now
	return nil
}

// Reject moves a pending refund to rejected.
func (r *Refund) Reject(adminID string, now time.Time) error {
	if r.Status != RefundPending {
		return fmt.Errorf("%w: status is %s", ErrRefundNotPending, r.Status)
	}
	r.Status = RefundRejected
	r.ProcessedBy = adminID
	r.UpdatedAt = now
	return nil
}
