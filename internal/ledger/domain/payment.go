package domain

import (
	"time"

	"payrecon/internal/common/money"
)

// PaymentRecordStatus is the gateway-side state of an order.
type PaymentRecordStatus string

const (
	PaymentRecordCreated  PaymentRecordStatus = "created"
	PaymentRecordCaptured PaymentRecordStatus = "captured"
	PaymentRecordFailed   PaymentRecordStatus = "failed"
	PaymentRecordRefunded PaymentRecordStatus = "refunded"
)

func ParsePaymentRecordStatus(s string) (PaymentRecordStatus, error) {
	switch v := PaymentRecordStatus(s); v {
	case PaymentRecordCreated, PaymentRecordCaptured, PaymentRecordFailed, PaymentRecordRefunded:
		return v, nil
	}
	return "", unknown("payment record status", s)
}

func (s *PaymentRecordStatus) Scan(src any) error { return scanEnum(src, s, ParsePaymentRecordStatus) }

// VerificationSource records which path confirmed the payment.
type VerificationSource string

const (
	VerifiedByWebhook VerificationSource = "webhook"
	VerifiedByClient  VerificationSource = "client"
)

func ParseVerificationSource(s string) (VerificationSource, error) {
	switch v := VerificationSource(s); v {
	case VerifiedByWebhook, VerifiedByClient:
		return v, nil
	}
	return "", unknown("verification source", s)
}

func (s *VerificationSource) Scan(src any) error { return scanEnum(src, s, ParseVerificationSource) }

// Payment is one row per gateway order.
type Payment struct {
	OrderID          string              `json:"order_id"`
	PaymentID        string              `json:"payment_id,omitempty"`
	BookingID        string              `json:"booking_id,omitempty"`
	Amount           money.Money         `json:"amount"`
	Status           PaymentRecordStatus `json:"status"`
	VerifiedVia      VerificationSource  `json:"verified_via"`
	ErrorDescription string              `json:"error_description,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// PaymentPatch is the merge-write applied to the payment keyed by OrderID.
type PaymentPatch struct {
	OrderID          string
	PaymentID        *string
	BookingID        *string
	Amount           *money.Money
	Status           *PaymentRecordStatus
	VerifiedVia      *VerificationSource
	ErrorDescription *string
}
