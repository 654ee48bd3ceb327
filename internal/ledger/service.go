package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"payrecon/internal/identity"
	"payrecon/internal/ledger/domain"
)

var (
	// ErrForbidden is returned when the actor may not see the record.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidConfirmation is returned for a client payment confirmation
	// whose signature or order does not check out.
	ErrInvalidConfirmation = errors.New("invalid payment confirmation")
)

// SignatureVerifier checks a gateway signature over message.
type SignatureVerifier interface {
	Verify(message []byte, signature string) error
}

// Reader provides read access to ledger records
type Reader interface {
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	GetPayment(ctx context.Context, orderID string) (*domain.Payment, error)
	GetRefund(ctx context.Context, id string) (*domain.Refund, error)
	ListBookingsByPartner(ctx context.Context, partnerID string, limit, offset int) ([]*domain.Booking, error)
}

// Service provides actor-scoped ledger reads and the client payment
// confirmation path.
type Service struct {
	reader   Reader
	mutator  *Mutator
	verifier SignatureVerifier
	logger   *slog.Logger
}

// NewService creates a new ledger service. verifier checks checkout
// signatures for ConfirmPayment.
func NewService(reader Reader, mutator *Mutator, verifier SignatureVerifier, logger *slog.Logger) *Service {
	return &Service{reader: reader, mutator: mutator, verifier: verifier, logger: logger}
}

// ConfirmPaymentRequest is what the user's client relays after checkout.
// The gateway signs "<order id>|<payment id>".
type ConfirmPaymentRequest struct {
	BookingID string `json:"bookingId" validate:"required"`
	OrderID   string `json:"orderId" validate:"required"`
	PaymentID string `json:"paymentId" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

// ConfirmPayment records a payment confirmed by the booking's own user and
// returns the updated booking.
func (s *Service) ConfirmPayment(ctx context.Context, actor identity.Actor, req ConfirmPaymentRequest) (*domain.Booking, error) {
	b, err := s.reader.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, fmt.Errorf("confirm payment: %w", err)
	}
	if actor.Role != identity.RoleUser || actor.UID != b.UserID {
		return nil, ErrForbidden
	}
	if b.GatewayOrderID != "" && b.GatewayOrderID != req.OrderID {
		return nil, fmt.Errorf("%w: booking %s belongs to order %s", ErrInvalidConfirmation, b.ID, b.GatewayOrderID)
	}
	if err := s.verifier.Verify([]byte(req.OrderID+"|"+req.PaymentID), req.Signature); err != nil {
		s.logger.Warn("client payment signature rejected", "booking_id", b.ID, "order_id", req.OrderID)
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfirmation, err)
	}

	err = s.mutator.ApplyClientConfirmation(ctx, ClientConfirmation{
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		BookingID: b.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("confirm payment: %w", err)
	}
	return s.reader.GetBooking(ctx, b.ID)
}

// Booking returns a booking visible to actor: its user, its partner or an admin.
func (s *Service) Booking(ctx context.Context, actor identity.Actor, id string) (*domain.Booking, error) {
	b, err := s.reader.GetBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting booking: %w", err)
	}
	if !canSee(actor, b.UserID, b.PartnerID) {
		return nil, ErrForbidden
	}
	return b, nil
}

// Payment returns the payment for a gateway order. Admin only.
func (s *Service) Payment(ctx context.Context, actor identity.Actor, orderID string) (*domain.Payment, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	p, err := s.reader.GetPayment(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("getting payment: %w", err)
	}
	return p, nil
}

// Refund returns a refund visible to actor.
func (s *Service) Refund(ctx context.Context, actor identity.Actor, id string) (*domain.Refund, error) {
	r, err := s.reader.GetRefund(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting refund: %w", err)
	}
	if !canSee(actor, r.UserID, r.PartnerID) {
		return nil, ErrForbidden
	}
	return r, nil
}

// PartnerBookings lists the bookings of the calling partner.
func (s *Service) PartnerBookings(ctx context.Context, actor identity.Actor, partnerID string, limit, offset int) ([]*domain.Booking, error) {
	if !actor.IsAdmin() && !(actor.Role == identity.RolePartner && actor.UID == partnerID) {
		return nil, ErrForbidden
	}
	return s.reader.ListBookingsByPartner(ctx, partnerID, limit, offset)
}

func canSee(actor identity.Actor, userID, partnerID string) bool {
	switch actor.Role {
	case identity.RoleAdmin:
		return true
	case identity.RolePartner:
		return actor.UID == partnerID
	case identity.RoleUser:
		return actor.UID == userID
	default:
		return false
	}
}
