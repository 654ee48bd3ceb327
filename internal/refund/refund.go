// Package refund runs user refund requests and the admin decisions on them.
package refund

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"payrecon/internal/common/database"
	"payrecon/internal/common/events"
	"payrecon/internal/common/money"
	"payrecon/internal/identity"
	"payrecon/internal/ledger/domain"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrNotPaid       = errors.New("booking is not paid")
	ErrRefundOpen    = errors.New("booking already has an open refund")
	ErrInvalidAmount = errors.New("invalid refund amount")
	ErrUnknownAction = errors.New("unknown refund action")
	ErrGateway       = errors.New("gateway refund failed")
)

// GatewayRefund is one refund sent to the payment gateway. RefundID is our
// refund id; refunders use it as the idempotency key and attach it to the
// gateway refund so the refund.processed webhook can be matched back.
type GatewayRefund struct {
	RefundID   string
	PaymentRef string
	Amount     money.Money
}

// GatewayRefunder sends a refund through the payment gateway and returns the
// gateway's refund id.
type GatewayRefunder interface {
	Refund(ctx context.Context, req GatewayRefund) (string, error)
}

// Store persists refunds.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional view used by writes.
type Tx interface {
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	// OpenRefund returns the booking's refund that is still open, or a
	// not-found error.
	OpenRefund(ctx context.Context, bookingID string) (*domain.Refund, error)
	Insert(ctx context.Context, r *domain.Refund) error
	GetForUpdate(ctx context.Context, id string) (*domain.Refund, error)
	UpdateDecision(ctx context.Context, r *domain.Refund, from domain.RefundStatus) error
	MarkBooking(ctx context.Context, r *domain.Refund) error
}

// Action is an admin decision on a pending refund.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

func ParseAction(s string) (Action, error) {
	switch v := Action(s); v {
	case ActionApprove, ActionReject:
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Service runs refund operations.
type Service struct {
	store     Store
	gateway   GatewayRefunder
	publisher events.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a refund service. gateway and publisher may be nil;
// without a gateway, gateway-mode approvals fail.
func NewService(store Store, gateway GatewayRefunder, publisher events.EventPublisher, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		gateway:   gateway,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Request is a user's refund request. A zero Amount refunds the whole booking.
type Request struct {
	BookingID string
	Amount    money.Money
	Reason    string
}

// RequestRefund records a pending refund for a paid booking owned by actor.
func (s *Service) RequestRefund(ctx context.Context, actor identity.Actor, req Request) (*domain.Refund, error) {
	var r *domain.Refund
	err := s.store.WithTx(ctx, func(tx Tx) error {
		b, err := tx.GetBooking(ctx, req.BookingID)
		if err != nil {
			return err
		}
		if b.UserID != actor.UID {
			return ErrForbidden
		}
		if b.PaymentStatus != domain.PaymentPaid {
			return ErrNotPaid
		}

		amount, err := refundAmount(b, req.Amount)
		if err != nil {
			return err
		}

		if _, err := tx.OpenRefund(ctx, b.ID); err == nil {
			return ErrRefundOpen
		} else if !database.IsNotFound(err) {
			return err
		}

		mode := domain.ModeManual
		if b.GatewayPaymentID != "" {
			mode = domain.ModeGateway
		}
		now := s.now()
		r = &domain.Refund{
			ID:          ulid.Make().String(),
			BookingID:   b.ID,
			UserID:      b.UserID,
			PartnerID:   b.PartnerID,
			Amount:      amount,
			PaymentMode: mode,
			Status:      domain.RefundPending,
			Reason:      strings.TrimSpace(req.Reason),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Insert(ctx, r); err != nil {
			if errors.Is(err, database.ErrAlreadyExists) {
				return ErrRefundOpen
			}
			return err
		}
		return tx.MarkBooking(ctx, r)
	})
	if err != nil {
		return nil, fmt.Errorf("request refund: %w", err)
	}

	s.logger.Info("refund requested",
		"refund_id", r.ID,
		"booking_id", r.BookingID,
		"amount", r.Amount.String(),
		"mode", string(r.PaymentMode),
	)
	s.publish(ctx, events.EventRefundRequested, r, actor)
	return r, nil
}

func refundAmount(b *domain.Booking, requested money.Money) (money.Money, error) {
	if requested.IsZero() {
		return b.Amount, nil
	}
	if !requested.IsPositive() {
		return money.Money{}, ErrInvalidAmount
	}
	if requested.Currency != "" && requested.Currency != b.Amount.Currency {
		return money.Money{}, fmt.Errorf("%w: currency %s, booking is %s", ErrInvalidAmount, requested.Currency, b.Amount.Currency)
	}
	if requested.AmountMinor > b.Amount.AmountMinor {
		return money.Money{}, fmt.Errorf("%w: exceeds booking amount %s", ErrInvalidAmount, b.Amount)
	}
	return money.New(requested.AmountMinor, b.Amount.Currency), nil
}

// Decide applies an admin decision.
//
// A gateway-mode approval is claimed (pending to approving) and committed
// before the gateway is called, so a concurrent or repeated approval, or a
// reject, sees the refund as no longer pending and never reaches the
// gateway. If the gateway call fails the claim is released and the refund
// is pending again.
func (s *Service) Decide(ctx context.Context, actor identity.Actor, refundID string, action Action) (*domain.Refund, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	var (
		r   *domain.Refund
		err error
	)
	switch action {
	case ActionApprove:
		r, err = s.approve(ctx, actor, refundID)
	case ActionReject:
		r, err = s.decideInTx(ctx, refundID, func(r *domain.Refund) error {
			return r.Reject(actor.UID, s.now())
		})
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if err != nil {
		return nil, fmt.Errorf("%s refund: %w", action, err)
	}

	s.logger.Info("refund decided",
		"refund_id", r.ID,
		"status", string(r.Status),
		"admin_id", actor.UID,
	)
	eventType := events.EventRefundApproved
	if r.Status == domain.RefundRejected {
		eventType = events.EventRefundRejected
	}
	s.publish(ctx, eventType, r, actor)
	return r, nil
}

// decideInTx locks the refund, applies decide and writes the result with a
// conditional update on the status it was read in.
func (s *Service) decideInTx(ctx context.Context, refundID string, decide func(r *domain.Refund) error) (*domain.Refund, error) {
	var r *domain.Refund
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		r, err = tx.GetForUpdate(ctx, refundID)
		if err != nil {
			return err
		}
		from := r.Status
		if err := decide(r); err != nil {
			return err
		}
		if err := tx.UpdateDecision(ctx, r, from); err != nil {
			return err
		}
		return tx.MarkBooking(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) approve(ctx context.Context, actor identity.Actor, refundID string) (*domain.Refund, error) {
	var (
		claimed *domain.Refund
		booking *domain.Booking
		decided *domain.Refund
	)
	err := s.store.WithTx(ctx, func(tx Tx) error {
		r, err := tx.GetForUpdate(ctx, refundID)
		if err != nil {
			return err
		}
		from := r.Status

		if r.PaymentMode == domain.ModeManual {
			if err := r.Approve(actor.UID, "", s.now()); err != nil {
				return err
			}
			if err := tx.UpdateDecision(ctx, r, from); err != nil {
				return err
			}
			decided = r
			return tx.MarkBooking(ctx, r)
		}

		if err := r.Claim(actor.UID, s.now()); err != nil {
			return err
		}
		booking, err = tx.GetBooking(ctx, r.BookingID)
		if err != nil {
			return err
		}
		if err := tx.UpdateDecision(ctx, r, from); err != nil {
			return err
		}
		claimed = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if decided != nil {
		return decided, nil
	}

	gatewayRefundID, err := s.refundAtGateway(ctx, claimed, booking)
	if err != nil {
		s.release(context.WithoutCancel(ctx), claimed.ID)
		return nil, err
	}

	// Recorded even if the caller went away: the money has already moved.
	ctx = context.WithoutCancel(ctx)
	var r *domain.Refund
	err = s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		r, err = tx.GetForUpdate(ctx, claimed.ID)
		if err != nil {
			return err
		}
		if r.Status == domain.RefundProcessed {
			// The gateway's refund.processed webhook got here first.
			return nil
		}
		from := r.Status
		if err := r.Approve(actor.UID, gatewayRefundID, s.now()); err != nil {
			return err
		}
		if err := tx.UpdateDecision(ctx, r, from); err != nil {
			return err
		}
		return tx.MarkBooking(ctx, r)
	})
	if err != nil {
		s.logger.Error("gateway refund issued but decision not recorded",
			"refund_id", claimed.ID,
			"gateway_refund_id", gatewayRefundID,
			"error", err,
		)
		return nil, err
	}
	return r, nil
}

// release returns a claimed refund to pending. A refund left approving
// blocks further decisions, so a failure here is logged at error.
func (s *Service) release(ctx context.Context, refundID string) {
	_, err := s.decideInTx(ctx, refundID, func(r *domain.Refund) error {
		return r.Release(s.now())
	})
	if err != nil {
		s.logger.Error("failed to release refund claim", "refund_id", refundID, "error", err)
	}
}

func (s *Service) refundAtGateway(ctx context.Context, r *domain.Refund, b *domain.Booking) (string, error) {
	if s.gateway == nil {
		return "", fmt.Errorf("%w: no gateway configured", ErrGateway)
	}
	if b.GatewayPaymentID == "" {
		return "", fmt.Errorf("%w: booking %s has no gateway payment", ErrGateway, b.ID)
	}

	id, err := s.gateway.Refund(ctx, GatewayRefund{
		RefundID:   r.ID,
		PaymentRef: b.GatewayPaymentID,
		Amount:     r.Amount,
	})
	if err != nil {
		s.logger.Warn("gateway refund failed", "refund_id", r.ID, "payment_id", b.GatewayPaymentID, "error", err)
		return "", fmt.Errorf("%w: %v", ErrGateway, err)
	}
	return id, nil
}

func (s *Service) publish(ctx context.Context, eventType string, r *domain.Refund, actor identity.Actor) {
	if s.publisher == nil {
		return
	}
	event, err := events.NewEvent(eventType, events.AggregateRefund, r.ID, events.RefundChangedData{
		RefundID:        r.ID,
		BookingID:       r.BookingID,
		Status:          string(r.Status),
		AmountMinor:     r.Amount.AmountMinor,
		Currency:        string(r.Amount.Currency),
		GatewayRefundID: r.GatewayRefundID,
		ActorID:         actor.UID,
	})
	if err != nil {
		s.logger.Error("failed to build refund event", "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish refund event", "refund_id", r.ID, "type", eventType, "error", err)
	}
}
