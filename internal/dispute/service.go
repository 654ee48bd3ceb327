package dispute

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"payrecon/internal/common/events"
	"payrecon/internal/identity"
)

// Store persists disputes.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Get(ctx context.Context, id string) (*Dispute, error)
	ListBySettlement(ctx context.Context, settlementID string) ([]*Dispute, error)
	SettlementPartner(ctx context.Context, settlementID string) (string, error)
}

// Tx is the transactional view used by writes.
type Tx interface {
	// LockSettlement locks the settlement row and returns its partner.
	LockSettlement(ctx context.Context, settlementID string) (string, error)
	HasUnresolved(ctx context.Context, settlementID string) (bool, error)
	Insert(ctx context.Context, d *Dispute) error
	MarkSettlementDisputed(ctx context.Context, settlementID string) error
	GetForUpdate(ctx context.Context, id string) (*Dispute, error)
	AppendReply(ctx context.Context, r Reply) error
	UpdateStatus(ctx context.Context, d *Dispute, from Status) error
}

// Service runs dispute operations.
type Service struct {
	store     Store
	publisher events.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a dispute service. publisher may be nil.
func NewService(store Store, publisher events.EventPublisher, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OpenRequest raises a dispute.
type OpenRequest struct {
	SettlementID string
	Reason       string
	FileURL      string
}

// Open raises a dispute against a settlement and flags the settlement. The
// settlement's own status is left alone.
func (s *Service) Open(ctx context.Context, actor identity.Actor, req OpenRequest) (*Dispute, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	now := s.now()
	d := &Dispute{
		ID:           ulid.Make().String(),
		SettlementID: req.SettlementID,
		RaisedBy:     actor.UID,
		RaisedByRole: actor.Role,
		Reason:       reason,
		FileURL:      strings.TrimSpace(req.FileURL),
		Status:       StatusOpen,
		Replies:      []Reply{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.store.WithTx(ctx, func(tx Tx) error {
		partnerID, err := tx.LockSettlement(ctx, req.SettlementID)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && actor.UID != partnerID {
			return ErrForbidden
		}
		d.PartnerID = partnerID

		open, err := tx.HasUnresolved(ctx, req.SettlementID)
		if err != nil {
			return err
		}
		if open {
			return ErrAlreadyOpen
		}

		if err := tx.Insert(ctx, d); err != nil {
			return err
		}
		return tx.MarkSettlementDisputed(ctx, req.SettlementID)
	})
	if err != nil {
		return nil, fmt.Errorf("open dispute: %w", err)
	}

	s.logger.Info("dispute opened",
		"dispute_id", d.ID,
		"settlement_id", d.SettlementID,
		"raised_by", d.RaisedBy,
	)
	s.publish(ctx, events.EventDisputeOpened, d, actor, d.Reason)
	return d, nil
}

// Reply appends to the thread. Replies are refused once resolved.
func (s *Service) Reply(ctx context.Context, actor identity.Actor, disputeID, text string) (*Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyReply
	}

	var (
		d     *Dispute
		reply Reply
	)
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		d, err = tx.GetForUpdate(ctx, disputeID)
		if err != nil {
			return err
		}
		if !d.party(actor) {
			return ErrForbidden
		}
		if d.Status == StatusResolved {
			return ErrResolved
		}

		reply = Reply{
			ID:         ulid.Make().String(),
			DisputeID:  d.ID,
			AuthorID:   actor.UID,
			AuthorRole: actor.Role,
			Text:       text,
			CreatedAt:  s.now(),
		}
		return tx.AppendReply(ctx, reply)
	})
	if err != nil {
		return nil, fmt.Errorf("reply to dispute %s: %w", disputeID, err)
	}

	s.publish(ctx, events.EventDisputeReplied, d, actor, "")
	return &reply, nil
}

// MarkInReview moves an open dispute to in_review. Admin only.
func (s *Service) MarkInReview(ctx context.Context, actor identity.Actor, disputeID, remark string) (*Dispute, error) {
	return s.advance(ctx, actor, disputeID, StatusInReview, strings.TrimSpace(remark), events.EventDisputeInReview)
}

// Resolve closes a dispute with the admin's remark. Admin only.
func (s *Service) Resolve(ctx context.Context, actor identity.Actor, disputeID, remark string) (*Dispute, error) {
	remark = strings.TrimSpace(remark)
	if remark == "" {
		return nil, ErrRemarkRequired
	}
	return s.advance(ctx, actor, disputeID, StatusResolved, remark, events.EventDisputeResolved)
}

func (s *Service) advance(ctx context.Context, actor identity.Actor, disputeID string, to Status, remark, eventType string) (*Dispute, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	var d *Dispute
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		d, err = tx.GetForUpdate(ctx, disputeID)
		if err != nil {
			return err
		}
		from := d.Status
		if err := d.advance(to, remark, s.now()); err != nil {
			return err
		}
		return tx.UpdateStatus(ctx, d, from)
	})
	if err != nil {
		return nil, fmt.Errorf("%s dispute %s: %w", to, disputeID, err)
	}

	s.logger.Info("dispute updated", "dispute_id", d.ID, "status", string(d.Status), "admin_id", actor.UID)
	s.publish(ctx, eventType, d, actor, "")
	return d, nil
}

// Get returns a dispute with its thread, if actor is a party to it.
func (s *Service) Get(ctx context.Context, actor identity.Actor, id string) (*Dispute, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.party(actor) {
		return nil, ErrForbidden
	}
	return d, nil
}

// ListBySettlement returns every dispute raised against a settlement.
func (s *Service) ListBySettlement(ctx context.Context, actor identity.Actor, settlementID string) ([]*Dispute, error) {
	if !actor.IsAdmin() {
		partnerID, err := s.store.SettlementPartner(ctx, settlementID)
		if err != nil {
			return nil, err
		}
		if partnerID != actor.UID {
			return nil, ErrForbidden
		}
	}
	return s.store.ListBySettlement(ctx, settlementID)
}

func (s *Service) publish(ctx context.Context, eventType string, d *Dispute, actor identity.Actor, reason string) {
	if s.publisher == nil {
		return
	}
	event, err := events.NewEvent(eventType, events.AggregateDispute, d.ID, events.DisputeChangedData{
		DisputeID:    d.ID,
		SettlementID: d.SettlementID,
		Status:       string(d.Status),
		ActorID:      actor.UID,
		ActorRole:    string(actor.Role),
		Reason:       reason,
		Remark:       d.AdminRemark,
	})
	if err != nil {
		s.logger.Error("failed to build dispute event", "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish dispute event", "dispute_id", d.ID, "type", eventType, "error", err)
	}
}
