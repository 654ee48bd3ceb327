package settlement

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"payrecon/internal/common/database"
	"payrecon/internal/common/events"
	"payrecon/internal/common/money"
	"payrecon/internal/identity"
	"payrecon/internal/invoice"
	"payrecon/internal/ledger/domain"
)

// Store persists settlements.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Get(ctx context.Context, id string) (*Settlement, error)
	GetPartner(ctx context.Context, partnerID string) (*domain.Partner, error)
	List(ctx context.Context, f ListFilter) ([]*Settlement, error)
	History(ctx context.Context, settlementID string) ([]AuditEntry, error)
	SetInvoiceURL(ctx context.Context, id, url string) error
}

// Tx is the transactional view used by writes.
type Tx interface {
	LockPartner(ctx context.Context, partnerID string) (*domain.Partner, error)
	GetBookings(ctx context.Context, ids []string) ([]*domain.Booking, error)
	ClaimedBookings(ctx context.Context, partnerID string, bookingIDs []string) ([]string, error)
	Insert(ctx context.Context, st *Settlement) error
	GetForUpdate(ctx context.Context, id string) (*Settlement, error)
	UpdateStatus(ctx context.Context, st *Settlement, from Status) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	SetBookingSettlementStatus(ctx context.Context, ids []string, status domain.SettlementStatus) (int64, error)
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	PartnerID string
	Status    Status
	Limit     int
	Offset    int
}

// InvoiceGenerator renders and stores settlement invoices.
type InvoiceGenerator interface {
	GenerateSettlementInvoice(ctx context.Context, settlementID string, details invoice.Details) (string, error)
}

// EmailSender delivers partner notifications.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, htmlBody string) error
}

// Manager runs the settlement lifecycle.
type Manager struct {
	store     Store
	invoices  InvoiceGenerator
	mailer    EmailSender
	publisher events.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates a manager. invoices, mailer and publisher may be nil.
func NewManager(store Store, invoices InvoiceGenerator, mailer EmailSender, publisher events.EventPublisher, logger *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		invoices:  invoices,
		mailer:    mailer,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateRequest is a partner's payout request.
type CreateRequest struct {
	PartnerID  string
	BookingIDs []string
	Amount     money.Money
}

// Create records a new settlement in the requested state and claims its
// bookings.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Settlement, error) {
	ids := dedupe(req.BookingIDs)
	if len(ids) == 0 {
		return nil, ErrEmptyBookings
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	now := m.now()
	st := &Settlement{
		ID:         ulid.Make().String(),
		PartnerID:  req.PartnerID,
		BookingIDs: ids,
		Amount:     req.Amount,
		Status:     StatusRequested,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var (
		partner  *domain.Partner
		bookings []*domain.Booking
	)
	err := m.store.WithTx(ctx, func(tx Tx) error {
		var err error
		partner, err = tx.LockPartner(ctx, req.PartnerID)
		if err != nil {
			if database.IsNotFound(err) {
				return fmt.Errorf("%w: partner %s not found", ErrKYCNotApproved, req.PartnerID)
			}
			return err
		}
		if !partner.CanRequestSettlement() {
			return fmt.Errorf("%w: kyc status is %s", ErrKYCNotApproved, partner.KYCStatus)
		}

		bookings, err = tx.GetBookings(ctx, ids)
		if err != nil {
			return err
		}
		if err := checkOwnership(req.PartnerID, ids, bookings); err != nil {
			return err
		}

		claimed, err := tx.ClaimedBookings(ctx, req.PartnerID, ids)
		if err != nil {
			return err
		}
		if len(claimed) > 0 {
			return &OverlapError{BookingIDs: claimed}
		}

		if err := tx.Insert(ctx, st); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, AuditEntry{
			ID:           ulid.Make().String(),
			SettlementID: st.ID,
			ActorID:      req.PartnerID,
			Action:       AuditCreated,
			To:           StatusRequested,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
		_, err = tx.SetBookingSettlementStatus(ctx, ids, domain.SettlementRequested)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create settlement: %w", err)
	}

	m.logger.Info("settlement requested",
		"settlement_id", st.ID,
		"partner_id", st.PartnerID,
		"bookings", len(ids),
		"amount", st.Amount.String(),
	)

	if allSettleable(bookings) {
		st.InvoiceURL = m.attachInvoice(ctx, st, partner)
	}
	m.publish(ctx, events.EventSettlementRequested, st, "", req.PartnerID)

	return st, nil
}

// TransitionRequest is an admin action on a settlement.
type TransitionRequest struct {
	SettlementID string
	Action       Action
	ActorID      string
	Remark       string
	UTRNumber    string
}

// Transition applies an admin action. The status change, booking updates
// and audit entry commit together; notifications follow and never fail the
// call.
func (m *Manager) Transition(ctx context.Context, req TransitionRequest) (*Settlement, error) {
	if _, err := ParseAction(string(req.Action)); err != nil {
		return nil, err
	}

	var (
		st   *Settlement
		from Status
	)
	err := m.store.WithTx(ctx, func(tx Tx) error {
		var err error
		st, err = tx.GetForUpdate(ctx, req.SettlementID)
		if err != nil {
			return err
		}

		from = st.Status
		to, err := Next(from, req.Action)
		if err != nil {
			return err
		}

		st.Status = to
		st.AdminID = req.ActorID
		st.UpdatedAt = m.now()
		if req.Remark != "" {
			st.Remark = req.Remark
		}
		if req.UTRNumber != "" {
			st.UTRNumber = req.UTRNumber
		}
		if err := tx.UpdateStatus(ctx, st, from); err != nil {
			return err
		}

		if err := tx.AppendAudit(ctx, AuditEntry{
			ID:           ulid.Make().String(),
			SettlementID: st.ID,
			ActorID:      req.ActorID,
			Action:       string(req.Action),
			From:         from,
			To:           to,
			Remark:       req.Remark,
			UTRNumber:    req.UTRNumber,
			CreatedAt:    st.UpdatedAt,
		}); err != nil {
			return err
		}

		switch to {
		case StatusRejected:
			_, err = tx.SetBookingSettlementStatus(ctx, st.BookingIDs, domain.SettlementNone)
		case StatusPaid:
			_, err = tx.SetBookingSettlementStatus(ctx, st.BookingIDs, domain.SettlementSettled)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s settlement %s: %w", req.Action, req.SettlementID, err)
	}

	m.logger.Info("settlement transitioned",
		"settlement_id", st.ID,
		"action", string(req.Action),
		"from", string(from),
		"to", string(st.Status),
		"admin_id", req.ActorID,
	)

	if eventType, ok := eventFor(st.Status); ok {
		m.publish(ctx, eventType, st, from, req.ActorID)
	} else {
		m.logger.Error("no event for settlement status", "settlement_id", st.ID, "status", string(st.Status))
	}
	if st.Status == StatusPaid {
		m.afterPaid(ctx, st)
	}
	return st, nil
}

// Get returns a settlement visible to actor.
func (m *Manager) Get(ctx context.Context, actor identity.Actor, id string) (*Settlement, error) {
	st, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && st.PartnerID != actor.UID {
		return nil, ErrForbidden
	}
	return st, nil
}

// History returns the audit trail of a settlement visible to actor.
func (m *Manager) History(ctx context.Context, actor identity.Actor, id string) ([]AuditEntry, error) {
	if _, err := m.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return m.store.History(ctx, id)
}

// List returns settlements visible to actor. Partners only ever see their own.
func (m *Manager) List(ctx context.Context, actor identity.Actor, f ListFilter) ([]*Settlement, error) {
	if !actor.IsAdmin() {
		f.PartnerID = actor.UID
	}
	return m.store.List(ctx, f)
}

func (m *Manager) afterPaid(ctx context.Context, st *Settlement) {
	partner, err := m.store.GetPartner(ctx, st.PartnerID)
	if err != nil {
		m.logger.Warn("failed to load partner for payout notice", "settlement_id", st.ID, "error", err)
		return
	}

	if st.InvoiceURL == "" {
		st.InvoiceURL = m.attachInvoice(ctx, st, partner)
	}

	if m.mailer == nil || partner.Email == "" {
		return
	}
	subject := fmt.Sprintf("Settlement %s paid", st.ID)
	body := fmt.Sprintf("<p>Hi %s,</p><p>Your settlement of %s has been paid. Reference: %s.</p>",
		html.EscapeString(partner.Name), html.EscapeString(st.Amount.String()), html.EscapeString(st.UTRNumber))
	if st.InvoiceURL != "" {
		body += fmt.Sprintf(`<p><a href="%s">Download invoice</a></p>`, html.EscapeString(st.InvoiceURL))
	}
	if err := m.mailer.SendEmail(ctx, partner.Email, subject, body); err != nil {
		m.logger.Warn("failed to send payout email", "settlement_id", st.ID, "error", err)
	}
}

// attachInvoice generates and stores the invoice, returning its URL or ""
// if any step failed.
func (m *Manager) attachInvoice(ctx context.Context, st *Settlement, partner *domain.Partner) string {
	if m.invoices == nil {
		return ""
	}

	details := invoice.Details{
		SettlementID: st.ID,
		PartnerID:    st.PartnerID,
		BookingIDs:   st.BookingIDs,
		Amount:       st.Amount,
		Status:       string(st.Status),
		UTRNumber:    st.UTRNumber,
		IssuedAt:     m.now(),
	}
	if partner != nil {
		details.PartnerName = partner.Name
		details.PartnerEmail = partner.Email
	}

	url, err := m.invoices.GenerateSettlementInvoice(ctx, st.ID, details)
	if err != nil {
		m.logger.Warn("invoice generation failed", "settlement_id", st.ID, "error", err)
		return ""
	}
	if err := m.store.SetInvoiceURL(ctx, st.ID, url); err != nil {
		m.logger.Warn("failed to store invoice url", "settlement_id", st.ID, "error", err)
		return ""
	}
	return url
}

func (m *Manager) publish(ctx context.Context, eventType string, st *Settlement, from Status, actorID string) {
	if m.publisher == nil {
		return
	}
	event, err := events.NewEvent(eventType, events.AggregateSettlement, st.ID, events.SettlementChangedData{
		SettlementID: st.ID,
		PartnerID:    st.PartnerID,
		From:         string(from),
		To:           string(st.Status),
		ActorID:      actorID,
		AmountMinor:  st.Amount.AmountMinor,
		Currency:     string(st.Amount.Currency),
		Remark:       st.Remark,
		UTRNumber:    st.UTRNumber,
	})
	if err != nil {
		m.logger.Error("failed to build settlement event", "error", err)
		return
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.Warn("failed to publish settlement event", "settlement_id", st.ID, "type", eventType, "error", err)
	}
}

func eventFor(s Status) (string, bool) {
	switch s {
	case StatusRequested:
		return events.EventSettlementRequested, true
	case StatusApproved:
		return events.EventSettlementApproved, true
	case StatusRejected:
		return events.EventSettlementRejected, true
	case StatusOnHold:
		return events.EventSettlementOnHold, true
	case StatusPaid:
		return events.EventSettlementPaid, true
	}
	return "", false
}

func checkOwnership(partnerID string, ids []string, bookings []*domain.Booking) error {
	found := make(map[string]*domain.Booking, len(bookings))
	for _, b := range bookings {
		found[b.ID] = b
	}
	for _, id := range ids {
		b, ok := found[id]
		if !ok {
			return fmt.Errorf("%w: booking %s not found", ErrBookingNotOwned, id)
		}
		if b.PartnerID != partnerID {
			return fmt.Errorf("%w: %s", ErrBookingNotOwned, id)
		}
	}
	return nil
}

func allSettleable(bookings []*domain.Booking) bool {
	if len(bookings) == 0 {
		return false
	}
	for _, b := range bookings {
		if !b.Settleable() {
			return false
		}
	}
	return true
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
