// Package settlement manages partner payout requests: creation with overlap
// checks, the admin state machine, and the audit trail.
package settlement

import (
	"errors"
	"fmt"
	"time"

	"payrecon/internal/common/money"
)

var (
	ErrEmptyBookings     = errors.New("at least one booking is required")
	ErrInvalidAmount     = errors.New("total amount must be positive")
	ErrKYCNotApproved    = errors.New("partner verification is not approved")
	ErrBookingNotOwned   = errors.New("booking does not belong to partner")
	ErrOverlap           = errors.New("booking already claimed by another settlement")
	ErrInvalidTransition = errors.New("invalid settlement transition")
	ErrUnknownAction     = errors.New("unknown settlement action")
	ErrForbidden         = errors.New("forbidden")
)

// OverlapError lists the bookings that are already claimed.
type OverlapError struct {
	BookingIDs []string
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("%s: %v", ErrOverlap, e.BookingIDs)
}

func (e *OverlapError) Is(target error) bool { return target == ErrOverlap }

// Status is the payout request state.
type Status string

const (
	StatusRequested Status = "requested"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusOnHold    Status = "on_hold"
	StatusPaid      Status = "paid"
)

func ParseStatus(s string) (Status, error) {
	switch v := Status(s); v {
	case StatusRequested, StatusApproved, StatusRejected, StatusOnHold, StatusPaid:
		return v, nil
	case "pending":
		return StatusRequested, nil
	}
	return "", fmt.Errorf("unknown settlement status %q", s)
}

func (s *Status) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into settlement status", src)
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Blocking reports whether a settlement in this state still claims its
// bookings.
func (s Status) Blocking() bool {
	switch s {
	case StatusRequested, StatusApproved, StatusOnHold, StatusPaid:
		return true
	}
	return false
}

// Terminal reports whether no action can leave this state.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusRejected
}

// BlockingStatuses are the states whose bookings cannot be claimed again.
var BlockingStatuses = []Status{StatusRequested, StatusApproved, StatusOnHold, StatusPaid}

// Action is an admin operation on a settlement.
type Action string

const (
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionHold     Action = "hold"
	ActionMarkPaid Action = "markPaid"
)

func ParseAction(s string) (Action, error) {
	switch v := Action(s); v {
	case ActionApprove, ActionReject, ActionHold, ActionMarkPaid:
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

var transitions = map[Status]map[Action]Status{
	StatusRequested: {
		ActionApprove: StatusApproved,
		ActionReject:  StatusRejected,
		ActionHold:    StatusOnHold,
	},
	StatusApproved: {
		ActionMarkPaid: StatusPaid,
		ActionHold:     StatusOnHold,
	},
	StatusOnHold: {
		ActionApprove: StatusApproved,
		ActionReject:  StatusRejected,
	},
}

// Next returns the state action leads to from from.
func Next(from Status, action Action) (Status, error) {
	to, ok := transitions[from][action]
	if !ok {
		return "", fmt.Errorf("%w: cannot %s a %s settlement", ErrInvalidTransition, action, from)
	}
	return to, nil
}

// Settlement is a partner payout request.
type Settlement struct {
	ID         string      `json:"id"`
	PartnerID  string      `json:"partner_id"`
	BookingIDs []string    `json:"booking_ids"`
	Amount     money.Money `json:"amount"`
	Status     Status      `json:"status"`
	Remark     string      `json:"remark,omitempty"`
	UTRNumber  string      `json:"utr_number,omitempty"`
	HasDispute bool        `json:"has_dispute"`
	InvoiceURL string      `json:"invoice_url,omitempty"`
	AdminID    string      `json:"admin_id,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// AuditEntry is an immutable record of one state change.
type AuditEntry struct {
	ID           string    `json:"id"`
	SettlementID string    `json:"settlement_id"`
	ActorID      string    `json:"actor_id"`
	Action       string    `json:"action"`
	From         Status    `json:"from,omitempty"`
	To           Status    `json:"to"`
	Remark       string    `json:"remark,omitempty"`
	UTRNumber    string    `json:"utr_number,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuditCreated is the action recorded when a settlement is requested.
const AuditCreated = "created"
