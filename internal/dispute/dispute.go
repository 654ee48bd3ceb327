// Package dispute handles disputes raised against settlements and their
// append-only reply threads.
package dispute

import (
	"errors"
	"fmt"
	"time"

	"payrecon/internal/identity"
)

var (
	ErrAlreadyOpen       = errors.New("settlement already has an unresolved dispute")
	ErrResolved          = errors.New("dispute is resolved")
	ErrInvalidTransition = errors.New("invalid dispute transition")
	ErrRemarkRequired    = errors.New("admin remark is required")
	ErrReasonRequired    = errors.New("reason is required")
	ErrEmptyReply        = errors.New("reply text is required")
	ErrForbidden         = errors.New("forbidden")
)

// Status is the dispute lifecycle. It only ever moves forward.
type Status string

const (
	StatusOpen     Status = "open"
	StatusInReview Status = "in_review"
	StatusResolved Status = "resolved"
)

func ParseStatus(s string) (Status, error) {
	switch v := Status(s); v {
	case StatusOpen, StatusInReview, StatusResolved:
		return v, nil
	}
	return "", fmt.Errorf("unknown dispute status %q", s)
}

func (s *Status) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into dispute status", src)
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Status) rank() int {
	switch s {
	case StatusOpen:
		return 0
	case StatusInReview:
		return 1
	case StatusResolved:
		return 2
	}
	return -1
}

// Dispute is a challenge to a settlement outcome.
type Dispute struct {
	ID           string        `json:"id"`
	SettlementID string        `json:"settlement_id"`
	PartnerID    string        `json:"partner_id"`
	RaisedBy     string        `json:"raised_by"`
	RaisedByRole identity.Role `json:"raised_by_role"`
	Reason       string        `json:"reason"`
	FileURL      string        `json:"file_url,omitempty"`
	Status       Status        `json:"status"`
	AdminRemark  string        `json:"admin_remark,omitempty"`
	Replies      []Reply       `json:"replies"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	ResolvedAt   *time.Time    `json:"resolved_at,omitempty"`
}

// Reply is one message in a dispute thread.
type Reply struct {
	ID         string        `json:"id"`
	DisputeID  string        `json:"dispute_id"`
	AuthorID   string        `json:"author_id"`
	AuthorRole identity.Role `json:"author_role"`
	Text       string        `json:"text"`
	CreatedAt  time.Time     `json:"created_at"`
}

// advance moves the dispute to to. Only forward moves are allowed, and
// in_review is only reachable from open.
func (d *Dispute) advance(to Status, remark string, now time.Time) error {
	if d.Status == StatusResolved {
		return ErrResolved
	}
	if to.rank() <= d.Status.rank() {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, d.Status, to)
	}
	if to == StatusResolved && remark == "" {
		return ErrRemarkRequired
	}

	d.Status = to
	if remark != "" {
		d.AdminRemark = remark
	}
	d.UpdatedAt = now
	if to == StatusResolved {
		d.ResolvedAt = &now
	}
	return nil
}

// party reports whether actor takes part in the dispute thread.
func (d *Dispute) party(actor identity.Actor) bool {
	return actor.IsAdmin() || actor.UID == d.RaisedBy || actor.UID == d.PartnerID
}
