package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"payrecon/internal/common/database"
	"payrecon/internal/identity"
)

// PostgresStore implements Store on the disputes tables.
type PostgresStore struct {
	db *database.DB
	q  database.Querier
}

// NewPostgresStore creates a new dispute store
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

var _ Store = (*PostgresStore)(nil)
var _ Tx = (*PostgresStore)(nil)

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&PostgresStore{db: s.db, q: tx})
	})
}

func (s *PostgresStore) LockSettlement(ctx context.Context, settlementID string) (string, error) {
	return s.settlementPartner(ctx, settlementID, true)
}

func (s *PostgresStore) SettlementPartner(ctx context.Context, settlementID string) (string, error) {
	return s.settlementPartner(ctx, settlementID, false)
}

func (s *PostgresStore) settlementPartner(ctx context.Context, settlementID string, forUpdate bool) (string, error) {
	query := `SELECT partner_id FROM settlements WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var partnerID string
	if err := s.q.QueryRow(ctx, query, settlementID).Scan(&partnerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", database.ErrNotFound
		}
		return "", fmt.Errorf("reading settlement: %w", err)
	}
	return partnerID, nil
}

func (s *PostgresStore) HasUnresolved(ctx context.Context, settlementID string) (bool, error) {
	var open bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM disputes WHERE settlement_id = $1 AND status <> 'resolved')`,
		settlementID,
	).Scan(&open)
	if err != nil {
		return false, fmt.Errorf("checking open disputes: %w", err)
	}
	return open, nil
}

func (s *PostgresStore) Insert(ctx context.Context, d *Dispute) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO disputes (id, settlement_id, raised_by, raised_by_role, reason, file_url, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		d.ID, d.SettlementID, d.RaisedBy, string(d.RaisedByRole), d.Reason, null(d.FileURL), string(d.Status), d.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrAlreadyOpen
		}
		return fmt.Errorf("inserting dispute: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkSettlementDisputed(ctx context.Context, settlementID string) error {
	_, err := s.q.Exec(ctx, `UPDATE settlements SET has_dispute = true, updated_at = now() WHERE id = $1`, settlementID)
	if err != nil {
		return fmt.Errorf("flagging settlement: %w", err)
	}
	return nil
}

const disputeColumns = `
	d.id, d.settlement_id, s.partner_id, d.raised_by, d.raised_by_role, d.reason,
	COALESCE(d.file_url, ''), d.status, COALESCE(d.admin_remark, ''), d.created_at, d.updated_at, d.resolved_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (*Dispute, error) {
	d, err := s.get(ctx, id, false)
	if err != nil {
		return nil, err
	}
	d.Replies, err = s.replies(ctx, id)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *PostgresStore) GetForUpdate(ctx context.Context, id string) (*Dispute, error) {
	return s.get(ctx, id, true)
}

func (s *PostgresStore) get(ctx context.Context, id string, forUpdate bool) (*Dispute, error) {
	query := `SELECT ` + disputeColumns + `
		FROM disputes d JOIN settlements s ON s.id = d.settlement_id
		WHERE d.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF d`
	}
	return scanDispute(s.q.QueryRow(ctx, query, id))
}

func (s *PostgresStore) ListBySettlement(ctx context.Context, settlementID string) ([]*Dispute, error) {
	rows, err := s.q.Query(ctx, `SELECT `+disputeColumns+`
		FROM disputes d JOIN settlements s ON s.id = d.settlement_id
		WHERE d.settlement_id = $1
		ORDER BY d.created_at`, settlementID)
	if err != nil {
		return nil, fmt.Errorf("listing disputes: %w", err)
	}
	defer rows.Close()

	var out []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) replies(ctx context.Context, disputeID string) ([]Reply, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, dispute_id, author_id, author_role, body, created_at
		FROM dispute_replies
		WHERE dispute_id = $1
		ORDER BY created_at, id`, disputeID)
	if err != nil {
		return nil, fmt.Errorf("querying replies: %w", err)
	}
	replies, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Reply, error) {
		var (
			r    Reply
			role string
		)
		err := row.Scan(&r.ID, &r.DisputeID, &r.AuthorID, &role, &r.Text, &r.CreatedAt)
		r.AuthorRole = identity.Role(role)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning replies: %w", err)
	}
	if replies == nil {
		replies = []Reply{}
	}
	return replies, nil
}

// AppendReply inserts a reply. There is no update or delete for replies.
func (s *PostgresStore) AppendReply(ctx context.Context, r Reply) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO dispute_replies (id, dispute_id, author_id, author_role, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.DisputeID, r.AuthorID, string(r.AuthorRole), r.Text, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting reply: %w", err)
	}
	return nil
}

// UpdateStatus writes the new status if the stored one is still from.
func (s *PostgresStore) UpdateStatus(ctx context.Context, d *Dispute, from Status) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE disputes
		SET status = $2, admin_remark = COALESCE($3, admin_remark), resolved_at = $4, updated_at = $5
		WHERE id = $1 AND status = $6`,
		d.ID, string(d.Status), null(d.AdminRemark), d.ResolvedAt, d.UpdatedAt, string(from),
	)
	if err != nil {
		return fmt.Errorf("updating dispute: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return database.ErrConflict
	}
	return nil
}

func scanDispute(row pgx.Row) (*Dispute, error) {
	var (
		d          Dispute
		role       string
		resolvedAt *time.Time
	)
	err := row.Scan(&d.ID, &d.SettlementID, &d.PartnerID, &d.RaisedBy, &role, &d.Reason,
		&d.FileURL, &d.Status, &d.AdminRemark, &d.CreatedAt, &d.UpdatedAt, &resolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning dispute: %w", err)
	}
	d.RaisedByRole = identity.Role(role)
	d.ResolvedAt = resolvedAt
	d.Replies = []Reply{}
	return &d, nil
}

func null(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
