package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"payrecon/internal/common/database"
	"payrecon/internal/ledger/domain"
	ledgerstore "payrecon/internal/ledger/store"
)

// PostgresStore implements Store on the settlements tables.
type PostgresStore struct {
	db *database.DB
	q  database.Querier
}

// NewPostgresStore creates a new settlement store
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

var _ Store = (*PostgresStore)(nil)
var _ Tx = (*PostgresStore)(nil)

// WithTx runs fn in a read-committed transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&PostgresStore{db: s.db, q: tx})
	})
}

// LockPartner reads the partner and holds its row lock until commit, which
// serializes settlement creation per partner.
func (s *PostgresStore) LockPartner(ctx context.Context, partnerID string) (*domain.Partner, error) {
	return ledgerstore.GetPartner(ctx, s.q, partnerID, true)
}

func (s *PostgresStore) GetPartner(ctx context.Context, partnerID string) (*domain.Partner, error) {
	return ledgerstore.GetPartner(ctx, s.q, partnerID, false)
}

func (s *PostgresStore) GetBookings(ctx context.Context, ids []string) ([]*domain.Booking, error) {
	return ledgerstore.GetBookings(ctx, s.q, ids)
}

// ClaimedBookings returns which of bookingIDs are linked to a blocking
// settlement of the partner.
func (s *PostgresStore) ClaimedBookings(ctx context.Context, partnerID string, bookingIDs []string) ([]string, error) {
	statuses := make([]string, len(BlockingStatuses))
	for i, st := range BlockingStatuses {
		statuses[i] = string(st)
	}

	rows, err := s.q.Query(ctx, `
		SELECT DISTINCT sb.booking_id
		FROM settlement_bookings sb
		JOIN settlements s ON s.id = sb.settlement_id
		WHERE s.partner_id = $1
		  AND s.status = ANY($2)
		  AND sb.booking_id = ANY($3)
		ORDER BY sb.booking_id`,
		partnerID, statuses, bookingIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("checking claimed bookings: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning claimed bookings: %w", err)
	}
	return ids, nil
}

// Insert writes the settlement and its booking links.
func (s *PostgresStore) Insert(ctx context.Context, st *Settlement) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO settlements (id, partner_id, amount_minor, currency, status, remark, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		st.ID, st.PartnerID, st.Amount.AmountMinor, string(st.Amount.Currency), string(st.Status),
		null(st.Remark), st.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return database.ErrAlreadyExists
		}
		return fmt.Errorf("inserting settlement: %w", err)
	}

	type link struct {
		bookingID string
		position  int
	}
	links := make([]link, len(st.BookingIDs))
	for i, id := range st.BookingIDs {
		links[i] = link{bookingID: id, position: i}
	}
	_, err = database.SendChunked(ctx, s.q, links, func(b *pgx.Batch, l link) {
		b.Queue(`INSERT INTO settlement_bookings (settlement_id, booking_id, position) VALUES ($1, $2, $3)`,
			st.ID, l.bookingID, l.position)
	})
	if err != nil {
		return fmt.Errorf("linking settlement bookings: %w", err)
	}
	return nil
}

const settlementColumns = `
	id, partner_id, amount_minor, currency, status, remark, utr_number,
	has_dispute, invoice_url, admin_id, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (*Settlement, error) {
	return s.get(ctx, id, false)
}

func (s *PostgresStore) GetForUpdate(ctx context.Context, id string) (*Settlement, error) {
	return s.get(ctx, id, true)
}

func (s *PostgresStore) get(ctx context.Context, id string, forUpdate bool) (*Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	st, err := scanSettlement(s.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	st.BookingIDs, err = s.bookingIDs(ctx, st.ID)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *PostgresStore) bookingIDs(ctx context.Context, settlementID string) ([]string, error) {
	rows, err := s.q.Query(ctx,
		`SELECT booking_id FROM settlement_bookings WHERE settlement_id = $1 ORDER BY position`, settlementID)
	if err != nil {
		return nil, fmt.Errorf("querying settlement bookings: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// List returns settlements filtered by partner and status; empty filters
// match everything. Booking ids are not loaded.
func (s *PostgresStore) List(ctx context.Context, f ListFilter) ([]*Settlement, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+settlementColumns+`
		FROM settlements
		WHERE ($1 = '' OR partner_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		f.PartnerID, string(f.Status), f.Limit, f.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing settlements: %w", err)
	}
	defer rows.Close()

	var out []*Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// UpdateStatus writes the mutable fields if the stored status is still from.
func (s *PostgresStore) UpdateStatus(ctx context.Context, st *Settlement, from Status) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE settlements
		SET status = $2, remark = COALESCE($3, remark), utr_number = COALESCE($4, utr_number),
		    admin_id = $5, updated_at = $6
		WHERE id = $1 AND status = $7`,
		st.ID, string(st.Status), null(st.Remark), null(st.UTRNumber), st.AdminID, st.UpdatedAt, string(from),
	)
	if err != nil {
		return fmt.Errorf("updating settlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return database.ErrConflict
	}
	return nil
}

func (s *PostgresStore) SetInvoiceURL(ctx context.Context, id, url string) error {
	_, err := s.q.Exec(ctx, `UPDATE settlements SET invoice_url = $2, updated_at = now() WHERE id = $1`, id, url)
	if err != nil {
		return fmt.Errorf("storing invoice url: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetBookingSettlementStatus(ctx context.Context, ids []string, status domain.SettlementStatus) (int64, error) {
	return ledgerstore.SetSettlementStatus(ctx, s.q, ids, status)
}

func (s *PostgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	var from *string
	if e.From != "" {
		f := string(e.From)
		from = &f
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO settlement_audit (id, settlement_id, actor_id, action, from_status, to_status, remark, utr_number, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.SettlementID, e.ActorID, e.Action, from, string(e.To), null(e.Remark), null(e.UTRNumber), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending settlement audit: %w", err)
	}
	return nil
}

func (s *PostgresStore) History(ctx context.Context, settlementID string) ([]AuditEntry, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, settlement_id, actor_id, action, COALESCE(from_status, ''), to_status,
		       COALESCE(remark, ''), COALESCE(utr_number, ''), created_at
		FROM settlement_audit
		WHERE settlement_id = $1
		ORDER BY created_at, id`, settlementID)
	if err != nil {
		return nil, fmt.Errorf("querying settlement audit: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (AuditEntry, error) {
		var (
			e        AuditEntry
			from, to string
		)
		if err := row.Scan(&e.ID, &e.SettlementID, &e.ActorID, &e.Action, &from, &to,
			&e.Remark, &e.UTRNumber, &e.CreatedAt); err != nil {
			return e, err
		}
		e.From = Status(from)
		e.To = Status(to)
		return e, nil
	})
}

func scanSettlement(row pgx.Row) (*Settlement, error) {
	var (
		st                            Settlement
		remark, utr, invoice, adminID *string
		createdAt, updatedAt          time.Time
	)
	err := row.Scan(&st.ID, &st.PartnerID, &st.Amount.AmountMinor, &st.Amount.Currency, &st.Status,
		&remark, &utr, &st.HasDispute, &invoice, &adminID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning settlement: %w", err)
	}
	st.Remark = deref(remark)
	st.UTRNumber = deref(utr)
	st.InvoiceURL = deref(invoice)
	st.AdminID = deref(adminID)
	st.CreatedAt = createdAt
	st.UpdatedAt = updatedAt
	return &st, nil
}

func null(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
