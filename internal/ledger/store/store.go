package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"payrecon/internal/common/database"
	"payrecon/internal/common/money"
	"payrecon/internal/ledger"
	"payrecon/internal/ledger/domain"
)

// Store provides ledger data access
type Store struct {
	db *database.DB
	q  database.Querier
}

// New creates a new ledger store
func New(db *database.DB) *Store {
	return &Store{db: db, q: db}
}

// WithTx runs fn against a transaction-bound writer.
func (s *Store) WithTx(ctx context.Context, fn func(w ledger.Writer) error) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&Store{db: s.db, q: tx})
	})
}

var _ ledger.Store = (*Store)(nil)
var _ ledger.Writer = (*Store)(nil)

const bookingColumns = `
	id, partner_id, user_id, amount_minor, currency, payment_status, status,
	settlement_status, gateway_order_id, gateway_payment_id, failure_reason,
	refund_status, refund_id, gateway_refund_id, refund_amount_minor, created_at, updated_at`

// GetBooking retrieves a booking by ID
func (s *Store) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	return GetBooking(ctx, s.q, id)
}

// GetBooking retrieves a booking using q
func GetBooking(ctx context.Context, q database.Querier, id string) (*domain.Booking, error) {
	row := q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

// GetBookings returns the bookings among ids that exist, in no particular order.
func GetBookings(ctx context.Context, q database.Querier, ids []string) ([]*domain.Booking, error) {
	rows, err := q.Query(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("querying bookings: %w", err)
	}
	return collectBookings(rows)
}

// FindBookingsByPaymentRef returns every booking whose stored gateway payment
// reference equals paymentID.
func (s *Store) FindBookingsByPaymentRef(ctx context.Context, paymentID string) ([]*domain.Booking, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE gateway_payment_id = $1 ORDER BY id`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("querying bookings by payment: %w", err)
	}
	return collectBookings(rows)
}

// ListBookingsByPartner lists a partner's bookings, newest first
func (s *Store) ListBookingsByPartner(ctx context.Context, partnerID string, limit, offset int) ([]*domain.Booking, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE partner_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, partnerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing bookings: %w", err)
	}
	return collectBookings(rows)
}

const mergeBookingSQL = `
	UPDATE bookings SET
		payment_status      = COALESCE($2, payment_status),
		status              = CASE WHEN status = 'completed' THEN status ELSE COALESCE($3, status) END,
		gateway_order_id    = COALESCE($4, gateway_order_id),
		gateway_payment_id  = COALESCE($5, gateway_payment_id),
		failure_reason      = COALESCE($6, failure_reason),
		refund_status       = COALESCE($7, refund_status),
		refund_id           = COALESCE($8, refund_id),
		refund_amount_minor = COALESCE($9, refund_amount_minor),
		gateway_refund_id   = COALESCE($10, gateway_refund_id),
		updated_at          = now()
	WHERE id = $1`

// MergeBooking applies patch to one booking. It reports false when the
// booking does not exist.
func (s *Store) MergeBooking(ctx context.Context, id string, patch domain.BookingPatch) (bool, error) {
	return MergeBooking(ctx, s.q, id, patch)
}

// MergeBooking applies patch to one booking using q.
func MergeBooking(ctx context.Context, q database.Querier, id string, patch domain.BookingPatch) (bool, error) {
	n, err := MergeBookings(ctx, q, []string{id}, patch)
	return n > 0, err
}

// MergeBookings applies the same patch to every id, in batches.
func (s *Store) MergeBookings(ctx context.Context, ids []string, patch domain.BookingPatch) (int64, error) {
	return MergeBookings(ctx, s.q, ids, patch)
}

// MergeBookings applies patch to every id using q.
func MergeBookings(ctx context.Context, q database.Querier, ids []string, patch domain.BookingPatch) (int64, error) {
	n, err := database.SendChunked(ctx, q, ids, func(b *pgx.Batch, id string) {
		b.Queue(mergeBookingSQL, id,
			text(patch.PaymentStatus),
			text(patch.Status),
			patch.GatewayOrderID,
			patch.GatewayPaymentID,
			patch.FailureReason,
			text(patch.RefundStatus),
			patch.RefundID,
			patch.RefundAmount,
			patch.GatewayRefundID,
		)
	})
	if err != nil {
		return n, fmt.Errorf("merging bookings: %w", err)
	}
	return n, nil
}

// SetSettlementStatus marks ids with a booking settlement status, in batches.
func SetSettlementStatus(ctx context.Context, q database.Querier, ids []string, status domain.SettlementStatus) (int64, error) {
	n, err := database.SendChunked(ctx, q, ids, func(b *pgx.Batch, id string) {
		b.Queue(`UPDATE bookings SET settlement_status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	})
	if err != nil {
		return n, fmt.Errorf("setting booking settlement status: %w", err)
	}
	return n, nil
}

const paymentColumns = `
	order_id, payment_id, booking_id, amount_minor, currency, status,
	verified_via, error_description, created_at, updated_at`

// GetPayment retrieves a payment by gateway order id
func (s *Store) GetPayment(ctx context.Context, orderID string) (*domain.Payment, error) {
	var (
		p                             domain.Payment
		paymentID, bookingID, errDesc *string
	)
	err := s.q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID).Scan(
		&p.OrderID, &paymentID, &bookingID, &p.Amount.AmountMinor, &p.Amount.Currency,
		&p.Status, &p.VerifiedVia, &errDesc, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning payment: %w", err)
	}
	p.PaymentID = deref(paymentID)
	p.BookingID = deref(bookingID)
	p.ErrorDescription = deref(errDesc)
	return &p, nil
}

// MergePayment upserts the payment keyed by OrderID, keeping any column the
// patch leaves nil. A webhook verification is never replaced by a client one.
func (s *Store) MergePayment(ctx context.Context, patch domain.PaymentPatch) error {
	var amount *int64
	var currency *string
	if patch.Amount != nil {
		amount = &patch.Amount.AmountMinor
		c := string(patch.Amount.Currency)
		currency = &c
	}

	_, err := s.q.Exec(ctx, `
		INSERT INTO payments (order_id, payment_id, booking_id, amount_minor, currency, status, verified_via, error_description)
		VALUES ($1, $2, $3, COALESCE($4, 0), COALESCE($5, 'INR'), COALESCE($6, 'created'), COALESCE($7, 'webhook'), $8)
		ON CONFLICT (order_id) DO UPDATE SET
			payment_id        = COALESCE($2, payments.payment_id),
			booking_id        = COALESCE($3, payments.booking_id),
			amount_minor      = COALESCE($4, payments.amount_minor),
			currency          = COALESCE($5, payments.currency),
			status            = COALESCE($6, payments.status),
			verified_via      = CASE WHEN payments.verified_via = 'webhook' THEN payments.verified_via
			                         ELSE COALESCE($7, payments.verified_via) END,
			error_description = COALESCE($8, payments.error_description),
			updated_at        = now()`,
		patch.OrderID, patch.PaymentID, patch.BookingID, amount, currency,
		text(patch.Status), text(patch.VerifiedVia), patch.ErrorDescription,
	)
	if err != nil {
		return fmt.Errorf("merging payment %s: %w", patch.OrderID, err)
	}
	return nil
}

const refundColumns = `
	id, booking_id, user_id, partner_id, amount_minor, currency, payment_mode,
	refund_status, gateway_refund_id, invoice_ref, reason, processed_by, created_at, updated_at`

// GetRefund retrieves a refund by id
func GetRefund(ctx context.Context, q database.Querier, id string, forUpdate bool) (*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanRefund(q.QueryRow(ctx, query, id))
}

// GetRefund retrieves a refund by id
func (s *Store) GetRefund(ctx context.Context, id string) (*domain.Refund, error) {
	return GetRefund(ctx, s.q, id, false)
}

// OpenRefundForBooking returns the open refund for a booking.
func OpenRefundForBooking(ctx context.Context, q database.Querier, bookingID string) (*domain.Refund, error) {
	row := q.QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds
		WHERE booking_id = $1 AND refund_status IN ('pending', 'approving', 'approved')
		ORDER BY created_at DESC LIMIT 1`, bookingID)
	return scanRefund(row)
}

// InsertRefund creates a refund row
func InsertRefund(ctx context.Context, q database.Querier, r *domain.Refund) error {
	_, err := q.Exec(ctx, `
		INSERT INTO refunds (id, booking_id, user_id, partner_id, amount_minor, currency, payment_mode,
			refund_status, gateway_refund_id, invoice_ref, reason, processed_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.ID, null(r.BookingID), null(r.UserID), null(r.PartnerID), r.Amount.AmountMinor, string(r.Amount.Currency),
		string(r.PaymentMode), string(r.Status), null(r.GatewayRefundID), null(r.InvoiceRef), null(r.Reason),
		null(r.ProcessedBy), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("refund %s: %w", r.ID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting refund: %w", err)
	}
	return nil
}

// UpdateRefundDecision writes an admin decision if the refund is still in
// status from.
func UpdateRefundDecision(ctx context.Context, q database.Querier, r *domain.Refund, from domain.RefundStatus) error {
	tag, err := q.Exec(ctx, `
		UPDATE refunds SET refund_status = $2, processed_by = $3,
			gateway_refund_id = COALESCE($4, gateway_refund_id), updated_at = $5
		WHERE id = $1 AND refund_status = $6`,
		r.ID, string(r.Status), null(r.ProcessedBy), null(r.GatewayRefundID), r.UpdatedAt, string(from),
	)
	if err != nil {
		return fmt.Errorf("updating refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("refund %s no longer %s: %w", r.ID, from, database.ErrConflict)
	}
	return nil
}

// UpsertGatewayRefund records a refund the gateway reports and returns the
// refunds.id it was recorded under. A refund we initiated, matched on our id
// echoed back by the gateway (r.ID) or on gateway_refund_id, is updated in
// place; otherwise a new row keyed by the gateway's refund id is written.
func (s *Store) UpsertGatewayRefund(ctx context.Context, r *domain.Refund) (string, error) {
	var id string
	err := s.q.QueryRow(ctx, `
		UPDATE refunds SET refund_status = $3,
			gateway_refund_id = COALESCE(gateway_refund_id, $2),
			processed_by = COALESCE(processed_by, $4),
			updated_at = now()
		WHERE id = $1 OR gateway_refund_id = $2
		RETURNING id`,
		null(r.ID), r.GatewayRefundID, string(r.Status), null(r.ProcessedBy),
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("updating initiated refund: %w", err)
	}

	_, err = s.q.Exec(ctx, `
		INSERT INTO refunds (id, booking_id, user_id, partner_id, amount_minor, currency, payment_mode,
			refund_status, gateway_refund_id, processed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $1, $9)
		ON CONFLICT (id) DO UPDATE SET
			booking_id    = COALESCE(refunds.booking_id, EXCLUDED.booking_id),
			user_id       = COALESCE(refunds.user_id, EXCLUDED.user_id),
			partner_id    = COALESCE(refunds.partner_id, EXCLUDED.partner_id),
			amount_minor  = EXCLUDED.amount_minor,
			refund_status = EXCLUDED.refund_status,
			updated_at    = now()`,
		r.GatewayRefundID, null(r.BookingID), null(r.UserID), null(r.PartnerID), r.Amount.AmountMinor,
		string(r.Amount.Currency), string(r.PaymentMode), string(r.Status), null(r.ProcessedBy),
	)
	if err != nil {
		return "", fmt.Errorf("upserting refund %s: %w", r.GatewayRefundID, err)
	}
	return r.GatewayRefundID, nil
}

// GetPartner retrieves a partner. forUpdate locks the row for the rest of
// the transaction.
func GetPartner(ctx context.Context, q database.Querier, id string, forUpdate bool) (*domain.Partner, error) {
	query := `SELECT id, name, email, kyc_status, kyc_updated_at FROM partners WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var p domain.Partner
	err := q.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.Email, &p.KYCStatus, &p.KYCUpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning partner: %w", err)
	}
	return &p, nil
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		b                                    domain.Booking
		orderID, paymentID, reason, refundID *string
		refundStatus, gatewayRefundID        *string
		refundAmount                         *int64
	)
	err := row.Scan(
		&b.ID, &b.PartnerID, &b.UserID, &b.Amount.AmountMinor, &b.Amount.Currency,
		&b.PaymentStatus, &b.Status, &b.SettlementStatus,
		&orderID, &paymentID, &reason, &refundStatus, &refundID, &gatewayRefundID, &refundAmount,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning booking: %w", err)
	}

	b.GatewayOrderID = deref(orderID)
	b.GatewayPaymentID = deref(paymentID)
	b.FailureReason = deref(reason)
	b.RefundID = deref(refundID)
	b.GatewayRefundID = deref(gatewayRefundID)
	if refundStatus != nil {
		rs, err := domain.ParseRefundStatus(*refundStatus)
		if err != nil {
			return nil, fmt.Errorf("booking %s: %w", b.ID, err)
		}
		b.RefundStatus = &rs
	}
	if refundAmount != nil {
		m := money.New(*refundAmount, b.Amount.Currency)
		b.RefundAmount = &m
	}
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]*domain.Booking, error) {
	defer rows.Close()
	var out []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bookings: %w", err)
	}
	return out, nil
}

func scanRefund(row pgx.Row) (*domain.Refund, error) {
	var (
		r                                                       domain.Refund
		bookingID, userID, partnerID, gwID, invoice, reason, by *string
		createdAt, updatedAt                                    time.Time
	)
	err := row.Scan(
		&r.ID, &bookingID, &userID, &partnerID, &r.Amount.AmountMinor, &r.Amount.Currency,
		&r.PaymentMode, &r.Status, &gwID, &invoice, &reason, &by, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning refund: %w", err)
	}
	r.BookingID = deref(bookingID)
	r.UserID = deref(userID)
	r.PartnerID = deref(partnerID)
	r.GatewayRefundID = deref(gwID)
	r.InvoiceRef = deref(invoice)
	r.Reason = deref(reason)
	r.ProcessedBy = deref(by)
	r.CreatedAt = createdAt
	r.UpdatedAt = updatedAt
	return &r, nil
}

// text converts an optional enum into an optional string parameter.
func text[T ~string](v *T) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
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
