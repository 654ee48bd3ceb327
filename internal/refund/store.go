package refund

import (
	"context"

	"github.com/jackc/pgx/v5"

	"payrecon/internal/common/database"
	"payrecon/internal/ledger/domain"
	ledgerstore "payrecon/internal/ledger/store"
)

// PostgresStore keeps refunds in the ledger tables.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a refund store
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// WithTx runs fn in a transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(pgTx{q: tx})
	})
}

type pgTx struct {
	q database.Querier
}

func (t pgTx) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	return ledgerstore.GetBooking(ctx, t.q, id)
}

func (t pgTx) OpenRefund(ctx context.Context, bookingID string) (*domain.Refund, error) {
	return ledgerstore.OpenRefundForBooking(ctx, t.q, bookingID)
}

func (t pgTx) Insert(ctx context.Context, r *domain.Refund) error {
	return ledgerstore.InsertRefund(ctx, t.q, r)
}

func (t pgTx) GetForUpdate(ctx context.Context, id string) (*domain.Refund, error) {
	return ledgerstore.GetRefund(ctx, t.q, id, true)
}

func (t pgTx) UpdateDecision(ctx context.Context, r *domain.Refund, from domain.RefundStatus) error {
	return ledgerstore.UpdateRefundDecision(ctx, t.q, r, from)
}

// MarkBooking mirrors the refund's status onto its booking.
func (t pgTx) MarkBooking(ctx context.Context, r *domain.Refund) error {
	amount := r.Amount.AmountMinor
	patch := domain.BookingPatch{
		RefundStatus: domain.Ptr(r.Status),
		RefundID:     &r.ID,
		RefundAmount: &amount,
	}
	if r.GatewayRefundID != "" {
		patch.GatewayRefundID = &r.GatewayRefundID
	}
	_, err := ledgerstore.MergeBooking(ctx, t.q, r.BookingID, patch)
	return err
}
