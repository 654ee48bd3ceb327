package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"payrecon/internal/common/database"
)

// PostgresStore reads risk inputs from the ledger and keeps the scores.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a risk store
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// PartnerIDs lists every partner.
func (s *PostgresStore) PartnerIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM partners ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing partners: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning partners: %w", err)
	}
	return ids, nil
}

// Inputs reads one partner's counters from a single read-only snapshot.
// Settlements still requested or approved before delayedBefore count as
// delayed.
func (s *PostgresStore) Inputs(ctx context.Context, partnerID string, delayedBefore time.Time) (Inputs, error) {
	var in Inputs
	err := s.db.WithSnapshot(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT count(*),
			       count(*) FILTER (WHERE refund_status IN ('approved', 'processed'))
			FROM bookings WHERE partner_id = $1`, partnerID,
		).Scan(&in.Bookings, &in.RefundedBookings)
		if err != nil {
			return fmt.Errorf("counting bookings: %w", err)
		}

		err = tx.QueryRow(ctx, `
			SELECT count(*),
			       count(*) FILTER (WHERE status IN ('requested', 'approved') AND created_at < $2),
			       (SELECT count(*) FROM disputes d JOIN settlements x ON x.id = d.settlement_id
			        WHERE x.partner_id = $1)
			FROM settlements WHERE partner_id = $1`, partnerID, delayedBefore,
		).Scan(&in.Settlements, &in.DelayedSettlements, &in.Disputes)
		if err != nil {
			return fmt.Errorf("counting settlements: %w", err)
		}

		err = tx.QueryRow(ctx, `
			SELECT (SELECT count(*) FROM risk_anomalies WHERE partner_id = $1),
			       count(*), COALESCE(sum(rating), 0)
			FROM partner_reviews WHERE partner_id = $1`, partnerID,
		).Scan(&in.Anomalies, &in.Reviews, &in.RatingSum)
		if err != nil {
			return fmt.Errorf("counting reviews: %w", err)
		}

		err = tx.QueryRow(ctx, `SELECT kyc_updated_at FROM partners WHERE id = $1`, partnerID).
			Scan(&in.KYCUpdatedAt)
		if err != nil {
			return fmt.Errorf("reading partner: %w", err)
		}
		return nil
	})
	return in, err
}

// Save overwrites the partner's score.
func (s *PostgresStore) Save(ctx context.Context, score Score) error {
	factors, err := json.Marshal(score.Factors)
	if err != nil {
		return fmt.Errorf("encoding factors: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO partner_risk_scores (partner_id, score, tier, factors, computed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (partner_id) DO UPDATE SET
			score = EXCLUDED.score,
			tier = EXCLUDED.tier,
			factors = EXCLUDED.factors,
			computed_at = EXCLUDED.computed_at`,
		score.PartnerID, score.Score, string(score.Tier), factors, score.ComputedAt,
	)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return fmt.Errorf("partner %s: %w", score.PartnerID, database.ErrNotFound)
		}
		return fmt.Errorf("saving risk score: %w", err)
	}
	return nil
}

// Get returns the latest score for a partner.
func (s *PostgresStore) Get(ctx context.Context, partnerID string) (*Score, error) {
	var (
		score   Score
		tier    string
		factors []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT partner_id, score, tier, factors, computed_at
		FROM partner_risk_scores WHERE partner_id = $1`, partnerID,
	).Scan(&score.PartnerID, &score.Score, &tier, &factors, &score.ComputedAt)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("getting risk score: %w", err)
	}
	score.Tier = Tier(tier)
	if err := json.Unmarshal(factors, &score.Factors); err != nil {
		return nil, fmt.Errorf("decoding factors: %w", err)
	}
	return &score, nil
}
