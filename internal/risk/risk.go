// Package risk scores partners from their ledger history. Scores are advisory
// and never gate a settlement on their own.
package risk

import (
	"math"
	"time"
)

// Config configures the risk sweep
type Config struct {
	DelayThreshold time.Duration `envconfig:"RISK_DELAY_THRESHOLD" default:"168h"`
	SweepInterval  time.Duration `envconfig:"RISK_SWEEP_INTERVAL" default:"1h"`
	Concurrency    int           `envconfig:"RISK_SWEEP_CONCURRENCY" default:"4"`
	LockTTL        time.Duration `envconfig:"RISK_SWEEP_LOCK_TTL" default:"10m"`
}

// Tier buckets a score.
type Tier string

const (
	TierLow      Tier = "low"
	TierMedium   Tier = "medium"
	TierHigh     Tier = "high"
	TierCritical Tier = "critical"
)

// TierFor returns the tier of a 0-100 score.
func TierFor(score float64) Tier {
	switch {
	case score >= 75:
		return TierCritical
	case score >= 55:
		return TierHigh
	case score >= 35:
		return TierMedium
	default:
		return TierLow
	}
}

// Inputs are the raw counters read for one partner.
type Inputs struct {
	Bookings           int
	RefundedBookings   int
	Settlements        int
	DelayedSettlements int
	Disputes           int
	Anomalies          int
	Reviews            int
	RatingSum          int
	KYCUpdatedAt       *time.Time
}

// Factors are the normalized contributions, each in [0,1].
type Factors struct {
	RefundRate         float64 `json:"refund_rate"`
	DelayedSettlements float64 `json:"delayed_settlements"`
	Disputes           float64 `json:"disputes"`
	Anomalies          float64 `json:"anomalies"`
	AvgRating          float64 `json:"avg_rating"`
	KYCAge             float64 `json:"kyc_age"`
}

const (
	weightRefundRate = 0.25
	weightDelayed    = 0.20
	weightDisputes   = 0.20
	weightAnomalies  = 0.15
	weightAvgRating  = 0.10
	weightKYCAge     = 0.10

	minAnomalyBase = 10
)

// Score is a partner's computed risk.
type Score struct {
	PartnerID  string    `json:"partner_id"`
	Score      float64   `json:"score"`
	Tier       Tier      `json:"tier"`
	Factors    Factors   `json:"factors"`
	ComputedAt time.Time `json:"computed_at"`
}

// Compute scores one partner. It is pure; now anchors the KYC age.
func Compute(partnerID string, in Inputs, now time.Time) Score {
	f := Factors{
		RefundRate:         ratio(in.RefundedBookings, in.Bookings),
		DelayedSettlements: ratio(in.DelayedSettlements, in.Settlements),
		Disputes:           ratio(in.Disputes, in.Settlements),
		Anomalies:          clamp(float64(in.Anomalies) / float64(max(in.Bookings, minAnomalyBase))),
		KYCAge:             1,
	}
	if in.Reviews > 0 {
		avg := float64(in.RatingSum) / float64(in.Reviews)
		f.AvgRating = clamp((5 - avg) / 4)
	}
	if in.KYCUpdatedAt != nil {
		months := now.Sub(*in.KYCUpdatedAt).Hours() / 24 / 30
		f.KYCAge = clamp(months / 12)
	}

	sum := f.RefundRate*weightRefundRate +
		f.DelayedSettlements*weightDelayed +
		f.Disputes*weightDisputes +
		f.Anomalies*weightAnomalies +
		f.AvgRating*weightAvgRating +
		f.KYCAge*weightKYCAge
	score := round2(100 * sum)

	return Score{
		PartnerID:  partnerID,
		Score:      score,
		Tier:       TierFor(score),
		Factors:    f,
		ComputedAt: now,
	}
}

func ratio(n, d int) float64 {
	if d <= 0 {
		return 0
	}
	return clamp(float64(n) / float64(d))
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
