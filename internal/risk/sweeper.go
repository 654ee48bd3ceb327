package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"payrecon/internal/common/cache"
)

// Store is what the sweep reads from and writes to.
type Store interface {
	PartnerIDs(ctx context.Context) ([]string, error)
	Inputs(ctx context.Context, partnerID string, delayedBefore time.Time) (Inputs, error)
	Save(ctx context.Context, score Score) error
	Get(ctx context.Context, partnerID string) (*Score, error)
}

// Locker grants a lease so only one instance sweeps at a time.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error)
}

const lockName = "risk-sweep"

// Sweeper recomputes every partner's score.
type Sweeper struct {
	store  Store
	locker Locker
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewSweeper creates a sweeper. locker may be nil for single-instance use.
func NewSweeper(store Store, locker Locker, cfg Config, logger *slog.Logger) *Sweeper {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Sweeper{
		store:  store,
		locker: locker,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SweepOnce scores every partner and returns how many were saved. A partner
// that fails is logged and skipped. If another instance holds the lease the
// sweep is skipped and 0 is returned.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, lockName, s.cfg.LockTTL)
		if errors.Is(err, cache.ErrLockHeld) {
			s.logger.Debug("risk sweep already running elsewhere")
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		defer release()
	}

	ids, err := s.store.PartnerIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("risk sweep: %w", err)
	}

	now := s.now()
	delayedBefore := now.Add(-s.cfg.DelayThreshold)

	var saved atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := s.scorePartner(gctx, id, delayedBefore, now); err != nil {
				s.logger.Warn("risk scoring failed", "partner_id", id, "error", err)
				return nil
			}
			saved.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(saved.Load()), err
	}

	s.logger.Info("risk sweep complete", "partners", len(ids), "saved", saved.Load())
	return int(saved.Load()), ctx.Err()
}

func (s *Sweeper) scorePartner(ctx context.Context, partnerID string, delayedBefore, now time.Time) error {
	in, err := s.store.Inputs(ctx, partnerID, delayedBefore)
	if err != nil {
		return err
	}
	score := Compute(partnerID, in, now)
	if score.Tier == TierCritical {
		s.logger.Warn("partner risk critical", "partner_id", partnerID, "score", score.Score)
	}
	return s.store.Save(ctx, score)
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("risk sweep failed", "error", err)
			}
		}
	}
}
