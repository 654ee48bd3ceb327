package webhook

import (
	"context"
	"log/slog"
	"time"
)

// Replayer re-dispatches events that were recorded but never completed, or
// completed with a dispatch error.
type Replayer struct {
	store       Store
	gateway     *Gateway
	replayAfter time.Duration
	maxAttempts int
	batch       int
	logger      *slog.Logger
	now         func() time.Time
}

// NewReplayer creates a replayer using the gateway's dispatcher and timeout.
func NewReplayer(store Store, gateway *Gateway, cfg Config, logger *slog.Logger) *Replayer {
	batch := cfg.ReplayBatch
	if batch <= 0 {
		batch = 100
	}
	return &Replayer{
		store:       store,
		gateway:     gateway,
		replayAfter: cfg.ReplayAfter,
		maxAttempts: cfg.MaxAttempts,
		batch:       batch,
		logger:      logger,
		now:         time.Now,
	}
}

// ReplayOnce processes one batch of replayable events and returns how many
// were dispatched successfully.
func (r *Replayer) ReplayOnce(ctx context.Context) (int, error) {
	records, err := r.store.ListReplayable(ctx, r.now().Add(-r.replayAfter), r.maxAttempts, r.batch)
	if err != nil {
		return 0, err
	}

	ok := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return ok, ctx.Err()
		}

		ev, err := r.parse(rec)
		if err != nil {
			// Stored bodies passed parsing once; record the failure so the
			// attempt cap eventually retires it.
			r.logger.Error("stored webhook no longer parses", "event_id", rec.EventID, "error", err)
			if err := r.store.Complete(ctx, rec.EventID, err); err != nil {
				r.logger.Error("failed to complete webhook event", "event_id", rec.EventID, "error", err)
			}
			continue
		}

		dispatchErr := r.gateway.dispatch(ctx, ev)
		if err := r.store.Complete(context.WithoutCancel(ctx), rec.EventID, dispatchErr); err != nil {
			r.logger.Error("failed to complete webhook event", "event_id", rec.EventID, "error", err)
			continue
		}
		if dispatchErr != nil {
			if rec.Attempts+1 >= r.maxAttempts {
				r.gateway.reportFailure(ctx, ev, dispatchErr, rec.Attempts+1)
			}
			continue
		}
		ok++
	}

	if len(records) > 0 {
		r.logger.Info("webhook replay pass", "candidates", len(records), "succeeded", ok)
	}
	return ok, nil
}

func (r *Replayer) parse(rec *Record) (*Event, error) {
	src, err := r.gateway.source(rec.Source)
	if err != nil {
		return nil, err
	}
	return src.Parse(rec.Payload, rec.EventID)
}

// Run replays on every tick until ctx is cancelled.
func (r *Replayer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ReplayOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("webhook replay failed", "error", err)
			}
		}
	}
}
