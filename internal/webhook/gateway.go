// Package webhook ingests signed payment gateway callbacks exactly once and
// hands them to the ledger.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"payrecon/internal/common/events"
)

// EventDispatcher applies a parsed event.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev *Event) error
}

// Result is the acknowledgement returned to the gateway.
type Result struct {
	OK        bool   `json:"ok"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Gateway verifies, deduplicates and dispatches webhooks.
type Gateway struct {
	sources    map[string]Source
	store      Store
	dispatcher EventDispatcher
	publisher  events.EventPublisher
	timeout    time.Duration
	logger     *slog.Logger
}

// NewGateway creates a gateway whose default source checks HMAC signatures
// with verifier. publisher may be nil.
func NewGateway(verifier *Verifier, store Store, dispatcher EventDispatcher, publisher events.EventPublisher, timeout time.Duration, logger *slog.Logger) *Gateway {
	return &Gateway{
		sources:    map[string]Source{DefaultSource: signedSource{verifier: verifier}},
		store:      store,
		dispatcher: dispatcher,
		publisher:  publisher,
		timeout:    timeout,
		logger:     logger,
	}
}

// Register adds a source for another gateway's webhooks. Event ids of
// different sources must not collide.
func (g *Gateway) Register(src Source) {
	g.sources[src.Name()] = src
}

func (g *Gateway) source(name string) (Source, error) {
	if name == "" {
		name = DefaultSource
	}
	src, ok := g.sources[name]
	if !ok {
		return nil, fmt.Errorf("unknown webhook source %q", name)
	}
	return src, nil
}

// Ingest processes one webhook body from the default source. It returns
// ErrInvalidSignature or ErrMalformedPayload for rejected input, in which
// case nothing was recorded, and a wrapped store error when the event could
// not be recorded. Dispatch failures are recorded on the event and do not
// fail ingestion.
func (g *Gateway) Ingest(ctx context.Context, body []byte, signature, fallbackID string) (Result, error) {
	return g.IngestFrom(ctx, DefaultSource, body, signature, fallbackID)
}

// IngestFrom is Ingest for a registered source.
func (g *Gateway) IngestFrom(ctx context.Context, source string, body []byte, signature, fallbackID string) (Result, error) {
	src, err := g.source(source)
	if err != nil {
		return Result{OK: false, Error: "internal error"}, err
	}

	ev, err := src.Decode(body, signature, fallbackID)
	switch {
	case errors.Is(err, ErrInvalidSignature):
		g.logger.Warn("webhook signature rejected", "source", source, "fallback_id", fallbackID)
		return Result{OK: false, Error: "invalid signature"}, err
	case err != nil:
		if !errors.Is(err, ErrMalformedPayload) {
			err = fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		g.logger.Warn("webhook payload rejected", "source", source, "error", err)
		return Result{OK: false, Error: ErrMalformedPayload.Error()}, err
	}

	created, err := g.store.CreateIfAbsent(ctx, &Record{
		EventID:   ev.ID,
		Source:    src.Name(),
		EventType: ev.RawType,
		Payload:   body,
	})
	if err != nil {
		return Result{OK: false, Error: "internal error"}, err
	}
	if !created {
		g.logger.Info("duplicate webhook event", "event_id", ev.ID, "event_type", ev.RawType)
		return Result{OK: true, Duplicate: true}, nil
	}

	dispatchErr := g.dispatch(ctx, ev)

	// The outcome is recorded even if the caller went away mid-dispatch.
	if err := g.store.Complete(context.WithoutCancel(ctx), ev.ID, dispatchErr); err != nil {
		g.logger.Error("failed to complete webhook event", "event_id", ev.ID, "error", err)
	}
	if dispatchErr != nil {
		g.reportFailure(ctx, ev, dispatchErr, 1)
	}

	return Result{OK: true}, nil
}

func (g *Gateway) dispatch(ctx context.Context, ev *Event) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	err := g.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		g.logger.Error("webhook dispatch failed",
			"event_id", ev.ID,
			"event_type", ev.RawType,
			"error", err,
		)
		return fmt.Errorf("dispatching %s: %w", ev.RawType, err)
	}

	g.logger.Debug("webhook dispatched",
		"event_id", ev.ID,
		"event_type", ev.RawType,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (g *Gateway) reportFailure(ctx context.Context, ev *Event, dispatchErr error, attempts int) {
	if g.publisher == nil {
		return
	}
	event, err := events.NewEvent(events.EventWebhookFailed, events.AggregateWebhook, ev.ID, events.WebhookFailedData{
		EventID:   ev.ID,
		EventType: ev.RawType,
		Error:     dispatchErr.Error(),
		Attempts:  attempts,
	})
	if err != nil {
		g.logger.Error("failed to build webhook failure event", "error", err)
		return
	}
	event.WithCorrelation(ev.ID, ev.ID)
	if err := g.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		g.logger.Warn("failed to publish webhook failure", "event_id", ev.ID, "error", err)
	}
}
