package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CausationID   string          `json:"causation_id,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, aggregateType, aggregateID string, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation adds correlation and causation IDs
func (e *Event) WithCorrelation(correlationID, causationID string) *Event {
	e.CorrelationID = correlationID
	e.CausationID = causationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// EventPublisher publishes events to a message broker
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Aggregate types
const (
	AggregateSettlement = "settlement"
	AggregateDispute    = "dispute"
	AggregateRefund     = "refund"
	AggregateWebhook    = "webhook_event"
)

// Event types
const (
	EventSettlementRequested = "settlement.requested"
	EventSettlementApproved  = "settlement.approved"
	EventSettlementRejected  = "settlement.rejected"
	EventSettlementOnHold    = "settlement.on_hold"
	EventSettlementPaid      = "settlement.paid"

	EventDisputeOpened   = "dispute.opened"
	EventDisputeReplied  = "dispute.replied"
	EventDisputeInReview = "dispute.in_review"
	EventDisputeResolved = "dispute.resolved"

	EventRefundRequested = "refund.requested"
	EventRefundApproved  = "refund.approved"
	EventRefundRejected  = "refund.rejected"

	EventWebhookFailed = "webhook.dispatch_failed"
)

// SettlementChangedData is the data for settlement.* events
type SettlementChangedData struct {
	SettlementID string `json:"settlement_id"`
	PartnerID    string `json:"partner_id"`
	From         string `json:"from,omitempty"`
	To           string `json:"to"`
	ActorID      string `json:"actor_id"`
	AmountMinor  int64  `json:"amount_minor"`
	Currency     string `json:"currency"`
	Remark       string `json:"remark,omitempty"`
	UTRNumber    string `json:"utr_number,omitempty"`
}

// DisputeChangedData is the data for dispute.* events
type DisputeChangedData struct {
	DisputeID    string `json:"dispute_id"`
	SettlementID string `json:"settlement_id"`
	Status       string `json:"status"`
	ActorID      string `json:"actor_id"`
	ActorRole    string `json:"actor_role"`
	Reason       string `json:"reason,omitempty"`
	Remark       string `json:"remark,omitempty"`
}

// RefundChangedData is the data for refund.* events
type RefundChangedData struct {
	RefundID        string `json:"refund_id"`
	BookingID       string `json:"booking_id"`
	Status          string `json:"status"`
	AmountMinor     int64  `json:"amount_minor"`
	Currency        string `json:"currency"`
	GatewayRefundID string `json:"gateway_refund_id,omitempty"`
	ActorID         string `json:"actor_id"`
}

// WebhookFailedData is the data for webhook.dispatch_failed events
type WebhookFailedData struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Error     string `json:"error"`
	Attempts  int    `json:"attempts"`
}
