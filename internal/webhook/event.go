package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"payrecon/internal/common/money"
)

// ErrMalformedPayload is returned for bodies that cannot be parsed or carry
// no event id.
var ErrMalformedPayload = errors.New("malformed payload")

// EventType is the closed set of gateway events the dispatcher knows.
type EventType string

const (
	EventPaymentCaptured EventType = "payment.captured"
	EventPaymentFailed   EventType = "payment.failed"
	EventRefundProcessed EventType = "refund.processed"
	EventUnknown         EventType = "unknown"
)

// ParseEventType maps a wire event name onto EventType. Anything else is
// EventUnknown.
func ParseEventType(s string) EventType {
	switch t := EventType(s); t {
	case EventPaymentCaptured, EventPaymentFailed, EventRefundProcessed:
		return t
	}
	return EventUnknown
}

// Event is a parsed gateway webhook.
type Event struct {
	ID        string
	Type      EventType
	RawType   string
	CreatedAt time.Time
	Payment   *PaymentEntity
	Refund    *RefundEntity
}

// PaymentEntity is the payment object of a payment.* event.
type PaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Notes            Notes  `json:"notes"`
	ErrorDescription string `json:"error_description"`
}

// Money returns the payment amount in minor units.
func (p *PaymentEntity) Money() money.Money {
	return money.New(p.Amount, money.Currency(strings.ToUpper(p.Currency)))
}

// RefundEntity is the refund object of a refund.* event.
type RefundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Notes     Notes  `json:"notes"`
}

// Money returns the refund amount in minor units.
func (r *RefundEntity) Money() money.Money {
	return money.New(r.Amount, money.Currency(strings.ToUpper(r.Currency)))
}

// Notes is the free-form key/value bag merchants attach to gateway objects.
// The gateway sends an empty array instead of an empty object, so both decode.
type Notes map[string]string

func (n *Notes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] == '[' || bytes.Equal(data, []byte("null")) {
		*n = Notes{}
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Notes, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case string:
			out[k] = v
		case nil:
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	*n = out
	return nil
}

// RefundRef returns our refund id when the gateway echoes it back.
func (n Notes) RefundRef() string {
	if id := n["refundId"]; id != "" {
		return id
	}
	return n["refund_id"]
}

// BookingID returns the booking reference under either key spelling.
func (n Notes) BookingID() string {
	if id := n["bookingId"]; id != "" {
		return id
	}
	return n["booking_id"]
}

type wireEvent struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment *struct {
			Entity PaymentEntity `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity RefundEntity `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

// ParseEvent decodes a webhook body. fallbackID is used when the body has
// no id of its own.
func ParseEvent(body []byte, fallbackID string) (*Event, error) {
	var w wireEvent
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	id := strings.TrimSpace(w.ID)
	if id == "" {
		id = strings.TrimSpace(fallbackID)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrMalformedPayload)
	}
	if w.Event == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedPayload)
	}

	ev := &Event{
		ID:      id,
		Type:    ParseEventType(w.Event),
		RawType: w.Event,
	}
	if w.CreatedAt > 0 {
		ev.CreatedAt = time.Unix(w.CreatedAt, 0).UTC()
	}
	if w.Payload.Payment != nil {
		p := w.Payload.Payment.Entity
		ev.Payment = &p
	}
	if w.Payload.Refund != nil {
		r := w.Payload.Refund.Entity
		ev.Refund = &r
	}
	return ev, nil
}
