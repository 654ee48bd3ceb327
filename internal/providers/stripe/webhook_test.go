package stripe

import (
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83/webhook"

	gw "payrecon/internal/webhook"
)

const testSecret = "whsec_stripe_test"

func signed(t *testing.T, body string) ([]byte, string) {
	t.Helper()
	p := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(body),
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return p.Payload, p.Header
}

func TestWebhookSourceDecode(t *testing.T) {
	src, err := NewWebhookSource(testSecret)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("payment succeeded", func(t *testing.T) {
		body, sig := signed(t, `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","created":1700000000,
			"data":{"object":{"id":"pi_1","object":"payment_intent","amount":1500,"amount_received":1500,"currency":"inr",
			"metadata":{"bookingId":"bk_1"}}}}`)
		ev, err := src.Decode(body, sig, "")
		if err != nil {
			t.Fatal(err)
		}
		if ev.ID != "stripe:evt_1" || ev.Type != gw.EventPaymentCaptured || ev.Payment == nil {
			t.Fatalf("event = %+v", ev)
		}
		p := ev.Payment
		if p.ID != "pi_1" || p.OrderID != "pi_1" || p.Amount != 1500 || p.Notes.BookingID() != "bk_1" {
			t.Errorf("payment = %+v", p)
		}
		if m := p.Money(); m.Currency != "INR" {
			t.Errorf("currency = %s", m.Currency)
		}
	})

	t.Run("payment failed", func(t *testing.T) {
		body, sig := signed(t, `{"id":"evt_2","object":"event","type":"payment_intent.payment_failed","created":1700000000,
			"data":{"object":{"id":"pi_2","object":"payment_intent","amount":900,"currency":"inr",
			"last_payment_error":{"message":"card declined"},"metadata":{"bookingId":"bk_2"}}}}`)
		ev, err := src.Decode(body, sig, "")
		if err != nil {
			t.Fatal(err)
		}
		if ev.Type != gw.EventPaymentFailed || ev.Payment.ErrorDescription != "card declined" || ev.Payment.Amount != 900 {
			t.Errorf("event = %+v, payment = %+v", ev, ev.Payment)
		}
	})

	t.Run("refund succeeded", func(t *testing.T) {
		body, sig := signed(t, `{"id":"evt_3","object":"event","type":"refund.updated","created":1700000000,
			"data":{"object":{"id":"re_1","object":"refund","amount":500,"currency":"inr","status":"succeeded",
			"payment_intent":"pi_1","metadata":{"refund_id":"01REF"}}}}`)
		ev, err := src.Decode(body, sig, "")
		if err != nil {
			t.Fatal(err)
		}
		if ev.Type != gw.EventRefundProcessed || ev.Refund == nil {
			t.Fatalf("event = %+v", ev)
		}
		r := ev.Refund
		if r.ID != "re_1" || r.PaymentID != "pi_1" || r.Amount != 500 || r.Notes.RefundRef() != "01REF" {
			t.Errorf("refund = %+v", r)
		}
	})

	t.Run("pending refund is ignored", func(t *testing.T) {
		body, sig := signed(t, `{"id":"evt_4","object":"event","type":"refund.created","created":1700000000,
			"data":{"object":{"id":"re_2","object":"refund","amount":500,"currency":"inr","status":"pending","payment_intent":"pi_1"}}}`)
		ev, err := src.Decode(body, sig, "")
		if err != nil {
			t.Fatal(err)
		}
		if ev.Type != gw.EventUnknown || ev.Refund != nil {
			t.Errorf("event = %+v", ev)
		}
	})

	t.Run("other types are unknown", func(t *testing.T) {
		body, sig := signed(t, `{"id":"evt_5","object":"event","type":"customer.created","created":1700000000,"data":{"object":{"id":"cus_1"}}}`)
		ev, err := src.Decode(body, sig, "")
		if err != nil {
			t.Fatal(err)
		}
		if ev.Type != gw.EventUnknown || ev.RawType != "customer.created" {
			t.Errorf("event = %+v", ev)
		}
	})

	t.Run("bad signature", func(t *testing.T) {
		body, _ := signed(t, `{"id":"evt_6","object":"event","type":"customer.created"}`)
		for _, sig := range []string{"", "garbage", "t=1700000000,v1=deadbeef"} {
			if _, err := src.Decode(body, sig, ""); !errors.Is(err, gw.ErrInvalidSignature) {
				t.Errorf("sig %q: err = %v", sig, err)
			}
		}
	})

	t.Run("replay parses without signature", func(t *testing.T) {
		body, _ := signed(t, `{"id":"evt_7","object":"event","type":"payment_intent.succeeded","created":1700000000,
			"data":{"object":{"id":"pi_7","object":"payment_intent","amount_received":100,"currency":"inr"}}}`)
		ev, err := src.Parse(body, "stripe:evt_7")
		if err != nil {
			t.Fatal(err)
		}
		if ev.ID != "stripe:evt_7" || ev.Payment.ID != "pi_7" {
			t.Errorf("event = %+v", ev)
		}
		if _, err := src.Parse([]byte(`{`), "x"); !errors.Is(err, gw.ErrMalformedPayload) {
			t.Errorf("malformed: %v", err)
		}
	})
}

func TestNewWebhookSourceRequiresSecret(t *testing.T) {
	if _, err := NewWebhookSource(""); err == nil {
		t.Error("expected error without secret")
	}
}
