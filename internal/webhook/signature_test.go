package webhook

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestNewVerifier(t *testing.T) {
	if _, err := NewVerifier(Config{}); !errors.Is(err, ErrNoSecret) {
		t.Errorf("no secret: err = %v", err)
	}
	if _, err := NewVerifier(Config{SecretB64: "%%%"}); err == nil {
		t.Error("invalid base64 accepted")
	}

	plain, err := NewVerifier(Config{Secret: "s3cret"})
	if err != nil {
		t.Fatal(err)
	}
	b64, err := NewVerifier(Config{SecretB64: base64.StdEncoding.EncodeToString([]byte("s3cret"))})
	if err != nil {
		t.Fatal(err)
	}

	body := []byte(`{"id":"evt_1"}`)
	if plain.Sign(body) != b64.Sign(body) {
		t.Error("plain and base64 secrets disagree")
	}
}

func TestVerify(t *testing.T) {
	v, _ := NewVerifier(Config{Secret: "s3cret"})
	body := []byte(`{"id":"evt_1"}`)
	sig := v.Sign(body)

	tests := []struct {
		name string
		sig  string
		ok   bool
	}{
		{"valid", sig, true},
		{"prefixed", "sha256=" + sig, true},
		{"empty", "", false},
		{"not hex", "zz", false},
		{"tampered", sig[:len(sig)-2] + "00", sig[len(sig)-2:] == "00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(body, tt.sig)
			if (err == nil) != tt.ok {
				t.Errorf("Verify = %v, want ok=%v", err, tt.ok)
			}
		})
	}

	if err := v.Verify([]byte(`{"id":"evt_2"}`), sig); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("other body: err = %v", err)
	}
}

func TestParseEventNotes(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"id":"e","event":"payment.captured","payload":{"payment":{"entity":{"notes":{"booking_id":"bk_1","n":3}}}}}`), "")
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != EventPaymentCaptured || ev.Payment.Notes.BookingID() != "bk_1" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Payment.Notes["n"] != "3" {
		t.Errorf("numeric note = %q", ev.Payment.Notes["n"])
	}
	if ParseEventType("order.paid") != EventUnknown {
		t.Error("unexpected event type accepted")
	}
}
