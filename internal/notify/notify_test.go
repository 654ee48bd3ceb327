package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wneessen/go-mail"

	"payrecon/internal/common/events"
)

func TestSendSlackAlert(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got["text"] == "fail" {
			http.Error(w, "invalid_payload", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSlack(srv.Client())
	if err := s.SendSlackAlert(context.Background(), srv.URL, "hello ops"); err != nil {
		t.Fatalf("SendSlackAlert: %v", err)
	}
	if got["text"] != "hello ops" {
		t.Errorf("payload = %v", got)
	}

	err := s.SendSlackAlert(context.Background(), srv.URL, "fail")
	if err == nil || !strings.Contains(err.Error(), "invalid_payload") {
		t.Errorf("err = %v", err)
	}
}

type fakeSender struct {
	texts []string
	err   error
}

func (f *fakeSender) SendSlackAlert(_ context.Context, _, text string) error {
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, text)
	return nil
}

func mustEvent(t *testing.T, eventType string, data any) *events.Event {
	t.Helper()
	e, err := events.NewEvent(eventType, "test", "id", data)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestWorkerHandle(t *testing.T) {
	sender := &fakeSender{}
	w := NewWorker(sender, "https://hooks.example/x", slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	tests := []struct {
		name  string
		event *events.Event
		want  string
	}{
		{"dispute", mustEvent(t, events.EventDisputeOpened, events.DisputeChangedData{
			DisputeID: "d1", SettlementID: "s1", ActorID: "p1", ActorRole: "partner", Reason: "short",
		}), "Dispute d1 opened on settlement s1"},
		{"hold", mustEvent(t, events.EventSettlementOnHold, events.SettlementChangedData{
			SettlementID: "s2", PartnerID: "p1", ActorID: "adm", Remark: "kyc recheck",
		}), "Settlement s2 for partner p1 put on hold by adm: kyc recheck"},
		{"webhook", mustEvent(t, events.EventWebhookFailed, events.WebhookFailedData{
			EventID: "evt_1", EventType: "payment.captured", Attempts: 5, Error: "db down",
		}), "failed after 5 attempts: db down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender.texts = nil
			if err := w.Handle(ctx, tt.event); err != nil {
				t.Fatal(err)
			}
			if len(sender.texts) != 1 || !strings.Contains(sender.texts[0], tt.want) {
				t.Errorf("texts = %v, want one containing %q", sender.texts, tt.want)
			}
		})
	}

	t.Run("ignored type", func(t *testing.T) {
		sender.texts = nil
		if err := w.Handle(ctx, mustEvent(t, events.EventSettlementPaid, events.SettlementChangedData{})); err != nil {
			t.Fatal(err)
		}
		if len(sender.texts) != 0 {
			t.Errorf("alerted on %v", sender.texts)
		}
	})

	t.Run("undecodable acked", func(t *testing.T) {
		e := &events.Event{ID: "x", Type: events.EventDisputeOpened, Data: []byte(`"nope"`)}
		if err := w.Handle(ctx, e); err != nil {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("send failure nacks", func(t *testing.T) {
		sender.err = errors.New("slack down")
		defer func() { sender.err = nil }()
		if err := w.Handle(ctx, tests[0].event); err == nil {
			t.Error("expected error")
		}
	})
}

func TestMailerMessage(t *testing.T) {
	m := NewMailer(Config{From: "settlements@payrecon.local"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	msg, err := m.message("partner@example.com", "Settlement paid", "<p>paid</p>")
	if err != nil {
		t.Fatal(err)
	}
	rcpts, err := msg.GetRecipients()
	if err != nil || len(rcpts) != 1 || rcpts[0] != "partner@example.com" {
		t.Errorf("recipients = %v, %v", rcpts, err)
	}
	if subj := msg.GetGenHeader(mail.HeaderSubject); len(subj) != 1 || subj[0] != "Settlement paid" {
		t.Errorf("subject = %v", subj)
	}

	if _, err := m.message("not an address", "x", "y"); err == nil {
		t.Error("invalid recipient accepted")
	}
	if tlsPolicy("none") != mail.NoTLS || tlsPolicy("") != mail.TLSMandatory {
		t.Error("tls policy mapping")
	}
}
