package razorpay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"payrecon/internal/common/money"
	"payrecon/internal/refund"
)

type recordedCall struct {
	paymentID string
	amount    int
	data      map[string]interface{}
	headers   map[string]string
}

func TestRefund(t *testing.T) {
	var got recordedCall
	r := &Refunder{
		speed:  "normal",
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		refund: func(paymentID string, amount int, data map[string]interface{}, headers map[string]string) (map[string]interface{}, error) {
			got = recordedCall{paymentID, amount, data, headers}
			return map[string]interface{}{"id": "rfnd_1", "status": "processed"}, nil
		},
	}
	req := refund.GatewayRefund{RefundID: "01REF", PaymentRef: "pay_1", Amount: money.New(2599, money.INR)}

	id, err := r.Refund(context.Background(), req)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if id != "rfnd_1" {
		t.Errorf("id = %q", id)
	}
	if got.paymentID != "pay_1" || got.amount != 2599 || got.data["speed"] != "normal" || got.data["receipt"] != "01REF" {
		t.Errorf("call = %+v", got)
	}
	notes, _ := got.data["notes"].(map[string]interface{})
	if notes["refundId"] != "01REF" || got.headers["X-Refund-Idempotency"] != "01REF" {
		t.Errorf("refund id not passed through: notes %v, headers %v", notes, got.headers)
	}

	t.Run("non-positive amount", func(t *testing.T) {
		bad := req
		bad.Amount = money.New(0, money.INR)
		if _, err := r.Refund(context.Background(), bad); err == nil {
			t.Error("zero amount accepted")
		}
	})

	t.Run("gateway error", func(t *testing.T) {
		r := *r
		r.refund = func(string, int, map[string]interface{}, map[string]string) (map[string]interface{}, error) {
			return nil, errors.New("The refund amount provided is greater than amount captured")
		}
		if _, err := r.Refund(context.Background(), req); err == nil || !strings.Contains(err.Error(), "pay_1") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		r := *r
		r.refund = func(string, int, map[string]interface{}, map[string]string) (map[string]interface{}, error) {
			return map[string]interface{}{}, nil
		}
		if _, err := r.Refund(context.Background(), req); err == nil {
			t.Error("empty response accepted")
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := r.Refund(ctx, req); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestNewRefunderRequiresCredentials(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := NewRefunder(Config{KeyID: "rzp_test"}, logger); err == nil {
		t.Error("expected error without secret")
	}
	if r, err := NewRefunder(Config{KeyID: "rzp_test", KeySecret: "s", Speed: "optimum"}, logger); err != nil || r.speed != "optimum" {
		t.Errorf("r = %+v, err = %v", r, err)
	}
}
