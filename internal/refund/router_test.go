package refund

import (
	"context"
	"testing"

	"payrecon/internal/common/money"
)

type namedGateway struct {
	name  string
	calls []GatewayRefund
}

func (g *namedGateway) Refund(_ context.Context, req GatewayRefund) (string, error) {
	g.calls = append(g.calls, req)
	return g.name + "_" + req.RefundID, nil
}

func TestGatewayRouter(t *testing.T) {
	rzp, stripe, special := &namedGateway{name: "rfnd"}, &namedGateway{name: "re"}, &namedGateway{name: "sp"}
	r := NewGatewayRouter()
	r.Handle("pay_", rzp)
	r.Handle("pi_", stripe)
	r.Handle("pi_special_", special)
	if r.Len() != 3 {
		t.Fatalf("Len = %d", r.Len())
	}

	tests := []struct {
		ref  string
		want string
	}{
		{"pay_1", "rfnd_01A"},
		{"pi_1", "re_01A"},
		{"pi_special_1", "sp_01A"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			id, err := r.Refund(context.Background(), GatewayRefund{RefundID: "01A", PaymentRef: tt.ref, Amount: money.New(100, money.INR)})
			if err != nil || id != tt.want {
				t.Errorf("Refund = %q, %v; want %q", id, err, tt.want)
			}
		})
	}

	if _, err := r.Refund(context.Background(), GatewayRefund{PaymentRef: "ch_1"}); err == nil {
		t.Error("unknown prefix accepted")
	}
	if len(rzp.calls) != 1 || len(stripe.calls) != 1 || len(special.calls) != 1 {
		t.Errorf("calls = %d, %d, %d", len(rzp.calls), len(stripe.calls), len(special.calls))
	}
}
