package refund

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"payrecon/internal/common/database"
	"payrecon/internal/common/events"
	"payrecon/internal/common/middleware"
	"payrecon/internal/common/money"
	"payrecon/internal/identity"
	"payrecon/internal/ledger/domain"
)

type memStore struct {
	mu       sync.Mutex
	bookings map[string]*domain.Booking
	refunds  map[string]*domain.Refund
}

func (s *memStore) WithTx(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(memTx{s})
}

type memTx struct{ s *memStore }

func (t memTx) GetBooking(_ context.Context, id string) (*domain.Booking, error) {
	b, ok := t.s.bookings[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (t memTx) OpenRefund(_ context.Context, bookingID string) (*domain.Refund, error) {
	for _, r := range t.s.refunds {
		if r.BookingID == bookingID && r.Status.IsOpen() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (t memTx) Insert(_ context.Context, r *domain.Refund) error {
	cp := *r
	t.s.refunds[r.ID] = &cp
	return nil
}

func (t memTx) GetForUpdate(_ context.Context, id string) (*domain.Refund, error) {
	r, ok := t.s.refunds[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (t memTx) UpdateDecision(_ context.Context, r *domain.Refund, from domain.RefundStatus) error {
	if t.s.refunds[r.ID].Status != from {
		return database.ErrConflict
	}
	cp := *r
	t.s.refunds[r.ID] = &cp
	return nil
}

func (t memTx) MarkBooking(_ context.Context, r *domain.Refund) error {
	b := t.s.bookings[r.BookingID]
	b.RefundStatus = domain.Ptr(r.Status)
	b.RefundID = r.ID
	if r.GatewayRefundID != "" {
		b.GatewayRefundID = r.GatewayRefundID
	}
	amount := r.Amount
	b.RefundAmount = &amount
	return nil
}

// fakeGateway records refunds. during runs inside the first call, before it
// returns, the way a second admin request would arrive mid-flight.
type fakeGateway struct {
	err      error
	calls    int
	refundID string
	ref      string
	amount   money.Money
	during   func()
}

func (g *fakeGateway) Refund(_ context.Context, req GatewayRefund) (string, error) {
	g.calls++
	g.refundID = req.RefundID
	g.ref = req.PaymentRef
	g.amount = req.Amount
	if g.during != nil {
		during := g.during
		g.during = nil
		during()
	}
	if g.err != nil {
		return "", g.err
	}
	return "re_123", nil
}

type capturePublisher struct{ types []string }

func (p *capturePublisher) Publish(_ context.Context, e *events.Event) error {
	p.types = append(p.types, e.Type)
	return nil
}

var (
	user  = identity.Actor{UID: "u1", Role: identity.RoleUser}
	other = identity.Actor{UID: "u2", Role: identity.RoleUser}
	admin = identity.Actor{UID: "adm", Role: identity.RoleAdmin}
)

func newService() (*Service, *memStore, *fakeGateway, *capturePublisher) {
	store := &memStore{
		bookings: map[string]*domain.Booking{
			"bk_card": {ID: "bk_card", UserID: "u1", PartnerID: "p1", Amount: money.New(50000, money.INR),
				PaymentStatus: domain.PaymentPaid, GatewayPaymentID: "pay_1"},
			"bk_cash": {ID: "bk_cash", UserID: "u1", PartnerID: "p1", Amount: money.New(20000, money.INR),
				PaymentStatus: domain.PaymentPaid},
			"bk_unpaid": {ID: "bk_unpaid", UserID: "u1", PartnerID: "p1", Amount: money.New(1000, money.INR),
				PaymentStatus: domain.PaymentUnpaid},
		},
		refunds: map[string]*domain.Refund{},
	}
	gw := &fakeGateway{}
	pub := &capturePublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, gw, pub, logger), store, gw, pub
}

func TestRequestRefund(t *testing.T) {
	svc, store, _, pub := newService()
	ctx := context.Background()

	r, err := svc.RequestRefund(ctx, user, Request{BookingID: "bk_card", Reason: "cancelled trip"})
	if err != nil {
		t.Fatalf("RequestRefund: %v", err)
	}
	if r.Status != domain.RefundPending || r.PaymentMode != domain.ModeGateway || r.Amount.AmountMinor != 50000 {
		t.Errorf("refund = %+v", r)
	}
	b := store.bookings["bk_card"]
	if b.RefundStatus == nil || *b.RefundStatus != domain.RefundPending || b.RefundID != r.ID {
		t.Errorf("booking refund fields = %v %q", b.RefundStatus, b.RefundID)
	}
	if len(pub.types) != 1 || pub.types[0] != events.EventRefundRequested {
		t.Errorf("published = %v", pub.types)
	}

	partial, err := svc.RequestRefund(ctx, user, Request{BookingID: "bk_cash", Amount: money.New(5000, money.INR)})
	if err != nil {
		t.Fatal(err)
	}
	if partial.PaymentMode != domain.ModeManual || partial.Amount.AmountMinor != 5000 {
		t.Errorf("partial refund = %+v", partial)
	}
}

func TestRequestRefundRejections(t *testing.T) {
	svc, _, _, _ := newService()
	ctx := context.Background()

	tests := []struct {
		name  string
		actor identity.Actor
		req   Request
		want  error
	}{
		{"other user", other, Request{BookingID: "bk_card"}, ErrForbidden},
		{"unpaid", user, Request{BookingID: "bk_unpaid"}, ErrNotPaid},
		{"too much", user, Request{BookingID: "bk_card", Amount: money.New(50001, money.INR)}, ErrInvalidAmount},
		{"negative", user, Request{BookingID: "bk_card", Amount: money.New(-1, money.INR)}, ErrInvalidAmount},
		{"wrong currency", user, Request{BookingID: "bk_card", Amount: money.New(10, "USD")}, ErrInvalidAmount},
		{"missing", user, Request{BookingID: "nope"}, database.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.RequestRefund(ctx, tt.actor, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := svc.RequestRefund(ctx, user, Request{BookingID: "bk_card"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RequestRefund(ctx, user, Request{BookingID: "bk_card"}); !errors.Is(err, ErrRefundOpen) {
		t.Errorf("second request: %v", err)
	}
}

func TestApproveGatewayRefund(t *testing.T) {
	svc, store, gw, pub := newService()
	ctx := context.Background()
	r, _ := svc.RequestRefund(ctx, user, Request{BookingID: "bk_card"})

	if _, err := svc.Decide(ctx, user, r.ID, ActionApprove); !errors.Is(err, ErrForbidden) {
		t.Errorf("user approve: %v", err)
	}

	got, err := svc.Decide(ctx, admin, r.ID, ActionApprove)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if gw.calls != 1 || gw.ref != "pay_1" || gw.amount.AmountMinor != 50000 || gw.refundID != r.ID {
		t.Errorf("gateway call = %+v", gw)
	}
	if got.Status != domain.RefundApproved || got.GatewayRefundID != "re_123" || got.ProcessedBy != "adm" {
		t.Errorf("refund = %+v", got)
	}
	b := store.bookings["bk_card"]
	if *b.RefundStatus != domain.RefundApproved || b.RefundID != r.ID || b.GatewayRefundID != "re_123" {
		t.Errorf("booking refund fields = %v %q %q", *b.RefundStatus, b.RefundID, b.GatewayRefundID)
	}
	if pub.types[len(pub.types)-1] != events.EventRefundApproved {
		t.Errorf("published = %v", pub.types)
	}

	if _, err := svc.Decide(ctx, admin, r.ID, ActionApprove); !errors.Is(err, domain.ErrRefundNotPending) {
		t.Errorf("approve twice: %v", err)
	}
	if gw.calls != 1 {
		t.Errorf("gateway called again: %d", gw.calls)
	}
}

func TestApproveGatewayFailureLeavesState(t *testing.T) {
	svc, store, gw, _ := newService()
	ctx := context.Background()
	r, _ := svc.RequestRefund(ctx, user, Request{BookingID: "bk_card"})

	gw.err = errors.New("card_declined")
	if _, err := svc.Decide(ctx, admin, r.ID, ActionApprove); !errors.Is(err, ErrGateway) {
		t.Fatalf("err = %v", err)
	}
	if store.refunds[r.ID].Status != domain.RefundPending {
		t.Errorf("refund status = %s", store.refunds[r.ID].Status)
	}
	if *store.bookings["bk_card"].RefundStatus != domain.RefundPending {
		t.Error("booking changed after gateway failure")
	}

	gw.err = nil
	if got, err := svc.Decide(ctx, admin, r.ID, ActionApprove); err != nil || got.Status != domain.RefundApproved {
		t.Errorf("retry after release: %+v %v", got, err)
	}
}

func TestApproveWhileGatewayCallInFlight(t *testing.T) {
	svc, store, gw, _ := newService()
	ctx := context.Background()
	r, _ := svc.RequestRefund(ctx, user, Request{BookingID: "bk_card"})

	var approveErr, rejectErr error
	var statusDuring domain.RefundStatus
	gw.during = func() {
		statusDuring = store.refunds[r.ID].Status
		_, approveErr = svc.Decide(ctx, admin, r.ID, ActionApprove)
		_, rejectErr = svc.Decide(ctx, admin, r.ID, ActionReject)
	}

	got, err := svc.Decide(ctx, admin, r.ID, ActionApprove)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if statusDuring != domain.RefundApproving {
		t.Errorf("status during gateway call = %s, want approving", statusDuring)
	}
	if !errors.Is(approveErr, domain.ErrRefundNotPending) {
		t.Errorf("second approve: %v", approveErr)
	}
	if !errors.Is(rejectErr, domain.ErrRefundNotPending) {
		t.Errorf("reject during approval: %v", rejectErr)
	}
	if gw.calls != 1 {
		t.Errorf("gateway called %d times", gw.calls)
	}
	if got.Status != domain.RefundApproved || store.refunds[r.ID].Status != domain.RefundApproved {
		t.Errorf("refund = %+v", store.refunds[r.ID])
	}
}

func TestApproveAfterWebhookProcessed(t *testing.T) {
	svc, store, gw, _ := newService()
	ctx := context.Background()
	r, _ := svc.RequestRefund(ctx, user, Request{BookingID: "bk_card"})

	// The gateway's refund.processed webhook lands before the call returns.
	gw.during = func() {
		store.mu.Lock()
		defer store.mu.Unlock()
		store.refunds[r.ID].Status = domain.RefundProcessed
		store.refunds[r.ID].GatewayRefundID = "re_123"
	}

	got, err := svc.Decide(ctx, admin, r.ID, ActionApprove)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if got.Status != domain.RefundProcessed || store.refunds[r.ID].Status != domain.RefundProcessed {
		t.Errorf("processed refund was downgraded: %+v", store.refunds[r.ID])
	}
}

func TestManualApproveAndReject(t *testing.T) {
	svc, store, gw, pub := newService()
	ctx := context.Background()

	r, _ := svc.RequestRefund(ctx, user, Request{BookingID: "bk_cash"})
	got, err := svc.Decide(ctx, admin, r.ID, ActionApprove)
	if err != nil || got.Status != domain.RefundApproved {
		t.Fatalf("approve manual: %+v %v", got, err)
	}
	if gw.calls != 0 {
		t.Error("manual refund went through the gateway")
	}

	r2, _ := svc.RequestRefund(ctx, user, Request{BookingID: "bk_card"})
	got, err = svc.Decide(ctx, admin, r2.ID, ActionReject)
	if err != nil || got.Status != domain.RefundRejected {
		t.Fatalf("reject: %+v %v", got, err)
	}
	if pub.types[len(pub.types)-1] != events.EventRefundRejected {
		t.Errorf("published = %v", pub.types)
	}
	if *store.bookings["bk_card"].RefundStatus != domain.RefundRejected {
		t.Error("booking not marked rejected")
	}

	if _, err := svc.RequestRefund(ctx, user, Request{BookingID: "bk_card"}); err != nil {
		t.Errorf("request after rejection: %v", err)
	}
}

func TestHandlers(t *testing.T) {
	svc, store, gw, _ := newService()
	routes := NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Routes()

	do := func(actor identity.Actor, path, body string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		r = r.WithContext(middleware.WithActor(r.Context(), actor))
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, r)
		return w
	}

	if w := do(user, "/", `{"bookingId":"bk_card","reason":"sick"}`); w.Code != http.StatusCreated {
		t.Fatalf("request: %d %s", w.Code, w.Body.String())
	}
	if w := do(user, "/", `{"bookingId":"bk_card","reason":"again"}`); w.Code != http.StatusConflict {
		t.Errorf("duplicate: %d", w.Code)
	}
	if w := do(admin, "/", `{"bookingId":"bk_cash","reason":"x"}`); w.Code != http.StatusForbidden {
		t.Errorf("admin request: %d", w.Code)
	}
	if w := do(user, "/", `{"bookingId":"bk_unpaid","reason":"x"}`); w.Code != http.StatusBadRequest {
		t.Errorf("unpaid: %d", w.Code)
	}

	var id string
	for rid := range store.refunds {
		id = rid
	}

	if w := do(admin, "/actions", `{"refundId":"`+id+`","action":"refund"}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown action: %d", w.Code)
	}

	gw.err = errors.New("timeout")
	if w := do(admin, "/actions", `{"refundId":"`+id+`","action":"approve"}`); w.Code != http.StatusBadGateway {
		t.Errorf("gateway failure: %d", w.Code)
	}

	gw.err = nil
	w := do(admin, "/actions", `{"refundId":"`+id+`","action":"approve"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"approved"`) {
		t.Errorf("approve: %d %s", w.Code, w.Body.String())
	}
	if w := do(admin, "/actions", `{"refundId":"`+id+`","action":"reject"}`); w.Code != http.StatusConflict {
		t.Errorf("reject decided refund: %d", w.Code)
	}
}
