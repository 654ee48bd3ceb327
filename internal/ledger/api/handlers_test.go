package api

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
	"payrecon/internal/common/middleware"
	"payrecon/internal/common/money"
	"payrecon/internal/identity"
	"payrecon/internal/ledger"
	"payrecon/internal/ledger/domain"
	"payrecon/internal/webhook"
)

// bookingStore keeps bookings and payments in memory and serves both the
// ledger reads and the mutator's writes.
type bookingStore struct {
	mu       sync.Mutex
	bookings map[string]*domain.Booking
	payments map[string]*domain.Payment
}

func (s *bookingStore) WithTx(_ context.Context, fn func(w ledger.Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s)
}

func (s *bookingStore) MergePayment(_ context.Context, p domain.PaymentPatch) error {
	cur, ok := s.payments[p.OrderID]
	if !ok {
		cur = &domain.Payment{OrderID: p.OrderID}
		s.payments[p.OrderID] = cur
	}
	if p.Status != nil {
		cur.Status = *p.Status
	}
	if p.VerifiedVia != nil && cur.VerifiedVia != domain.VerifiedByWebhook {
		cur.VerifiedVia = *p.VerifiedVia
	}
	return nil
}

func (s *bookingStore) MergeBooking(_ context.Context, id string, p domain.BookingPatch) (bool, error) {
	b, ok := s.bookings[id]
	if !ok {
		return false, nil
	}
	if p.PaymentStatus != nil {
		b.PaymentStatus = *p.PaymentStatus
	}
	if p.Status != nil {
		b.Status = *p.Status
	}
	if p.GatewayOrderID != nil {
		b.GatewayOrderID = *p.GatewayOrderID
	}
	if p.GatewayPaymentID != nil {
		b.GatewayPaymentID = *p.GatewayPaymentID
	}
	return true, nil
}

func (s *bookingStore) MergeBookings(context.Context, []string, domain.BookingPatch) (int64, error) {
	return 0, errors.New("not used")
}

func (s *bookingStore) FindBookingsByPaymentRef(context.Context, string) ([]*domain.Booking, error) {
	return nil, nil
}

func (s *bookingStore) UpsertGatewayRefund(context.Context, *domain.Refund) (string, error) {
	return "", errors.New("not used")
}

func (s *bookingStore) GetBooking(_ context.Context, id string) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *bookingStore) GetPayment(_ context.Context, orderID string) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[orderID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return p, nil
}

func (s *bookingStore) GetRefund(context.Context, string) (*domain.Refund, error) {
	return nil, database.ErrNotFound
}

func (s *bookingStore) ListBookingsByPartner(context.Context, string, int, int) ([]*domain.Booking, error) {
	return nil, nil
}

func TestConfirmPaymentHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &bookingStore{
		bookings: map[string]*domain.Booking{
			"bk_1": {ID: "bk_1", UserID: "u1", PartnerID: "p1", Amount: money.New(1000, money.INR),
				PaymentStatus: domain.PaymentUnpaid, Status: domain.BookingPending},
		},
		payments: map[string]*domain.Payment{},
	}
	verifier, err := webhook.NewCheckoutVerifier(webhook.Config{CheckoutSecret: "key_secret"})
	if err != nil {
		t.Fatal(err)
	}
	svc := ledger.NewService(store, ledger.NewMutator(store, logger), verifier, logger)
	routes := NewHandler(svc).PaymentRoutes()

	do := func(actor *identity.Actor, body string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader(body))
		if actor != nil {
			r = r.WithContext(middleware.WithActor(r.Context(), *actor))
		}
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, r)
		return w
	}
	body := func(sig string) string {
		return `{"bookingId":"bk_1","orderId":"ord_1","paymentId":"pay_1","signature":"` + sig + `"}`
	}
	good := verifier.Sign([]byte("ord_1|pay_1"))

	owner := identity.Actor{UID: "u1", Role: identity.RoleUser}
	stranger := identity.Actor{UID: "u2", Role: identity.RoleUser}
	partner := identity.Actor{UID: "p1", Role: identity.RolePartner}

	tests := []struct {
		name  string
		actor *identity.Actor
		body  string
		want  int
	}{
		{"anonymous", nil, body(good), http.StatusUnauthorized},
		{"partner", &partner, body(good), http.StatusForbidden},
		{"missing fields", &owner, `{"bookingId":"bk_1"}`, http.StatusBadRequest},
		{"bad signature", &owner, body(verifier.Sign([]byte("ord_1|pay_2"))), http.StatusBadRequest},
		{"other user", &stranger, body(good), http.StatusForbidden},
		{"unknown booking", &owner, `{"bookingId":"bk_x","orderId":"ord_1","paymentId":"pay_1","signature":"` + good + `"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(tt.actor, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
	if store.bookings["bk_1"].PaymentStatus != domain.PaymentUnpaid {
		t.Fatal("rejected confirmations changed the booking")
	}

	w := do(&owner, body(good))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"payment_status":"paid"`) {
		t.Errorf("confirm: %d %s", w.Code, w.Body.String())
	}
	if p := store.payments["ord_1"]; p == nil || p.VerifiedVia != domain.VerifiedByClient {
		t.Errorf("payment = %+v", p)
	}

	// Repeating the confirmation is harmless.
	if w := do(&owner, body(good)); w.Code != http.StatusOK {
		t.Errorf("repeat confirm: %d", w.Code)
	}
}
