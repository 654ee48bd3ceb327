package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseRejectsUnknown(t *testing.T) {
	parsers := map[string]func(string) error{
		"payment":    func(s string) error { _, err := ParsePaymentStatus(s); return err },
		"booking":    func(s string) error { _, err := ParseBookingStatus(s); return err },
		"settlement": func(s string) error { _, err := ParseSettlementStatus(s); return err },
		"record":     func(s string) error { _, err := ParsePaymentRecordStatus(s); return err },
		"refund":     func(s string) error { _, err := ParseRefundStatus(s); return err },
		"mode":       func(s string) error { _, err := ParsePaymentMode(s); return err },
		"kyc":        func(s string) error { _, err := ParseKYCStatus(s); return err },
	}
	for name, parse := range parsers {
		t.Run(name, func(t *testing.T) {
			for _, bad := range []string{"", "PENDING", "bogus"} {
				if err := parse(bad); err == nil {
					t.Errorf("parse(%q) accepted an unknown value", bad)
				}
			}
		})
	}
}

func TestScanEnum(t *testing.T) {
	var s BookingStatus
	if err := s.Scan("confirmed"); err != nil || s != BookingConfirmed {
		t.Fatalf("Scan(string) = %v, %q", err, s)
	}
	if err := s.Scan([]byte("completed")); err != nil || s != BookingCompleted {
		t.Fatalf("Scan([]byte) = %v, %q", err, s)
	}
	if err := s.Scan("unheard_of"); err == nil {
		t.Error("Scan accepted unknown status")
	}
	if err := s.Scan(nil); err == nil {
		t.Error("Scan accepted NULL")
	}
	if err := s.Scan(42); err == nil {
		t.Error("Scan accepted int")
	}
}

func TestRefundDecisions(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	r := &Refund{ID: "rf_1", Status: RefundPending, PaymentMode: ModeGateway}
	if err := r.Approve("adm_1", "re_123", now); !errors.Is(err, ErrRefundNotPending) {
		t.Fatalf("gateway refund approved without a claim: %v", err)
	}
	if err := r.Claim("adm_1", now); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := r.Claim("adm_2", now); !errors.Is(err, ErrRefundNotPending) {
		t.Errorf("second Claim err = %v", err)
	}
	if err := r.Reject("adm_2", now); !errors.Is(err, ErrRefundNotPending) {
		t.Errorf("Reject while approving err = %v", err)
	}
	if err := r.Approve("adm_1", "re_123", now); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if r.Status != RefundApproved || r.GatewayRefundID != "re_123" || r.ProcessedBy != "adm_1" {
		t.Errorf("refund after approve = %+v", r)
	}
	if err := r.Reject("adm_2", now); !errors.Is(err, ErrRefundNotPending) {
		t.Errorf("Reject after approve err = %v", err)
	}

	manual := &Refund{ID: "rf_m", Status: RefundPending, PaymentMode: ModeManual}
	if err := manual.Approve("adm_1", "", now); err != nil || manual.Status != RefundApproved {
		t.Errorf("manual Approve = %v, %s", err, manual.Status)
	}

	r2 := &Refund{ID: "rf_2", Status: RefundPending, PaymentMode: ModeManual}
	if err := r2.Reject("adm_1", now); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if err := r2.Approve("adm_1", "", now); !errors.Is(err, ErrRefundNotPending) {
		t.Errorf("Approve after reject err = %v", err)
	}
}

func TestRefundRelease(t *testing.T) {
	now := time.Now()
	r := &Refund{ID: "rf_1", Status: RefundPending, PaymentMode: ModeGateway}
	if err := r.Release(now); err == nil {
		t.Error("released a refund that was never claimed")
	}
	_ = r.Claim("adm_1", now)
	if err := r.Release(now); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if r.Status != RefundPending || r.ProcessedBy != "" {
		t.Errorf("refund after release = %+v", r)
	}
	for _, s := range []RefundStatus{RefundPending, RefundApproving, RefundApproved} {
		if !s.IsOpen() {
			t.Errorf("%s should be open", s)
		}
	}
	if RefundRejected.IsOpen() || RefundProcessed.IsOpen() {
		t.Error("closed statuses reported open")
	}
}

func TestBookingSettleable(t *testing.T) {
	tests := []struct {
		b    Booking
		want bool
	}{
		{Booking{Status: BookingCompleted, PaymentStatus: PaymentUnpaid}, true},
		{Booking{Status: BookingConfirmed, PaymentStatus: PaymentPaid}, true},
		{Booking{Status: BookingPending, PaymentStatus: PaymentUnpaid}, false},
		{Booking{Status: BookingPaymentFailed, PaymentStatus: PaymentFailed}, false},
	}
	for _, tt := range tests {
		if got := tt.b.Settleable(); got != tt.want {
			t.Errorf("Settleable(%s/%s) = %v", tt.b.Status, tt.b.PaymentStatus, got)
		}
	}
}
