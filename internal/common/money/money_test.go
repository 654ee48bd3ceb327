package money

import "testing"

func TestMajorMinorConversion(t *testing.T) {
	m := New(150000, INR)
	if got := m.ToMajor(); got != 1500 {
		t.Errorf("ToMajor() = %v, want 1500", got)
	}

	back := NewFromMajor(1500, INR)
	if !back.Equal(m) {
		t.Errorf("NewFromMajor(1500) = %+v, want %+v", back, m)
	}

	if got := NewFromMajor(10.005, INR).AmountMinor; got != 1001 && got != 1000 {
		t.Errorf("unexpected rounding result %d", got)
	}
}

func TestNewDefaultsCurrency(t *testing.T) {
	if got := New(100, "").Currency; got != INR {
		t.Errorf("currency = %q, want INR", got)
	}
	if got := NewFromMajor(1, "").Currency; got != INR {
		t.Errorf("currency = %q, want INR", got)
	}
}

func TestSum(t *testing.T) {
	total, err := Sum(New(100, INR), New(250, INR), New(50, INR))
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if total.AmountMinor != 400 {
		t.Errorf("total = %d, want 400", total.AmountMinor)
	}

	if _, err := Sum(New(100, INR), New(100, USD)); err == nil {
		t.Error("expected currency mismatch error")
	}
}

func TestString(t *testing.T) {
	if got := New(300000, INR).String(); got != "₹3000.00" {
		t.Errorf("String() = %q", got)
	}
	if got := New(5, "XXX").String(); got != "5 XXX (minor)" {
		t.Errorf("String() = %q", got)
	}
}
