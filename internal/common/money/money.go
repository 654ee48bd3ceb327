package money

import (
	"fmt"
	"math"
)

// Currency represents an ISO 4217 currency code
type Currency string

const (
	INR Currency = "INR"
	USD Currency = "USD"
	EUR Currency = "EUR"
)

// Default is the currency bookings are priced in when none is given.
const Default = INR

// CurrencyInfo contains metadata about a currency
type CurrencyInfo struct {
	Code       Currency
	MinorUnits int
	Symbol     string
}

var currencies = map[Currency]CurrencyInfo{
	INR: {Code: INR, MinorUnits: 2, Symbol: "₹"},
	USD: {Code: USD, MinorUnits: 2, Symbol: "$"},
	EUR: {Code: EUR, MinorUnits: 2, Symbol: "€"},
}

// GetCurrencyInfo returns info about a currency
func GetCurrencyInfo(c Currency) (CurrencyInfo, bool) {
	info, ok := currencies[c]
	return info, ok
}

// Money represents a monetary amount in minor units (paise, cents)
type Money struct {
	AmountMinor int64    `json:"amount_minor"`
	Currency    Currency `json:"currency"`
}

// New creates a new Money value from minor units
func New(amountMinor int64, currency Currency) Money {
	if currency == "" {
		currency = Default
	}
	return Money{AmountMinor: amountMinor, Currency: currency}
}

// NewFromMajor creates Money from major units (e.g. rupees)
func NewFromMajor(amountMajor float64, currency Currency) Money {
	if currency == "" {
		currency = Default
	}
	return Money{
		AmountMinor: int64(math.Round(amountMajor * multiplier(currency))),
		Currency:    currency,
	}
}

func multiplier(c Currency) float64 {
	info, ok := currencies[c]
	if !ok {
		info = CurrencyInfo{MinorUnits: 2}
	}
	return math.Pow(10, float64(info.MinorUnits))
}

// IsZero returns true if the amount is zero
func (m Money) IsZero() bool {
	return m.AmountMinor == 0
}

// IsPositive returns true if the amount is positive
func (m Money) IsPositive() bool {
	return m.AmountMinor > 0
}

// Add adds two money values (must be same currency)
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{
		AmountMinor: m.AmountMinor + other.AmountMinor,
		Currency:    m.Currency,
	}, nil
}

// Equal checks equality
func (m Money) Equal(other Money) bool {
	return m.AmountMinor == other.AmountMinor && m.Currency == other.Currency
}

// GreaterThan reports whether m > other. Different currencies never compare.
func (m Money) GreaterThan(other Money) bool {
	return m.Currency == other.Currency && m.AmountMinor > other.AmountMinor
}

// ToMajor converts to major units as float
func (m Money) ToMajor() float64 {
	return float64(m.AmountMinor) / multiplier(m.Currency)
}

// String returns a human-readable representation
func (m Money) String() string {
	info, ok := currencies[m.Currency]
	if !ok {
		return fmt.Sprintf("%d %s (minor)", m.AmountMinor, m.Currency)
	}
	return fmt.Sprintf("%s%.*f", info.Symbol, info.MinorUnits, m.ToMajor())
}

// Sum adds up multiple money values
func Sum(amounts ...Money) (Money, error) {
	if len(amounts) == 0 {
		return Money{}, nil
	}

	result := amounts[0]
	for _, a := range amounts[1:] {
		var err error
		result, err = result.Add(a)
		if err != nil {
			return Money{}, err
		}
	}
	return result, nil
}
