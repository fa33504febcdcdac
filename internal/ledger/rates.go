// Package ledger holds the pure calculations behind a daily trip: product
// totals, financial metrics and the balance chronology. Nothing in this
// package performs I/O.
package ledger

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrNonFinite is returned when a float input is NaN or ±Inf.
	ErrNonFinite = errors.New("ledger: amount is not a finite number")

	// ErrInvalidRate is returned when a rate falls outside its allowed range.
	ErrInvalidRate = errors.New("ledger: invalid rate")
)

// Setting keys as stored by the settings store.
const (
	KeyFreshReduction  = "fresh_reduction"
	KeyBakeryReduction = "bakery_reduction"
	KeyGrandMarkup     = "grand_markup"
	KeyExpiryVAT       = "expiry_vat"
	KeyExpiryTaxFactor = "expiry_tax_factor"
	KeyFreshProfitPct  = "fresh_profit_pct"
	KeyBakeryProfitPct = "bakery_profit_pct"
)

// Rates are the business constants the calculators run with.
type Rates struct {
	FreshReduction  decimal.Decimal
	BakeryReduction decimal.Decimal
	GrandMarkup     decimal.Decimal
	ExpiryVAT       decimal.Decimal
	ExpiryTaxFactor decimal.Decimal
	FreshProfitPct  decimal.Decimal
	BakeryProfitPct decimal.Decimal
}

// DefaultRates returns the rates used when no setting overrides them.
func DefaultRates() Rates {
	return Rates{
		FreshReduction:  decimal.RequireFromString("0.115"),
		BakeryReduction: decimal.RequireFromString("0.16"),
		GrandMarkup:     decimal.RequireFromString("0.05"),
		ExpiryVAT:       decimal.RequireFromString("1.05"),
		ExpiryTaxFactor: decimal.RequireFromString("0.87"),
		FreshProfitPct:  decimal.RequireFromString("0.135"),
		BakeryProfitPct: decimal.RequireFromString("0.195"),
	}
}

// Validate checks every rate is within range. Reductions must leave a
// non-negative remainder; multipliers must be non-negative.
func (r Rates) Validate() error {
	one := decimal.NewFromInt(1)
	for name, v := range r.fractions() {
		if v.IsNegative() || v.GreaterThan(one) {
			return fmt.Errorf("%w: %s=%s", ErrInvalidRate, name, v)
		}
	}
	for name, v := range map[string]decimal.Decimal{
		KeyGrandMarkup:     r.GrandMarkup,
		KeyExpiryVAT:       r.ExpiryVAT,
		KeyExpiryTaxFactor: r.ExpiryTaxFactor,
	} {
		if v.IsNegative() {
			return fmt.Errorf("%w: %s=%s", ErrInvalidRate, name, v)
		}
	}
	return nil
}

func (r Rates) fractions() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		KeyFreshReduction:  r.FreshReduction,
		KeyBakeryReduction: r.BakeryReduction,
		KeyFreshProfitPct:  r.FreshProfitPct,
		KeyBakeryProfitPct: r.BakeryProfitPct,
	}
}

// Map returns the rates keyed by setting name.
func (r Rates) Map() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		KeyFreshReduction:  r.FreshReduction,
		KeyBakeryReduction: r.BakeryReduction,
		KeyGrandMarkup:     r.GrandMarkup,
		KeyExpiryVAT:       r.ExpiryVAT,
		KeyExpiryTaxFactor: r.ExpiryTaxFactor,
		KeyFreshProfitPct:  r.FreshProfitPct,
		KeyBakeryProfitPct: r.BakeryProfitPct,
	}
}

// WithOverrides returns a copy of r where every key present in values replaces the current rate.
// Unknown keys are ignored.
func (r Rates) WithOverrides(values map[string]decimal.Decimal) Rates {
	out := r
	for key, v := range values {
		switch key {
		case KeyFreshReduction:
			out.FreshReduction = v
		case KeyBakeryReduction:
			out.BakeryReduction = v
		case KeyGrandMarkup:
			out.GrandMarkup = v
		case KeyExpiryVAT:
			out.ExpiryVAT = v
		case KeyExpiryTaxFactor:
			out.ExpiryTaxFactor = v
		case KeyFreshProfitPct:
			out.FreshProfitPct = v
		case KeyBakeryProfitPct:
			out.BakeryProfitPct = v
		}
	}
	return out
}

// RatesFromFloats builds rates from float settings (e.g. environment config),
// rejecting NaN and infinities.
func RatesFromFloats(values map[string]float64) (Rates, error) {
	converted := make(map[string]decimal.Decimal, len(values))
	for key, v := range values {
		d, err := AmountFromFloat(v)
		if err != nil {
			return Rates{}, fmt.Errorf("%s: %w", key, err)
		}
		converted[key] = d
	}
	rates := DefaultRates().WithOverrides(converted)
	if err := rates.Validate(); err != nil {
		return Rates{}, err
	}
	return rates, nil
}

// AmountFromFloat converts a float to a decimal, failing fast on NaN/Inf.
func AmountFromFloat(v float64) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, ErrNonFinite
	}
	return decimal.NewFromFloat(v), nil
}
