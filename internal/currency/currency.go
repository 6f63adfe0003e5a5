// Package currency implements conversion between the currencies the bank
// supports. Conversion is pure: a quote is computed from a static rate
// table and a flat fee schedule, with no side effects.
package currency

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Code is an ISO 4217 currency code.
type Code string

const (
	USD Code = "USD"
	EUR Code = "EUR"
	GBP Code = "GBP"
	KES Code = "KES"
	PLN Code = "PLN"
)

var ErrUnsupportedPair = errors.New("unsupported currency pair")

// Valid reports whether c is a supported currency.
func (c Code) Valid() bool {
	switch c {
	case USD, EUR, GBP, KES, PLN:
		return true
	}
	return false
}

// rates holds directional mid-market rates. Each direction is listed
// explicitly; inverses are quoted, not derived.
var rates = map[Code]map[Code]decimal.Decimal{
	USD: {
		EUR: decimal.NewFromFloat(0.93),
		GBP: decimal.NewFromFloat(0.79),
		KES: decimal.NewFromFloat(163.50),
		PLN: decimal.NewFromFloat(3.71),
	},
	GBP: {
		EUR: decimal.NewFromFloat(1.17),
		USD: decimal.NewFromFloat(1.26),
		KES: decimal.NewFromFloat(205.70),
		PLN: decimal.NewFromFloat(4.95),
	},
	EUR: {
		GBP: decimal.NewFromFloat(0.75),
		USD: decimal.NewFromFloat(1.08),
		KES: decimal.NewFromFloat(176.23),
		PLN: decimal.NewFromFloat(4.28),
	},
	KES: {
		EUR: decimal.NewFromFloat(0.0057),
		GBP: decimal.NewFromFloat(0.0049),
		USD: decimal.NewFromFloat(0.0061),
		PLN: decimal.NewFromFloat(0.027),
	},
	PLN: {
		EUR: decimal.NewFromFloat(0.23),
		GBP: decimal.NewFromFloat(0.20),
		KES: decimal.NewFromFloat(34.97),
		USD: decimal.NewFromFloat(0.27),
	},
}

// feeRate is the flat conversion fee applied to the source amount.
var feeRate = decimal.NewFromFloat(0.005)

// Quote is the result of a conversion computation.
type Quote struct {
	// Rate applied, rounded half-up to 4 decimal places.
	Rate decimal.Decimal
	// Fee charged in the source currency, half-up to 2 decimal places.
	Fee decimal.Decimal
	// Converted amount credited to the target, half-up to 2 decimal places.
	Converted decimal.Decimal
}

// Convert computes the target-currency amount for a source amount. The fee
// is taken from the source amount before the rate is applied. Same-currency
// conversion is the identity with zero fee.
func Convert(amount decimal.Decimal, from, to Code) (Quote, error) {
	if !from.Valid() || !to.Valid() {
		return Quote{}, fmt.Errorf("%w: %s to %s", ErrUnsupportedPair, from, to)
	}
	if from == to {
		return Quote{
			Rate:      decimal.NewFromInt(1),
			Fee:       decimal.Zero,
			Converted: amount,
		}, nil
	}

	raw, ok := rates[from][to]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s to %s", ErrUnsupportedPair, from, to)
	}

	rate := raw.Round(4)
	fee := amount.Mul(feeRate).Round(2)
	converted := amount.Sub(fee).Mul(rate).Round(2)

	return Quote{Rate: rate, Fee: fee, Converted: converted}, nil
}
