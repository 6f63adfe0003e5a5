package currency

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert_USDToEUR(t *testing.T) {
	q, err := Convert(decimal.RequireFromString("100.00"), USD, EUR)
	require.NoError(t, err)

	assert.Equal(t, "0.93", q.Rate.StringFixed(2))
	assert.Equal(t, "0.50", q.Fee.StringFixed(2))
	// (100.00 - 0.50) * 0.93 = 92.535, rounds half-up to 92.54
	assert.Equal(t, "92.54", q.Converted.StringFixed(2))
}

func TestConvert_SameCurrency(t *testing.T) {
	amount := decimal.RequireFromString("250.75")
	q, err := Convert(amount, KES, KES)
	require.NoError(t, err)

	assert.True(t, q.Rate.Equal(decimal.NewFromInt(1)))
	assert.True(t, q.Fee.IsZero())
	assert.True(t, q.Converted.Equal(amount))
}

func TestConvert_UnsupportedCurrency(t *testing.T) {
	_, err := Convert(decimal.NewFromInt(10), USD, Code("JPY"))
	assert.True(t, errors.Is(err, ErrUnsupportedPair))

	_, err = Convert(decimal.NewFromInt(10), Code("CHF"), USD)
	assert.True(t, errors.Is(err, ErrUnsupportedPair))
}

func TestConvert_AllPairsQuoted(t *testing.T) {
	codes := []Code{USD, EUR, GBP, KES, PLN}
	for _, from := range codes {
		for _, to := range codes {
			if from == to {
				continue
			}
			_, err := Convert(decimal.NewFromInt(100), from, to)
			assert.NoError(t, err, "%s to %s", from, to)
		}
	}
}

func TestConvert_InversesAreQuotedNotDerived(t *testing.T) {
	// USD->EUR is 0.93 but EUR->USD is quoted at 1.08, not 1/0.93.
	fwd, err := Convert(decimal.NewFromInt(100), USD, EUR)
	require.NoError(t, err)
	back, err := Convert(decimal.NewFromInt(100), EUR, USD)
	require.NoError(t, err)

	assert.Equal(t, "0.9300", fwd.Rate.StringFixed(4))
	assert.Equal(t, "1.0800", back.Rate.StringFixed(4))
}

func TestConvert_SmallAmountRounding(t *testing.T) {
	// Fee on 1.00 is 0.005 which rounds half-up to 0.01.
	q, err := Convert(decimal.RequireFromString("1.00"), USD, GBP)
	require.NoError(t, err)

	assert.Equal(t, "0.01", q.Fee.StringFixed(2))
	// (1.00 - 0.01) * 0.79 = 0.7821 -> 0.78
	assert.Equal(t, "0.78", q.Converted.StringFixed(2))
}

func TestConvert_KESPrecision(t *testing.T) {
	// Tiny rates must be quantized to 4 decimal places, not truncated away.
	q, err := Convert(decimal.RequireFromString("10000.00"), KES, USD)
	require.NoError(t, err)

	assert.Equal(t, "0.0061", q.Rate.StringFixed(4))
	assert.Equal(t, "50.00", q.Fee.StringFixed(2))
	// (10000 - 50) * 0.0061 = 60.695 -> 60.70
	assert.Equal(t, "60.70", q.Converted.StringFixed(2))
}

func TestCode_Valid(t *testing.T) {
	assert.True(t, USD.Valid())
	assert.True(t, PLN.Valid())
	assert.False(t, Code("JPY").Valid())
	assert.False(t, Code("").Valid())
}
