package quant

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPriceSignificantDigits(t *testing.T) {
	q := New(5, decimal.Zero, 8)

	cases := map[string]string{
		"97.9":         "97.9",
		"123456":       "123450",
		"9712.3456":    "9712.3",
		"0.0012345678": "0.0012345",
		"40":           "40",
		"99999.99":     "99999",
	}
	for in, want := range cases {
		assert.True(t, q.Price(d(in)).Equal(d(want)), "Price(%s) = %s, want %s", in, q.Price(d(in)), want)
	}
}

func TestPriceTickSizeTruncates(t *testing.T) {
	q := New(0, d("0.1"), 8)

	assert.Equal(t, "97.9", q.Price(d("97.99")).String())
	assert.Equal(t, "100", q.Price(d("100.04")).String())
	assert.Equal(t, "-97.9", q.Price(d("-97.99")).String())
}

func TestPriceIdempotent(t *testing.T) {
	quantizers := []Quantizer{
		New(5, decimal.Zero, 8),
		New(0, d("0.1"), 8),
		New(5, d("0.5"), 8),
		New(3, d("0.01"), 4),
	}
	inputs := []string{"0.000123456", "1.23456789", "97.94", "10.00001", "9.99999", "43210.987", "123456789.123"}

	for _, q := range quantizers {
		for _, in := range inputs {
			once := q.Price(d(in))
			twice := q.Price(once)
			assert.True(t, once.Equal(twice), "not idempotent for %s: %s -> %s", in, once, twice)
		}
	}
}

func TestAmountTruncatesToEightDecimals(t *testing.T) {
	q := New(5, decimal.Zero, 0)

	assert.Equal(t, "0.12345678", q.Amount(d("0.123456789")).String())
	assert.Equal(t, "1.25", q.Amount(d("1.25")).String())
	assert.True(t, q.Amount(q.Amount(d("3.999999999"))).Equal(q.Amount(d("3.999999999"))))
}

func TestCompareUsesQuantizedValues(t *testing.T) {
	q := New(5, decimal.Zero, 8)

	// 第六位有效数字的差异被截断后视为相等
	assert.Equal(t, 0, q.Compare(d("100.001"), d("100.009")))
	assert.Equal(t, 1, q.Compare(d("100.02"), d("100.01")))
	assert.Equal(t, -1, q.Compare(d("99.5"), d("100")))
}
