package format

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
)

func TestNumber(t *testing.T) {
	assert.Equal(t, "1,234.50", New("en", "USD").Number(1234.5, 2))
	assert.Equal(t, "1.234,50", New("de", "EUR").Number(1234.5, 2))
	assert.Equal(t, "0.00", New("en", "USD").Number(0, 2))
}

func TestCurrency(t *testing.T) {
	en := New("en-US", "USD")
	assert.Equal(t, "$1,234.50", en.Currency(decimal.RequireFromString("1234.5")))
	assert.Equal(t, "-$500.00", en.Currency(decimal.NewFromInt(-500)))

	de := New("de-DE", "EUR")
	assert.Equal(t, "1.234,50\u00a0€", de.Currency(decimal.RequireFromString("1234.5")))
	assert.Equal(t, "-12,00\u00a0€", de.Currency(decimal.NewFromInt(-12)))
	assert.Equal(t, "EUR", de.CurrencyCode())
}

func TestUnknownLocaleAndCurrencyFallBack(t *testing.T) {
	f := New("not a locale!!", "???")
	assert.Equal(t, "en", f.Locale())
	assert.Equal(t, "EUR", f.CurrencyCode())
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "44.4%", New("en", "USD").Percent(44.444))
	assert.Equal(t, "37,8%", New("de", "EUR").Percent(37.78))
}

func TestDate(t *testing.T) {
	d := core.NewDate(2024, 3, 9)
	assert.Equal(t, "03/09/2024", New("en-US", "USD").Date(d))
	assert.Equal(t, "09/03/2024", New("en-GB", "GBP").Date(d))
	assert.Equal(t, "09.03.2024", New("de", "EUR").Date(d))
	assert.Equal(t, "2024/03/09", New("ja", "JPY").Date(d))
	assert.Equal(t, "", New("en", "USD").Date(core.Date{}))
}

func TestMonth(t *testing.T) {
	assert.Equal(t, "03.2024", New("de", "EUR").Month("2024-03"))
	assert.Equal(t, "2024/03", New("ja", "JPY").Month("2024-03"))
	assert.Equal(t, "garbage", New("en", "USD").Month("garbage"))
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		locale string
		in     string
		want   string
	}{
		{"en", "1,234.50", "1234.5"},
		{"en", "12", "12"},
		{"de", "1.234,50", "1234.5"},
		{"de", "0,99", "0.99"},
		{"it", "2.000", "2000"},
	}
	for _, tt := range tests {
		t.Run(tt.locale+"/"+tt.in, func(t *testing.T) {
			got, err := New(tt.locale, "EUR").ParseAmount(tt.in)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}

	_, err := New("en", "USD").ParseAmount("-3")
	assert.ErrorIs(t, err, core.ErrValidation)
}
