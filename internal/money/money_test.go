package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMinutesToHours(t *testing.T) {
	cases := []struct {
		minutes int64
		want    string
	}{
		{0, "0.0"},
		{30, "0.5"},
		{60, "1.0"},
		{90, "1.5"},
		{600, "10.0"},
		{605, "10.0"},
		{606, "10.1"},
	}
	for _, tc := range cases {
		got, err := MinutesToHours(tc.minutes)
		assert.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestMinutesToHoursNegative(t *testing.T) {
	got, err := MinutesToHours(-5)
	assert.ErrorIs(t, err, ErrNegativeMinutes)
	assert.Equal(t, "0.0", got)
}

func TestFormatCurrency(t *testing.T) {
	got, err := FormatCurrency(12999, "usd")
	assert.NoError(t, err)
	assert.Contains(t, got, "129.99")

	_, err = FormatCurrency(100, "not-a-code")
	assert.ErrorIs(t, err, ErrInvalidCurrency)

	_, err = FormatCurrency(-1, "USD")
	assert.ErrorIs(t, err, ErrNegativeAmount)
}
