// Package money contains formatting helpers for credit minutes and prices.
package money

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	ErrNegativeMinutes = errors.New("negative_minutes")
	ErrNegativeAmount  = errors.New("negative_amount")
	ErrInvalidCurrency = errors.New("invalid_currency")
)

// MinutesToHours renders minutes as decimal hours with one fractional digit
// (90 -> "1.5"). Negative input is a caller bug, not a value to fix up:
// it returns "0.0" together with ErrNegativeMinutes.
func MinutesToHours(minutes int64) (string, error) {
	if minutes < 0 {
		return "0.0", ErrNegativeMinutes
	}
	whole := minutes / 60
	tenths := (minutes % 60) * 10 / 60
	return fmt.Sprintf("%d.%d", whole, tenths), nil
}

// FormatCurrency renders a non-negative amount of cents in the given ISO-4217
// currency, locale-aware via x/text. The currency code is uppercased before
// validation.
func FormatCurrency(cents int64, code string) (string, error) {
	if cents < 0 {
		return "", ErrNegativeAmount
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", ErrInvalidCurrency
	}

	major := float64(cents) / 100
	p := message.NewPrinter(language.English)
	return p.Sprintf("%v", currency.Symbol(unit.Amount(major))), nil
}
