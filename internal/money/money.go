// Package money converts between decimal amount strings and int64 minor units.
package money

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Currencies whose minor unit is not 1/100.
var exponents = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0, "KRW": 0,
	"PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0, "XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// Exponent returns the number of minor-unit digits for currency.
func Exponent(currency string) int32 {
	if exp, ok := exponents[currency]; ok {
		return exp
	}
	return 2
}

// NormalizeCurrency upper-cases and validates a three-letter ISO 4217 code.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", fmt.Errorf("invalid currency %q", code)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("invalid currency %q", code)
		}
	}
	return code, nil
}

// ToMinor parses a decimal string such as "12.34" into minor units.
// Amounts with more precision than the currency allows are rejected rather
// than rounded.
func ToMinor(amount, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	shifted := d.Shift(Exponent(currency))
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than %d decimal places for %s", amount, Exponent(currency), currency)
	}
	if shifted.Abs().GreaterThan(maxMinor) {
		return 0, fmt.Errorf("amount %q out of range", amount)
	}
	return shifted.IntPart(), nil
}

// FromMinor converts minor units back to a decimal value.
func FromMinor(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -Exponent(currency))
}

// Format renders minor units with the currency's fixed number of decimals.
func Format(minor int64, currency string) string {
	return FromMinor(minor, currency).StringFixed(Exponent(currency))
}
