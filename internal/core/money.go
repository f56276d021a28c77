// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts from user input
// and helpers for summing decimal amounts.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a decimal string to a positive amount rounded to cents.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and performs
// half-up rounding on the third decimal place. Signs, grouping separators and
// zero amounts are rejected.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("12,345") -> 12.35
//	ParseAmount("-1")     -> error
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, NewValidationError("amount", "is required")
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, NewValidationError("amount", "must not carry a sign")
	}
	intPart, fracPart, _ := strings.Cut(s, ".")
	if strings.Contains(fracPart, ".") {
		return decimal.Zero, NewValidationError("amount", "malformed number "+s)
	}
	for _, r := range intPart + fracPart {
		if !unicode.IsDigit(r) {
			return decimal.Zero, NewValidationError("amount", "malformed number "+s)
		}
	}
	if intPart == "" {
		intPart = "0"
	}
	d, err := decimal.NewFromString(intPart + "." + fracPart + "0")
	if err != nil {
		return decimal.Zero, NewValidationError("amount", "malformed number "+s)
	}
	d = d.Round(2)
	if !d.IsPositive() {
		return decimal.Zero, NewValidationError("amount", "must be greater than zero")
	}
	return d, nil
}

// Sum adds up amounts; an empty input sums to zero.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
