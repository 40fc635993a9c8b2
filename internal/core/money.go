// Package core provides money parsing and handling utilities.
//
// This file contains the rules applied to an expense fact before it is
// accepted: amounts are quantized to cents and item labels are normalized so
// category grouping and dedup compare like with like.
package core

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// MaxItemRunes caps the stored item label.
const MaxItemRunes = 80

// AmountPlaces is the fixed precision of stored and rendered amounts.
const AmountPlaces = 2

// ParseAmount converts a decimal string to an amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and rounds
// half-up to cents. Signs are rejected; the result is always positive.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34, nil
//	ParseAmount("12,345") -> 12.35, nil
//	ParseAmount("0.004")  -> error (rounds to zero)
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, s)
	}
	return NormalizeAmount(d)
}

// NormalizeAmount rounds half-up to cents and requires a positive result.
func NormalizeAmount(d decimal.Decimal) (decimal.Decimal, error) {
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: amount must be greater than 0", ErrInvalidAmount)
	}
	rounded := d.Round(AmountPlaces)
	if !rounded.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: amount rounds to zero", ErrInvalidAmount)
	}
	return rounded, nil
}

// FormatAmount renders an amount with exactly two decimals.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(AmountPlaces)
}

// NormalizeItem trims, collapses whitespace, applies NFC and caps the length.
func NormalizeItem(item string) string {
	clean := strings.Join(strings.Fields(norm.NFC.String(item)), " ")
	if utf8.RuneCountInString(clean) <= MaxItemRunes {
		return clean
	}
	runes := []rune(clean)
	return strings.TrimSpace(string(runes[:MaxItemRunes]))
}

// NormalizeText trims free text such as notes and sender names.
func NormalizeText(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}
