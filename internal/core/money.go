// Package core holds the ledger domain: transactions, money and the
// fault/result types returned across the service boundary.
//
// This file contains the conversion between caller-supplied decimal amounts
// and the integer cents representation that is persisted.
package core

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountMode selects how decimal input is normalized into cents.
type AmountMode string

const (
	// ModeDecimal scales by 100 and rounds half-up to the nearest cent.
	// Negative values are rejected regardless of their formatting.
	ModeDecimal AmountMode = "decimal"

	// ModeLegacy reproduces the string-based rule used by the first
	// version of the service: values written without a fractional part
	// get "00" appended, fractional values are reduced to their shortest
	// form (keeping one fractional digit) and have their point removed,
	// and only fractional negatives are rejected. A value such as 10.1
	// therefore becomes 101 cents, and 10.0 becomes 100.
	ModeLegacy AmountMode = "legacy"
)

var ErrNegativeAmount = errors.New("amount must not be negative")

var maxCents = decimal.NewFromInt(math.MaxInt64)

// Money is an amount expressed in minor units.
type Money struct {
	Cents int64
}

// ParseAmountMode validates a configured mode name.
func ParseAmountMode(s string) (AmountMode, error) {
	switch m := AmountMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeDecimal, ModeLegacy:
		return m, nil
	default:
		return "", fmt.Errorf("unknown amount mode %q", s)
	}
}

func (m AmountMode) String() string {
	return string(m)
}

// ParseAmount reads a JSON number or numeric string, keeping the written
// scale: 10.0 has exponent -1 and 10 has exponent 0. Exponent notation is a
// fractional literal, so 1e1 is read as 10.0.
func ParseAmount(raw []byte) (decimal.Decimal, error) {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(raw); err != nil {
		return decimal.Zero, err
	}
	if bytes.ContainsAny(raw, "eE") && d.Exponent() >= 0 {
		d = d.Round(1)
	}
	return d, nil
}

// ToCents converts value into cents according to mode.
//
// Examples (decimal mode):
//
//	10    -> 1000
//	10.1  -> 1010
//	10.17 -> 1017
//	0.995 -> 100 (half-up)
//
// Examples (legacy mode):
//
//	10     -> 1000
//	10.1   -> 101
//	10.0   -> 100
//	-10    -> -1000
//	-10.00 -> rejected
func ToCents(value decimal.Decimal, mode AmountMode) (int64, error) {
	switch mode {
	case ModeLegacy:
		return legacyCents(value)
	case ModeDecimal, "":
		return decimalCents(value)
	default:
		return 0, fmt.Errorf("unknown amount mode %q", string(mode))
	}
}

func decimalCents(value decimal.Decimal) (int64, error) {
	if value.IsNegative() {
		return 0, ErrNegativeAmount
	}
	// Round is half away from zero, which is half-up for non-negative input.
	cents := value.Shift(2).Round(0)
	if cents.GreaterThan(maxCents) {
		return 0, ErrInvalidAmount
	}
	return cents.IntPart(), nil
}

func legacyCents(value decimal.Decimal) (int64, error) {
	s := value.String()
	if value.Exponent() >= 0 {
		s += "00"
	} else {
		if value.IsNegative() {
			return 0, ErrNegativeAmount
		}
		if !strings.Contains(s, ".") {
			s += ".0"
		}
	}
	cents, err := strconv.ParseInt(strings.Replace(s, ".", "", 1), 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

// FromCents builds Money from a stored cents value.
func FromCents(cents int64) Money {
	return Money{Cents: cents}
}

// Decimal returns the exact major-unit value (cents / 100).
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}
