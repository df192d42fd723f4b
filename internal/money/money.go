/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package money is the only place amounts are combined. Every operation that can
// lose precision rounds toward zero so rounding never pays out more than was received.
package money

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// MaxSignificantDigits covers the largest unsigned 256-bit token amount.
	MaxSignificantDigits = 78

	// DefaultScale is the number of fractional digits kept by Div.
	DefaultScale int32 = 18
)

var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrInvalidAmount  = errors.New("invalid amount")
)

var Zero = decimal.Zero

func Add(a, b decimal.Decimal) decimal.Decimal { return a.Add(b) }

func Sub(a, b decimal.Decimal) decimal.Decimal { return a.Sub(b) }

func Mul(a, b decimal.Decimal) decimal.Decimal { return a.Mul(b) }

// Div divides a by b keeping DefaultScale fractional digits, truncated toward zero.
func Div(a, b decimal.Decimal) (decimal.Decimal, error) {
	return DivScale(a, b, DefaultScale)
}

// DivScale divides a by b keeping scale fractional digits, truncated toward zero.
func DivScale(a, b decimal.Decimal, scale int32) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: %s / 0", ErrDivisionByZero, a.String())
	}
	q, _ := a.QuoRem(b, scale)
	return q, nil
}

func Cmp(a, b decimal.Decimal) int { return a.Cmp(b) }

func IsZero(d decimal.Decimal) bool { return d.IsZero() }

func IsPositive(d decimal.Decimal) bool { return d.IsPositive() }

func IsNegative(d decimal.Decimal) bool { return d.IsNegative() }

func Abs(d decimal.Decimal) decimal.Decimal { return d.Abs() }

func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Sum adds all values, returning zero for an empty list.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Parse reads a plain decimal string. Exponent notation is rejected so stored
// amounts always round-trip to the same text.
func Parse(s string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}
	if strings.ContainsAny(trimmed, "eE") {
		return decimal.Zero, fmt.Errorf("%w: exponent notation not allowed: %q", ErrInvalidAmount, s)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	if digits := significantDigits(d); digits > MaxSignificantDigits {
		return decimal.Zero, fmt.Errorf("%w: %d significant digits exceeds %d", ErrInvalidAmount, digits, MaxSignificantDigits)
	}
	return d, nil
}

// MustParse is for constants and tests.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromBaseUnits parses the integer base-unit string used on the settlement layer.
func FromBaseUnits(raw string) (decimal.Decimal, error) {
	d, err := Parse(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.Equal(d.Truncate(0)) {
		return decimal.Zero, fmt.Errorf("%w: base units must be integral: %q", ErrInvalidAmount, raw)
	}
	return d, nil
}

// FromBigInt converts an integer base-unit amount.
func FromBigInt(v *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v, 0)
}

// ToBaseUnits drops any fractional part toward zero.
func ToBaseUnits(d decimal.Decimal) *big.Int {
	return d.Truncate(0).BigInt()
}

// ToDisplay converts base units to a human amount for a mint with the given decimals.
func ToDisplay(baseUnits decimal.Decimal, decimals int32) decimal.Decimal {
	return baseUnits.Shift(-decimals)
}

// FromDisplay converts a human amount to base units, truncating dust.
func FromDisplay(display decimal.Decimal, decimals int32) decimal.Decimal {
	return display.Shift(decimals).Truncate(0)
}

func significantDigits(d decimal.Decimal) int {
	coeff := d.Coefficient()
	coeff.Abs(coeff)
	if coeff.Sign() == 0 {
		return 1
	}
	return len(strings.TrimRight(coeff.String(), "0"))
}
