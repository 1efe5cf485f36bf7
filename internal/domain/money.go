package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnitExponent is the number of fraction digits carried by Money.
const MinorUnitExponent = 2

var (
	// ErrInvalidAmount indicates an amount could not be parsed.
	ErrInvalidAmount = errors.New("domain: invalid amount")
	// ErrNegativeAmount indicates a negative amount where only non-negative values are allowed.
	ErrNegativeAmount = errors.New("domain: negative amount")
	// ErrAmountTooLarge indicates a line or order amount above MaxOrderAmount.
	ErrAmountTooLarge = errors.New("domain: amount exceeds maximum")
)

// MaxOrderAmount caps any line total and order subtotal, keeping tax and totals far from int64 overflow.
const MaxOrderAmount Money = 10_000_000_000_000

var minorUnitScale = decimal.New(1, MinorUnitExponent)

// Money is an amount in minor currency units.
type Money int64

// ParseMoney converts a major-unit decimal string such as "12.34" into minor units, rounding half away from zero.
func ParseMoney(raw string) (Money, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidAmount
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return MoneyFromDecimal(value)
}

// MoneyFromDecimal converts a major-unit decimal into minor units.
func MoneyFromDecimal(value decimal.Decimal) (Money, error) {
	if value.IsNegative() {
		return 0, ErrNegativeAmount
	}
	minor := value.Mul(minorUnitScale).Round(0)
	if !minor.IsInteger() || minor.GreaterThan(decimal.NewFromInt(1<<53)) {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidAmount, value.String())
	}
	return Money(minor.IntPart()), nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -MinorUnitExponent)
}

// Int64 returns the raw minor-unit count.
func (m Money) Int64() int64 {
	return int64(m)
}

// String formats the amount in major units with fixed precision.
func (m Money) String() string {
	return m.Decimal().StringFixed(MinorUnitExponent)
}

// Times multiplies the amount by an integer quantity. Callers must have bounded both operands,
// see TimesChecked.
func (m Money) Times(quantity int) Money {
	return m * Money(quantity)
}

// TimesChecked multiplies the amount by a quantity, failing when either is negative or the product
// exceeds MaxOrderAmount.
func (m Money) TimesChecked(quantity int) (Money, error) {
	if m < 0 || quantity < 0 {
		return 0, ErrNegativeAmount
	}
	if quantity > 0 && m > MaxOrderAmount/Money(quantity) {
		return 0, fmt.Errorf("%w: %s x %d", ErrAmountTooLarge, m, quantity)
	}
	return m * Money(quantity), nil
}

// AddChecked adds two non-negative amounts, failing when the sum exceeds MaxOrderAmount.
func (m Money) AddChecked(other Money) (Money, error) {
	if m < 0 || other < 0 {
		return 0, ErrNegativeAmount
	}
	if m > MaxOrderAmount-other {
		return 0, fmt.Errorf("%w: %s + %s", ErrAmountTooLarge, m, other)
	}
	return m + other, nil
}
