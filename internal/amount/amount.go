// Package amount handles Bitcoin amounts.
//
// All internal accounting is in satoshis (int64), which keeps pool arithmetic
// exact. BTC-denominated strings only appear at the API boundary.
package amount

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// SatsPerBTC is the number of satoshis in one bitcoin.
const SatsPerBTC = 100_000_000

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrNegativeAmount = errors.New("amount must be positive")
)

// FromBTC parses a BTC-denominated decimal string (e.g. "0.30000000") into
// satoshis. Amounts with sub-satoshi precision are rejected rather than
// rounded.
func FromBTC(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.Sign() < 0 {
		return 0, ErrNegativeAmount
	}
	sats := d.Shift(8)
	if !sats.IsInteger() {
		return 0, fmt.Errorf("%w: %q has sub-satoshi precision", ErrInvalidAmount, s)
	}
	return sats.IntPart(), nil
}

// ToBTC formats satoshis as a BTC string with 8 decimal places.
func ToBTC(sats int64) string {
	return decimal.New(sats, -8).StringFixed(8)
}

// MustFromBTC is FromBTC for constants in wiring and tests.
func MustFromBTC(s string) int64 {
	sats, err := FromBTC(s)
	if err != nil {
		panic(err)
	}
	return sats
}
