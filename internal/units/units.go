// Package units converts between human-readable decimal amounts and a chain's
// integer base unit (wei, planck) without floating point.
package units

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the precision of the Ethereum-style native token.
const EtherDecimals = 18

var amountPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

var (
	// ErrMalformed is returned for strings that are not a plain non-negative decimal.
	ErrMalformed = errors.New("amount must be a decimal number")
	// ErrTooPrecise is returned when the amount has more fractional digits than the chain supports.
	ErrTooPrecise = errors.New("amount has more decimal places than the chain supports")
	// ErrNotPositive is returned by ParsePositive for zero amounts.
	ErrNotPositive = errors.New("amount must be greater than 0")
)

// Parse validates a human decimal string. Signs, exponents and whitespace are rejected.
func Parse(amount string) (decimal.Decimal, error) {
	if !amountPattern.MatchString(amount) {
		return decimal.Zero, ErrMalformed
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, ErrMalformed
	}
	return d, nil
}

// ToBase converts a human decimal string into base units at the given precision.
func ToBase(amount string, decimals int32) (*big.Int, error) {
	d, err := Parse(amount)
	if err != nil {
		return nil, err
	}
	if fractionDigits(amount) > int(decimals) {
		return nil, fmt.Errorf("%w (max %d)", ErrTooPrecise, decimals)
	}
	return d.Shift(decimals).BigInt(), nil
}

// ParsePositive is ToBase that additionally rejects zero.
func ParsePositive(amount string, decimals int32) (*big.Int, error) {
	v, err := ToBase(amount, decimals)
	if err != nil {
		return nil, err
	}
	if v.Sign() <= 0 {
		return nil, ErrNotPositive
	}
	return v, nil
}

// FromBase formats base units as a human decimal string with trailing zeros trimmed.
func FromBase(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}

// fractionDigits counts significant digits after the decimal point.
func fractionDigits(amount string) int {
	i := strings.IndexByte(amount, '.')
	if i < 0 {
		return 0
	}
	return len(strings.TrimRight(amount[i+1:], "0"))
}
