package money

import (
	"errors" // Error values
	"fmt"    // Error formatting

	"github.com/shopspring/decimal" // Decimal arithmetic
)

// MicrosPerUnit is the number of micros in one unit of account.
const MicrosPerUnit = 1_000_000

var microsFactor = decimal.NewFromInt(MicrosPerUnit) // Units to micros

// ErrSubMicro is returned for amounts that cannot be represented in whole micros.
var ErrSubMicro = errors.New("amount has more than 6 decimal places")

// ParseUnits parses a decimal unit amount such as "0.06" into micros.
func ParseUnits(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return FromDecimal(d)
}

// FromDecimal converts a unit amount to micros.
func FromDecimal(d decimal.Decimal) (int64, error) {
	micros := d.Mul(microsFactor)
	if !micros.Equal(micros.Truncate(0)) {
		return 0, ErrSubMicro // e.g. 0.0000001
	}
	if micros.Abs().GreaterThan(decimal.NewFromInt(1 << 62)) {
		return 0, fmt.Errorf("amount %s out of range", d)
	}
	return micros.IntPart(), nil
}

// FormatUnits renders micros as a unit amount without trailing zeros.
func FormatUnits(micros int64) string {
	return decimal.New(micros, -6).String()
}
