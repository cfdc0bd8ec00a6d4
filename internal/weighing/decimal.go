package weighing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// weightScale matches the four fractional digits of a scale label.
const weightScale = 4

var (
	minWeight = decimal.Zero
	maxWeight = decimal.NewFromInt(100)
)

// ValidWeight reports whether w lies in the open interval (0, 100) kg.
func ValidWeight(w decimal.Decimal) bool {
	return w.GreaterThan(minWeight) && w.LessThan(maxWeight)
}

// LineTotal is weight times price rounded to cents, or null without a price.
func LineTotal(weight decimal.Decimal, price decimal.NullDecimal) decimal.NullDecimal {
	if !price.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(weight.Mul(price.Decimal).Round(2))
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("weighing: parse decimal %q: %w", s, err)
	}
	return d, nil
}

func parseNullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := parseDecimal(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
