// Package barcode decodes the weight-embedded labels printed by the shop scales.
//
// A label is 13 ASCII digits: a 7-digit product code, 2 digits of whole
// kilograms and 4 digits of ten-thousandths of a kilogram.
package barcode

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// Length is the number of digits in a weight label.
	Length = 13
	// ProductCodeLength is the number of leading digits holding the product code.
	ProductCodeLength = 7
	// WeightScale is the number of fractional digits carried by a decoded weight.
	WeightScale = 4
)

var (
	// ErrInvalidFormat is returned when the input is not a 13 digit label.
	ErrInvalidFormat = errors.New("barcode: expected exactly 13 digits")
	// ErrEmptyCode is returned when a manual entry is blank.
	ErrEmptyCode = errors.New("barcode: empty product code")
	// ErrWeightOutOfRange is returned by Encode for weights outside [0, 100).
	ErrWeightOutOfRange = errors.New("barcode: weight must be within [0, 100) kg")
)

var maxWeight = decimal.NewFromInt(100)

// Scan is the result of decoding a weight label.
type Scan struct {
	ProductCode string
	Weight      decimal.Decimal
}

// Decode splits a 13 digit label into its product code and weight.
func Decode(s string) (Scan, error) {
	if !IsWeightLabel(s) {
		return Scan{}, ErrInvalidFormat
	}
	var units int64
	for i := ProductCodeLength; i < Length; i++ {
		units = units*10 + int64(s[i]-'0')
	}
	return Scan{
		ProductCode: s[:ProductCodeLength],
		Weight:      decimal.New(units, -WeightScale),
	}, nil
}

// IsWeightLabel reports whether s has the shape of a weight label.
func IsWeightLabel(s string) bool {
	return len(s) == Length && allDigits(s)
}

// Entry is what the operator typed or scanned, resolved into a lookup key.
// Weight is nil when the entry was a plain product code.
type Entry struct {
	ProductCode string
	Weight      *decimal.Decimal
}

// Resolve interprets a scan field. Weight labels are decoded; anything else
// is taken verbatim as a product code and the weight is left for the operator.
func Resolve(input string) (Entry, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Entry{}, ErrEmptyCode
	}
	if !IsWeightLabel(input) {
		return Entry{ProductCode: input}, nil
	}
	scan, err := Decode(input)
	if err != nil {
		return Entry{}, err
	}
	return Entry{ProductCode: scan.ProductCode, Weight: &scan.Weight}, nil
}

// Encode builds the label for a 7 digit product code and a weight.
// The weight is rounded to four decimals.
func Encode(productCode string, weight decimal.Decimal) (string, error) {
	if len(productCode) != ProductCodeLength || !allDigits(productCode) {
		return "", fmt.Errorf("barcode: product code %q must be %d digits", productCode, ProductCodeLength)
	}
	weight = weight.Round(WeightScale)
	if weight.IsNegative() || weight.GreaterThanOrEqual(maxWeight) {
		return "", ErrWeightOutOfRange
	}
	units := weight.Shift(WeightScale).IntPart()
	return fmt.Sprintf("%s%06d", productCode, units), nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
