package ledger

import "github.com/shopspring/decimal"

const (
	// maxAmountScale is the number of decimal places kept for stored amounts.
	maxAmountScale = 8
	// minAmountExponent and maxAmountExponent bound the decimal exponent accepted as
	// input, keeping rescaling during arithmetic cheap.
	minAmountExponent = -64
	maxAmountExponent = 15
)

// maxAmount is the largest amount accepted for a submission or a daily goal.
var maxAmount = decimal.New(1, maxAmountExponent)

// validAmount checks that d is a non-negative amount within range and returns it
// rounded to maxAmountScale places.
func validAmount(d decimal.Decimal) (decimal.Decimal, error) {
	if d.IsZero() {
		return decimal.Zero, nil
	}
	if d.IsNegative() || !boundedExponent(d) {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	d = d.Round(maxAmountScale)
	if d.GreaterThan(maxAmount) {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	return d, nil
}

// boundedExponent reports whether d's exponent is within the accepted range.
func boundedExponent(d decimal.Decimal) bool {
	exp := d.Exponent()
	return d.IsZero() || (exp >= minAmountExponent && exp <= maxAmountExponent)
}
