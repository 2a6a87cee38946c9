package domain

import (
	"github.com/shopspring/decimal"
)

// QuantityScale is the number of fractional digits kept for hours and credits.
const QuantityScale = 2

// ValidateQuantity rejects non-positive amounts and amounts with more than two
// fractional digits. Inputs are never rounded.
func ValidateQuantity(field string, q decimal.Decimal) error {
	if !q.IsPositive() {
		return NewValidationError(field, "must be greater than zero")
	}
	if !q.Equal(q.Truncate(QuantityScale)) {
		return NewValidationError(field, "must have at most two decimal places")
	}
	return nil
}

// FormatQuantity renders q with exactly two fractional digits.
func FormatQuantity(q decimal.Decimal) string {
	return q.StringFixed(QuantityScale)
}
