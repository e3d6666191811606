package broker

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"broker-gateway/internal/types"
)

// ParseDecimal converts a wire numeric field. Empty means the venue omitted
// the field and defaults to zero; anything unparseable is a ParseError.
func ParseDecimal(venue, field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ParseError{Venue: venue, Err: fmt.Errorf("field %s: %w", field, err)}
	}
	return d, nil
}

// ParseOptionalDecimal is ParseDecimal with null semantics for absent fields.
func ParseOptionalDecimal(venue, field, s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := ParseDecimal(venue, field, s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

var oneHundred = decimal.NewFromInt(100)

// PercentOf returns part/whole*100, or zero when whole is zero.
func PercentOf(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(oneHundred)
}

// MapStatus resolves a venue status string against the adapter's table. An
// unrecognized status surfaces as Pending with the raw string preserved in
// the order's diagnostic field, never coerced to a terminal state.
func MapStatus(table map[string]types.OrderStatus, raw string) (types.OrderStatus, string) {
	if status, ok := table[strings.ToLower(raw)]; ok {
		return status, ""
	}
	return types.StatusPending, raw
}
