package broker

import (
	"fmt"

	"broker-gateway/internal/types"
)

// ValidationError reports a request that failed local checks. No network call
// is made for an invalid request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order request: %s %s", e.Field, e.Reason)
}

// ValidateOrderRequest applies the venue-independent checks every adapter
// runs before touching its transport.
func ValidateOrderRequest(req types.OrderRequest) error {
	if req.Instrument == "" {
		return &ValidationError{Field: "instrument", Reason: "is required"}
	}
	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return &ValidationError{Field: "side", Reason: fmt.Sprintf("must be buy or sell, got %q", req.Side)}
	}
	switch req.Type {
	case types.OrderTypeMarket, types.OrderTypeLimit, types.OrderTypeStop:
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("must be market, limit or stop, got %q", req.Type)}
	}
	if !req.Quantity.IsPositive() {
		return &ValidationError{Field: "quantity", Reason: "must be greater than zero"}
	}
	if req.Type != types.OrderTypeMarket && req.Price == nil {
		return &ValidationError{Field: "price", Reason: fmt.Sprintf("is required for %s orders", req.Type)}
	}
	return nil
}
