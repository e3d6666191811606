package broker

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"broker-gateway/internal/types"
)

func validRequest() types.OrderRequest {
	return types.OrderRequest{
		Instrument: "EUR/USD",
		Type:       types.OrderTypeMarket,
		Side:       types.SideBuy,
		Quantity:   decimal.NewFromInt(100),
	}
}

func TestValidateOrderRequest(t *testing.T) {
	if err := ValidateOrderRequest(validRequest()); err != nil {
		t.Fatalf("Expected valid request to pass, got %v", err)
	}
}

func TestLimitOrderRequiresPrice(t *testing.T) {
	req := validRequest()
	req.Type = types.OrderTypeLimit

	err := ValidateOrderRequest(req)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if ve.Field != "price" {
		t.Errorf("Expected price field to be flagged, got %s", ve.Field)
	}
}

func TestStopOrderRequiresPrice(t *testing.T) {
	req := validRequest()
	req.Type = types.OrderTypeStop

	if err := ValidateOrderRequest(req); err == nil {
		t.Fatal("Expected stop order without price to be rejected")
	}
}

func TestQuantityMustBePositive(t *testing.T) {
	for _, qty := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-5)} {
		req := validRequest()
		req.Quantity = qty
		if err := ValidateOrderRequest(req); err == nil {
			t.Errorf("Expected quantity %s to be rejected", qty)
		}
	}
}

func TestSideAndTypeEnums(t *testing.T) {
	req := validRequest()
	req.Side = "short"
	if err := ValidateOrderRequest(req); err == nil {
		t.Error("Expected unknown side to be rejected")
	}

	req = validRequest()
	req.Type = "trailing"
	if err := ValidateOrderRequest(req); err == nil {
		t.Error("Expected unknown type to be rejected")
	}
}
