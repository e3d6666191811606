package oanda

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"broker-gateway/internal/broker"
	"broker-gateway/internal/types"
)

func testBroker(t *testing.T, handler http.Handler) *OANDA {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return newWithBase(Params{APIKey: "token", AccountID: "001-001-1234567-001"}, srv.URL)
}

func TestCreateMarketOrderFillsInline(t *testing.T) {
	var gotBody map[string]map[string]any
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/accounts/001-001-1234567-001/orders" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Error("Expected bearer auth header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("Expected JSON body, got %v", err)
		}
		w.Write([]byte(`{
			"orderFillTransaction": {"id": "77", "units": "-1000", "price": "1.1001",
				"time": "2026-08-28T14:30:00.000000000Z"}
		}`))
	})

	o := testBroker(t, handler)
	order, err := o.CreateOrder(context.Background(), types.OrderRequest{
		Instrument: "EUR/USD",
		Type:       types.OrderTypeMarket,
		Side:       types.SideSell,
		Quantity:   decimal.NewFromInt(1000),
	})
	if err != nil {
		t.Fatalf("Expected filled order, got %v", err)
	}
	if order.Status != types.StatusFilled {
		t.Errorf("Expected filled status, got %s", order.Status)
	}
	if !order.FilledQuantity.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Expected filled quantity 1000, got %s", order.FilledQuantity)
	}
	if order.FilledPrice == nil || !order.FilledPrice.Equal(decimal.RequireFromString("1.1001")) {
		t.Errorf("Expected fill price 1.1001, got %v", order.FilledPrice)
	}

	// Sell travels as negative units; the symbol uses the venue separator.
	wire := gotBody["order"]
	if wire["units"] != "-1000" {
		t.Errorf("Expected units -1000 on the wire, got %v", wire["units"])
	}
	if wire["instrument"] != "EUR_USD" {
		t.Errorf("Expected EUR_USD on the wire, got %v", wire["instrument"])
	}
}

func TestCreateOrderErrorMessage(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errorMessage": "INSUFFICIENT_MARGIN"}`))
	})

	o := testBroker(t, handler)
	_, err := o.CreateOrder(context.Background(), types.OrderRequest{
		Instrument: "EUR/USD",
		Type:       types.OrderTypeMarket,
		Side:       types.SideBuy,
		Quantity:   decimal.NewFromInt(10000000),
	})
	var rejected *broker.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Expected RejectedError, got %v", err)
	}
	if rejected.Message != "INSUFFICIENT_MARGIN" {
		t.Errorf("Expected venue message verbatim, got %q", rejected.Message)
	}
}

// A short held at this venue and the equivalent short at an equity venue must
// land on the same canonical shape: explicit side, non-negative quantity.
func TestGetPositionsNormalizesShortBucket(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"positions": [
			{"instrument": "EUR_USD",
			 "long": {"units": "0", "averagePrice": "0", "unrealizedPL": "0"},
			 "short": {"units": "-1000", "averagePrice": "1.1000", "unrealizedPL": "12.50"}}
		]}`))
	})

	o := testBroker(t, handler)
	positions, err := o.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("Expected positions, got %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("Expected flat long bucket skipped, got %d positions", len(positions))
	}

	p := positions[0]
	if p.Instrument != "EUR/USD" {
		t.Errorf("Expected canonical instrument EUR/USD, got %s", p.Instrument)
	}
	if p.Side != types.PositionShort {
		t.Errorf("Expected short side, got %s", p.Side)
	}
	if p.Quantity.IsNegative() {
		t.Errorf("Expected non-negative quantity, got %s", p.Quantity)
	}
	if !p.Quantity.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Expected quantity 1000, got %s", p.Quantity)
	}
}

func TestGetQuote(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("instruments") != "EUR_USD" {
			t.Errorf("Unexpected instruments query: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"prices": [
			{"time": "2026-08-28T14:30:00.000000000Z",
			 "bids": [{"price": "1.1000"}], "asks": [{"price": "1.1002"}]}
		]}`))
	})

	o := testBroker(t, handler)
	quote, err := o.GetQuote(context.Background(), "EUR/USD")
	if err != nil {
		t.Fatalf("Expected quote, got %v", err)
	}
	if !quote.Mid.Equal(decimal.RequireFromString("1.1001")) {
		t.Errorf("Expected mid 1.1001, got %s", quote.Mid)
	}
	if quote.Instrument != "EUR/USD" {
		t.Errorf("Expected canonical instrument, got %s", quote.Instrument)
	}
}

func TestGetOrderStateMapping(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"order": {
			"id": "42", "instrument": "XAU_USD", "type": "LIMIT", "units": "-10",
			"price": "2400.50", "state": "TRIGGERED",
			"createTime": "2026-08-28T14:30:00.000000000Z"
		}}`))
	})

	o := testBroker(t, handler)
	order, err := o.GetOrder(context.Background(), "42")
	if err != nil {
		t.Fatalf("Expected order, got %v", err)
	}
	if order.Side != types.SideSell {
		t.Errorf("Expected negative units to decode as sell, got %s", order.Side)
	}
	if order.Type != types.OrderTypeLimit {
		t.Errorf("Expected limit type, got %s", order.Type)
	}
	if order.Status != types.StatusPending {
		t.Errorf("Expected triggered to map to pending, got %s", order.Status)
	}
	if order.Instrument != "XAU/USD" {
		t.Errorf("Expected canonical instrument, got %s", order.Instrument)
	}
}
