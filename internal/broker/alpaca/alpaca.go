// Package alpaca adapts the Alpaca v2 trading API onto the broker capability
// interface.
package alpaca

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"broker-gateway/internal/broker"
	"broker-gateway/internal/broker/symbols"
	"broker-gateway/internal/broker/transport"
	"broker-gateway/internal/interfaces"
	"broker-gateway/internal/types"
)

const venueName = symbols.VenueAlpaca

type Params struct {
	APIKey    string
	APISecret string
	Live      bool
	Timeout   time.Duration
}

type Alpaca struct {
	p    Params
	base string
	http *transport.HTTPClient
}

var _ interfaces.Broker = (*Alpaca)(nil)

func New(p Params) *Alpaca {
	host := "paper-api.alpaca.markets"
	if p.Live {
		host = "api.alpaca.markets"
	}
	return &Alpaca{
		p:    p,
		base: "https://" + host,
		http: transport.NewHTTPClient(venueName, p.Timeout, map[string]string{
			"APCA-API-KEY-ID":     p.APIKey,
			"APCA-API-SECRET-KEY": p.APISecret,
		}),
	}
}

// newWithBase is the test seam: it points the adapter at a mock venue.
func newWithBase(p Params, base string) *Alpaca {
	a := New(p)
	a.base = base
	return a
}

func (a *Alpaca) Venue() string { return venueName }

func (a *Alpaca) Close() error { return nil }

type priceLeg struct {
	StopPrice string `json:"stop_price"`
}

type limitLeg struct {
	LimitPrice string `json:"limit_price"`
}

type orderPayload struct {
	Symbol      string    `json:"symbol"`
	Qty         string    `json:"qty"`
	Side        string    `json:"side"`
	Type        string    `json:"type"`
	TimeInForce string    `json:"time_in_force"`
	LimitPrice  string    `json:"limit_price,omitempty"`
	StopPrice   string    `json:"stop_price,omitempty"`
	StopLoss    *priceLeg `json:"stop_loss,omitempty"`
	TakeProfit  *limitLeg `json:"take_profit,omitempty"`
}

type orderResponse struct {
	ID             string `json:"id"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Type           string `json:"type"`
	Qty            string `json:"qty"`
	FilledQty      string `json:"filled_qty"`
	LimitPrice     string `json:"limit_price"`
	FilledAvgPrice string `json:"filled_avg_price"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	FilledAt       string `json:"filled_at"`
}

type errorResponse struct {
	Message string `json:"message"`
}

var statusTable = map[string]types.OrderStatus{
	"new":                  types.StatusPending,
	"accepted":             types.StatusPending,
	"pending_new":          types.StatusPending,
	"accepted_for_bidding": types.StatusPending,
	"pending_cancel":       types.StatusPending,
	"pending_replace":      types.StatusPending,
	"held":                 types.StatusPending,
	"done_for_day":         types.StatusPending,
	"partially_filled":     types.StatusPartiallyFilled,
	"filled":               types.StatusFilled,
	"rejected":             types.StatusRejected,
	"canceled":             types.StatusCancelled,
	"expired":              types.StatusExpired,
}

func (a *Alpaca) CreateOrder(ctx context.Context, req types.OrderRequest) (types.Order, error) {
	if err := broker.ValidateOrderRequest(req); err != nil {
		return types.Order{}, err
	}
	if req.Options.TrailingStop != nil {
		return types.Order{}, &broker.UnsupportedFeatureError{Venue: venueName, Feature: "trailing stop leg"}
	}

	tif := req.Options.TimeInForce
	if tif == "" {
		tif = "day"
	}
	payload := orderPayload{
		Symbol:      symbols.ToVenue(venueName, req.Instrument),
		Qty:         req.Quantity.String(),
		Side:        string(req.Side),
		Type:        string(req.Type),
		TimeInForce: tif,
	}
	switch req.Type {
	case types.OrderTypeLimit:
		payload.LimitPrice = req.Price.String()
	case types.OrderTypeStop:
		payload.StopPrice = req.Price.String()
	}
	if req.Options.StopLoss != nil {
		payload.StopLoss = &priceLeg{StopPrice: req.Options.StopLoss.String()}
	}
	if req.Options.TakeProfit != nil {
		payload.TakeProfit = &limitLeg{LimitPrice: req.Options.TakeProfit.String()}
	}

	status, body, err := a.http.DoJSON(ctx, http.MethodPost, a.base+"/v2/orders", payload)
	if err != nil {
		return types.Order{}, err
	}
	if status < 200 || status >= 300 {
		return types.Order{}, rejection(body)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.Order{}, &broker.ParseError{Venue: venueName, Err: err}
	}
	return toOrder(resp)
}

func (a *Alpaca) GetOrder(ctx context.Context, id string) (types.Order, error) {
	status, body, err := a.http.Do(ctx, http.MethodGet, a.base+"/v2/orders/"+id, "", nil)
	if err != nil {
		return types.Order{}, err
	}
	if status < 200 || status >= 300 {
		return types.Order{}, rejection(body)
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.Order{}, &broker.ParseError{Venue: venueName, Err: err}
	}
	return toOrder(resp)
}

func (a *Alpaca) CancelOrder(ctx context.Context, id string) error {
	status, body, err := a.http.Do(ctx, http.MethodDelete, a.base+"/v2/orders/"+id, "", nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return rejection(body)
	}
	return nil
}

type positionResponse struct {
	Symbol         string `json:"symbol"`
	Qty            string `json:"qty"`
	AvgEntryPrice  string `json:"avg_entry_price"`
	MarketValue    string `json:"market_value"`
	UnrealizedPL   string `json:"unrealized_pl"`
	UnrealizedPLPC string `json:"unrealized_plpc"`
}

func (a *Alpaca) GetPositions(ctx context.Context) ([]types.Position, error) {
	status, body, err := a.http.Do(ctx, http.MethodGet, a.base+"/v2/positions", "", nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, rejection(body)
	}
	var raw []positionResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &broker.ParseError{Venue: venueName, Err: err}
	}

	positions := make([]types.Position, 0, len(raw))
	for _, p := range raw {
		qty, err := broker.ParseDecimal(venueName, "qty", p.Qty)
		if err != nil {
			return nil, err
		}
		if qty.IsZero() {
			continue
		}
		// Alpaca encodes shorts as negative share counts; the canonical
		// model keeps quantity non-negative and makes the side explicit.
		side := types.PositionLong
		if qty.IsNegative() {
			side = types.PositionShort
			qty = qty.Abs()
		}
		avg, err := broker.ParseDecimal(venueName, "avg_entry_price", p.AvgEntryPrice)
		if err != nil {
			return nil, err
		}
		mv, err := broker.ParseDecimal(venueName, "market_value", p.MarketValue)
		if err != nil {
			return nil, err
		}
		pl, err := broker.ParseDecimal(venueName, "unrealized_pl", p.UnrealizedPL)
		if err != nil {
			return nil, err
		}
		plpc, err := broker.ParseDecimal(venueName, "unrealized_plpc", p.UnrealizedPLPC)
		if err != nil {
			return nil, err
		}
		positions = append(positions, types.Position{
			Instrument:           symbols.ToCanonical(venueName, p.Symbol),
			Side:                 side,
			Quantity:             qty,
			AveragePrice:         avg,
			MarketValue:          mv,
			UnrealizedPnL:        pl,
			UnrealizedPnLPercent: plpc.Mul(hundred),
		})
	}
	return positions, nil
}

type accountResponse struct {
	ID             string `json:"id"`
	Currency       string `json:"currency"`
	Cash           string `json:"cash"`
	PortfolioValue string `json:"portfolio_value"`
	BuyingPower    string `json:"buying_power"`
}

func (a *Alpaca) GetAccountInfo(ctx context.Context) (types.AccountSummary, error) {
	status, body, err := a.http.Do(ctx, http.MethodGet, a.base+"/v2/account", "", nil)
	if err != nil {
		return types.AccountSummary{}, err
	}
	if status < 200 || status >= 300 {
		return types.AccountSummary{}, rejection(body)
	}
	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.AccountSummary{}, &broker.ParseError{Venue: venueName, Err: err}
	}
	cash, err := broker.ParseDecimal(venueName, "cash", resp.Cash)
	if err != nil {
		return types.AccountSummary{}, err
	}
	equity, err := broker.ParseDecimal(venueName, "portfolio_value", resp.PortfolioValue)
	if err != nil {
		return types.AccountSummary{}, err
	}
	bp, err := broker.ParseDecimal(venueName, "buying_power", resp.BuyingPower)
	if err != nil {
		return types.AccountSummary{}, err
	}
	return types.AccountSummary{
		ID:          resp.ID,
		Currency:    resp.Currency,
		Cash:        cash,
		Equity:      equity,
		BuyingPower: bp,
	}, nil
}

func toOrder(resp orderResponse) (types.Order, error) {
	qty, err := broker.ParseDecimal(venueName, "qty", resp.Qty)
	if err != nil {
		return types.Order{}, err
	}
	filledQty, err := broker.ParseDecimal(venueName, "filled_qty", resp.FilledQty)
	if err != nil {
		return types.Order{}, err
	}
	price, err := broker.ParseOptionalDecimal(venueName, "limit_price", resp.LimitPrice)
	if err != nil {
		return types.Order{}, err
	}
	filledPrice, err := broker.ParseOptionalDecimal(venueName, "filled_avg_price", resp.FilledAvgPrice)
	if err != nil {
		return types.Order{}, err
	}
	status, raw := broker.MapStatus(statusTable, resp.Status)
	return types.Order{
		ID:             resp.ID,
		Instrument:     symbols.ToCanonical(venueName, resp.Symbol),
		Side:           types.Side(resp.Side),
		Type:           types.OrderType(resp.Type),
		Quantity:       qty,
		FilledQuantity: filledQty,
		Price:          price,
		FilledPrice:    filledPrice,
		Status:         status,
		RawStatus:      raw,
		CreatedAt:      parseTime(resp.CreatedAt),
		FilledAt:       parseTime(resp.FilledAt),
	}, nil
}

func rejection(body []byte) error {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err != nil || e.Message == "" {
		return &broker.RejectedError{Venue: venueName, Message: string(body)}
	}
	return &broker.RejectedError{Venue: venueName, Message: e.Message}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

var hundred = decimal.NewFromInt(100)
