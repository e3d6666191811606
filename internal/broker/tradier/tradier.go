// Package tradier adapts the Tradier brokerage API. Tradier takes
// form-encoded order bodies and wraps single-element results in bare objects
// rather than arrays, which most of this file exists to undo.
package tradier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"broker-gateway/internal/broker"
	"broker-gateway/internal/broker/symbols"
	"broker-gateway/internal/broker/transport"
	"broker-gateway/internal/interfaces"
	"broker-gateway/internal/types"
)

const venueName = symbols.VenueTradier

type Params struct {
	APIKey    string
	AccountID string
	Live      bool
	Timeout   time.Duration
}

type Tradier struct {
	p    Params
	base string
	http *transport.HTTPClient
}

var _ interfaces.Broker = (*Tradier)(nil)

func New(p Params) *Tradier {
	host := "sandbox.tradier.com"
	if p.Live {
		host = "api.tradier.com"
	}
	return &Tradier{
		p:    p,
		base: "https://" + host,
		http: transport.NewHTTPClient(venueName, p.Timeout, map[string]string{
			"Authorization": "Bearer " + p.APIKey,
			"Accept":        "application/json",
		}),
	}
}

func newWithBase(p Params, base string) *Tradier {
	t := New(p)
	t.base = base
	return t
}

func (t *Tradier) Venue() string { return venueName }

func (t *Tradier) Close() error { return nil }

var statusTable = map[string]types.OrderStatus{
	"open":             types.StatusPending,
	"pending":          types.StatusPending,
	"submitted":        types.StatusPending,
	"partially_filled": types.StatusPartiallyFilled,
	"filled":           types.StatusFilled,
	"rejected":         types.StatusRejected,
	"error":            types.StatusRejected,
	"canceled":         types.StatusCancelled,
	"expired":          types.StatusExpired,
}

func (t *Tradier) CreateOrder(ctx context.Context, req types.OrderRequest) (types.Order, error) {
	if err := broker.ValidateOrderRequest(req); err != nil {
		return types.Order{}, err
	}
	// Tradier equity orders cannot attach protective legs.
	if req.Options.StopLoss != nil || req.Options.TakeProfit != nil || req.Options.TrailingStop != nil {
		return types.Order{}, &broker.UnsupportedFeatureError{Venue: venueName, Feature: "protective order legs"}
	}

	tif := req.Options.TimeInForce
	if tif == "" {
		tif = "day"
	}
	form := url.Values{
		"class":    {"equity"},
		"symbol":   {symbols.ToVenue(venueName, req.Instrument)},
		"duration": {tif},
		"side":     {string(req.Side)},
		"quantity": {req.Quantity.String()},
		"type":     {string(req.Type)},
	}
	switch req.Type {
	case types.OrderTypeLimit:
		form.Set("price", req.Price.String())
	case types.OrderTypeStop:
		form.Set("stop", req.Price.String())
	}

	endpoint := t.base + "/v1/accounts/" + t.p.AccountID + "/orders"
	status, body, err := t.http.Do(ctx, http.MethodPost, endpoint,
		"application/x-www-form-urlencoded", []byte(form.Encode()))
	if err != nil {
		return types.Order{}, err
	}

	var resp struct {
		Order *struct {
			ID     json.Number `json:"id"`
			Status string      `json:"status"`
		} `json:"order"`
		Errors *struct {
			Error string `json:"error"`
		} `json:"errors"`
	}
	if jerr := json.Unmarshal(body, &resp); jerr != nil || (resp.Order == nil && resp.Errors == nil) {
		if status < 200 || status >= 300 {
			return types.Order{}, &broker.RejectedError{Venue: venueName, Message: string(body)}
		}
		return types.Order{}, &broker.ParseError{Venue: venueName, Err: jerr}
	}
	if resp.Errors != nil {
		return types.Order{}, &broker.RejectedError{Venue: venueName, Message: resp.Errors.Error}
	}

	orderStatus, raw := broker.MapStatus(statusTable, resp.Order.Status)
	return types.Order{
		ID:         resp.Order.ID.String(),
		Instrument: req.Instrument,
		Side:       req.Side,
		Type:       req.Type,
		Quantity:   req.Quantity,
		Price:      req.Price,
		Status:     orderStatus,
		RawStatus:  raw,
	}, nil
}

type wireOrder struct {
	ID           json.Number `json:"id"`
	Symbol       string      `json:"symbol"`
	Side         string      `json:"side"`
	Type         string      `json:"type"`
	Quantity     json.Number `json:"quantity"`
	ExecQuantity json.Number `json:"exec_quantity"`
	Price        json.Number `json:"price"`
	AvgFillPrice json.Number `json:"avg_fill_price"`
	Status       string      `json:"status"`
	CreateDate   string      `json:"create_date"`
}

func (t *Tradier) GetOrder(ctx context.Context, id string) (types.Order, error) {
	endpoint := t.base + "/v1/accounts/" + t.p.AccountID + "/orders/" + id
	status, body, err := t.http.Do(ctx, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return types.Order{}, err
	}
	if status < 200 || status >= 300 {
		return types.Order{}, &broker.RejectedError{Venue: venueName, Message: string(body)}
	}
	var resp struct {
		Order *wireOrder `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Order == nil {
		return types.Order{}, &broker.ParseError{Venue: venueName, Err: err}
	}
	return t.toOrder(*resp.Order)
}

func (t *Tradier) toOrder(w wireOrder) (types.Order, error) {
	qty, err := broker.ParseDecimal(venueName, "quantity", w.Quantity.String())
	if err != nil {
		return types.Order{}, err
	}
	filled, err := broker.ParseDecimal(venueName, "exec_quantity", w.ExecQuantity.String())
	if err != nil {
		return types.Order{}, err
	}
	price, err := broker.ParseOptionalDecimal(venueName, "price", w.Price.String())
	if err != nil {
		return types.Order{}, err
	}
	avgFill, err := broker.ParseOptionalDecimal(venueName, "avg_fill_price", w.AvgFillPrice.String())
	if err != nil {
		return types.Order{}, err
	}
	status, raw := broker.MapStatus(statusTable, w.Status)
	created, _ := time.Parse(time.RFC3339, w.CreateDate)
	return types.Order{
		ID:             w.ID.String(),
		Instrument:     symbols.ToCanonical(venueName, w.Symbol),
		Side:           types.Side(w.Side),
		Type:           types.OrderType(w.Type),
		Quantity:       qty,
		FilledQuantity: filled,
		Price:          price,
		FilledPrice:    avgFill,
		Status:         status,
		RawStatus:      raw,
		CreatedAt:      created,
	}, nil
}

func (t *Tradier) CancelOrder(ctx context.Context, id string) error {
	endpoint := t.base + "/v1/accounts/" + t.p.AccountID + "/orders/" + id
	status, body, err := t.http.Do(ctx, http.MethodDelete, endpoint, "", nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &broker.RejectedError{Venue: venueName, Message: string(body)}
	}
	return nil
}

type wirePosition struct {
	Symbol     string      `json:"symbol"`
	Quantity   json.Number `json:"quantity"`
	CostBasis  json.Number `json:"cost_basis"`
	ClosePrice json.Number `json:"close_price"`
}

func (t *Tradier) GetPositions(ctx context.Context) ([]types.Position, error) {
	endpoint := t.base + "/v1/accounts/" + t.p.AccountID + "/positions"
	status, body, err := t.http.Do(ctx, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &broker.RejectedError{Venue: venueName, Message: string(body)}
	}

	// "positions" is the string "null" when flat, an object for one position
	// and an array for several.
	var resp struct {
		Positions json.RawMessage `json:"positions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &broker.ParseError{Venue: venueName, Err: err}
	}
	raw := unwrapPositionList(resp.Positions)

	positions := make([]types.Position, 0, len(raw))
	for _, p := range raw {
		qty, err := broker.ParseDecimal(venueName, "quantity", p.Quantity.String())
		if err != nil {
			return nil, err
		}
		if qty.IsZero() {
			continue
		}
		side := types.PositionLong
		if qty.IsNegative() {
			side = types.PositionShort
			qty = qty.Abs()
		}
		costBasis, err := broker.ParseDecimal(venueName, "cost_basis", p.CostBasis.String())
		if err != nil {
			return nil, err
		}
		avg := costBasis.Abs().Div(qty)
		closePrice, err := broker.ParseDecimal(venueName, "close_price", p.ClosePrice.String())
		if err != nil {
			return nil, err
		}
		if closePrice.IsZero() {
			closePrice = avg
		}
		marketValue := qty.Mul(closePrice)
		pnl := marketValue.Sub(costBasis.Abs())
		if side == types.PositionShort {
			pnl = costBasis.Abs().Sub(marketValue)
		}
		pnlPct := broker.PercentOf(pnl, costBasis.Abs())
		positions = append(positions, types.Position{
			Instrument:           symbols.ToCanonical(venueName, p.Symbol),
			Side:                 side,
			Quantity:             qty,
			AveragePrice:         avg,
			MarketValue:          marketValue,
			UnrealizedPnL:        pnl,
			UnrealizedPnLPercent: pnlPct,
		})
	}
	return positions, nil
}

// unwrapPositionList tolerates the object-or-array-or-"null" shapes Tradier
// uses for its positions envelope.
func unwrapPositionList(raw json.RawMessage) []wirePosition {
	var envelope struct {
		Position json.RawMessage `json:"position"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Position == nil {
		return nil
	}
	var many []wirePosition
	if err := json.Unmarshal(envelope.Position, &many); err == nil {
		return many
	}
	var one wirePosition
	if err := json.Unmarshal(envelope.Position, &one); err == nil {
		return []wirePosition{one}
	}
	return nil
}

func (t *Tradier) GetAccountInfo(ctx context.Context) (types.AccountSummary, error) {
	endpoint := t.base + "/v1/accounts/" + t.p.AccountID + "/balances"
	status, body, err := t.http.Do(ctx, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return types.AccountSummary{}, err
	}
	if status < 200 || status >= 300 {
		return types.AccountSummary{}, &broker.RejectedError{Venue: venueName, Message: string(body)}
	}
	var resp struct {
		Balances struct {
			TotalCash   json.Number `json:"total_cash"`
			TotalEquity json.Number `json:"total_equity"`
			Cash        *struct {
				CashAvailable json.Number `json:"cash_available"`
			} `json:"cash"`
			Margin *struct {
				StockBuyingPower json.Number `json:"stock_buying_power"`
			} `json:"margin"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.AccountSummary{}, &broker.ParseError{Venue: venueName, Err: err}
	}

	cashField := resp.Balances.TotalCash.String()
	if resp.Balances.Cash != nil && resp.Balances.Cash.CashAvailable.String() != "" {
		cashField = resp.Balances.Cash.CashAvailable.String()
	}
	cash, err := broker.ParseDecimal(venueName, "cash", cashField)
	if err != nil {
		return types.AccountSummary{}, err
	}
	equity, err := broker.ParseDecimal(venueName, "total_equity", resp.Balances.TotalEquity.String())
	if err != nil {
		return types.AccountSummary{}, err
	}
	bpField := resp.Balances.TotalCash.String()
	if resp.Balances.Margin != nil && resp.Balances.Margin.StockBuyingPower.String() != "" {
		bpField = resp.Balances.Margin.StockBuyingPower.String()
	}
	buyingPower, err := broker.ParseDecimal(venueName, "buying_power", bpField)
	if err != nil {
		return types.AccountSummary{}, err
	}
	return types.AccountSummary{
		ID:          t.p.AccountID,
		Currency:    "USD",
		Cash:        cash,
		Equity:      equity,
		BuyingPower: buyingPower,
	}, nil
}
