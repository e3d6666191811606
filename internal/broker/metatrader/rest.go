package metatrader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"broker-gateway/internal/broker"
	"broker-gateway/internal/broker/symbols"
	"broker-gateway/internal/broker/transport"
	"broker-gateway/internal/interfaces"
	"broker-gateway/internal/types"
)

// restBridge talks to the bridge's HTTP listener. Trade mutations go through
// POST /api/trade; reads each have their own resource path.
type restBridge struct {
	base string
	http *transport.HTTPClient
}

var (
	_ interfaces.Broker        = (*restBridge)(nil)
	_ interfaces.QuoteProvider = (*restBridge)(nil)
)

func newREST(p Params) *restBridge {
	return &restBridge{
		base: fmt.Sprintf("http://%s:%d", p.Host, p.Port),
		http: transport.NewHTTPClient(venueName, p.Timeout, nil),
	}
}

func (b *restBridge) Venue() string { return venueName }

func (b *restBridge) Close() error { return nil }

// wireOrder is the bridge's order shape, shared by the trade response and the
// order read. Numeric fields arrive as JSON numbers or quoted strings
// depending on the terminal build, hence json.Number.
type wireOrder struct {
	Ticket       int         `json:"ticket"`
	Symbol       string      `json:"symbol"`
	OrderType    string      `json:"orderType"`
	Volume       json.Number `json:"volume"`
	FilledVolume json.Number `json:"filledVolume"`
	OpenPrice    json.Number `json:"openPrice"`
	StopLoss     json.Number `json:"stopLoss"`
	TakeProfit   json.Number `json:"takeProfit"`
	State        string      `json:"state"`
	OpenTime     string      `json:"openTime"`
	Error        string      `json:"error"`
}

func (b *restBridge) CreateOrder(ctx context.Context, req types.OrderRequest) (types.Order, error) {
	if err := broker.ValidateOrderRequest(req); err != nil {
		return types.Order{}, err
	}
	if req.Options.TrailingStop != nil {
		return types.Order{}, &broker.UnsupportedFeatureError{Venue: venueName, Feature: "trailing stop"}
	}

	payload := map[string]any{
		"action":    "ORDER_SEND",
		"symbol":    symbols.ToVenue(venueName, req.Instrument),
		"orderType": typeStrings[orderKey{req.Side, req.Type}],
		"volume":    req.Quantity.String(),
	}
	if req.Price != nil {
		payload["price"] = req.Price.String()
	}
	if req.Options.StopLoss != nil {
		payload["stopLoss"] = req.Options.StopLoss.String()
	}
	if req.Options.TakeProfit != nil {
		payload["takeProfit"] = req.Options.TakeProfit.String()
	}

	status, body, err := b.http.DoJSON(ctx, http.MethodPost, b.base+"/api/trade", payload)
	if err != nil {
		return types.Order{}, err
	}
	if status < 200 || status >= 300 {
		return types.Order{}, rejection(body)
	}
	var w wireOrder
	if err := json.Unmarshal(body, &w); err != nil {
		return types.Order{}, &broker.ParseError{Venue: venueName, Err: err}
	}
	if w.Error != "" {
		return types.Order{}, &broker.RejectedError{Venue: venueName, Message: w.Error}
	}
	return toOrder(w)
}

func (b *restBridge) GetOrder(ctx context.Context, id string) (types.Order, error) {
	status, body, err := b.http.Do(ctx, http.MethodGet, b.base+"/api/orders/"+id, "", nil)
	if err != nil {
		return types.Order{}, err
	}
	if status < 200 || status >= 300 {
		return types.Order{}, rejection(body)
	}
	var w wireOrder
	if err := json.Unmarshal(body, &w); err != nil {
		return types.Order{}, &broker.ParseError{Venue: venueName, Err: err}
	}
	return toOrder(w)
}

func (b *restBridge) CancelOrder(ctx context.Context, id string) error {
	ticket, err := parseTicket(id)
	if err != nil {
		return err
	}
	payload := map[string]any{"action": "ORDER_DELETE", "ticket": ticket}
	status, body, err := b.http.DoJSON(ctx, http.MethodPost, b.base+"/api/trade", payload)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return rejection(body)
	}
	return nil
}

type wirePosition struct {
	Symbol       string      `json:"symbol"`
	OrderType    string      `json:"orderType"`
	Volume       json.Number `json:"volume"`
	OpenPrice    json.Number `json:"openPrice"`
	CurrentPrice json.Number `json:"currentPrice"`
	Profit       json.Number `json:"profit"`
}

func (b *restBridge) GetPositions(ctx context.Context) ([]types.Position, error) {
	status, body, err := b.http.Do(ctx, http.MethodGet, b.base+"/api/positions", "", nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, rejection(body)
	}
	var wire []wirePosition
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &broker.ParseError{Venue: venueName, Err: err}
	}
	positions := make([]types.Position, 0, len(wire))
	for _, w := range wire {
		pos, ok, err := toPosition(w)
		if err != nil {
			return nil, err
		}
		if ok {
			positions = append(positions, pos)
		}
	}
	return positions, nil
}

func (b *restBridge) GetAccountInfo(ctx context.Context) (types.AccountSummary, error) {
	status, body, err := b.http.Do(ctx, http.MethodGet, b.base+"/api/account", "", nil)
	if err != nil {
		return types.AccountSummary{}, err
	}
	if status < 200 || status >= 300 {
		return types.AccountSummary{}, rejection(body)
	}
	var w struct {
		Login      int         `json:"login"`
		Currency   string      `json:"currency"`
		Balance    json.Number `json:"balance"`
		Equity     json.Number `json:"equity"`
		FreeMargin json.Number `json:"freeMargin"`
		Margin     json.Number `json:"margin"`
	}
	if err := json.Unmarshal(body, &w); err != nil {
		return types.AccountSummary{}, &broker.ParseError{Venue: venueName, Err: err}
	}
	return toAccount(strconv.Itoa(w.Login), w.Currency,
		w.Balance.String(), w.Equity.String(), w.FreeMargin.String(), w.Margin.String())
}

func (b *restBridge) GetQuote(ctx context.Context, instrument string) (types.Quote, error) {
	native := symbols.ToVenue(venueName, instrument)
	status, body, err := b.http.Do(ctx, http.MethodGet, b.base+"/api/quote/"+native, "", nil)
	if err != nil {
		return types.Quote{}, err
	}
	if status < 200 || status >= 300 {
		return types.Quote{}, rejection(body)
	}
	var w struct {
		Bid  json.Number `json:"bid"`
		Ask  json.Number `json:"ask"`
		Time string      `json:"time"`
	}
	if err := json.Unmarshal(body, &w); err != nil {
		return types.Quote{}, &broker.ParseError{Venue: venueName, Err: err}
	}
	bid, err := broker.ParseDecimal(venueName, "bid", w.Bid.String())
	if err != nil {
		return types.Quote{}, err
	}
	ask, err := broker.ParseDecimal(venueName, "ask", w.Ask.String())
	if err != nil {
		return types.Quote{}, err
	}
	return broker.NewQuote(venueName, instrument, bid, ask, parseBridgeTime(w.Time))
}

// SubscribeQuotes needs a push channel; the HTTP listener has none.
func (b *restBridge) SubscribeQuotes(ctx context.Context, instruments []string, fn func(types.Quote)) error {
	return &broker.UnsupportedFeatureError{Venue: venueName, Feature: "quote subscription over rest"}
}

// rejection turns a non-2xx body into a RejectedError, preferring the
// bridge's {"error": ...} message when one is present.
func rejection(body []byte) error {
	var w struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &w) == nil && w.Error != "" {
		return &broker.RejectedError{Venue: venueName, Message: w.Error}
	}
	return &broker.RejectedError{Venue: venueName, Message: string(body)}
}

func toOrder(w wireOrder) (types.Order, error) {
	key, err := decodeTypeString(w.OrderType)
	if err != nil {
		return types.Order{}, err
	}
	volume, err := broker.ParseDecimal(venueName, "volume", w.Volume.String())
	if err != nil {
		return types.Order{}, err
	}
	filled, err := broker.ParseDecimal(venueName, "filledVolume", w.FilledVolume.String())
	if err != nil {
		return types.Order{}, err
	}
	price, err := broker.ParseOptionalDecimal(venueName, "openPrice", w.OpenPrice.String())
	if err != nil {
		return types.Order{}, err
	}
	stopLoss, err := parseOptionalLevel("stopLoss", w.StopLoss.String())
	if err != nil {
		return types.Order{}, err
	}
	takeProfit, err := parseOptionalLevel("takeProfit", w.TakeProfit.String())
	if err != nil {
		return types.Order{}, err
	}
	status, raw := broker.MapStatus(statusTable, w.State)

	order := types.Order{
		ID:             strconv.Itoa(w.Ticket),
		Instrument:     symbols.ToCanonical(venueName, w.Symbol),
		Side:           key.Side,
		Type:           key.Type,
		Quantity:       volume,
		FilledQuantity: filled,
		Price:          price,
		StopLoss:       stopLoss,
		TakeProfit:     takeProfit,
		Status:         status,
		RawStatus:      raw,
		CreatedAt:      parseBridgeTime(w.OpenTime),
	}
	if order.Status == types.StatusFilled {
		order.FilledPrice = price
		if order.FilledQuantity.IsZero() {
			order.FilledQuantity = volume
		}
		order.FilledAt = order.CreatedAt
	}
	return order, nil
}

func toPosition(w wirePosition) (types.Position, bool, error) {
	key, err := decodeTypeString(w.OrderType)
	if err != nil {
		return types.Position{}, false, err
	}
	side := types.PositionLong
	if key.Side == types.SideSell {
		side = types.PositionShort
	}
	volume, err := broker.ParseDecimal(venueName, "volume", w.Volume.String())
	if err != nil {
		return types.Position{}, false, err
	}
	if volume.IsZero() {
		// Closed slot the bridge still reports; not a position.
		return types.Position{}, false, nil
	}
	openPrice, err := broker.ParseDecimal(venueName, "openPrice", w.OpenPrice.String())
	if err != nil {
		return types.Position{}, false, err
	}
	currentPrice, err := broker.ParseDecimal(venueName, "currentPrice", w.CurrentPrice.String())
	if err != nil {
		return types.Position{}, false, err
	}
	profit, err := broker.ParseDecimal(venueName, "profit", w.Profit.String())
	if err != nil {
		return types.Position{}, false, err
	}
	markPrice := currentPrice
	if markPrice.IsZero() {
		markPrice = openPrice
	}
	return types.Position{
		Instrument:           symbols.ToCanonical(venueName, w.Symbol),
		Side:                 side,
		Quantity:             volume,
		AveragePrice:         openPrice,
		MarketValue:          volume.Mul(markPrice),
		UnrealizedPnL:        profit,
		UnrealizedPnLPercent: broker.PercentOf(profit, volume.Mul(openPrice)),
	}, true, nil
}

func toAccount(id, currency, balance, equity, freeMargin, margin string) (types.AccountSummary, error) {
	cash, err := broker.ParseDecimal(venueName, "balance", balance)
	if err != nil {
		return types.AccountSummary{}, err
	}
	eq, err := broker.ParseDecimal(venueName, "equity", equity)
	if err != nil {
		return types.AccountSummary{}, err
	}
	free, err := broker.ParseDecimal(venueName, "freeMargin", freeMargin)
	if err != nil {
		return types.AccountSummary{}, err
	}
	used, err := broker.ParseOptionalDecimal(venueName, "margin", margin)
	if err != nil {
		return types.AccountSummary{}, err
	}
	return types.AccountSummary{
		ID:          id,
		Currency:    currency,
		Cash:        cash,
		Equity:      eq,
		BuyingPower: free,
		MarginUsed:  used,
	}, nil
}

// parseOptionalLevel treats the terminal's zero level as "not set".
func parseOptionalLevel(field, s string) (*decimal.Decimal, error) {
	d, err := broker.ParseOptionalDecimal(venueName, field, s)
	if err != nil || d == nil {
		return d, err
	}
	if d.IsZero() {
		return nil, nil
	}
	return d, nil
}

func parseBridgeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006.01.02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
