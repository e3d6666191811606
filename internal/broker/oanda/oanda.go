// Package oanda adapts the OANDA v20 REST API. OANDA encodes order direction
// as the sign of the units field; the translation to an explicit side happens
// entirely inside this package.
package oanda

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"broker-gateway/internal/broker"
	"broker-gateway/internal/broker/symbols"
	"broker-gateway/internal/broker/transport"
	"broker-gateway/internal/interfaces"
	"broker-gateway/internal/types"
)

const venueName = symbols.VenueOANDA

type Params struct {
	APIKey    string
	AccountID string
	Live      bool
	Timeout   time.Duration
}

type OANDA struct {
	p    Params
	base string
	http *transport.HTTPClient
}

var (
	_ interfaces.Broker        = (*OANDA)(nil)
	_ interfaces.QuoteProvider = (*OANDA)(nil)
)

func New(p Params) *OANDA {
	host := "api-fxpractice.oanda.com"
	if p.Live {
		host = "api-fxtrade.oanda.com"
	}
	return &OANDA{
		p:    p,
		base: "https://" + host,
		http: transport.NewHTTPClient(venueName, p.Timeout, map[string]string{
			"Authorization": "Bearer " + p.APIKey,
		}),
	}
}

func newWithBase(p Params, base string) *OANDA {
	o := New(p)
	o.base = base
	return o
}

func (o *OANDA) Venue() string { return venueName }

func (o *OANDA) Close() error { return nil }

func (o *OANDA) accountURL(suffix string) string {
	return o.base + "/v3/accounts/" + o.p.AccountID + suffix
}

var orderTypes = map[types.OrderType]string{
	types.OrderTypeMarket: "MARKET",
	types.OrderTypeLimit:  "LIMIT",
	types.OrderTypeStop:   "STOP",
}

var statusTable = map[string]types.OrderStatus{
	"pending":   types.StatusPending,
	"triggered": types.StatusPending,
	"filled":    types.StatusFilled,
	"cancelled": types.StatusCancelled,
}

type onFillPrice struct {
	Price string `json:"price"`
}

type onFillDistance struct {
	Distance string `json:"distance"`
}

type orderBody struct {
	Instrument       string          `json:"instrument"`
	Units            string          `json:"units"`
	Type             string          `json:"type"`
	PositionFill     string          `json:"positionFill"`
	Price            string          `json:"price,omitempty"`
	StopLossOnFill   *onFillPrice    `json:"stopLossOnFill,omitempty"`
	TakeProfitOnFill *onFillPrice    `json:"takeProfitOnFill,omitempty"`
	TrailingStop     *onFillDistance `json:"trailingStopLossOnFill,omitempty"`
}

func (o *OANDA) CreateOrder(ctx context.Context, req types.OrderRequest) (types.Order, error) {
	if err := broker.ValidateOrderRequest(req); err != nil {
		return types.Order{}, err
	}

	// Sign encodes direction on the wire only.
	units := req.Quantity
	if req.Side == types.SideSell {
		units = units.Neg()
	}
	body := orderBody{
		Instrument:   symbols.ToVenue(venueName, req.Instrument),
		Units:        units.String(),
		Type:         orderTypes[req.Type],
		PositionFill: "DEFAULT",
	}
	if req.Type != types.OrderTypeMarket {
		body.Price = req.Price.String()
	}
	if req.Options.StopLoss != nil {
		body.StopLossOnFill = &onFillPrice{Price: req.Options.StopLoss.String()}
	}
	if req.Options.TakeProfit != nil {
		body.TakeProfitOnFill = &onFillPrice{Price: req.Options.TakeProfit.String()}
	}
	if req.Options.TrailingStop != nil {
		body.TrailingStop = &onFillDistance{Distance: req.Options.TrailingStop.String()}
	}

	_, respBody, err := o.http.DoJSON(ctx, http.MethodPost, o.accountURL("/orders"),
		map[string]orderBody{"order": body})
	if err != nil {
		return types.Order{}, err
	}

	var resp struct {
		OrderFillTransaction *struct {
			ID    string `json:"id"`
			Units string `json:"units"`
			Price string `json:"price"`
			Time  string `json:"time"`
		} `json:"orderFillTransaction"`
		OrderCreateTransaction *struct {
			ID    string `json:"id"`
			Units string `json:"units"`
			Price string `json:"price"`
			Time  string `json:"time"`
		} `json:"orderCreateTransaction"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return types.Order{}, &broker.ParseError{Venue: venueName, Err: err}
	}

	switch {
	case resp.OrderFillTransaction != nil:
		// Market orders fill inline with the creation response.
		fill := resp.OrderFillTransaction
		filledUnits, err := broker.ParseDecimal(venueName, "units", fill.Units)
		if err != nil {
			return types.Order{}, err
		}
		price, err := broker.ParseOptionalDecimal(venueName, "price", fill.Price)
		if err != nil {
			return types.Order{}, err
		}
		return types.Order{
			ID:             fill.ID,
			Instrument:     req.Instrument,
			Side:           req.Side,
			Type:           req.Type,
			Quantity:       req.Quantity,
			FilledQuantity: filledUnits.Abs(),
			Price:          req.Price,
			FilledPrice:    price,
			StopLoss:       req.Options.StopLoss,
			TakeProfit:     req.Options.TakeProfit,
			Status:         types.StatusFilled,
			CreatedAt:      parseTime(fill.Time),
			FilledAt:       parseTime(fill.Time),
		}, nil
	case resp.OrderCreateTransaction != nil:
		created := resp.OrderCreateTransaction
		price, err := broker.ParseOptionalDecimal(venueName, "price", created.Price)
		if err != nil {
			return types.Order{}, err
		}
		if price == nil {
			price = req.Price
		}
		return types.Order{
			ID:         created.ID,
			Instrument: req.Instrument,
			Side:       req.Side,
			Type:       req.Type,
			Quantity:   req.Quantity,
			Price:      price,
			StopLoss:   req.Options.StopLoss,
			TakeProfit: req.Options.TakeProfit,
			Status:     types.StatusPending,
			CreatedAt:  parseTime(created.Time),
		}, nil
	case resp.ErrorMessage != "":
		return types.Order{}, &broker.RejectedError{Venue: venueName, Message: resp.ErrorMessage}
	default:
		return types.Order{}, &broker.ParseError{Venue: venueName,
			Err: errUnknownResponse}
	}
}

func (o *OANDA) GetOrder(ctx context.Context, id string) (types.Order, error) {
	_, body, err := o.http.Do(ctx, http.MethodGet, o.accountURL("/orders/"+id), "", nil)
	if err != nil {
		return types.Order{}, err
	}
	var resp struct {
		Order *struct {
			ID         string `json:"id"`
			Instrument string `json:"instrument"`
			Type       string `json:"type"`
			Units      string `json:"units"`
			Price      string `json:"price"`
			State      string `json:"state"`
			CreateTime string `json:"createTime"`
		} `json:"order"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.Order{}, &broker.ParseError{Venue: venueName, Err: err}
	}
	if resp.Order == nil {
		if resp.ErrorMessage != "" {
			return types.Order{}, &broker.RejectedError{Venue: venueName, Message: resp.ErrorMessage}
		}
		return types.Order{}, &broker.ParseError{Venue: venueName, Err: errUnknownResponse}
	}

	units, err := broker.ParseDecimal(venueName, "units", resp.Order.Units)
	if err != nil {
		return types.Order{}, err
	}
	side := types.SideBuy
	if units.IsNegative() {
		side = types.SideSell
	}
	price, err := broker.ParseOptionalDecimal(venueName, "price", resp.Order.Price)
	if err != nil {
		return types.Order{}, err
	}
	status, raw := broker.MapStatus(statusTable, resp.Order.State)
	orderType := types.OrderTypeMarket
	switch resp.Order.Type {
	case "LIMIT":
		orderType = types.OrderTypeLimit
	case "STOP":
		orderType = types.OrderTypeStop
	}
	return types.Order{
		ID:         resp.Order.ID,
		Instrument: symbols.ToCanonical(venueName, resp.Order.Instrument),
		Side:       side,
		Type:       orderType,
		Quantity:   units.Abs(),
		Price:      price,
		Status:     status,
		RawStatus:  raw,
		CreatedAt:  parseTime(resp.Order.CreateTime),
	}, nil
}

func (o *OANDA) CancelOrder(ctx context.Context, id string) error {
	status, body, err := o.http.Do(ctx, http.MethodPut, o.accountURL("/orders/"+id+"/cancel"), "", nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		var resp struct {
			ErrorMessage string `json:"errorMessage"`
		}
		if json.Unmarshal(body, &resp) == nil && resp.ErrorMessage != "" {
			return &broker.RejectedError{Venue: venueName, Message: resp.ErrorMessage}
		}
		return &broker.RejectedError{Venue: venueName, Message: string(body)}
	}
	return nil
}

type positionSide struct {
	Units        string `json:"units"`
	AveragePrice string `json:"averagePrice"`
	UnrealizedPL string `json:"unrealizedPL"`
}

func (o *OANDA) GetPositions(ctx context.Context) ([]types.Position, error) {
	_, body, err := o.http.Do(ctx, http.MethodGet, o.accountURL("/openPositions"), "", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Positions []struct {
			Instrument string        `json:"instrument"`
			Long       *positionSide `json:"long"`
			Short      *positionSide `json:"short"`
		} `json:"positions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &broker.ParseError{Venue: venueName, Err: err}
	}

	var positions []types.Position
	for _, p := range resp.Positions {
		instrument := symbols.ToCanonical(venueName, p.Instrument)
		// OANDA reports each instrument as a long and a short bucket; either
		// may be flat.
		if pos, ok, err := o.toPosition(instrument, types.PositionLong, p.Long); err != nil {
			return nil, err
		} else if ok {
			positions = append(positions, pos)
		}
		if pos, ok, err := o.toPosition(instrument, types.PositionShort, p.Short); err != nil {
			return nil, err
		} else if ok {
			positions = append(positions, pos)
		}
	}
	return positions, nil
}

func (o *OANDA) toPosition(instrument string, side types.PositionSide, w *positionSide) (types.Position, bool, error) {
	if w == nil {
		return types.Position{}, false, nil
	}
	units, err := broker.ParseDecimal(venueName, "units", w.Units)
	if err != nil {
		return types.Position{}, false, err
	}
	if units.IsZero() {
		return types.Position{}, false, nil
	}
	avg, err := broker.ParseDecimal(venueName, "averagePrice", w.AveragePrice)
	if err != nil {
		return types.Position{}, false, err
	}
	pl, err := broker.ParseDecimal(venueName, "unrealizedPL", w.UnrealizedPL)
	if err != nil {
		return types.Position{}, false, err
	}
	qty := units.Abs()
	notional := qty.Mul(avg)
	return types.Position{
		Instrument:           instrument,
		Side:                 side,
		Quantity:             qty,
		AveragePrice:         avg,
		MarketValue:          notional,
		UnrealizedPnL:        pl,
		UnrealizedPnLPercent: broker.PercentOf(pl, notional),
	}, true, nil
}

func (o *OANDA) GetAccountInfo(ctx context.Context) (types.AccountSummary, error) {
	_, body, err := o.http.Do(ctx, http.MethodGet, o.accountURL("/summary"), "", nil)
	if err != nil {
		return types.AccountSummary{}, err
	}
	var resp struct {
		Account *struct {
			ID                string `json:"id"`
			Currency          string `json:"currency"`
			Balance           string `json:"balance"`
			NAV               string `json:"NAV"`
			MarginUsed        string `json:"marginUsed"`
			MarginAvailable   string `json:"marginAvailable"`
			PendingOrderCount int    `json:"pendingOrderCount"`
		} `json:"account"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.AccountSummary{}, &broker.ParseError{Venue: venueName, Err: err}
	}
	if resp.Account == nil {
		return types.AccountSummary{}, &broker.ParseError{Venue: venueName, Err: errUnknownResponse}
	}
	acc := resp.Account
	balance, err := broker.ParseDecimal(venueName, "balance", acc.Balance)
	if err != nil {
		return types.AccountSummary{}, err
	}
	nav, err := broker.ParseDecimal(venueName, "NAV", acc.NAV)
	if err != nil {
		return types.AccountSummary{}, err
	}
	marginAvailable, err := broker.ParseDecimal(venueName, "marginAvailable", acc.MarginAvailable)
	if err != nil {
		return types.AccountSummary{}, err
	}
	marginUsed, err := broker.ParseOptionalDecimal(venueName, "marginUsed", acc.MarginUsed)
	if err != nil {
		return types.AccountSummary{}, err
	}
	openOrders := acc.PendingOrderCount
	return types.AccountSummary{
		ID:             acc.ID,
		Currency:       acc.Currency,
		Cash:           balance,
		Equity:         nav,
		BuyingPower:    marginAvailable,
		MarginUsed:     marginUsed,
		OpenOrderCount: &openOrders,
	}, nil
}

func (o *OANDA) GetQuote(ctx context.Context, instrument string) (types.Quote, error) {
	native := symbols.ToVenue(venueName, instrument)
	_, body, err := o.http.Do(ctx, http.MethodGet,
		o.accountURL("/pricing?instruments="+native), "", nil)
	if err != nil {
		return types.Quote{}, err
	}
	var resp struct {
		Prices []struct {
			Time string `json:"time"`
			Bids []struct {
				Price string `json:"price"`
			} `json:"bids"`
			Asks []struct {
				Price string `json:"price"`
			} `json:"asks"`
		} `json:"prices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.Quote{}, &broker.ParseError{Venue: venueName, Err: err}
	}
	if len(resp.Prices) == 0 || len(resp.Prices[0].Bids) == 0 || len(resp.Prices[0].Asks) == 0 {
		return types.Quote{}, &broker.ParseError{Venue: venueName, Err: errNoPrice}
	}
	price := resp.Prices[0]
	bid, err := broker.ParseDecimal(venueName, "bid", price.Bids[0].Price)
	if err != nil {
		return types.Quote{}, err
	}
	ask, err := broker.ParseDecimal(venueName, "ask", price.Asks[0].Price)
	if err != nil {
		return types.Quote{}, err
	}
	return broker.NewQuote(venueName, instrument, bid, ask, parseTime(price.Time))
}

// SubscribeQuotes is not wired for OANDA; the REST pricing endpoint covers
// snapshot quotes only.
func (o *OANDA) SubscribeQuotes(ctx context.Context, instruments []string, fn func(types.Quote)) error {
	return &broker.UnsupportedFeatureError{Venue: venueName, Feature: "quote subscription"}
}

var (
	errUnknownResponse = jsonError("unknown response format")
	errNoPrice         = jsonError("price not available")
)

type jsonError string

func (e jsonError) Error() string { return string(e) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
