package metatrader

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"broker-gateway/internal/broker"
	"broker-gateway/internal/broker/symbols"
	"broker-gateway/internal/broker/transport"
	"broker-gateway/internal/interfaces"
	"broker-gateway/internal/types"
)

// streamBridge rides one WebSocket connection shared by every call. The
// bridge echoes no request IDs, so responses are claimed by matching the
// action name plus the identifying fields of the request.
type streamBridge struct {
	stream *transport.Stream
}

var (
	_ interfaces.Broker        = (*streamBridge)(nil)
	_ interfaces.QuoteProvider = (*streamBridge)(nil)
)

func dialStream(ctx context.Context, p Params) (*streamBridge, error) {
	url := fmt.Sprintf("ws://%s:%d", p.Host, p.Port)
	s, err := transport.DialStream(ctx, venueName, url, p.Timeout)
	if err != nil {
		return nil, err
	}
	return &streamBridge{stream: s}, nil
}

// newStreamBridge wraps an existing stream; tests use it with an in-process
// server.
func newStreamBridge(s *transport.Stream) *streamBridge {
	return &streamBridge{stream: s}
}

func (b *streamBridge) Venue() string { return venueName }

func (b *streamBridge) Close() error { return b.stream.Close() }

func (b *streamBridge) send(ctx context.Context, payload any, match transport.Matcher) ([]byte, error) {
	frame, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode bridge frame: %w", err)
	}
	return b.stream.Send(ctx, frame, match)
}

// streamOrder is the order shape on the stream transport; order types travel
// as the terminal's numeric OP codes here.
type streamOrder struct {
	Ticket       int         `json:"ticket"`
	Symbol       string      `json:"symbol"`
	OrderType    int         `json:"orderType"`
	Volume       json.Number `json:"volume"`
	FilledVolume json.Number `json:"filledVolume"`
	OpenPrice    json.Number `json:"openPrice"`
	StopLoss     json.Number `json:"stopLoss"`
	TakeProfit   json.Number `json:"takeProfit"`
	State        string      `json:"state"`
	OpenTime     string      `json:"openTime"`
}

func (b *streamBridge) CreateOrder(ctx context.Context, req types.OrderRequest) (types.Order, error) {
	if err := broker.ValidateOrderRequest(req); err != nil {
		return types.Order{}, err
	}
	if req.Options.TrailingStop != nil {
		return types.Order{}, &broker.UnsupportedFeatureError{Venue: venueName, Feature: "trailing stop"}
	}

	native := symbols.ToVenue(venueName, req.Instrument)
	op := opCodes[orderKey{req.Side, req.Type}]
	payload := map[string]any{
		"action":     "TRADE",
		"actionType": "OPEN",
		"symbol":     native,
		"orderType":  op,
		"volume":     req.Quantity.String(),
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

	match := func(action string, frame []byte) bool {
		if action != "TRADE" {
			return false
		}
		var probe struct {
			Symbol    string      `json:"symbol"`
			OrderType int         `json:"orderType"`
			Volume    json.Number `json:"volume"`
		}
		if json.Unmarshal(frame, &probe) != nil {
			return false
		}
		return probe.Symbol == native && probe.OrderType == op &&
			sameQuantity(probe.Volume.String(), req.Quantity)
	}

	frame, err := b.send(ctx, payload, match)
	if err != nil {
		return types.Order{}, err
	}
	var resp struct {
		streamOrder
		Error string `json:"error"`
	}
	if err := json.Unmarshal(frame, &resp); err != nil {
		return types.Order{}, &broker.ParseError{Venue: venueName, Err: err}
	}
	if resp.Error != "" {
		return types.Order{}, &broker.RejectedError{Venue: venueName, Message: resp.Error}
	}
	return fromStreamOrder(resp.streamOrder)
}

func (b *streamBridge) GetOrder(ctx context.Context, id string) (types.Order, error) {
	ticket, err := parseTicket(id)
	if err != nil {
		return types.Order{}, err
	}
	frame, err := b.send(ctx,
		map[string]any{"action": "ORDER_GET", "ticket": ticket},
		matchTicket("ORDER_GET", ticket))
	if err != nil {
		return types.Order{}, err
	}
	var resp struct {
		Order *streamOrder `json:"order"`
		Error string       `json:"error"`
	}
	if err := json.Unmarshal(frame, &resp); err != nil {
		return types.Order{}, &broker.ParseError{Venue: venueName, Err: err}
	}
	if resp.Error != "" {
		return types.Order{}, &broker.RejectedError{Venue: venueName, Message: resp.Error}
	}
	if resp.Order == nil {
		return types.Order{}, &broker.ParseError{Venue: venueName,
			Err: fmt.Errorf("order frame without order body")}
	}
	return fromStreamOrder(*resp.Order)
}

func (b *streamBridge) CancelOrder(ctx context.Context, id string) error {
	ticket, err := parseTicket(id)
	if err != nil {
		return err
	}
	frame, err := b.send(ctx,
		map[string]any{"action": "TRADE", "actionType": "DELETE", "ticket": ticket},
		matchTicket("TRADE", ticket))
	if err != nil {
		return err
	}
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(frame, &resp); err != nil {
		return &broker.ParseError{Venue: venueName, Err: err}
	}
	if resp.Error != "" {
		return &broker.RejectedError{Venue: venueName, Message: resp.Error}
	}
	return nil
}

func (b *streamBridge) GetPositions(ctx context.Context) ([]types.Position, error) {
	frame, err := b.send(ctx,
		map[string]any{"action": "POSITIONS_GET"}, matchAction("POSITIONS_GET"))
	if err != nil {
		return nil, err
	}
	var resp struct {
		Positions []struct {
			Symbol       string      `json:"symbol"`
			OrderType    int         `json:"orderType"`
			Volume       json.Number `json:"volume"`
			OpenPrice    json.Number `json:"openPrice"`
			CurrentPrice json.Number `json:"currentPrice"`
			Profit       json.Number `json:"profit"`
		} `json:"positions"`
	}
	if err := json.Unmarshal(frame, &resp); err != nil {
		return nil, &broker.ParseError{Venue: venueName, Err: err}
	}
	positions := make([]types.Position, 0, len(resp.Positions))
	for _, w := range resp.Positions {
		key, err := decodeOpCode(w.OrderType)
		if err != nil {
			return nil, err
		}
		pos, ok, err := toPosition(wirePosition{
			Symbol:       w.Symbol,
			OrderType:    typeStrings[key],
			Volume:       w.Volume,
			OpenPrice:    w.OpenPrice,
			CurrentPrice: w.CurrentPrice,
			Profit:       w.Profit,
		})
		if err != nil {
			return nil, err
		}
		if ok {
			positions = append(positions, pos)
		}
	}
	return positions, nil
}

func (b *streamBridge) GetAccountInfo(ctx context.Context) (types.AccountSummary, error) {
	frame, err := b.send(ctx,
		map[string]any{"action": "ACCOUNT_GET"}, matchAction("ACCOUNT_GET"))
	if err != nil {
		return types.AccountSummary{}, err
	}
	var resp struct {
		Account *struct {
			Login      int         `json:"login"`
			Currency   string      `json:"currency"`
			Balance    json.Number `json:"balance"`
			Equity     json.Number `json:"equity"`
			FreeMargin json.Number `json:"freeMargin"`
			Margin     json.Number `json:"margin"`
		} `json:"account"`
	}
	if err := json.Unmarshal(frame, &resp); err != nil {
		return types.AccountSummary{}, &broker.ParseError{Venue: venueName, Err: err}
	}
	if resp.Account == nil {
		return types.AccountSummary{}, &broker.ParseError{Venue: venueName,
			Err: fmt.Errorf("account frame without account body")}
	}
	a := resp.Account
	return toAccount(strconv.Itoa(a.Login), a.Currency,
		a.Balance.String(), a.Equity.String(), a.FreeMargin.String(), a.Margin.String())
}

type tickFrame struct {
	Symbol string      `json:"symbol"`
	Bid    json.Number `json:"bid"`
	Ask    json.Number `json:"ask"`
	Time   string      `json:"time"`
}

func (b *streamBridge) GetQuote(ctx context.Context, instrument string) (types.Quote, error) {
	native := symbols.ToVenue(venueName, instrument)
	frame, err := b.send(ctx,
		map[string]any{"action": "QUOTE", "symbol": native},
		func(action string, frame []byte) bool {
			if action != "QUOTE" {
				return false
			}
			var probe tickFrame
			return json.Unmarshal(frame, &probe) == nil && probe.Symbol == native
		})
	if err != nil {
		return types.Quote{}, err
	}
	var w tickFrame
	if err := json.Unmarshal(frame, &w); err != nil {
		return types.Quote{}, &broker.ParseError{Venue: venueName, Err: err}
	}
	return toQuote(instrument, w)
}

// SubscribeQuotes asks the bridge to start streaming ticks and registers a
// standing handler for them. Delivery stops when ctx is cancelled; malformed
// ticks are skipped.
func (b *streamBridge) SubscribeQuotes(ctx context.Context, instruments []string, fn func(types.Quote)) error {
	native := make(map[string]string, len(instruments)) // venue symbol -> canonical
	list := make([]string, 0, len(instruments))
	for _, instrument := range instruments {
		sym := symbols.ToVenue(venueName, instrument)
		native[sym] = instrument
		list = append(list, sym)
	}

	// Handler goes in before the subscribe request so a tick arriving right
	// behind the ack cannot be dropped.
	cancel := b.stream.Subscribe(
		func(action string, frame []byte) bool {
			if action != "TICK" {
				return false
			}
			var probe tickFrame
			if json.Unmarshal(frame, &probe) != nil {
				return false
			}
			_, ok := native[probe.Symbol]
			return ok
		},
		func(frame []byte) {
			var w tickFrame
			if json.Unmarshal(frame, &w) != nil {
				return
			}
			quote, err := toQuote(native[w.Symbol], w)
			if err != nil {
				return
			}
			fn(quote)
		})

	_, err := b.send(ctx,
		map[string]any{"action": "SUBSCRIBE", "symbols": list}, matchAction("SUBSCRIBE"))
	if err != nil {
		cancel()
		return err
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()
	return nil
}

func toQuote(instrument string, w tickFrame) (types.Quote, error) {
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

func fromStreamOrder(w streamOrder) (types.Order, error) {
	key, err := decodeOpCode(w.OrderType)
	if err != nil {
		return types.Order{}, err
	}
	return toOrder(wireOrder{
		Ticket:       w.Ticket,
		Symbol:       w.Symbol,
		OrderType:    typeStrings[key],
		Volume:       w.Volume,
		FilledVolume: w.FilledVolume,
		OpenPrice:    w.OpenPrice,
		StopLoss:     w.StopLoss,
		TakeProfit:   w.TakeProfit,
		State:        w.State,
		OpenTime:     w.OpenTime,
	})
}

func parseTicket(id string) (int, error) {
	ticket, err := strconv.Atoi(id)
	if err != nil {
		return 0, &broker.ParseError{Venue: venueName, Err: fmt.Errorf("order id %q: %w", id, err)}
	}
	return ticket, nil
}

func matchAction(action string) transport.Matcher {
	return func(a string, _ []byte) bool { return a == action }
}

func matchTicket(action string, ticket int) transport.Matcher {
	return func(a string, frame []byte) bool {
		if a != action {
			return false
		}
		var probe struct {
			Ticket int `json:"ticket"`
		}
		return json.Unmarshal(frame, &probe) == nil && probe.Ticket == ticket
	}
}

// sameQuantity compares a wire volume against the requested quantity without
// caring about trailing zeros.
func sameQuantity(wire string, want decimal.Decimal) bool {
	d, err := decimal.NewFromString(wire)
	return err == nil && d.Equal(want)
}
