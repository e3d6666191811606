package metatrader

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"broker-gateway/internal/broker"
	"broker-gateway/internal/broker/symbols"
	"broker-gateway/internal/broker/transport"
	"broker-gateway/internal/interfaces"
	"broker-gateway/internal/types"
)

// queueBridge speaks the pipe protocol over a ZeroMQ push/pull pair. The
// inbound channel carries no correlation key at all, so the transport admits
// one exchange at a time; this adapter only shapes commands and parses the
// positional response fields.
//
// Commands:
//
//	TRADE|OPEN|symbol|type|volume|price|sl|tp|comment|magic
//	TRADE|DELETE|ticket
//	ORDER|GET|ticket
//	POSITIONS|GET
//	ACCOUNT|GET
type queueBridge struct {
	queue *transport.Queue
}

var _ interfaces.Broker = (*queueBridge)(nil)

func dialQueue(ctx context.Context, p Params) (*queueBridge, error) {
	q, err := transport.DialQueue(ctx, venueName, p.Host, p.Port, p.Timeout)
	if err != nil {
		return nil, err
	}
	return &queueBridge{queue: q}, nil
}

// newQueueBridge wraps an existing queue; tests use it with socket fakes.
func newQueueBridge(q *transport.Queue) *queueBridge {
	return &queueBridge{queue: q}
}

func (b *queueBridge) Venue() string { return venueName }

func (b *queueBridge) Close() error { return b.queue.Close() }

func (b *queueBridge) CreateOrder(ctx context.Context, req types.OrderRequest) (types.Order, error) {
	if err := broker.ValidateOrderRequest(req); err != nil {
		return types.Order{}, err
	}
	if req.Options.TrailingStop != nil {
		return types.Order{}, &broker.UnsupportedFeatureError{Venue: venueName, Feature: "trailing stop"}
	}

	price := ""
	if req.Price != nil {
		price = req.Price.String()
	}
	stopLoss := "0"
	if req.Options.StopLoss != nil {
		stopLoss = req.Options.StopLoss.String()
	}
	takeProfit := "0"
	if req.Options.TakeProfit != nil {
		takeProfit = req.Options.TakeProfit.String()
	}

	parts, err := b.queue.Exchange(ctx, "TRADE", "OPEN",
		symbols.ToVenue(venueName, req.Instrument),
		strconv.Itoa(opCodes[orderKey{req.Side, req.Type}]),
		req.Quantity.String(),
		price, stopLoss, takeProfit,
		"", "0")
	if err != nil {
		return types.Order{}, err
	}
	// TRADE|OK|ticket|price
	if len(parts) < 3 {
		return types.Order{}, shortFrame(parts)
	}
	order := types.Order{
		ID:         parts[2],
		Instrument: req.Instrument,
		Side:       req.Side,
		Type:       req.Type,
		Quantity:   req.Quantity,
		Price:      req.Price,
		StopLoss:   req.Options.StopLoss,
		TakeProfit: req.Options.TakeProfit,
		Status:     types.StatusPending,
	}
	if req.Type == types.OrderTypeMarket {
		// The terminal fills market orders before acknowledging.
		order.Status = types.StatusFilled
		order.FilledQuantity = req.Quantity
		if len(parts) >= 4 {
			fillPrice, err := broker.ParseOptionalDecimal(venueName, "price", parts[3])
			if err != nil {
				return types.Order{}, err
			}
			order.FilledPrice = fillPrice
		}
	}
	return order, nil
}

func (b *queueBridge) GetOrder(ctx context.Context, id string) (types.Order, error) {
	if _, err := parseTicket(id); err != nil {
		return types.Order{}, err
	}
	parts, err := b.queue.Exchange(ctx, "ORDER", "GET", id)
	if err != nil {
		return types.Order{}, err
	}
	// ORDER|OK|ticket|symbol|type|volume|filledVolume|openPrice|sl|tp|state
	if len(parts) < 11 {
		return types.Order{}, shortFrame(parts)
	}
	opCode, err := strconv.Atoi(parts[4])
	if err != nil {
		return types.Order{}, &broker.ParseError{Venue: venueName,
			Err: fmt.Errorf("order type %q: %w", parts[4], err)}
	}
	key, err := decodeOpCode(opCode)
	if err != nil {
		return types.Order{}, err
	}
	ticket, err := parseTicket(parts[2])
	if err != nil {
		return types.Order{}, err
	}
	return toOrder(wireOrder{
		Ticket:       ticket,
		Symbol:       parts[3],
		OrderType:    typeStrings[key],
		Volume:       json.Number(parts[5]),
		FilledVolume: json.Number(parts[6]),
		OpenPrice:    json.Number(parts[7]),
		StopLoss:     json.Number(parts[8]),
		TakeProfit:   json.Number(parts[9]),
		State:        parts[10],
	})
}

func (b *queueBridge) CancelOrder(ctx context.Context, id string) error {
	if _, err := parseTicket(id); err != nil {
		return err
	}
	_, err := b.queue.Exchange(ctx, "TRADE", "DELETE", id)
	return err
}

func (b *queueBridge) GetPositions(ctx context.Context) ([]types.Position, error) {
	parts, err := b.queue.Exchange(ctx, "POSITIONS", "GET")
	if err != nil {
		return nil, err
	}
	// POSITIONS|OK|n followed by n groups of
	// symbol|type|volume|openPrice|currentPrice|profit.
	if len(parts) < 3 {
		return nil, shortFrame(parts)
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, &broker.ParseError{Venue: venueName,
			Err: fmt.Errorf("position count %q: %w", parts[2], err)}
	}
	const groupLen = 6
	fields := parts[3:]
	if len(fields) < n*groupLen {
		return nil, shortFrame(parts)
	}
	positions := make([]types.Position, 0, n)
	for i := 0; i < n; i++ {
		g := fields[i*groupLen : (i+1)*groupLen]
		opCode, err := strconv.Atoi(g[1])
		if err != nil {
			return nil, &broker.ParseError{Venue: venueName,
				Err: fmt.Errorf("position type %q: %w", g[1], err)}
		}
		key, err := decodeOpCode(opCode)
		if err != nil {
			return nil, err
		}
		pos, ok, err := toPosition(wirePosition{
			Symbol:       g[0],
			OrderType:    typeStrings[key],
			Volume:       json.Number(g[2]),
			OpenPrice:    json.Number(g[3]),
			CurrentPrice: json.Number(g[4]),
			Profit:       json.Number(g[5]),
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

func (b *queueBridge) GetAccountInfo(ctx context.Context) (types.AccountSummary, error) {
	parts, err := b.queue.Exchange(ctx, "ACCOUNT", "GET")
	if err != nil {
		return types.AccountSummary{}, err
	}
	// ACCOUNT|OK|login|currency|balance|equity|freeMargin|margin
	if len(parts) < 8 {
		return types.AccountSummary{}, shortFrame(parts)
	}
	return toAccount(parts[2], parts[3], parts[4], parts[5], parts[6], parts[7])
}

func shortFrame(parts []string) error {
	return &broker.ParseError{Venue: venueName,
		Err: fmt.Errorf("truncated %s frame (%d fields)", parts[0], len(parts))}
}
