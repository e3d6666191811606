// Package metatrader adapts a MetaTrader terminal through a local bridge
// expert advisor. The same five capabilities ride whichever transport the
// bridge is configured with: plain REST, a correlated WebSocket stream, or a
// ZeroMQ push/pull pair speaking pipe-delimited frames.
package metatrader

import (
	"context"
	"fmt"
	"time"

	"broker-gateway/internal/broker"
	"broker-gateway/internal/broker/symbols"
	"broker-gateway/internal/interfaces"
	"broker-gateway/internal/types"
)

const venueName = symbols.VenueMetaTrader

type Params struct {
	Transport string // rest, stream or queue
	Host      string
	Port      int
	Timeout   time.Duration
}

// New dials the bridge with the configured transport kind.
func New(ctx context.Context, p Params) (interfaces.Broker, error) {
	switch p.Transport {
	case "rest", "":
		return newREST(p), nil
	case "stream":
		return dialStream(ctx, p)
	case "queue":
		return dialQueue(ctx, p)
	default:
		return nil, fmt.Errorf("metatrader: unknown bridge transport %q", p.Transport)
	}
}

// The terminal's order type encodes side and kind together. REST speaks the
// string form, stream and queue the numeric OP codes.
type orderKey struct {
	Side types.Side
	Type types.OrderType
}

var opCodes = map[orderKey]int{
	{types.SideBuy, types.OrderTypeMarket}:  0,
	{types.SideSell, types.OrderTypeMarket}: 1,
	{types.SideBuy, types.OrderTypeLimit}:   2,
	{types.SideSell, types.OrderTypeLimit}:  3,
	{types.SideBuy, types.OrderTypeStop}:    4,
	{types.SideSell, types.OrderTypeStop}:   5,
}

var typeStrings = map[orderKey]string{
	{types.SideBuy, types.OrderTypeMarket}:  "ORDER_TYPE_BUY",
	{types.SideSell, types.OrderTypeMarket}: "ORDER_TYPE_SELL",
	{types.SideBuy, types.OrderTypeLimit}:   "ORDER_TYPE_BUY_LIMIT",
	{types.SideSell, types.OrderTypeLimit}:  "ORDER_TYPE_SELL_LIMIT",
	{types.SideBuy, types.OrderTypeStop}:    "ORDER_TYPE_BUY_STOP",
	{types.SideSell, types.OrderTypeStop}:   "ORDER_TYPE_SELL_STOP",
}

var fromOpCode = func() map[int]orderKey {
	m := make(map[int]orderKey, len(opCodes))
	for k, v := range opCodes {
		m[v] = k
	}
	return m
}()

var fromTypeString = func() map[string]orderKey {
	m := make(map[string]orderKey, len(typeStrings))
	for k, v := range typeStrings {
		m[v] = k
	}
	return m
}()

func decodeOpCode(code int) (orderKey, error) {
	k, ok := fromOpCode[code]
	if !ok {
		return orderKey{}, &broker.ParseError{Venue: venueName,
			Err: fmt.Errorf("unknown order type code %d", code)}
	}
	return k, nil
}

func decodeTypeString(s string) (orderKey, error) {
	k, ok := fromTypeString[s]
	if !ok {
		return orderKey{}, &broker.ParseError{Venue: venueName,
			Err: fmt.Errorf("unknown order type %q", s)}
	}
	return k, nil
}

var statusTable = map[string]types.OrderStatus{
	"placed":    types.StatusPending,
	"pending":   types.StatusPending,
	"partial":   types.StatusPartiallyFilled,
	"filled":    types.StatusFilled,
	"rejected":  types.StatusRejected,
	"canceled":  types.StatusCancelled,
	"cancelled": types.StatusCancelled,
	"expired":   types.StatusExpired,
}
