package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order. It is always explicit: adapters that
// talk to venues encoding direction via signed size do that translation
// internally and never leak the sign convention into this model.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// OrderStatus is the canonical lifecycle state of an order. Pending is the
// only non-terminal state; venue-specific intermediate states collapse into it.
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusRejected        OrderStatus = "rejected"
	StatusCancelled       OrderStatus = "cancelled"
	StatusExpired         OrderStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s != StatusPending && s != StatusPartiallyFilled
}

// OrderOptions carries the optional protective legs and time-in-force of an
// order request. Adapters reject combinations the venue cannot express.
type OrderOptions struct {
	StopLoss     *decimal.Decimal
	TakeProfit   *decimal.Decimal
	TrailingStop *decimal.Decimal
	TimeInForce  string
}

// OrderRequest is the venue-agnostic input to CreateOrder. Instrument is a
// canonical symbol ("XAU/USD", "AAPL"); Price is required for limit and stop
// orders and ignored for market orders.
type OrderRequest struct {
	Instrument string
	Type       OrderType
	Side       Side
	Quantity   decimal.Decimal
	Price      *decimal.Decimal
	Options    OrderOptions
}

// Order is the canonical view of a venue order.
type Order struct {
	ID             string
	Instrument     string
	Side           Side
	Type           OrderType
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	Price          *decimal.Decimal
	FilledPrice    *decimal.Decimal
	StopLoss       *decimal.Decimal
	TakeProfit     *decimal.Decimal
	Status         OrderStatus
	// RawStatus preserves the venue's status string when it does not map
	// exactly onto the canonical set. Empty for exact mappings.
	RawStatus string
	CreatedAt time.Time
	FilledAt  time.Time
}

// Position is a read-only snapshot of an open position. Quantity is always
// non-negative; direction lives in Side.
type Position struct {
	Instrument           string
	Side                 PositionSide
	Quantity             decimal.Decimal
	AveragePrice         decimal.Decimal
	MarketValue          decimal.Decimal
	UnrealizedPnL        decimal.Decimal
	UnrealizedPnLPercent decimal.Decimal
}

// AccountSummary is a read-only snapshot of account state.
type AccountSummary struct {
	ID             string
	Currency       string
	Cash           decimal.Decimal
	Equity         decimal.Decimal
	BuyingPower    decimal.Decimal
	MarginUsed     *decimal.Decimal
	OpenOrderCount *int
}

// Quote is a bid/ask snapshot for one instrument.
type Quote struct {
	Instrument string
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	Mid        decimal.Decimal
	Spread     decimal.Decimal
	Timestamp  time.Time
}
