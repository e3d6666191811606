package interfaces

import (
	"context"

	"broker-gateway/internal/types"
)

// Broker is the venue-agnostic capability interface. Adapters are configured
// once at construction and reused across calls; Close releases any held
// connection and is safe even after a partially failed initialization.
type Broker interface {
	Venue() string
	CreateOrder(ctx context.Context, req types.OrderRequest) (types.Order, error)
	GetOrder(ctx context.Context, id string) (types.Order, error)
	CancelOrder(ctx context.Context, id string) error
	GetPositions(ctx context.Context) ([]types.Position, error)
	GetAccountInfo(ctx context.Context) (types.AccountSummary, error)
	Close() error
}

// QuoteProvider is the optional extension for venues that expose prices.
type QuoteProvider interface {
	GetQuote(ctx context.Context, instrument string) (types.Quote, error)
	SubscribeQuotes(ctx context.Context, instruments []string, fn func(types.Quote)) error
}
