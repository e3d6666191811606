// Package brokerobs wraps a broker with observability middleware: one span
// per capability call, structured logs for outcomes, venue rejection messages
// surfaced verbatim.
package brokerobs

import (
	"context"
	"errors"

	"broker-gateway/internal/broker"
	"broker-gateway/internal/interfaces"
	"broker-gateway/internal/journal"
	"broker-gateway/internal/logger"
	"broker-gateway/internal/trace"
	"broker-gateway/internal/types"
)

type observableBroker struct {
	broker interfaces.Broker
}

// Compile-time interface check
var _ interfaces.Broker = (*observableBroker)(nil)

// Wrap wraps a broker with observability middleware. Quote capability is
// preserved: when the wrapped broker is also a QuoteProvider, the returned
// broker is too.
func Wrap(b interfaces.Broker) interfaces.Broker {
	ob := &observableBroker{broker: b}
	if qp, ok := b.(interfaces.QuoteProvider); ok {
		return &observableQuoteBroker{observableBroker: ob, quotes: qp}
	}
	return ob
}

func (ob *observableBroker) Venue() string { return ob.broker.Venue() }

func (ob *observableBroker) CreateOrder(ctx context.Context, req types.OrderRequest) (types.Order, error) {
	ctx, span := trace.StartSpan(ctx, "broker.CreateOrder")
	defer span.End()

	logger.Info(ctx, "Placing order",
		"venue", ob.broker.Venue(),
		"instrument", req.Instrument,
		"side", req.Side,
		"type", req.Type,
		"quantity", req.Quantity,
	)

	order, err := ob.broker.CreateOrder(ctx, req)
	if err != nil {
		ob.logFailure(ctx, "Failed to place order", err,
			"instrument", req.Instrument, "side", req.Side)
		return types.Order{}, err
	}

	logger.Order(ctx, ob.broker.Venue(), order.Instrument,
		string(order.Side), order.Quantity.String(), order.ID, string(order.Status))
	ob.journal(ctx, order)
	return order, nil
}

func (ob *observableBroker) journal(ctx context.Context, order types.Order) {
	entry := journal.Entry{
		Venue:      ob.broker.Venue(),
		Instrument: order.Instrument,
		Side:       string(order.Side),
		Type:       string(order.Type),
		Quantity:   order.Quantity.String(),
		OrderID:    order.ID,
		Status:     string(order.Status),
	}
	if order.Price != nil {
		entry.Price = order.Price.String()
	}
	if err := journal.Append(entry); err != nil {
		logger.Warn(ctx, "Order journal write failed", "error", err)
	}
}

func (ob *observableBroker) GetOrder(ctx context.Context, id string) (types.Order, error) {
	ctx, span := trace.StartSpan(ctx, "broker.GetOrder")
	defer span.End()

	logger.Debug(ctx, "Fetching order", "venue", ob.broker.Venue(), "order_id", id)

	order, err := ob.broker.GetOrder(ctx, id)
	if err != nil {
		ob.logFailure(ctx, "Failed to fetch order", err, "order_id", id)
		return types.Order{}, err
	}

	logger.Debug(ctx, "Order fetched", "venue", ob.broker.Venue(),
		"order_id", order.ID, "status", order.Status)
	return order, nil
}

func (ob *observableBroker) CancelOrder(ctx context.Context, id string) error {
	ctx, span := trace.StartSpan(ctx, "broker.CancelOrder")
	defer span.End()

	logger.Info(ctx, "Cancelling order", "venue", ob.broker.Venue(), "order_id", id)

	if err := ob.broker.CancelOrder(ctx, id); err != nil {
		ob.logFailure(ctx, "Failed to cancel order", err, "order_id", id)
		return err
	}

	logger.Info(ctx, "Order cancelled", "venue", ob.broker.Venue(), "order_id", id)
	if err := journal.AppendCancel(journal.CancelEntry{Venue: ob.broker.Venue(), OrderID: id}); err != nil {
		logger.Warn(ctx, "Order journal write failed", "error", err)
	}
	return nil
}

func (ob *observableBroker) GetPositions(ctx context.Context) ([]types.Position, error) {
	ctx, span := trace.StartSpan(ctx, "broker.GetPositions")
	defer span.End()

	logger.Debug(ctx, "Fetching positions", "venue", ob.broker.Venue())

	positions, err := ob.broker.GetPositions(ctx)
	if err != nil {
		ob.logFailure(ctx, "Failed to fetch positions", err)
		return nil, err
	}

	logger.Debug(ctx, "Positions fetched", "venue", ob.broker.Venue(), "count", len(positions))
	return positions, nil
}

func (ob *observableBroker) GetAccountInfo(ctx context.Context) (types.AccountSummary, error) {
	ctx, span := trace.StartSpan(ctx, "broker.GetAccountInfo")
	defer span.End()

	logger.Debug(ctx, "Fetching account summary", "venue", ob.broker.Venue())

	summary, err := ob.broker.GetAccountInfo(ctx)
	if err != nil {
		ob.logFailure(ctx, "Failed to fetch account summary", err)
		return types.AccountSummary{}, err
	}

	logger.Debug(ctx, "Account summary fetched", "venue", ob.broker.Venue(),
		"account_id", summary.ID, "equity", summary.Equity)
	return summary, nil
}

func (ob *observableBroker) Close() error {
	logger.Info(context.Background(), "Closing broker", "venue", ob.broker.Venue())
	return ob.broker.Close()
}

// logFailure routes rejections to the dedicated rejection log so the venue's
// message stays visible verbatim; everything else is an operational error.
func (ob *observableBroker) logFailure(ctx context.Context, msg string, err error, args ...any) {
	var rejected *broker.RejectedError
	if errors.As(err, &rejected) {
		logger.Reject(ctx, ob.broker.Venue(), rejected.Message)
		return
	}
	allArgs := append([]any{"venue", ob.broker.Venue()}, args...)
	logger.ErrorWithErr(ctx, msg, err, allArgs...)
}

// observableQuoteBroker adds the quote capability on top of the base wrapper.
type observableQuoteBroker struct {
	*observableBroker
	quotes interfaces.QuoteProvider
}

var _ interfaces.QuoteProvider = (*observableQuoteBroker)(nil)

func (ob *observableQuoteBroker) GetQuote(ctx context.Context, instrument string) (types.Quote, error) {
	ctx, span := trace.StartSpan(ctx, "broker.GetQuote")
	defer span.End()

	logger.Debug(ctx, "Fetching quote", "venue", ob.broker.Venue(), "instrument", instrument)

	quote, err := ob.quotes.GetQuote(ctx, instrument)
	if err != nil {
		ob.logFailure(ctx, "Failed to fetch quote", err, "instrument", instrument)
		return types.Quote{}, err
	}

	logger.Debug(ctx, "Quote fetched", "venue", ob.broker.Venue(),
		"instrument", instrument, "bid", quote.Bid, "ask", quote.Ask)
	return quote, nil
}

func (ob *observableQuoteBroker) SubscribeQuotes(ctx context.Context, instruments []string, fn func(types.Quote)) error {
	ctx, span := trace.StartSpan(ctx, "broker.SubscribeQuotes")
	defer span.End()

	logger.Info(ctx, "Subscribing to quotes", "venue", ob.broker.Venue(),
		"instruments", instruments)

	if err := ob.quotes.SubscribeQuotes(ctx, instruments, fn); err != nil {
		ob.logFailure(ctx, "Failed to subscribe to quotes", err)
		return err
	}
	return nil
}
