package broker

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"broker-gateway/internal/types"
)

var two = decimal.NewFromInt(2)

// NewQuote assembles a canonical quote from venue bid/ask. A negative
// computed spread indicates a malformed quote and is rejected.
func NewQuote(venue, instrument string, bid, ask decimal.Decimal, ts time.Time) (types.Quote, error) {
	spread := ask.Sub(bid)
	if spread.IsNegative() {
		return types.Quote{}, &ParseError{
			Venue: venue,
			Err:   fmt.Errorf("negative spread: bid %s, ask %s", bid, ask),
		}
	}
	return types.Quote{
		Instrument: instrument,
		Bid:        bid,
		Ask:        ask,
		Mid:        bid.Add(ask).Div(two),
		Spread:     spread,
		Timestamp:  ts,
	}, nil
}
