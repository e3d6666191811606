package metatrader

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/shopspring/decimal"

	"broker-gateway/internal/broker"
	"broker-gateway/internal/broker/transport"
	"broker-gateway/internal/types"
)

type fakePush struct {
	sent chan string
}

func (p *fakePush) Send(msg zmq4.Msg) error {
	p.sent <- string(msg.Bytes())
	return nil
}

func testQueueBridge(t *testing.T) (*queueBridge, *fakePush, chan string) {
	t.Helper()
	push := &fakePush{sent: make(chan string, 16)}
	responses := make(chan string, 16)
	recv := func() (string, error) {
		frame, ok := <-responses
		if !ok {
			return "", io.EOF
		}
		return frame, nil
	}
	q := transport.NewQueue(venueName, push, recv, func() error { return nil }, time.Second)
	b := newQueueBridge(q)
	t.Cleanup(func() { b.Close() })
	return b, push, responses
}

// respond plays the bridge terminal: reply frames are queued only after the
// command goes out, the way the real socket pair behaves.
func respond(push *fakePush, responses chan string, frames ...string) <-chan string {
	seen := make(chan string, 1)
	go func() {
		command := <-push.sent
		for _, frame := range frames {
			responses <- frame
		}
		seen <- command
	}()
	return seen
}

func TestQueueCreateMarketOrder(t *testing.T) {
	b, push, responses := testQueueBridge(t)

	seen := respond(push, responses, "TRADE|OK|20001|2400.50")
	order, err := b.CreateOrder(context.Background(), types.OrderRequest{
		Instrument: "XAU/USD",
		Type:       types.OrderTypeMarket,
		Side:       types.SideBuy,
		Quantity:   decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("Expected order, got %v", err)
	}
	if order.ID != "20001" {
		t.Errorf("Expected ticket 20001, got %s", order.ID)
	}
	if order.Status != types.StatusFilled {
		t.Errorf("Expected market order to report filled, got %s", order.Status)
	}
	if order.FilledPrice == nil || !order.FilledPrice.Equal(decimal.RequireFromString("2400.50")) {
		t.Errorf("Expected fill at 2400.50, got %v", order.FilledPrice)
	}

	if command := <-seen; command != "TRADE|OPEN|XAUUSD|0|10||0|0||0" {
		t.Errorf("Unexpected command: %s", command)
	}
}

func TestQueueCreateOrderRejection(t *testing.T) {
	b, push, responses := testQueueBridge(t)

	respond(push, responses, "ERROR|Insufficient margin")
	_, err := b.CreateOrder(context.Background(), types.OrderRequest{
		Instrument: "EUR/USD",
		Type:       types.OrderTypeMarket,
		Side:       types.SideBuy,
		Quantity:   decimal.NewFromInt(100),
	})
	var rejected *broker.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Expected RejectedError, got %v", err)
	}
	if rejected.Message != "Insufficient margin" {
		t.Errorf("Expected venue message verbatim, got %q", rejected.Message)
	}
}

func TestQueueGetOrder(t *testing.T) {
	b, push, responses := testQueueBridge(t)

	seen := respond(push, responses, "ORDER|OK|20002|EURUSD|2|0.5|0|1.0950|0|0|pending")
	order, err := b.GetOrder(context.Background(), "20002")
	if err != nil {
		t.Fatalf("Expected order, got %v", err)
	}
	if order.Instrument != "EUR/USD" {
		t.Errorf("Expected canonical instrument, got %s", order.Instrument)
	}
	if order.Side != types.SideBuy || order.Type != types.OrderTypeLimit {
		t.Errorf("Expected buy limit from code 2, got %s %s", order.Side, order.Type)
	}
	if order.Status != types.StatusPending {
		t.Errorf("Expected pending, got %s", order.Status)
	}

	if command := <-seen; command != "ORDER|GET|20002" {
		t.Errorf("Unexpected command: %s", command)
	}
}

func TestQueueGetPositions(t *testing.T) {
	b, push, responses := testQueueBridge(t)

	respond(push, responses, "POSITIONS|OK|2|"+
		"XAUUSD|0|10|2400.50|2410.00|95.00|"+
		"EURUSD|1|0.5|1.1000|1.0950|25.00")
	positions, err := b.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("Expected positions, got %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("Expected 2 positions, got %d", len(positions))
	}
	if positions[0].Side != types.PositionLong || positions[1].Side != types.PositionShort {
		t.Errorf("Expected long then short, got %s %s", positions[0].Side, positions[1].Side)
	}
	if positions[1].Instrument != "EUR/USD" {
		t.Errorf("Expected canonical instrument, got %s", positions[1].Instrument)
	}
}

func TestQueueGetAccountInfo(t *testing.T) {
	b, push, responses := testQueueBridge(t)

	respond(push, responses, "ACCOUNT|OK|1001|USD|50000|50210.25|48000|2210.25")
	account, err := b.GetAccountInfo(context.Background())
	if err != nil {
		t.Fatalf("Expected account, got %v", err)
	}
	if account.ID != "1001" || account.Currency != "USD" {
		t.Errorf("Unexpected account identity: %s %s", account.ID, account.Currency)
	}
	if !account.BuyingPower.Equal(decimal.NewFromInt(48000)) {
		t.Errorf("Expected free margin as buying power, got %s", account.BuyingPower)
	}
}

func TestQueueTruncatedFrame(t *testing.T) {
	b, push, responses := testQueueBridge(t)

	respond(push, responses, "ACCOUNT|OK|1001")
	_, err := b.GetAccountInfo(context.Background())
	var pe *broker.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected ParseError for truncated frame, got %v", err)
	}
}
