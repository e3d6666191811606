package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"broker-gateway/internal/broker"
)

// fakeConn is an in-process StreamConn. The test plays the venue side by
// reading client writes from sent and pushing frames into recv.
type fakeConn struct {
	recv   chan []byte
	sent   chan []byte
	done   chan struct{}
	once   sync.Once
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		recv: make(chan []byte, 16),
		sent: make(chan []byte, 16),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-c.recv:
		return 1, frame, nil
	case <-c.done:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case c.sent <- data:
		return nil
	case <-c.done:
		return errors.New("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func matchSymbol(action, symbol string) Matcher {
	return func(a string, frame []byte) bool {
		if a != action {
			return false
		}
		var probe struct {
			Symbol string `json:"symbol"`
		}
		return json.Unmarshal(frame, &probe) == nil && probe.Symbol == symbol
	}
}

func waitPending(t *testing.T, s *Stream, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.PendingCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d pending slots, got %d", want, s.PendingCount())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStreamNoCrossTalk(t *testing.T) {
	conn := newFakeConn()
	s := NewStream("metatrader", conn, time.Second)
	defer s.Close()

	type result struct {
		symbol string
		frame  []byte
		err    error
	}
	results := make(chan result, 2)
	for _, symbol := range []string{"EURUSD", "XAUUSD"} {
		symbol := symbol
		go func() {
			payload := []byte(fmt.Sprintf(`{"action":"TRADE","symbol":%q}`, symbol))
			frame, err := s.Send(context.Background(), payload, matchSymbol("TRADE", symbol))
			results <- result{symbol, frame, err}
		}()
	}
	waitPending(t, s, 2)

	// Noise first, then responses in reverse order of anything the callers
	// could rely on.
	conn.recv <- []byte(`{"action":"HEARTBEAT"}`)
	conn.recv <- []byte(`{"action":"TRADE","symbol":"XAUUSD","ticket":2}`)
	conn.recv <- []byte(`{"action":"TRADE","symbol":"EURUSD","ticket":1}`)

	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("Expected response for %s, got %v", r.symbol, r.err)
		}
		var resp struct {
			Symbol string `json:"symbol"`
		}
		if err := json.Unmarshal(r.frame, &resp); err != nil {
			t.Fatalf("Expected JSON frame, got %v", err)
		}
		if resp.Symbol != r.symbol {
			t.Errorf("Expected response for %s, got one for %s", r.symbol, resp.Symbol)
		}
	}
	if got := s.PendingCount(); got != 0 {
		t.Errorf("Expected no pending slots after delivery, got %d", got)
	}
}

func TestStreamFIFOForSameKey(t *testing.T) {
	conn := newFakeConn()
	s := NewStream("metatrader", conn, time.Second)
	defer s.Close()

	first := make(chan []byte, 1)
	second := make(chan []byte, 1)
	payload := []byte(`{"action":"TRADE","symbol":"EURUSD"}`)

	go func() {
		frame, _ := s.Send(context.Background(), payload, matchSymbol("TRADE", "EURUSD"))
		first <- frame
	}()
	waitPending(t, s, 1)
	go func() {
		frame, _ := s.Send(context.Background(), payload, matchSymbol("TRADE", "EURUSD"))
		second <- frame
	}()
	waitPending(t, s, 2)

	conn.recv <- []byte(`{"action":"TRADE","symbol":"EURUSD","ticket":1}`)
	conn.recv <- []byte(`{"action":"TRADE","symbol":"EURUSD","ticket":2}`)

	var resp struct {
		Ticket int `json:"ticket"`
	}
	if err := json.Unmarshal(<-first, &resp); err != nil || resp.Ticket != 1 {
		t.Errorf("Expected first registered caller to get ticket 1, got %d (%v)", resp.Ticket, err)
	}
	if err := json.Unmarshal(<-second, &resp); err != nil || resp.Ticket != 2 {
		t.Errorf("Expected second registered caller to get ticket 2, got %d (%v)", resp.Ticket, err)
	}
}

func TestStreamTimeoutReleasesSlotAndDiscardsLateMatch(t *testing.T) {
	conn := newFakeConn()
	s := NewStream("metatrader", conn, 50*time.Millisecond)
	defer s.Close()

	payload := []byte(`{"action":"TRADE","symbol":"EURUSD"}`)
	_, err := s.Send(context.Background(), payload, matchSymbol("TRADE", "EURUSD"))
	if !broker.IsTimeout(err) {
		t.Fatalf("Expected TimeoutError, got %v", err)
	}
	if got := s.PendingCount(); got != 0 {
		t.Fatalf("Expected slot released after timeout, got %d pending", got)
	}

	// The late response must not revive the dead request.
	conn.recv <- []byte(`{"action":"TRADE","symbol":"EURUSD","ticket":9}`)
	time.Sleep(20 * time.Millisecond)
	if got := s.PendingCount(); got != 0 {
		t.Errorf("Expected late match to be discarded, got %d pending", got)
	}
}

func TestStreamSubscribeDeliversUntilCancel(t *testing.T) {
	conn := newFakeConn()
	s := NewStream("metatrader", conn, time.Second)
	defer s.Close()

	ticks := make(chan []byte, 4)
	cancel := s.Subscribe(
		func(action string, _ []byte) bool { return action == "TICK" },
		func(frame []byte) { ticks <- frame },
	)

	conn.recv <- []byte(`{"action":"TICK","symbol":"EURUSD","bid":"1.1"}`)
	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("Expected tick delivery to subscriber")
	}

	cancel()
	conn.recv <- []byte(`{"action":"TICK","symbol":"EURUSD","bid":"1.2"}`)
	time.Sleep(20 * time.Millisecond)
	select {
	case <-ticks:
		t.Error("Expected no delivery after cancel")
	default:
	}
}

func TestStreamCloseFailsPendingCalls(t *testing.T) {
	conn := newFakeConn()
	s := NewStream("metatrader", conn, time.Second)

	errc := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(),
			[]byte(`{"action":"TRADE","symbol":"EURUSD"}`), matchSymbol("TRADE", "EURUSD"))
		errc <- err
	}()
	waitPending(t, s, 1)

	if err := s.Close(); err != nil {
		t.Fatalf("Expected clean close, got %v", err)
	}
	err := <-errc
	var te *broker.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Expected TransportError after close, got %v", err)
	}
	// Close again is a no-op.
	if err := s.Close(); err != nil {
		t.Errorf("Expected idempotent close, got %v", err)
	}
}
