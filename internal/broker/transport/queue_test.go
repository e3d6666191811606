package transport

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"

	"broker-gateway/internal/broker"
)

// fakePush records outbound commands.
type fakePush struct {
	sent chan string
}

func (p *fakePush) Send(msg zmq4.Msg) error {
	p.sent <- string(msg.Bytes())
	return nil
}

func newTestQueue(timeout time.Duration) (*Queue, *fakePush, chan string) {
	push := &fakePush{sent: make(chan string, 16)}
	responses := make(chan string, 16)
	recv := func() (string, error) {
		frame, ok := <-responses
		if !ok {
			return "", io.EOF
		}
		return frame, nil
	}
	q := NewQueue("metatrader", push, recv, func() error { close(responses); return nil }, timeout)
	return q, push, responses
}

// respond plays the bridge side: it waits for the next outbound command,
// queues frames as the reply, and hands the observed command back for
// assertions. Replying only after the send mirrors the real socket pair.
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

func TestQueueExchange(t *testing.T) {
	q, push, responses := newTestQueue(time.Second)
	defer q.Close()

	seen := respond(push, responses, "TRADE|OK|12345|2400.50")
	parts, err := q.Exchange(context.Background(), "TRADE", "OPEN", "XAUUSD", "0", "10", "", "0", "0", "", "0")
	if err != nil {
		t.Fatalf("Expected exchange to succeed, got %v", err)
	}
	if parts[2] != "12345" || parts[3] != "2400.50" {
		t.Errorf("Expected ticket and price fields, got %v", parts)
	}

	if command := <-seen; command != "TRADE|OPEN|XAUUSD|0|10||0|0||0" {
		t.Errorf("Unexpected command frame: %s", command)
	}
}

func TestQueueErrorFrameBecomesRejection(t *testing.T) {
	q, push, responses := newTestQueue(time.Second)
	defer q.Close()

	respond(push, responses, "ERROR|Insufficient margin")
	_, err := q.Exchange(context.Background(), "TRADE", "OPEN", "EURUSD", "0", "100", "", "0", "0", "", "0")

	var rejected *broker.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Expected RejectedError, got %v", err)
	}
	if rejected.Message != "Insufficient margin" {
		t.Errorf("Expected venue message verbatim, got %q", rejected.Message)
	}
}

func TestQueueDropsStaleFrames(t *testing.T) {
	q, push, responses := newTestQueue(time.Second)
	defer q.Close()

	// A frame for another action arrives ahead of the real reply; the
	// exchange must skip past it.
	respond(push, responses,
		"TRADE|OK|99|1.2345",
		"ACCOUNT|OK|1001|USD|50000|50210.25|48000|2210.25")

	parts, err := q.Exchange(context.Background(), "ACCOUNT", "GET")
	if err != nil {
		t.Fatalf("Expected exchange to succeed, got %v", err)
	}
	if parts[2] != "1001" || parts[3] != "USD" {
		t.Errorf("Expected account frame, got %s", strings.Join(parts, "|"))
	}
}

func TestQueueLateReplyNotDeliveredToNextCall(t *testing.T) {
	q, push, responses := newTestQueue(50 * time.Millisecond)
	defer q.Close()

	_, err := q.Exchange(context.Background(), "TRADE", "OPEN", "EURUSD", "0", "100", "", "0", "0", "", "0")
	if !broker.IsTimeout(err) {
		t.Fatalf("Expected TimeoutError, got %v", err)
	}
	<-push.sent

	// The reply lands after its caller gave up. Give the pump time to
	// buffer it before the next exchange starts.
	responses <- "TRADE|OK|111|1.1000"
	time.Sleep(20 * time.Millisecond)

	seen := respond(push, responses, "TRADE|OK|222|2400.50")
	parts, err := q.Exchange(context.Background(), "TRADE", "OPEN", "XAUUSD", "0", "10", "", "0", "0", "", "0")
	if err != nil {
		t.Fatalf("Expected fresh exchange to succeed, got %v", err)
	}
	if parts[2] != "222" {
		t.Errorf("Expected the fresh ticket, got %s", strings.Join(parts, "|"))
	}
	<-seen
}

func TestQueueTimeout(t *testing.T) {
	q, _, _ := newTestQueue(50 * time.Millisecond)
	defer q.Close()

	_, err := q.Exchange(context.Background(), "POSITIONS", "GET")
	if !broker.IsTimeout(err) {
		t.Fatalf("Expected TimeoutError, got %v", err)
	}
}

func TestQueueCloseFailsExchanges(t *testing.T) {
	q, _, _ := newTestQueue(time.Second)
	if err := q.Close(); err != nil {
		t.Fatalf("Expected clean close, got %v", err)
	}

	_, err := q.Exchange(context.Background(), "ACCOUNT", "GET")
	var te *broker.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Expected TransportError after close, got %v", err)
	}
}
