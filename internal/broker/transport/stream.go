package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"broker-gateway/internal/broker"
	"broker-gateway/internal/logger"
)

// Matcher decides whether an inbound frame answers a particular request.
// action is the frame's decoded "action" field; frame is the raw payload.
// The remote protocol carries no request ID, so matchers key on the best
// identifying fields of the request (symbol, order type, volume, ...).
type Matcher func(action string, frame []byte) bool

// StreamConn is the subset of *websocket.Conn the stream needs. Tests
// substitute in-process connections from a mock server.
type StreamConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

var _ StreamConn = (*websocket.Conn)(nil)

// pendingSlot is a single-shot resolution slot for one outstanding request.
type pendingSlot struct {
	match Matcher
	resp  chan []byte // buffered; dispatch never blocks on a gone waiter
}

// Stream is the correlated duplex strategy. One persistent connection is
// shared by all concurrent callers; inbound frames are matched against the
// pending-slot table in registration order (FIFO per matching key) and a
// frame matching no slot is dropped.
type Stream struct {
	venue   string
	conn    StreamConn
	timeout time.Duration

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  []*pendingSlot
	subs     map[int]*subscription
	nextSub  int
	closed   bool
	closeErr error
	done     chan struct{}
}

// subscription is a standing matcher for unsolicited frames (ticks, venue
// events). Unlike a pending slot it is never consumed by a delivery.
type subscription struct {
	match Matcher
	fn    func(frame []byte)
}

// NewStream wraps an established connection and starts the read loop.
// timeout <= 0 selects DefaultTimeout.
func NewStream(venue string, conn StreamConn, timeout time.Duration) *Stream {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Stream{
		venue:   venue,
		conn:    conn,
		timeout: timeout,
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// DialStream connects to the venue's WebSocket endpoint and returns a running
// stream.
func DialStream(ctx context.Context, venue, url string, timeout time.Duration) (*Stream, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &broker.TransportError{Venue: venue, Op: "dial " + url, Err: err}
	}
	return NewStream(venue, conn, timeout), nil
}

// Send registers a pending slot, writes the frame, and waits for the first
// inbound frame the matcher accepts. Registration happens before the write so
// a response arriving between the two steps cannot be lost. Timeout and
// caller cancellation release the slot through the same path; a match
// arriving after release is discarded.
func (s *Stream) Send(ctx context.Context, payload []byte, match Matcher) ([]byte, error) {
	slot := &pendingSlot{match: match, resp: make(chan []byte, 1)}

	s.mu.Lock()
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		return nil, &broker.TransportError{Venue: s.venue, Op: "send", Err: err}
	}
	s.pending = append(s.pending, slot)
	s.mu.Unlock()

	s.writeMu.Lock()
	err := s.conn.WriteMessage(websocket.TextMessage, payload)
	s.writeMu.Unlock()
	if err != nil {
		s.release(slot)
		return nil, &broker.TransportError{Venue: s.venue, Op: "send", Err: err}
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case resp := <-slot.resp:
		return resp, nil
	case <-timer.C:
		s.release(slot)
		return nil, &broker.TimeoutError{Venue: s.venue, Op: "send", Timeout: s.timeout}
	case <-ctx.Done():
		s.release(slot)
		return nil, &broker.TransportError{Venue: s.venue, Op: "send", Err: ctx.Err()}
	case <-s.done:
		s.mu.Lock()
		err := s.closeErr
		s.mu.Unlock()
		return nil, &broker.TransportError{Venue: s.venue, Op: "send", Err: err}
	}
}

// Subscribe registers a standing handler for frames no pending slot claims.
// fn runs on the read loop goroutine and must not block. The returned cancel
// removes the handler and is safe to call more than once.
func (s *Stream) Subscribe(match Matcher, fn func(frame []byte)) (cancel func()) {
	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[int]*subscription)
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = &subscription{match: match, fn: fn}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// PendingCount reports the number of outstanding slots.
func (s *Stream) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close shuts the connection down and fails all outstanding calls. Safe to
// call more than once and safe after a failed dial path.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.closeErr = errStreamClosed
	s.pending = nil
	s.subs = nil
	close(s.done)
	s.mu.Unlock()
	return s.conn.Close()
}

var errStreamClosed = &closedError{}

type closedError struct{}

func (*closedError) Error() string { return "connection closed" }

// release removes a slot that timed out or was cancelled. Idempotent against
// a concurrent dispatch: if the slot was already matched, the buffered
// response is simply never read.
func (s *Stream) release(slot *pendingSlot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.pending {
		if p == slot {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

func (s *Stream) readLoop() {
	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if !s.closed {
				s.closed = true
				s.closeErr = err
				s.pending = nil
				s.subs = nil
				close(s.done)
			}
			s.mu.Unlock()
			return
		}
		s.dispatch(frame)
	}
}

// dispatch fulfills exactly one pending slot, the first registered whose
// matcher accepts the frame.
func (s *Stream) dispatch(frame []byte) {
	var envelope struct {
		Action string `json:"action"`
	}
	// Non-JSON frames are still offered to matchers with an empty action.
	_ = json.Unmarshal(frame, &envelope)

	s.mu.Lock()
	for i, slot := range s.pending {
		if slot.match(envelope.Action, frame) {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			s.mu.Unlock()
			slot.resp <- frame
			return
		}
	}
	var handlers []func(frame []byte)
	for _, sub := range s.subs {
		if sub.match(envelope.Action, frame) {
			handlers = append(handlers, sub.fn)
		}
	}
	s.mu.Unlock()

	if len(handlers) > 0 {
		for _, fn := range handlers {
			fn(frame)
		}
		return
	}
	logger.Debug(context.Background(), "Dropping unmatched stream frame",
		"venue", s.venue, "action", envelope.Action)
}
