package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"

	"broker-gateway/internal/broker"
	"broker-gateway/internal/logger"
)

// Queue is the correlated-queue strategy over a push/pull socket pair
// speaking pipe-delimited text frames. The inbound channel carries no
// per-message key, so only one exchange may be in flight; the admission lock
// lives here so every adapter on this transport inherits the guarantee.
type Queue struct {
	venue   string
	push    QueuePushSocket
	timeout time.Duration

	// exchange admission: strictly one in-flight command/response pair.
	mu sync.Mutex

	inbound  chan string
	done     chan struct{}
	closeErr error
	once     sync.Once
	closeFn  func() error
}

// QueuePushSocket is the outbound half of the pair. Tests substitute
// in-memory fakes; production uses zmq4 push sockets.
type QueuePushSocket interface {
	Send(msg zmq4.Msg) error
}

// NewQueue wraps an outbound socket and an inbound frame source. recv is
// pumped from a goroutine until it errors; frames arriving with no waiter
// stay queued and are discarded by the next exchange's filter.
func NewQueue(venue string, push QueuePushSocket, recv func() (string, error), closeFn func() error, timeout time.Duration) *Queue {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	q := &Queue{
		venue:   venue,
		push:    push,
		timeout: timeout,
		inbound: make(chan string, 16),
		done:    make(chan struct{}),
		closeFn: closeFn,
	}
	go q.pump(recv)
	return q
}

// DialQueue connects the push socket to port and the pull socket to port+1,
// the bridge connector's convention.
func DialQueue(ctx context.Context, venue, host string, port int, timeout time.Duration) (*Queue, error) {
	push := zmq4.NewPush(ctx)
	if err := push.Dial(fmt.Sprintf("tcp://%s:%d", host, port)); err != nil {
		_ = push.Close()
		return nil, &broker.TransportError{Venue: venue, Op: "dial push", Err: err}
	}
	pull := zmq4.NewPull(ctx)
	if err := pull.Dial(fmt.Sprintf("tcp://%s:%d", host, port+1)); err != nil {
		_ = push.Close()
		_ = pull.Close()
		return nil, &broker.TransportError{Venue: venue, Op: "dial pull", Err: err}
	}
	recv := func() (string, error) {
		msg, err := pull.Recv()
		if err != nil {
			return "", err
		}
		return string(msg.Bytes()), nil
	}
	closeFn := func() error {
		err := push.Close()
		if perr := pull.Close(); err == nil {
			err = perr
		}
		return err
	}
	return NewQueue(venue, push, recv, closeFn, timeout), nil
}

func (q *Queue) pump(recv func() (string, error)) {
	for {
		frame, err := recv()
		if err != nil {
			q.fail(err)
			return
		}
		select {
		case q.inbound <- frame:
		case <-q.done:
			return
		}
	}
}

func (q *Queue) fail(err error) {
	q.once.Do(func() {
		q.closeErr = err
		close(q.done)
	})
}

// Exchange sends one pipe-delimited command and consumes inbound frames in
// arrival order until one parses as "<action>|OK|..." or "ERROR|message".
// Frames answering neither are dropped. ERROR frames surface as
// RejectedError carrying the venue's message text verbatim.
func (q *Queue) Exchange(ctx context.Context, action string, fields ...string) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case <-q.done:
		return nil, &broker.TransportError{Venue: q.venue, Op: action, Err: q.closeErr}
	default:
	}

	// Exchanges are serialized, so anything buffered at this point is a reply
	// to an exchange that already gave up. Drain before sending so a late
	// same-action frame cannot be claimed as this command's response.
drain:
	for {
		select {
		case frame := <-q.inbound:
			logger.Debug(ctx, "Dropping stale queue frame", "venue", q.venue, "frame", strings.SplitN(frame, "|", 2)[0])
		default:
			break drain
		}
	}

	command := strings.Join(append([]string{action}, fields...), "|")
	if err := q.push.Send(zmq4.NewMsgString(command)); err != nil {
		return nil, &broker.TransportError{Venue: q.venue, Op: action, Err: err}
	}

	timer := time.NewTimer(q.timeout)
	defer timer.Stop()

	for {
		select {
		case frame := <-q.inbound:
			parts := strings.Split(frame, "|")
			if len(parts) >= 2 && parts[0] == "ERROR" {
				return nil, &broker.RejectedError{Venue: q.venue, Message: strings.Join(parts[1:], "|")}
			}
			if len(parts) >= 2 && parts[0] == action && parts[1] == "OK" {
				return parts, nil
			}
			// Stale or unaddressed frame; not for this exchange.
			logger.Debug(ctx, "Dropping unmatched queue frame", "venue", q.venue, "frame", parts[0])
		case <-timer.C:
			return nil, &broker.TimeoutError{Venue: q.venue, Op: action, Timeout: q.timeout}
		case <-ctx.Done():
			return nil, &broker.TransportError{Venue: q.venue, Op: action, Err: ctx.Err()}
		case <-q.done:
			return nil, &broker.TransportError{Venue: q.venue, Op: action, Err: q.closeErr}
		}
	}
}

// Close shuts both sockets down. Safe to call repeatedly and after a partly
// failed dial.
func (q *Queue) Close() error {
	q.fail(errQueueClosed)
	if q.closeFn != nil {
		return q.closeFn()
	}
	return nil
}

var errQueueClosed = fmt.Errorf("queue closed")
