// Package broker holds the vocabulary shared by every venue adapter: the
// error taxonomy and order-request validation.
package broker

import (
	"errors"
	"fmt"
	"time"
)

// TransportError wraps a network or connection failure. The venue never saw,
// or never answered, the request.
type TransportError struct {
	Venue string
	Op    string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure during %s: %v", e.Venue, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError reports that a pending call exceeded its deadline and was
// removed from response tracking.
type TimeoutError struct {
	Venue   string
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s timed out after %s", e.Venue, e.Op, e.Timeout)
}

// RejectedError means the venue received and declined the request. Message is
// the venue's own text, verbatim.
type RejectedError struct {
	Venue   string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected request: %s", e.Venue, e.Message)
}

// UnsupportedFeatureError reports a venue/option combination this adapter
// does not implement, as opposed to one the venue declined.
type UnsupportedFeatureError struct {
	Venue   string
	Feature string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Venue, e.Feature)
}

// UnsupportedVenueError reports a configuration naming a venue the registry
// does not know.
type UnsupportedVenueError struct {
	Venue string
}

func (e *UnsupportedVenueError) Error() string {
	return fmt.Sprintf("unsupported venue %q", e.Venue)
}

// ParseError wraps a response whose shape or field values could not be
// interpreted.
type ParseError struct {
	Venue string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Venue, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is, or wraps, a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsRejected reports whether err is, or wraps, a RejectedError.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
