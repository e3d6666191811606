package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"broker-gateway/internal/broker"
)

// HTTPClient is the synchronous strategy: one request, one response, pairing
// done by the HTTP layer itself. Concurrent calls are independent; connection
// pooling is left to net/http.
type HTTPClient struct {
	venue   string
	client  *http.Client
	timeout time.Duration
	headers map[string]string
}

// NewHTTPClient creates a client for one venue. headers are attached to every
// request (auth headers typically); timeout <= 0 selects DefaultTimeout.
func NewHTTPClient(venue string, timeout time.Duration, headers map[string]string) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		venue:   venue,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		headers: headers,
	}
}

// Do issues one request and returns the status code and raw body. Network
// failures come back as TransportError, deadline expiry as TimeoutError.
func (c *HTTPClient) Do(ctx context.Context, method, url, contentType string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, &broker.TransportError{Venue: c.venue, Op: method + " " + url, Err: err}
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return 0, nil, &broker.TimeoutError{Venue: c.venue, Op: method + " " + url, Timeout: c.timeout}
		}
		return 0, nil, &broker.TransportError{Venue: c.venue, Op: method + " " + url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &broker.TransportError{Venue: c.venue, Op: method + " " + url, Err: err}
	}
	return resp.StatusCode, data, nil
}

// DoJSON marshals payload (when non-nil) and issues the request with a JSON
// content type.
func (c *HTTPClient) DoJSON(ctx context.Context, method, url string, payload any) (int, []byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode %s request: %w", url, err)
		}
	}
	return c.Do(ctx, method, url, "application/json", body)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
