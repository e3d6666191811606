// Package transport implements the three request/response mechanisms the
// venue adapters compose: synchronous HTTP, a correlated duplex stream
// (WebSocket), and a correlated message-queue pair (push/pull). All three
// fail a pending call with a typed timeout after a configurable interval.
package transport

import "time"

// DefaultTimeout bounds every pending call unless the adapter configures
// otherwise.
const DefaultTimeout = 30 * time.Second
