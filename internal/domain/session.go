package domain

import "time"

// Session is an opaque handle to one live connection for one user. The
// concrete implementation is owned by the hub on the instance that accepted
// the connection; everything above it (registry, rooms, router) only needs
// identity and delivery.
type Session interface {
	// SessionID is unique per connection.
	SessionID() string
	// UserID is the authenticated owner. A session belongs to exactly one user.
	UserID() string
	// ConnectedAt is when the connection was accepted.
	ConnectedAt() time.Time
	// Deliver queues raw bytes for the session without blocking. Returns an
	// error when the consumer is too slow to keep up.
	Deliver(data []byte) error
	// SendJSON marshals v and queues it.
	SendJSON(v interface{}) error
	// Close tears down the transport and cancels the session's pending writes.
	Close()
}
