// Package store adapts the external durable collaborator that holds
// undelivered events keyed by recipient. The core depends only on the
// OfflineStore interface; retention and expiry are the collaborator's
// policy, so nothing here ever deletes a record.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimbuswire/notify-service/internal/config"
	"github.com/nimbuswire/notify-service/internal/domain"
)

// ErrStoreUnavailable reports a failed durable write or read. For writes
// this breaks the at-least-once guarantee for an offline recipient and must
// be surfaced, not swallowed.
var ErrStoreUnavailable = errors.New("offline store unavailable")

// OfflineStore is the durable fallback for recipients with no live session.
type OfflineStore interface {
	// Store persists one notification. Storing the same event twice is
	// harmless; consumption dedups on event ID.
	Store(ctx context.Context, n *domain.OfflineNotification) error
	// FetchUndelivered returns the user's undelivered backlog ordered by
	// the event's creation time, oldest first.
	FetchUndelivered(ctx context.Context, userID string) ([]*domain.OfflineNotification, error)
	// MarkDelivered flags one stored event as delivered. Records are never
	// deleted here.
	MarkDelivered(ctx context.Context, eventID, userID string) error
	Close() error
}

// New creates an offline store for the configured driver.
func New(cfg config.StoreConfig) (OfflineStore, error) {
	switch cfg.Driver {
	case "cassandra":
		return NewCassandraStore(cfg.Cassandra)
	case "gorm":
		return NewGormStore(cfg.Database)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}
