// Package broker is the bridge to the fleet-wide fanout channel. Every
// instance publishes events it originates and observes events published by
// any instance, including its own. Delivery from the channel is
// at-least-once; handlers must be idempotent on the event ID.
package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimbuswire/notify-service/internal/config"
	"github.com/nimbuswire/notify-service/internal/domain"
)

// ErrBrokerUnavailable reports a failed publish. The router recovers by
// routing straight to the durable fallback.
var ErrBrokerUnavailable = errors.New("broker unavailable")

// Handler consumes one observed event. Invoked once per observed event per
// process; duplicates across observations carry the same event ID.
type Handler func(ctx context.Context, event *domain.Event)

// Bridge publishes to and subscribes from the shared fanout channel.
type Bridge interface {
	// Publish sends the event on the fanout channel, atomically from the
	// caller's perspective: it either succeeds or fails with
	// ErrBrokerUnavailable, never partially.
	Publish(ctx context.Context, event *domain.Event) error
	// Subscribe registers the handler and starts consuming. At most one
	// handler per bridge.
	Subscribe(handler Handler) error
	Close() error
}

// New creates a bridge for the configured driver. instanceID keeps each
// instance in its own consumer group so every instance observes every event.
func New(cfg config.BrokerConfig, instanceID string) (Bridge, error) {
	switch cfg.Driver {
	case "kafka":
		return NewKafkaBridge(cfg.Kafka, instanceID)
	case "redis":
		return NewRedisBridge(cfg.Redis)
	case "memory":
		return NewBus().NewBridge(), nil
	default:
		return nil, fmt.Errorf("unsupported broker driver: %s", cfg.Driver)
	}
}
