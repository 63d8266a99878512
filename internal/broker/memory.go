package broker

import (
	"context"
	"sync"

	"github.com/nimbuswire/notify-service/internal/domain"
)

// Bus is an in-process fanout channel. One Bus stands in for the shared
// broker; each Bridge attached to it models one instance's connection.
// Single-instance deployments run on it directly, and tests use it to put
// several router instances on one channel.
type Bus struct {
	mu      sync.RWMutex
	bridges []*memoryBridge
}

// NewBus creates an empty in-process fanout bus.
func NewBus() *Bus {
	return &Bus{}
}

// NewBridge attaches a new instance connection to the bus.
func (b *Bus) NewBridge() Bridge {
	mb := &memoryBridge{
		bus:    b,
		events: make(chan *domain.Event, 256),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.bridges = append(b.bridges, mb)
	b.mu.Unlock()
	return mb
}

func (b *Bus) dispatch(event *domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, mb := range b.bridges {
		mb.enqueue(event)
	}
}

type memoryBridge struct {
	bus    *Bus
	events chan *domain.Event
	done   chan struct{}

	mu      sync.Mutex
	handler Handler
	started bool
	closed  bool
}

func (mb *memoryBridge) Publish(_ context.Context, event *domain.Event) error {
	mb.mu.Lock()
	closed := mb.closed
	mb.mu.Unlock()
	if closed {
		return ErrBrokerUnavailable
	}
	mb.bus.dispatch(event)
	return nil
}

func (mb *memoryBridge) Subscribe(handler Handler) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.started {
		return nil
	}
	mb.handler = handler
	mb.started = true
	go mb.consume()
	return nil
}

// consume preserves arrival order per bridge, matching the per-key ordering
// a real broker gives a single subscribing instance.
func (mb *memoryBridge) consume() {
	for {
		select {
		case <-mb.done:
			return
		case event := <-mb.events:
			mb.handler(context.Background(), event)
		}
	}
}

func (mb *memoryBridge) enqueue(event *domain.Event) {
	mb.mu.Lock()
	closed := mb.closed
	mb.mu.Unlock()
	if closed {
		return
	}
	select {
	case mb.events <- event:
	default:
		// Queue full: drop for this observer. At-least-once comes from the
		// durable fallback, not from this channel.
	}
}

func (mb *memoryBridge) Close() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return nil
	}
	mb.closed = true
	close(mb.done)
	return nil
}
