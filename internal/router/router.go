// Package router orchestrates event delivery: local sessions first, then
// fleet-wide fanout over the broker bridge, with the offline store as the
// durable fallback. It is a pure orchestrator; retries live at the adapter
// boundaries.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nimbuswire/notify-service/internal/broker"
	"github.com/nimbuswire/notify-service/internal/config"
	"github.com/nimbuswire/notify-service/internal/domain"
	"github.com/nimbuswire/notify-service/internal/registry"
	"github.com/nimbuswire/notify-service/internal/rooms"
	"github.com/nimbuswire/notify-service/internal/store"
	"github.com/nimbuswire/notify-service/pkg/log"
)

// State is the terminal disposition of a dispatched event on the
// originating instance.
type State string

const (
	// StateDelivered means at least one local delivery occurred at
	// origination.
	StateDelivered State = "delivered"
	// StateStoredOffline means no local session existed at origination and
	// the event went to the durable fallback. Another instance may still
	// deliver it live; the reconnect drain dedups by event ID.
	StateStoredOffline State = "stored_offline"
)

// Result reports how a dispatch concluded.
type Result struct {
	EventID        string `json:"event_id"`
	State          State  `json:"state"`
	LocalDelivered int    `json:"local_delivered"`
}

// DeliverySignal is the side channel consumed by observability tooling; it
// fires once per event per instance on the first local delivery.
type DeliverySignal func(eventID, userID string)

// Router is the per-instance delivery orchestrator.
type Router struct {
	registry *registry.Registry
	rooms    *rooms.Manager
	bridge   broker.Bridge
	store    store.OfflineStore

	// handled suppresses duplicate broker observations: an event ID enters
	// it when this instance first acts on the event, at origination or on
	// first observation.
	handled *seenSet
	// delivered records event IDs that reached at least one local session,
	// backing the delivered-state query.
	delivered *seenSet

	signal       DeliverySignal
	drainTimeout time.Duration
}

// New wires a router over the instance's registry, rooms, bridge, and
// offline store, hooks the registry's online transition for backlog drain,
// and subscribes to the bridge.
func New(
	reg *registry.Registry,
	rm *rooms.Manager,
	bridge broker.Bridge,
	offline store.OfflineStore,
	cfg config.RouterConfig,
) (*Router, error) {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 2 * time.Minute
	}
	r := &Router{
		registry:     reg,
		rooms:        rm,
		bridge:       bridge,
		store:        offline,
		handled:      newSeenSet(cfg.DedupWindow),
		delivered:    newSeenSet(cfg.DedupWindow),
		drainTimeout: cfg.DrainTimeout,
	}
	if r.drainTimeout <= 0 {
		r.drainTimeout = 30 * time.Second
	}

	reg.SetOnlineHook(r.onUserOnline)

	if err := bridge.Subscribe(r.handleObserved); err != nil {
		return nil, err
	}
	return r, nil
}

// SetDeliverySignal installs the delivered side channel.
func (r *Router) SetDeliverySignal(signal DeliverySignal) {
	r.signal = signal
}

// Dispatch runs one event through the delivery state machine:
// local check, exactly one publish, durable fallback. excludeSessionID
// suppresses echo to the originating session on room broadcasts.
func (r *Router) Dispatch(ctx context.Context, event *domain.Event, excludeSessionID string) (*Result, error) {
	l := log.Ctx(ctx).With().
		Str(log.FieldEventID, event.EventID).
		Str(log.FieldEventType, string(event.Type)).
		Str(log.FieldUserID, event.RecipientUserID).
		Logger()

	// Claim the event ID before publishing so our own broker observation
	// cannot deliver locally a second time.
	r.handled.observe(event.EventID)

	localCount, recipientCount := r.deliverLocal(event, excludeSessionID)
	if r.reachedRecipient(event, localCount, recipientCount) {
		r.markDelivered(event)
	}

	// Exactly one publish per origination. On failure, fall through to the
	// durable fallback; the sender never sees broker trouble.
	published := true
	if err := r.bridge.Publish(ctx, event); err != nil {
		published = false
		l.Warn().Err(err).Msg("broker publish failed, falling back to offline store")
	}

	// No local delivery to the recipient's own sessions means nobody here
	// can vouch for the recipient; store durably rather than waiting on a
	// fleet-wide negative acknowledgment. A room broadcast that only reached
	// other members does not count. A live delivery elsewhere plus this
	// stored copy is resolved by event-ID dedup on drain.
	if recipientCount == 0 || !published {
		if err := r.storeOffline(ctx, event); err != nil {
			l.Error().Err(err).Msg("offline store write failed, event durability lost")
			return &Result{EventID: event.EventID, State: StateStoredOffline, LocalDelivered: localCount}, err
		}
		if localCount == 0 {
			l.Debug().Msg("event stored offline")
			return &Result{EventID: event.EventID, State: StateStoredOffline}, nil
		}
	}

	l.Debug().Int("local_delivered", localCount).Msg("event dispatched")
	return &Result{EventID: event.EventID, State: StateDelivered, LocalDelivered: localCount}, nil
}

// handleObserved consumes one event observed on the broker bridge. The
// bridge delivers at-least-once and the originating instance observes its
// own publishes, so everything here dedups on event ID.
func (r *Router) handleObserved(ctx context.Context, event *domain.Event) {
	if !r.handled.observe(event.EventID) {
		return
	}

	localCount, recipientCount := r.deliverLocal(event, "")
	if !r.reachedRecipient(event, localCount, recipientCount) {
		return
	}
	r.markDelivered(event)
	if event.RecipientUserID == "" {
		return
	}

	// The recipient saw the event live, so any stored copy is redundant;
	// flag it so the next drain skips it. No-op when nothing was stored.
	if err := r.store.MarkDelivered(ctx, event.EventID, event.RecipientUserID); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldEventID, event.EventID).Msg("failed to mark remotely observed event delivered")
	}
}

// reachedRecipient decides whether a round of local deliveries counts as
// delivering the event. Events addressed to a recipient count only
// deliveries to that recipient's own sessions; recipient-less room events
// count any member.
func (r *Router) reachedRecipient(event *domain.Event, localCount, recipientCount int) bool {
	if event.RecipientUserID != "" {
		return recipientCount > 0
	}
	return localCount > 0
}

// deliverLocal pushes the event to every matching local session: the room's
// local materialization for room events, the recipient's sessions otherwise.
// Returns total deliveries and deliveries to the recipient's own sessions.
func (r *Router) deliverLocal(event *domain.Event, excludeSessionID string) (int, int) {
	if event.RoomID != "" {
		return r.rooms.BroadcastLocal(event.RoomID, event, excludeSessionID)
	}
	n := r.deliverToUser(event, event.RecipientUserID)
	return n, n
}

func (r *Router) deliverToUser(event *domain.Event, userID string) int {
	sessions := r.registry.SessionsFor(userID)
	if len(sessions) == 0 {
		return 0
	}

	data, err := json.Marshal(domain.NewEventPush(event))
	if err != nil {
		return 0
	}

	delivered := 0
	for _, session := range sessions {
		if err := session.Deliver(data); err != nil {
			r.registry.Drop(session.SessionID())
			continue
		}
		delivered++
	}
	return delivered
}

func (r *Router) storeOffline(ctx context.Context, event *domain.Event) error {
	if event.RecipientUserID == "" {
		// Room broadcasts without a resolvable recipient have no durable
		// fallback; membership is the caller's policy.
		return nil
	}
	err := r.store.Store(ctx, &domain.OfflineNotification{Event: event})
	if err != nil && !errors.Is(err, store.ErrStoreUnavailable) {
		err = errors.Join(store.ErrStoreUnavailable, err)
	}
	return err
}

// onUserOnline drains the user's backlog into the freshly registered
// session. Runs on the registry's offline-to-online transition.
func (r *Router) onUserOnline(userID string, session domain.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), r.drainTimeout)
	defer cancel()
	l := log.L().With().Str(log.FieldUserID, userID).Logger()

	notifications, err := r.store.FetchUndelivered(ctx, userID)
	if err != nil {
		l.Error().Err(err).Msg("backlog fetch failed")
		return
	}
	if len(notifications) == 0 {
		return
	}

	drained := 0
	for _, n := range notifications {
		data, err := json.Marshal(domain.NewEventPush(n.Event))
		if err != nil {
			continue
		}
		if err := session.Deliver(data); err != nil {
			r.registry.Drop(session.SessionID())
			break
		}
		if err := r.store.MarkDelivered(ctx, n.Event.EventID, userID); err != nil {
			l.Warn().Err(err).Str(log.FieldEventID, n.Event.EventID).Msg("failed to mark drained event delivered")
		}
		r.markDeliveredID(n.Event.EventID, userID)
		drained++
	}

	l.Info().Int("count", drained).Msg("backlog drained")
}

// IsDelivered reports whether this instance saw a local delivery for the
// event within the dedup window. It is the delivered-state side channel's
// query shape; fleet-wide truth lives with the signal consumer.
func (r *Router) IsDelivered(eventID string) bool {
	return r.delivered.contains(eventID)
}

func (r *Router) markDelivered(event *domain.Event) {
	r.markDeliveredID(event.EventID, event.RecipientUserID)
}

func (r *Router) markDeliveredID(eventID, userID string) {
	if r.delivered.observe(eventID) && r.signal != nil {
		r.signal(eventID, userID)
	}
}

// Close stops the dedup janitors. The bridge and store are closed by their
// owners.
func (r *Router) Close() {
	r.handled.stop()
	r.delivered.stop()
}
