// Package registry tracks the live sessions this instance holds for each
// user. It is in-memory only and is not a durability boundary; entries are
// removable without the transport confirming closure.
package registry

import (
	"hash/fnv"
	"sync"

	"github.com/nimbuswire/notify-service/internal/domain"
	"github.com/nimbuswire/notify-service/pkg/log"
)

const shardCount = 32

// OnlineHook is invoked when a user transitions from zero local sessions to
// one. The backlog-drain logic lives with the caller, not here.
type OnlineHook func(userID string, session domain.Session)

type shard struct {
	mu    sync.RWMutex
	users map[string]map[string]domain.Session // userID -> sessionID -> session
}

// Registry is the per-instance connection registry, sharded by userID hash
// so unrelated users' traffic never contends on one lock.
type Registry struct {
	instanceID string
	shards     [shardCount]*shard
	sessions   sync.Map // sessionID -> domain.Session
	onOnline   OnlineHook
}

// New creates an empty registry for this instance.
func New(instanceID string) *Registry {
	r := &Registry{instanceID: instanceID}
	for i := range r.shards {
		r.shards[i] = &shard{users: make(map[string]map[string]domain.Session)}
	}
	return r
}

// InstanceID identifies the process holding the registered sessions.
func (r *Registry) InstanceID() string { return r.instanceID }

// SetOnlineHook installs the offline-to-online transition callback. Must be
// called before the first Register.
func (r *Registry) SetOnlineHook(hook OnlineHook) {
	r.onOnline = hook
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return r.shards[h.Sum32()%shardCount]
}

// Register adds a session for its user and returns the session ID. Fires
// the online hook when this is the user's first local session.
func (r *Registry) Register(session domain.Session) string {
	userID := session.UserID()
	s := r.shardFor(userID)

	s.mu.Lock()
	sessions, ok := s.users[userID]
	if !ok {
		sessions = make(map[string]domain.Session)
		s.users[userID] = sessions
	}
	wasOffline := len(sessions) == 0
	sessions[session.SessionID()] = session
	s.mu.Unlock()

	r.sessions.Store(session.SessionID(), session)

	l := log.L()
	l.Debug().
		Str(log.FieldUserID, userID).
		Str(log.FieldSessionID, session.SessionID()).
		Str(log.FieldInstanceID, r.instanceID).
		Msg("session registered")

	if wasOffline && r.onOnline != nil {
		r.onOnline(userID, session)
	}

	return session.SessionID()
}

// Unregister removes a session. Idempotent: absent session IDs are a no-op,
// so duplicate disconnect signals are harmless.
func (r *Registry) Unregister(sessionID string) {
	v, ok := r.sessions.LoadAndDelete(sessionID)
	if !ok {
		return
	}
	session := v.(domain.Session)

	s := r.shardFor(session.UserID())
	s.mu.Lock()
	if sessions, ok := s.users[session.UserID()]; ok {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(s.users, session.UserID())
		}
	}
	s.mu.Unlock()

	l := log.L()
	l.Debug().
		Str(log.FieldUserID, session.UserID()).
		Str(log.FieldSessionID, sessionID).
		Msg("session unregistered")
}

// Drop forcibly unregisters a session and closes its transport. Used when a
// consumer is too slow to keep up with fanout.
func (r *Registry) Drop(sessionID string) {
	v, ok := r.sessions.Load(sessionID)
	if !ok {
		return
	}
	r.Unregister(sessionID)
	v.(domain.Session).Close()

	l := log.L()
	l.Warn().Str(log.FieldSessionID, sessionID).Msg("slow consumer dropped")
}

// SessionsFor returns a point-in-time snapshot of the user's live local
// sessions, safe to iterate while registrations churn.
func (r *Registry) SessionsFor(userID string) []domain.Session {
	s := r.shardFor(userID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := s.users[userID]
	if len(sessions) == 0 {
		return nil
	}
	out := make([]domain.Session, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, session)
	}
	return out
}

// IsOnline reports whether the user has any live session on this instance.
func (r *Registry) IsOnline(userID string) bool {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[userID]) > 0
}

// CloseAll closes every registered session. Used at shutdown.
func (r *Registry) CloseAll() {
	r.sessions.Range(func(key, value interface{}) bool {
		r.Unregister(key.(string))
		value.(domain.Session).Close()
		return true
	})
}
