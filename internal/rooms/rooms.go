// Package rooms groups local sessions into named rooms for targeted
// broadcast. A room's fleet-wide membership is conceptual; each instance
// materializes only the sessions it physically holds, and cross-instance
// delivery belongs to the broker bridge, not here.
package rooms

import (
	"encoding/json"
	"hash/fnv"
	"sync"

	"github.com/nimbuswire/notify-service/internal/domain"
	"github.com/nimbuswire/notify-service/pkg/log"
)

const shardCount = 32

// DropFunc removes a session that can no longer keep up. Wired to the
// connection registry by the caller.
type DropFunc func(sessionID string)

type room struct {
	sessions map[string]domain.Session // sessionID -> session
	users    map[string]int            // userID -> session count in this room
}

type shard struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

// Manager holds the local materialization of every joined room, sharded by
// roomID hash.
type Manager struct {
	shards [shardCount]*shard
	drop   DropFunc
}

// NewManager creates an empty room manager.
func NewManager(drop DropFunc) *Manager {
	m := &Manager{drop: drop}
	for i := range m.shards {
		m.shards[i] = &shard{rooms: make(map[string]*room)}
	}
	return m
}

func (m *Manager) shardFor(roomID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(roomID))
	return m.shards[h.Sum32()%shardCount]
}

// Join adds a session to the room's local materialization, creating the
// room lazily. Joining twice yields one membership entry.
func (m *Manager) Join(roomID string, session domain.Session) {
	s := m.shardFor(roomID)

	s.mu.Lock()
	rm, ok := s.rooms[roomID]
	if !ok {
		rm = &room{
			sessions: make(map[string]domain.Session),
			users:    make(map[string]int),
		}
		s.rooms[roomID] = rm
	}
	if _, joined := rm.sessions[session.SessionID()]; !joined {
		rm.sessions[session.SessionID()] = session
		rm.users[session.UserID()]++
	}
	s.mu.Unlock()

	l := log.L()
	l.Debug().
		Str(log.FieldRoomID, roomID).
		Str(log.FieldSessionID, session.SessionID()).
		Str(log.FieldUserID, session.UserID()).
		Msg("session joined room")
}

// Leave removes a session from the room. Idempotent: leaving an unjoined
// session is a no-op. The local materialization is released when it empties;
// the room identifier itself persists as caller policy.
func (m *Manager) Leave(roomID, sessionID string) {
	s := m.shardFor(roomID)

	s.mu.Lock()
	if rm, ok := s.rooms[roomID]; ok {
		if session, joined := rm.sessions[sessionID]; joined {
			delete(rm.sessions, sessionID)
			rm.users[session.UserID()]--
			if rm.users[session.UserID()] <= 0 {
				delete(rm.users, session.UserID())
			}
		}
		if len(rm.sessions) == 0 {
			delete(s.rooms, roomID)
		}
	}
	s.mu.Unlock()
}

// LeaveAll removes a disconnecting session from every room it joined.
func (m *Manager) LeaveAll(sessionID string) {
	for _, s := range m.shards {
		s.mu.Lock()
		for roomID, rm := range s.rooms {
			if session, joined := rm.sessions[sessionID]; joined {
				delete(rm.sessions, sessionID)
				rm.users[session.UserID()]--
				if rm.users[session.UserID()] <= 0 {
					delete(rm.users, session.UserID())
				}
				if len(rm.sessions) == 0 {
					delete(s.rooms, roomID)
				}
			}
		}
		s.mu.Unlock()
	}
}

// BroadcastLocal pushes the event to every locally-held session in the room
// except the excluded one. It returns the total local deliveries and, when
// the event names a recipient, how many of those reached the recipient's
// own sessions. The router keys the durable fallback on the recipient
// count; a delivery to some other room member says nothing about the
// recipient.
func (m *Manager) BroadcastLocal(roomID string, event *domain.Event, excludeSessionID string) (delivered, recipientDelivered int) {
	data, err := json.Marshal(domain.NewEventPush(event))
	if err != nil {
		return 0, 0
	}

	s := m.shardFor(roomID)
	s.mu.RLock()
	rm, ok := s.rooms[roomID]
	if !ok {
		s.mu.RUnlock()
		return 0, 0
	}
	targets := make([]domain.Session, 0, len(rm.sessions))
	for id, session := range rm.sessions {
		if id == excludeSessionID {
			continue
		}
		targets = append(targets, session)
	}
	s.mu.RUnlock()

	for _, session := range targets {
		if err := session.Deliver(data); err != nil {
			if m.drop != nil {
				m.drop(session.SessionID())
			}
			continue
		}
		delivered++
		if event.RecipientUserID != "" && session.UserID() == event.RecipientUserID {
			recipientDelivered++
		}
	}
	return delivered, recipientDelivered
}

// Members returns the user IDs currently joined to the room's local
// materialization.
func (m *Manager) Members(roomID string) []string {
	s := m.shardFor(roomID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	rm, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	users := make([]string, 0, len(rm.users))
	for userID := range rm.users {
		users = append(users, userID)
	}
	return users
}

// SessionCount returns the number of local sessions joined to the room.
func (m *Manager) SessionCount(roomID string) int {
	s := m.shardFor(roomID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rm, ok := s.rooms[roomID]; ok {
		return len(rm.sessions)
	}
	return 0
}
