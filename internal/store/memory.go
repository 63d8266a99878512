package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nimbuswire/notify-service/internal/domain"
)

// MemoryStore is an in-memory OfflineStore. Suitable for tests and
// single-instance development runs; it is not durable across restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	byUser  map[string]map[string]*domain.OfflineNotification // userID -> eventID -> notification
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUser: make(map[string]map[string]*domain.OfflineNotification),
	}
}

func (s *MemoryStore) Store(_ context.Context, n *domain.OfflineNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID := n.Event.RecipientUserID
	if _, ok := s.byUser[userID]; !ok {
		s.byUser[userID] = make(map[string]*domain.OfflineNotification)
	}
	if _, exists := s.byUser[userID][n.Event.EventID]; exists {
		return nil
	}

	// Copy to prevent external modifications.
	copied := *n
	event := *n.Event
	copied.Event = &event
	s.byUser[userID][n.Event.EventID] = &copied
	return nil
}

func (s *MemoryStore) FetchUndelivered(_ context.Context, userID string) ([]*domain.OfflineNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.OfflineNotification
	for _, n := range s.byUser[userID] {
		if n.Delivered {
			continue
		}
		copied := *n
		event := *n.Event
		copied.Event = &event
		out = append(out, &copied)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Event.CreatedAt.Before(out[j].Event.CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) MarkDelivered(_ context.Context, eventID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.byUser[userID][eventID]; ok && !n.Delivered {
		now := time.Now().UTC()
		n.Delivered = true
		n.DeliveredAt = &now
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// Len reports the number of stored notifications for a user, delivered or
// not. Test helper.
func (s *MemoryStore) Len(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUser[userID])
}
