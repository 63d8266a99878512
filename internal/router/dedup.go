package router

import (
	"sync"
	"time"
)

// seenSet is a time-expired set of event IDs. Memory is bounded by the
// window, not by entry count: anything older than the window is swept by a
// janitor, which is enough because duplicate broker observations cluster
// close to the original.
type seenSet struct {
	mu      sync.Mutex
	entries map[string]time.Time
	window  time.Duration
	done    chan struct{}
}

func newSeenSet(window time.Duration) *seenSet {
	s := &seenSet{
		entries: make(map[string]time.Time),
		window:  window,
		done:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

// observe records an ID and reports whether it is the first observation
// within the window.
func (s *seenSet) observe(id string) bool {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if at, ok := s.entries[id]; ok && now.Sub(at) < s.window {
		return false
	}
	s.entries[id] = now
	return true
}

// contains reports whether the ID was observed within the window.
func (s *seenSet) contains(id string) bool {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.entries[id]
	return ok && now.Sub(at) < s.window
}

func (s *seenSet) janitor() {
	interval := s.window / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.window)
			s.mu.Lock()
			for id, at := range s.entries {
				if at.Before(cutoff) {
					delete(s.entries, id)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *seenSet) stop() {
	close(s.done)
}
