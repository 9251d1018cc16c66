package stream

import "sync"

// SeenSet is a bounded set of recently observed source ids. Adapters use it to
// absorb duplicate deliveries after a reconnect; once the capacity is reached
// the oldest entry is forgotten first.
type SeenSet struct {
	mu       sync.Mutex
	set      map[string]struct{}
	order    []string
	next     int
	capacity int
}

// NewSeenSet creates a seen-set holding up to capacity ids
func NewSeenSet(capacity int) *SeenSet {
	if capacity <= 0 {
		capacity = 1
	}
	return &SeenSet{
		set:      make(map[string]struct{}, capacity),
		order:    make([]string, capacity),
		capacity: capacity,
	}
}

// Observe records an id and reports whether it was seen for the first time
func (s *SeenSet) Observe(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.set[id]; ok {
		return false
	}

	if old := s.order[s.next]; old != "" {
		delete(s.set, old)
	}
	s.order[s.next] = id
	s.next = (s.next + 1) % s.capacity
	s.set[id] = struct{}{}
	return true
}
