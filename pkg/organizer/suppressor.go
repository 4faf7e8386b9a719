package organizer

import (
	"sync"
	"time"

	"github.com/semfs/semfs/pkg/registry"
)

// Suppressor remembers destination paths of recent self-initiated moves
// so the watcher can ignore the filesystem events those moves produce.
// Entries expire after a TTL; a matched entry is consumed immediately so
// a later genuine event on the same path is processed normally.
type Suppressor struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewSuppressor builds a Suppressor with the given entry lifetime.
func NewSuppressor(ttl time.Duration) *Suppressor {
	return &Suppressor{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Mark records path as a pending self-move destination.
func (s *Suppressor) Mark(path string) {
	canonical := registry.CanonicalPath(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[canonical] = s.now().Add(s.ttl)
}

// ShouldSuppress reports whether an event on path stems from a recent
// self-move. A hit consumes the entry.
func (s *Suppressor) ShouldSuppress(path string) bool {
	canonical := registry.CanonicalPath(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	deadline, ok := s.entries[canonical]
	if !ok {
		return false
	}
	delete(s.entries, canonical)
	return s.now().Before(deadline)
}

// Pending returns the number of live suppression entries. Expired
// entries are pruned on the way.
func (s *Suppressor) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for path, deadline := range s.entries {
		if !now.Before(deadline) {
			delete(s.entries, path)
		}
	}
	return len(s.entries)
}
