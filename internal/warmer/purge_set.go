package warmer

import "sync"

// PurgeSet accumulates URLs that need a CDN purge. It is safe for concurrent
// use; inserting the same URL twice has no further effect.
type PurgeSet struct {
	mu    sync.Mutex
	urls  map[string]struct{}
	order []string
}

// NewPurgeSet returns an empty set.
func NewPurgeSet() *PurgeSet {
	return &PurgeSet{urls: make(map[string]struct{})}
}

// Add inserts url and reports whether it was new.
func (s *PurgeSet) Add(url string) bool {
	if url == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.urls[url]; ok {
		return false
	}
	s.urls[url] = struct{}{}
	s.order = append(s.order, url)
	return true
}

// Len returns the number of distinct URLs held.
func (s *PurgeSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Drain returns every URL in insertion order and empties the set.
func (s *PurgeSet) Drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.order
	s.urls = make(map[string]struct{})
	s.order = nil
	return out
}
