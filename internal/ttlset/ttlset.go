package ttlset

import (
	"sync"
	"time"
)

// Set remembers keys for a fixed TTL. Used for presence subscriptions and
// for collapsing the two status streams onto one reaction.
type Set struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
	m   map[string]time.Time
}

func New(ttl time.Duration) *Set {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Set{ttl: ttl, now: time.Now, m: make(map[string]time.Time)}
}

// Has reports whether key was added and has not expired.
func (s *Set) Has(key string) bool {
	s.mu.Lock()
	exp, ok := s.m[key]
	s.mu.Unlock()
	return ok && s.now().Before(exp)
}

// Add inserts key and returns true when it was not already live.
func (s *Set) Add(key string) bool {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.m[key]; ok && now.Before(exp) {
		return false
	}
	s.m[key] = now.Add(s.ttl)
	if len(s.m) > 4096 {
		s.sweep(now)
	}
	return true
}

func (s *Set) Remove(key string) {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

func (s *Set) sweep(now time.Time) {
	for k, exp := range s.m {
		if !now.Before(exp) {
			delete(s.m, k)
		}
	}
}

// Reset forgets every key.
func (s *Set) Reset() {
	s.mu.Lock()
	clear(s.m)
	s.mu.Unlock()
}
