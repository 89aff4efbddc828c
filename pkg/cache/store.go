package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"shelter-engine/pkg/logger"
)

type entry struct {
	value   interface{}
	expires time.Time // zero means no expiry
}

// Stats is a snapshot of cache counters
type Stats struct {
	Entries int
	Hits    uint64
	Misses  uint64
	Sweeps  uint64
}

// Store is a keyed cache shared by engine components.
// Entries may carry a TTL; namespaces are cleared wholesale by sweeps.
type Store struct {
	entries map[string]entry
	mutex   sync.RWMutex
	now     func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
	sweeps atomic.Uint64
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty cache store
func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get retrieves a cached value if it exists and is not expired
func (s *Store) Get(key string) (interface{}, bool) {
	s.mutex.RLock()
	e, exists := s.entries[key]
	s.mutex.RUnlock()

	if !exists || (!e.expires.IsZero() && s.now().After(e.expires)) {
		s.misses.Add(1)
		return nil, false
	}

	s.hits.Add(1)
	return e.value, true
}

// Set stores a value without expiry
func (s *Store) Set(key string, value interface{}) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.entries[key] = entry{value: value}
}

// SetWithTTL stores a value that expires after ttl
func (s *Store) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.entries[key] = entry{value: value, expires: s.now().Add(ttl)}
}

// Delete removes a single key
func (s *Store) Delete(key string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.entries, key)
}

// Clear removes all cached values and returns how many were dropped
func (s *Store) Clear() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	n := len(s.entries)
	s.entries = make(map[string]entry)
	return n
}

// ClearPrefix removes every key in a namespace and returns how many were dropped
func (s *Store) ClearPrefix(prefix string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	n := 0
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired ones included
func (s *Store) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.entries)
}

// Stats returns a snapshot of the cache counters
func (s *Store) Stats() Stats {
	return Stats{
		Entries: s.Len(),
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Sweeps:  s.sweeps.Load(),
	}
}

// Sweep clears a namespace (or everything when prefix is empty)
func (s *Store) Sweep(prefix string) int {
	s.sweeps.Add(1)
	if prefix == "" {
		return s.Clear()
	}
	return s.ClearPrefix(prefix)
}

// RunSweeper clears the namespace every interval until ctx is done
func (s *Store) RunSweeper(ctx context.Context, prefix string, interval time.Duration, log logger.ILogger) {
	if interval <= 0 {
		return
	}
	if log == nil {
		log = logger.NewStandardLogger()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(prefix); n > 0 {
				log.LogDebug("🧹 Cache sweep dropped %d entries (namespace %q)", n, prefix)
			}
		}
	}
}

// Get returns a typed value from the store
func Get[T any](s *Store, key string) (T, bool) {
	var zero T
	v, ok := s.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
