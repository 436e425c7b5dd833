// Package store implements the shared key/value map with lazy expiry.
package store

import (
	"sync"
	"time"
)

// Value holds a byte string together with the bookkeeping needed to decide
// whether it has expired. Expiry is either a duration measured from
// Updated (SET ... PX) or an absolute wall-clock millisecond timestamp
// (keys loaded from an RDB snapshot).
type Value struct {
	Data    []byte
	Updated time.Time

	HasDuration bool
	Duration    time.Duration

	HasAbsoluteMs bool
	AbsoluteMs    int64
}

func (v Value) expired(now time.Time, wallNowMs int64) bool {
	if v.HasDuration && now.After(v.Updated.Add(v.Duration)) {
		return true
	}
	if v.HasAbsoluteMs && wallNowMs > v.AbsoluteMs {
		return true
	}
	return false
}

// Store is the single shared mapping from key to Value. Exactly one
// instance exists per server; it is mutated only through the state core,
// under that core's lock, so Store itself needs no internal locking beyond
// what's required to make Keys/Len safe to call alongside Set/Get from the
// same goroutine that already holds the outer lock. A mutex is kept anyway
// so Store remains safe if ever used outside that discipline (snapshot
// loading at startup runs before any connection exists).
type Store struct {
	mu   sync.Mutex
	data map[string]Value
}

// New returns an empty store.
func New() *Store {
	return &Store{data: make(map[string]Value)}
}

// SetRelative stores a key with a PX-style duration expiry measured from now.
func (s *Store) SetRelative(key string, data []byte, now time.Time, d time.Duration, hasExpiry bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := Value{Data: data, Updated: now}
	if hasExpiry {
		v.HasDuration = true
		v.Duration = d
	}
	s.data[key] = v
}

// SetAbsolute stores a key loaded from a snapshot, with an optional absolute
// wall-clock expiry in milliseconds.
func (s *Store) SetAbsolute(key string, data []byte, now time.Time, absoluteMs int64, hasExpiry bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := Value{Data: data, Updated: now}
	if hasExpiry {
		v.HasAbsoluteMs = true
		v.AbsoluteMs = absoluteMs
	}
	s.data[key] = v
}

// Get returns the value for key, or ok=false if absent or expired. An
// expired read does not mutate the store (lazy expiration).
func (s *Store) Get(key string, now time.Time, wallNowMs int64) (data []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, found := s.data[key]
	if !found {
		return nil, false
	}
	if v.expired(now, wallNowMs) {
		return nil, false
	}
	return v.Data, true
}

// Keys returns a snapshot of every key currently stored, expired or not —
// callers filter expiry themselves if they need live keys only, matching
// spec.md's KEYS semantics (the reference implementation does not purge on
// KEYS; GET is the only expiry checkpoint).
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of entries, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
