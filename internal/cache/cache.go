// Package cache provides the timestamped key-value store read by Cached
// fallback strategies and refreshed by live ones. Entries carry the time
// they were stored so degraded results can report how stale their data is.
package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Store is the collaborator contract the fallback chain needs: a get that
// distinguishes miss from backend failure, and a set for write-through on
// live successes.
type Store interface {
	// Get returns the payload and the time it was stored. found is false on
	// a miss; err is non-nil only when the backend itself misbehaved.
	Get(ctx context.Context, key string) (value []byte, storedAt time.Time, found bool, err error)

	// Set stores value under key, stamped with the current time.
	Set(ctx context.Context, key string, value []byte) error
}

// entry is the stored form shared by both backends.
type entry struct {
	Value    []byte    `json:"value"`
	StoredAt time.Time `json:"stored_at"`
}

// Memory is an in-process Store bounded by entry count and TTL.
type Memory struct {
	entries *lru.LRU[string, entry]
}

// NewMemory creates a memory store holding at most maxEntries (0 means
// unbounded) where entries expire after ttl (non-positive means never).
func NewMemory(maxEntries int, ttl time.Duration) *Memory {
	return &Memory{entries: lru.NewLRU[string, entry](maxEntries, nil, ttl)}
}

// Get implements Store. It never returns an error; a local lookup cannot
// fail, only miss.
func (m *Memory) Get(_ context.Context, key string) ([]byte, time.Time, bool, error) {
	e, ok := m.entries.Get(key)
	if !ok {
		return nil, time.Time{}, false, nil
	}
	return e.Value, e.StoredAt, true, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.entries.Add(key, entry{Value: value, StoredAt: time.Now()})
	return nil
}

// SetWithTime stores value stamped with an explicit time. Used for seeding
// caches in tests and demos with entries of known age.
func (m *Memory) SetWithTime(key string, value []byte, storedAt time.Time) {
	m.entries.Add(key, entry{Value: value, StoredAt: storedAt})
}
