package circuitbreaker

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/dskow/toolgate/internal/telemetry"
)

// Registry owns one breaker per dependency key. It belongs to the
// composition root and is handed to every chain that needs breakers; there
// is no package-level instance. Breakers are created on first use with
// settings resolved per key, and live for the registry's lifetime.
type Registry struct {
	resolve func(key string) Settings
	logger  *slog.Logger
	sink    telemetry.Sink

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry. resolve maps a dependency key to its
// breaker settings (typically defaults merged with per-key overrides); a nil
// resolve yields zero-value settings for every key.
func NewRegistry(resolve func(key string) Settings, logger *slog.Logger, sink telemetry.Sink) *Registry {
	if resolve == nil {
		resolve = func(string) Settings { return Settings{} }
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = telemetry.Nop{}
	}
	return &Registry{
		resolve:  resolve,
		logger:   logger,
		sink:     sink,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key, creating it on first use. Safe for
// concurrent callers; all callers for the same key share one instance.
func (r *Registry) Get(key string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check: another goroutine may have created it while we
	// upgraded the lock.
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b = New(key, r.resolve(key), r.logger, r.sink)
	r.breakers[key] = b
	return b
}

// Lookup returns the breaker for key without creating one.
func (r *Registry) Lookup(key string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[key]
	return b, ok
}

// Keys returns all registered dependency keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.breakers))
	for k := range r.breakers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns per-key stats sorted by key, for admin and health
// surfaces.
func (r *Registry) Snapshot() []Stats {
	r.mu.RLock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	stats := make([]Stats, 0, len(breakers))
	for _, b := range breakers {
		stats = append(stats, b.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Key < stats[j].Key })
	return stats
}
