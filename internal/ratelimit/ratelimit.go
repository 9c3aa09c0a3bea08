// Package ratelimit provides the outbound throttle gate consulted before
// every live dependency call. Each dependency gets its own token bucket, so
// a chain hammering one tool cannot starve calls to a healthier one. The
// gate only answers yes or no; rejection accounting and the resulting
// degradation reason belong to the caller.
package ratelimit

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dskow/toolgate/internal/config"
)

const (
	// cleanupInterval controls how often idle buckets are swept.
	cleanupInterval = 1 * time.Minute
	// staleAfter is how long a bucket may go unused before the sweeper
	// drops it. Dependencies removed on reload stop accumulating state.
	staleAfter = 3 * time.Minute
	// lastSeenGranularity bounds how often a hot bucket takes the write
	// lock just to refresh its timestamp.
	lastSeenGranularity = 30 * time.Second
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out one token bucket per dependency name.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	rps     rate.Limit
	burst   int
	enabled bool

	logger *slog.Logger
	stopCh chan struct{}
}

// New builds the gate from throttle config and starts the idle-bucket
// sweeper. Call Stop when the gate is no longer needed.
func New(cfg config.ThrottleConfig, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{
		buckets: make(map[string]*bucket),
		rps:     rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.BurstSize,
		enabled: cfg.Enabled,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow reports whether one more outbound call to dependency may start now.
// A disabled gate always allows.
func (l *Limiter) Allow(dependency string) bool {
	lim := l.getBucket(dependency)
	if lim == nil {
		return true
	}
	return lim.Allow()
}

// getBucket returns the dependency's limiter, creating it on first use.
// Returns nil when throttling is disabled.
func (l *Limiter) getBucket(dependency string) *rate.Limiter {
	now := time.Now()

	l.mu.RLock()
	if !l.enabled {
		l.mu.RUnlock()
		return nil
	}
	if b, ok := l.buckets[dependency]; ok && now.Sub(b.lastSeen) < lastSeenGranularity {
		lim := b.limiter
		l.mu.RUnlock()
		return lim
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		return nil
	}
	if b, ok := l.buckets[dependency]; ok {
		b.lastSeen = now
		return b.limiter
	}
	b := &bucket{
		limiter:  rate.NewLimiter(l.rps, l.burst),
		lastSeen: now,
	}
	l.buckets[dependency] = b
	return b.limiter
}

// BucketStat describes one dependency's bucket for admin inspection.
type BucketStat struct {
	Dependency string  `json:"dependency"`
	Tokens     float64 `json:"tokens"`
}

// Snapshot returns the live buckets sorted by dependency name. Token counts
// are instantaneous; a bucket near zero is pacing its dependency right now.
func (l *Limiter) Snapshot() []BucketStat {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]BucketStat, 0, len(l.buckets))
	for dep, b := range l.buckets {
		out = append(out, BucketStat{Dependency: dep, Tokens: b.limiter.Tokens()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dependency < out[j].Dependency })
	return out
}

// UpdateConfig applies new throttle settings. Existing buckets are dropped
// so every dependency picks up the new rate on its next call.
func (l *Limiter) UpdateConfig(cfg config.ThrottleConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rps = rate.Limit(cfg.RequestsPerSecond)
	l.burst = cfg.BurstSize
	l.enabled = cfg.Enabled
	l.buckets = make(map[string]*bucket)

	l.logger.Info("throttle config updated",
		"enabled", cfg.Enabled,
		"requests_per_second", cfg.RequestsPerSecond,
		"burst_size", cfg.BurstSize,
	)
}

// Stop terminates the background sweeper.
func (l *Limiter) Stop() {
	close(l.stopCh)
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.removeStale()
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) removeStale() {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for dep, b := range l.buckets {
		if now.Sub(b.lastSeen) > staleAfter {
			delete(l.buckets, dep)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Debug("removed stale throttle buckets", "count", removed)
	}
}
