package circuitbreaker

import (
	"sort"
	"sync"
	"time"
)

// sample records a single completed attempt in the rolling window.
type sample struct {
	at     time.Time
	failed bool
	dur    time.Duration
}

// Window is a bounded rolling window of attempt outcomes for one breaker key.
// It is safe for concurrent use. An empty window yields neutral statistics:
// a dependency with no recent data is not considered faulty. The "not enough
// data" decision belongs to the breaker's MinSamples gate, not here.
type Window struct {
	mu sync.Mutex

	// Ring buffer.
	samples  []sample
	head     int // next write position
	count    int // number of live samples (up to cap)
	failures int // failures among live samples

	maxAge time.Duration // 0 disables the age horizon
}

// NewWindow creates a rolling window holding at most size samples. Samples
// older than maxAge are dropped from both counts and statistics; pass 0 to
// keep samples until they are evicted by capacity alone.
func NewWindow(size int, maxAge time.Duration) *Window {
	if size <= 0 {
		size = 1
	}
	return &Window{
		samples: make([]sample, size),
		maxAge:  maxAge,
	}
}

// Record appends one outcome, evicting the oldest entry when full.
func (w *Window) Record(failed bool, d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneStale(time.Now())

	if w.count == len(w.samples) {
		if w.samples[w.oldest()].failed {
			w.failures--
		}
		w.count--
	}

	w.samples[w.head] = sample{at: time.Now(), failed: failed, dur: d}
	w.head = (w.head + 1) % len(w.samples)
	w.count++
	if failed {
		w.failures++
	}
}

// Len returns the number of samples currently inside the window.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneStale(time.Now())
	return w.count
}

// FailureRate returns failed/total over the current window, 0 when empty.
func (w *Window) FailureRate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneStale(time.Now())
	if w.count == 0 {
		return 0
	}
	return float64(w.failures) / float64(w.count)
}

// P95Duration returns the 95th-percentile attempt duration over the current
// window, 0 when empty.
func (w *Window) P95Duration() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneStale(time.Now())
	if w.count == 0 {
		return 0
	}

	durs := make([]time.Duration, 0, w.count)
	idx := w.oldest()
	for i := 0; i < w.count; i++ {
		durs = append(durs, w.samples[idx].dur)
		idx = (idx + 1) % len(w.samples)
	}
	sort.Slice(durs, func(i, j int) bool { return durs[i] < durs[j] })

	return durs[int(float64(len(durs)-1)*0.95)]
}

// Reset discards all samples.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.head = 0
	w.count = 0
	w.failures = 0
}

// oldest returns the index of the oldest live sample.
// Must be called with w.mu held and count > 0.
func (w *Window) oldest() int {
	return (w.head - w.count + len(w.samples)) % len(w.samples)
}

// pruneStale drops samples older than the age horizon from the tail of the
// ring. Must be called with w.mu held.
func (w *Window) pruneStale(now time.Time) {
	if w.maxAge <= 0 {
		return
	}
	cutoff := now.Add(-w.maxAge)
	for w.count > 0 {
		s := w.samples[w.oldest()]
		if s.at.After(cutoff) {
			return
		}
		if s.failed {
			w.failures--
		}
		w.count--
	}
}
