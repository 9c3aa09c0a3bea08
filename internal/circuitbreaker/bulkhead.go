package circuitbreaker

import (
	"github.com/dskow/toolgate/internal/metrics"
)

// Bulkhead caps the number of concurrent live calls to one dependency so a
// stalled tool cannot pile up goroutines behind it. The fallback chain
// consults it before a live attempt; a full bulkhead means skip to the next
// strategy, not queue.
type Bulkhead struct {
	key string
	sem chan struct{}
}

// NewBulkhead creates a bulkhead admitting at most maxConcurrent in-flight
// calls. Returns nil when maxConcurrent <= 0 (unlimited); a nil Bulkhead's
// methods are safe to call and never reject.
func NewBulkhead(key string, maxConcurrent int) *Bulkhead {
	if maxConcurrent <= 0 {
		return nil
	}
	return &Bulkhead{
		key: key,
		sem: make(chan struct{}, maxConcurrent),
	}
}

// TryAcquire takes a slot without blocking. If it returns true the caller
// MUST call Release exactly once when the attempt completes.
func (b *Bulkhead) TryAcquire() bool {
	if b == nil {
		return true
	}
	select {
	case b.sem <- struct{}{}:
		metrics.BulkheadInFlight.WithLabelValues(b.key).Set(float64(len(b.sem)))
		return true
	default:
		metrics.BulkheadRejections.WithLabelValues(b.key).Inc()
		return false
	}
}

// Release frees a slot taken by a successful TryAcquire.
func (b *Bulkhead) Release() {
	if b == nil {
		return
	}
	<-b.sem
	metrics.BulkheadInFlight.WithLabelValues(b.key).Set(float64(len(b.sem)))
}
