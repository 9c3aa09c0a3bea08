package circuitbreaker

import (
	"sync"
	"testing"
	"time"
)

func TestWindow_EmptyIsNeutral(t *testing.T) {
	w := NewWindow(10, 0)

	if got := w.Len(); got != 0 {
		t.Fatalf("expected empty window, got %d samples", got)
	}
	if got := w.FailureRate(); got != 0 {
		t.Fatalf("expected failure rate 0 for empty window, got %f", got)
	}
	if got := w.P95Duration(); got != 0 {
		t.Fatalf("expected p95 0 for empty window, got %v", got)
	}
}

func TestWindow_FailureRate(t *testing.T) {
	w := NewWindow(10, 0)

	w.Record(false, 10*time.Millisecond)
	w.Record(true, 10*time.Millisecond)
	w.Record(false, 10*time.Millisecond)
	w.Record(true, 10*time.Millisecond)

	if got := w.FailureRate(); got != 0.5 {
		t.Fatalf("expected failure rate 0.5, got %f", got)
	}
	if got := w.Len(); got != 4 {
		t.Fatalf("expected 4 samples, got %d", got)
	}
}

func TestWindow_CapacityEviction(t *testing.T) {
	// Capacity 3: recording a 4th sample evicts the oldest.
	w := NewWindow(3, 0)

	w.Record(true, time.Millisecond)
	w.Record(false, time.Millisecond)
	w.Record(false, time.Millisecond)
	// Window [F, S, S] → 1/3.
	if got := w.FailureRate(); got < 0.33 || got > 0.34 {
		t.Fatalf("expected failure rate ~0.33, got %f", got)
	}

	w.Record(false, time.Millisecond)
	// Oldest (the failure) evicted: [S, S, S] → 0.
	if got := w.Len(); got != 3 {
		t.Fatalf("expected window bounded at 3, got %d", got)
	}
	if got := w.FailureRate(); got != 0 {
		t.Fatalf("expected failure rate 0 after eviction, got %f", got)
	}
}

func TestWindow_P95(t *testing.T) {
	w := NewWindow(20, 0)

	// Durations 1ms..20ms. Sorted, the 95th-percentile index for 20
	// samples is int(19*0.95) = 18 → 19ms.
	for i := 1; i <= 20; i++ {
		w.Record(false, time.Duration(i)*time.Millisecond)
	}

	if got := w.P95Duration(); got != 19*time.Millisecond {
		t.Fatalf("expected p95 of 19ms, got %v", got)
	}
}

func TestWindow_P95SingleSample(t *testing.T) {
	w := NewWindow(5, 0)
	w.Record(false, 42*time.Millisecond)

	if got := w.P95Duration(); got != 42*time.Millisecond {
		t.Fatalf("expected p95 of the only sample, got %v", got)
	}
}

func TestWindow_AgeHorizon(t *testing.T) {
	w := NewWindow(10, 40*time.Millisecond)

	w.Record(true, time.Millisecond)
	w.Record(true, time.Millisecond)
	if got := w.Len(); got != 2 {
		t.Fatalf("expected 2 fresh samples, got %d", got)
	}

	time.Sleep(60 * time.Millisecond)

	// Both samples are past the horizon: the window is neutral again.
	if got := w.Len(); got != 0 {
		t.Fatalf("expected stale samples dropped, got %d", got)
	}
	if got := w.FailureRate(); got != 0 {
		t.Fatalf("expected failure rate 0 after expiry, got %f", got)
	}

	w.Record(true, time.Millisecond)
	if got := w.Len(); got != 1 {
		t.Fatalf("expected 1 sample after re-record, got %d", got)
	}
	if got := w.FailureRate(); got != 1.0 {
		t.Fatalf("expected failure rate 1.0, got %f", got)
	}
}

func TestWindow_Reset(t *testing.T) {
	w := NewWindow(5, 0)
	w.Record(true, time.Millisecond)
	w.Record(false, 2*time.Millisecond)

	w.Reset()

	if got := w.Len(); got != 0 {
		t.Fatalf("expected empty window after Reset, got %d", got)
	}
	if got := w.FailureRate(); got != 0 {
		t.Fatalf("expected failure rate 0 after Reset, got %f", got)
	}
}

func TestWindow_ConcurrentRecord(t *testing.T) {
	w := NewWindow(50, 0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w.Record(n%2 == 0, time.Duration(n)*time.Microsecond)
			_ = w.FailureRate()
			_ = w.P95Duration()
			_ = w.Len()
		}(i)
	}
	wg.Wait()

	if got := w.Len(); got != 50 {
		t.Fatalf("expected window filled to capacity, got %d", got)
	}
}
