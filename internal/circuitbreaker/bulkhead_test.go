package circuitbreaker

import (
	"sync"
	"testing"
	"time"
)

func TestBulkhead_AllowsUpToLimit(t *testing.T) {
	bh := NewBulkhead("test-dep", 3)

	// Acquire 3 slots — all should succeed.
	for i := 0; i < 3; i++ {
		if !bh.TryAcquire() {
			t.Fatalf("expected TryAcquire on slot %d", i)
		}
	}

	// 4th should be rejected.
	if bh.TryAcquire() {
		t.Fatal("expected TryAcquire to return false at concurrency limit")
	}
}

func TestBulkhead_ReleaseFreesSlot(t *testing.T) {
	bh := NewBulkhead("test-dep", 1)

	if !bh.TryAcquire() {
		t.Fatal("expected first TryAcquire")
	}
	if bh.TryAcquire() {
		t.Fatal("expected rejection at limit")
	}

	bh.Release()
	if !bh.TryAcquire() {
		t.Fatal("expected TryAcquire after Release")
	}
}

func TestBulkhead_NilMeansUnlimited(t *testing.T) {
	bh := NewBulkhead("test-dep", 0)
	if bh != nil {
		t.Fatal("expected nil bulkhead for non-positive limit")
	}

	// A nil bulkhead admits everything and Release is a no-op.
	for i := 0; i < 100; i++ {
		if !bh.TryAcquire() {
			t.Fatal("expected nil bulkhead to always admit")
		}
		bh.Release()
	}
}

func TestBulkhead_ConcurrentAccess(t *testing.T) {
	bh := NewBulkhead("test-dep", 10)

	var wg sync.WaitGroup
	allowed := make(chan struct{}, 100)
	rejected := make(chan struct{}, 100)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if bh.TryAcquire() {
				allowed <- struct{}{}
				time.Sleep(10 * time.Millisecond) // simulate work
				bh.Release()
			} else {
				rejected <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(allowed)
	close(rejected)

	a := len(allowed)
	r := len(rejected)
	if a+r != 50 {
		t.Fatalf("expected 50 total, got %d allowed + %d rejected", a, r)
	}
	if r == 0 {
		t.Fatal("expected some rejections with 50 goroutines and a limit of 10")
	}
}
