package serversession

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestUsageTrackerDeduplicates(t *testing.T) {
	tracker := NewUsageTracker(0, false)

	for i := 0; i < 3; i++ {
		if err := tracker.Track("spa"); err != nil {
			t.Fatalf("Track failed: %v", err)
		}
	}
	if err := tracker.Track("mobile"); err != nil {
		t.Fatalf("Track failed: %v", err)
	}

	if tracker.Count() != 2 {
		t.Fatalf("expected 2 distinct keys, got %d", tracker.Count())
	}
	if !tracker.Known("spa") || !tracker.Known("mobile") || tracker.Known("web") {
		t.Fatal("membership reporting wrong")
	}
}

func TestUsageTrackerSoftLimit(t *testing.T) {
	tracker := NewUsageTracker(1, false)

	if err := tracker.Track("a"); err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	// Soft mode records past the limit without failing; the host asks
	// CheckLimit when it wants to know.
	if err := tracker.Track("b"); err != nil {
		t.Fatalf("soft mode must not fail: %v", err)
	}

	if tracker.CheckLimit(1) {
		t.Fatal("expected limit exceeded")
	}
	if !tracker.CheckLimit(2) {
		t.Fatal("expected within limit of 2")
	}
	if !tracker.CheckLimit(0) {
		t.Fatal("non-positive limit must always pass")
	}
}

func TestUsageTrackerStrictLimit(t *testing.T) {
	tracker := NewUsageTracker(2, true)

	if err := tracker.Track("a"); err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if err := tracker.Track("b"); err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if err := tracker.Track("c"); !errors.Is(err, ErrUsageLimitExceeded) {
		t.Fatalf("expected ErrUsageLimitExceeded, got %v", err)
	}

	// Re-tracking a known key never fails, even past the limit.
	if err := tracker.Track("a"); err != nil {
		t.Fatalf("known key must stay free: %v", err)
	}
}

func TestUsageTrackerConcurrent(t *testing.T) {
	tracker := NewUsageTracker(0, false)

	const goroutines = 16
	const keys = 32

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < keys; i++ {
				if err := tracker.Track(fmt.Sprintf("client-%d", i)); err != nil {
					t.Errorf("Track failed: %v", err)
				}
				_ = tracker.Known(fmt.Sprintf("client-%d", i))
			}
		}()
	}
	wg.Wait()

	if tracker.Count() != keys {
		t.Fatalf("expected %d distinct keys, got %d", keys, tracker.Count())
	}
}
