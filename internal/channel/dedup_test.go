package channel

import (
	"fmt"
	"testing"
	"time"
)

func TestDedupObserveDetectsDuplicates(t *testing.T) {
	d := newDedupSet(10, time.Minute)
	now := time.Now()

	if d.observe("a", now) {
		t.Fatal("first observe(a) = true, want false")
	}
	if !d.observe("a", now.Add(time.Second)) {
		t.Fatal("second observe(a) = false, want true")
	}
	if d.observe("b", now) {
		t.Fatal("first observe(b) = true, want false")
	}
}

func TestDedupEvictsByAge(t *testing.T) {
	d := newDedupSet(10, time.Minute)
	now := time.Now()

	d.observe("old", now)
	// Past the window the id is forgotten and would be processed again.
	if d.observe("old", now.Add(2*time.Minute)) {
		t.Fatal("observe(old) after window = true, want false")
	}
}

func TestDedupBoundsEntryCount(t *testing.T) {
	d := newDedupSet(3, time.Hour)
	now := time.Now()

	for i := 0; i < 10; i++ {
		d.observe(fmt.Sprintf("id-%d", i), now.Add(time.Duration(i)*time.Second))
	}
	if d.len() > 3 {
		t.Fatalf("dedup holds %d entries, want at most 3", d.len())
	}
	// The newest id is still present.
	if !d.observe("id-9", now.Add(10*time.Second)) {
		t.Fatal("observe(id-9) = false, want true for retained entry")
	}
	// The oldest was evicted by the count bound.
	if d.observe("id-0", now.Add(10*time.Second)) {
		t.Fatal("observe(id-0) = true, want false for evicted entry")
	}
}
