package channel

import (
	"time"
)

// dedupSet is a bounded, recency-based set of seen event ids. Entries are
// trimmed by age and by count; an id evicted from the window would be
// processed again on redelivery, which is why consumers stay idempotent.
type dedupSet struct {
	maxEntries int
	window     time.Duration
	seen       map[string]time.Time
	order      []dedupEntry
}

type dedupEntry struct {
	id string
	at time.Time
}

func newDedupSet(maxEntries int, window time.Duration) *dedupSet {
	return &dedupSet{
		maxEntries: maxEntries,
		window:     window,
		seen:       make(map[string]time.Time),
	}
}

// observe records id at time now and reports whether it was already present.
func (d *dedupSet) observe(id string, now time.Time) bool {
	d.trim(now)
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = now
	d.order = append(d.order, dedupEntry{id: id, at: now})
	return false
}

func (d *dedupSet) trim(now time.Time) {
	cutoff := now.Add(-d.window)
	for len(d.order) > 0 {
		head := d.order[0]
		if head.at.After(cutoff) && len(d.order) < d.maxEntries {
			break
		}
		// Only delete if the map entry still belongs to this queue slot.
		if at, ok := d.seen[head.id]; ok && at.Equal(head.at) {
			delete(d.seen, head.id)
		}
		d.order = d.order[1:]
	}
}

func (d *dedupSet) len() int {
	return len(d.seen)
}
