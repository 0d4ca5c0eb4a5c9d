// Package dedup tracks record identity keys for the lifetime of one crawl run.
package dedup

import (
	"sync"
	"sync/atomic"
)

// Deduplicator is a run-wide set of seen identity keys. It is safe for
// concurrent use; Accept is an atomic check-and-insert.
type Deduplicator struct {
	seen  sync.Map
	count atomic.Int64
}

// New returns an empty Deduplicator.
func New() *Deduplicator {
	return &Deduplicator{}
}

// Accept stores key and returns true if it had not been seen before. Empty keys
// are never accepted.
func (d *Deduplicator) Accept(key string) bool {
	if key == "" {
		return false
	}
	if _, loaded := d.seen.LoadOrStore(key, struct{}{}); loaded {
		return false
	}
	d.count.Add(1)
	return true
}

// SeenCount returns how many distinct keys have been accepted.
func (d *Deduplicator) SeenCount() int {
	return int(d.count.Load())
}
