// Package memory keeps pushed records in process memory.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/quote-crawler/internal/crawler"
)

// Sink stores every pushed record in order.
type Sink struct {
	mu      sync.RWMutex
	records []crawler.Record
}

var _ crawler.Sink = (*Sink)(nil)

// New creates an empty Sink.
func New() *Sink {
	return &Sink{}
}

// Push appends batch.
func (s *Sink) Push(_ context.Context, batch []crawler.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, batch...)
	return nil
}

// Records returns a copy of everything pushed so far.
func (s *Sink) Records() []crawler.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.Record(nil), s.records...)
}

// Len returns the number of stored records.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
