package worker

import (
	"sync/atomic"

	"github.com/JakeFAU/quote-crawler/internal/dedup"
	"github.com/JakeFAU/quote-crawler/internal/quota"
)

// State is the mutable state of one run, shared by every task in it.
type State struct {
	Seen  *dedup.Deduplicator
	Quota *quota.Tracker
	stop  atomic.Bool
}

// NewState creates fresh run state for maxItems records.
func NewState(maxItems int) *State {
	return &State{
		Seen:  dedup.New(),
		Quota: quota.New(maxItems),
	}
}

// Stop raises the cooperative stop flag. It never interrupts a fetch in flight.
func (s *State) Stop() {
	s.stop.Store(true)
}

// Halted reports whether the run must not accept or dispatch anything more.
func (s *State) Halted() bool {
	return s.stop.Load() || s.Quota.IsExhausted()
}
