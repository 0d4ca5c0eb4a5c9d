// Package system provides the wall clock used to stamp accepted records.
package system

import "time"

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time at microsecond precision, the resolution
// of the timestamptz column records are written to.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
