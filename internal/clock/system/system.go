// Package system provides the wall clock used by the scraper and the signer.
package system

import "time"

// Clock returns UTC wall-clock time. It satisfies scrape.Clock, signing.Clock
// and the replay guard clock.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
