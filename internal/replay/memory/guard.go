// Package memory provides an in-process nonce replay guard.
package memory

import (
	"context"
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Guard remembers nonces in a map until their TTL elapses. Expired entries are
// swept lazily once the map has grown past the last sweep size.
type Guard struct {
	mu        sync.Mutex
	clock     Clock
	seen      map[string]time.Time
	sweepSize int
}

// NewGuard creates a Guard. A nil clock uses time.Now.
func NewGuard(clock Clock) *Guard {
	if clock == nil {
		clock = systemClock{}
	}
	return &Guard{
		clock:     clock,
		seen:      make(map[string]time.Time),
		sweepSize: 1024,
	}
}

// Claim records nonce and reports whether it was unused.
func (g *Guard) Claim(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if exp, ok := g.seen[nonce]; ok && now.Before(exp) {
		return false, nil
	}
	g.seen[nonce] = now.Add(ttl)

	if len(g.seen) >= g.sweepSize {
		g.sweep(now)
	}
	return true, nil
}

// Len returns the number of tracked nonces, expired or not.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

func (g *Guard) sweep(now time.Time) {
	for nonce, exp := range g.seen {
		if !now.Before(exp) {
			delete(g.seen, nonce)
		}
	}
	g.sweepSize = 2 * len(g.seen)
	if g.sweepSize < 1024 {
		g.sweepSize = 1024
	}
}
