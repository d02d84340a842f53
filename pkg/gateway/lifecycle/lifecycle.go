// Package lifecycle tracks whether the gateway is draining. Readiness and
// the WebSocket upgrade path both refuse new work once draining starts;
// existing live connections get the grace period instead.
package lifecycle

import "sync/atomic"

type Lifecycle struct {
	draining atomic.Bool
}

// SetDraining flips the drain flag. Nil receivers are tolerated so optional
// wiring does not need guards.
func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
