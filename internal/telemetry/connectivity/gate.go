// Package connectivity tracks whether the ingest endpoint is reachable and notifies on transitions.
package connectivity

import (
	"sync"
)

// Gate holds the online flag. Callbacks run synchronously on the goroutine that changed the state,
// outside the gate's lock, only on an actual transition.
type Gate struct {
	mu        sync.Mutex
	online    bool
	onOnline  []func()
	onOffline []func()
}

// NewGate returns a gate in the given initial state.
func NewGate(online bool) *Gate {
	return &Gate{online: online}
}

func (g *Gate) IsOnline() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.online
}

// SetOnline updates the state and reports whether it changed.
func (g *Gate) SetOnline(online bool) bool {
	g.mu.Lock()
	if g.online == online {
		g.mu.Unlock()
		return false
	}
	g.online = online
	var cbs []func()
	if online {
		cbs = append(cbs, g.onOnline...)
	} else {
		cbs = append(cbs, g.onOffline...)
	}
	g.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
	return true
}

// OnOnline registers cb for offline→online transitions.
func (g *Gate) OnOnline(cb func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onOnline = append(g.onOnline, cb)
}

// OnOffline registers cb for online→offline transitions.
func (g *Gate) OnOffline(cb func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onOffline = append(g.onOffline, cb)
}
