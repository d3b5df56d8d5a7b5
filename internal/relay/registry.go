package relay

import (
	"sync"
	"time"

	"github.com/hipresence/presence-relay/internal/ratelimit"
)

// connMeta is the per-connection bookkeeping owned by the Registry. Rooms
// reference members by Peer; the registry entry and the room membership are
// always removed together on leave or eviction.
type connMeta struct {
	peer         Peer
	room         string
	lastActivity time.Time
	limiter      *ratelimit.FixedWindow
}

// Registry tracks every live connection and its metadata. Pure bookkeeping:
// no business rules, and operations on unknown handles are no-ops so a
// message racing a close never crashes the router.
type Registry struct {
	clock ratelimit.Clock

	rateWindow time.Duration
	rateLimit  int

	mu    sync.Mutex
	conns map[string]*connMeta
}

func NewRegistry(clock ratelimit.Clock, rateWindow time.Duration, rateLimit int) *Registry {
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	return &Registry{
		clock:      clock,
		rateWindow: rateWindow,
		rateLimit:  rateLimit,
		conns:      make(map[string]*connMeta),
	}
}

// Register adds a connection with a fresh rate window and activity timestamp.
func (r *Registry) Register(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[p.ID()] = &connMeta{
		peer:         p,
		lastActivity: r.clock.Now(),
		limiter:      ratelimit.NewFixedWindow(r.clock, r.rateWindow, r.rateLimit),
	}
}

// Touch updates last-activity for a handle. Unknown handles are ignored.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if meta, ok := r.conns[id]; ok {
		meta.lastActivity = r.clock.Now()
	}
}

// Known reports whether a handle is registered.
func (r *Registry) Known(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[id]
	return ok
}

// Allow records one inbound message against the handle's rate window.
// Unknown handles are denied; the router drops such messages anyway.
func (r *Registry) Allow(id string) bool {
	r.mu.Lock()
	meta, ok := r.conns[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return meta.limiter.Allow()
}

// RoomOf returns the handle's current room ("" when not joined).
func (r *Registry) RoomOf(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta, ok := r.conns[id]
	if !ok {
		return "", false
	}
	return meta.room, true
}

// SetRoom records the room a handle has joined.
func (r *Registry) SetRoom(id, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if meta, ok := r.conns[id]; ok {
		meta.room = room
	}
}

// Unregister removes all bookkeeping for a handle and returns the room it
// was joined to, so the caller can run leave processing.
func (r *Registry) Unregister(id string) (room string, existed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta, ok := r.conns[id]
	if !ok {
		return "", false
	}
	delete(r.conns, id)
	return meta.room, true
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Sweep partitions all connections by staleness at the given instant. Stale
// peers have been silent for longer than staleAfter; the rest should receive
// a liveness probe.
func (r *Registry) Sweep(now time.Time, staleAfter time.Duration) (stale, fresh []Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, meta := range r.conns {
		if now.Sub(meta.lastActivity) > staleAfter {
			stale = append(stale, meta.peer)
		} else {
			fresh = append(fresh, meta.peer)
		}
	}
	return stale, fresh
}
