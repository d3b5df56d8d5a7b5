package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hipresence/presence-relay/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakePeer is an in-memory Peer. Sends append to a buffer; rejectSends
// simulates a slow consumer whose queue overflowed.
type fakePeer struct {
	id string

	mu          sync.Mutex
	sent        []Envelope
	closed      bool
	pings       int
	pingErr     error
	rejectSends bool
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: id}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(env Envelope) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.rejectSends {
		return false
	}
	p.sent = append(p.sent, env)
	return true
}

func (p *fakePeer) Ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pings++
	return p.pingErr
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) pingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pings
}

// take returns and clears everything queued so far.
func (p *fakePeer) take() []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.sent
	p.sent = nil
	return out
}

// loopbackPeer feeds its own disconnect back through the router on Close,
// the way the websocket transport does when the server closes a connection.
type loopbackPeer struct {
	*fakePeer
	router *Router
}

func (p *loopbackPeer) Close() {
	p.fakePeer.Close()
	p.router.Disconnect(p)
}

type testRig struct {
	clock   *fakeClock
	metrics *metrics.Metrics
	conns   *Registry
	rooms   *RoomRegistry
	router  *Router
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	clk := &fakeClock{now: time.Unix(1000, 0)}
	m := metrics.New()
	conns := NewRegistry(clk, 10*time.Second, 60)
	rooms := NewRoomRegistry(slog.Default(), m, 6, 2)
	return &testRig{
		clock:   clk,
		metrics: m,
		conns:   conns,
		rooms:   rooms,
		router:  NewRouter(slog.Default(), m, conns, rooms),
	}
}

// connect attaches a fresh fake peer and joins it to room (when non-empty).
func (rig *testRig) connect(t *testing.T, id, room string) *fakePeer {
	t.Helper()
	p := newFakePeer(id)
	rig.router.Attach(p)
	if room != "" {
		rig.router.HandleMessage(p, rawEnvelope(t, TypeJoin, room, ""))
	}
	return p
}

func rawEnvelope(t *testing.T, typ MessageType, room, payload string) []byte {
	t.Helper()
	env := Envelope{Type: typ, Room: room}
	if payload != "" {
		env.Payload = json.RawMessage(payload)
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return b
}

// typesOf projects envelopes onto their message types for order assertions.
func typesOf(envs []Envelope) []MessageType {
	out := make([]MessageType, len(envs))
	for i, env := range envs {
		out[i] = env.Type
	}
	return out
}

func findType(envs []Envelope, typ MessageType) (Envelope, bool) {
	for _, env := range envs {
		if env.Type == typ {
			return env, true
		}
	}
	return Envelope{}, false
}

func hasType(envs []Envelope, typ MessageType) bool {
	_, ok := findType(envs, typ)
	return ok
}
