package metrics

import "sync"

// Event names recorded by the relay core. Drops are labelled with the reason
// the envelope never reached another peer.
const (
	EventSignalMessages = "signal_messages"

	EventDroppedMalformed         = "dropped_malformed"
	EventDroppedRateLimited       = "dropped_rate_limited"
	EventDroppedRoomFull          = "dropped_room_full"
	EventDroppedProtocolViolation = "dropped_protocol_violation"
	EventDroppedNoRoom            = "dropped_no_room"
	EventDroppedBufferFull        = "dropped_buffer_full"
	EventDroppedSlowConsumer      = "dropped_slow_consumer"

	EventRoomsCreated   = "rooms_created"
	EventRoomsDeleted   = "rooms_deleted"
	EventMomentReady    = "moment_ready"
	EventMomentCollapse = "moment_collapsed"
	EventStaleEvictions = "stale_evictions"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A production deployment may scrape these via the Prometheus handler; the
// registry also keeps the relay's enforcement logic observable in tests.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
