package relay

import (
	"log/slog"
	"time"

	"github.com/hipresence/presence-relay/internal/metrics"
	"github.com/hipresence/presence-relay/internal/ratelimit"
)

// Monitor periodically sweeps the connection registry: connections silent
// for longer than staleAfter are forcibly evicted exactly as if they had
// disconnected voluntarily; everyone else gets a liveness probe.
//
// The sweep is best-effort. A probe or close failure against one peer is
// swallowed so a single unreachable peer cannot stall the sweep.
type Monitor struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	clock   ratelimit.Clock

	interval   time.Duration
	staleAfter time.Duration

	conns  *Registry
	router *Router

	stop chan struct{}
	done chan struct{}
}

func NewMonitor(log *slog.Logger, m *metrics.Metrics, clock ratelimit.Clock, conns *Registry, router *Router, interval, staleAfter time.Duration) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	return &Monitor{
		log:        log,
		metrics:    m,
		clock:      clock,
		interval:   interval,
		staleAfter: staleAfter,
		conns:      conns,
		router:     router,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the sweep loop. Close stops it.
func (m *Monitor) Start() {
	go m.run()
}

func (m *Monitor) Close() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	<-m.done
}

func (m *Monitor) run() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep(m.clock.Now())
		}
	}
}

func (m *Monitor) sweep(now time.Time) {
	stale, fresh := m.conns.Sweep(now, m.staleAfter)

	for _, p := range stale {
		m.metrics.Inc(metrics.EventStaleEvictions)
		m.log.Info("evicting stale connection", "conn", p.ID())
		m.router.Disconnect(p)
		p.Close()
	}

	for _, p := range fresh {
		if err := p.Ping(); err != nil {
			// Best-effort: an unreachable peer will age out on a later sweep.
			m.log.Debug("liveness probe failed", "conn", p.ID(), "err", err)
		}
	}
}
