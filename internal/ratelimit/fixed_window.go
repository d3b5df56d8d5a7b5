package ratelimit

import (
	"sync"
	"time"
)

// FixedWindow counts messages in fixed time windows using a provided Clock.
//
// The window resets as a whole: once the clock moves past windowStart+window,
// the counter restarts from zero at the current time. Exceeding the limit is
// a signal to the caller that the sender crossed an abuse threshold; the
// limiter itself does not queue or throttle.
type FixedWindow struct {
	mu sync.Mutex

	clock  Clock
	window time.Duration
	limit  int

	windowStart time.Time
	count       int
}

func NewFixedWindow(clock Clock, window time.Duration, limit int) *FixedWindow {
	if clock == nil {
		clock = RealClock{}
	}
	return &FixedWindow{
		clock:       clock,
		window:      window,
		limit:       limit,
		windowStart: clock.Now(),
	}
}

// Allow records one message and reports whether the sender is still within
// the per-window limit. A limit <= 0 disables limiting.
func (w *FixedWindow) Allow() bool {
	if w.limit <= 0 {
		return true
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	if now.Sub(w.windowStart) > w.window {
		w.windowStart = now
		w.count = 0
	}

	w.count++
	return w.count <= w.limit
}
