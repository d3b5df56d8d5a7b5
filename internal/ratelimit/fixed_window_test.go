package ratelimit

import (
	"sync"
	"testing"
	"time"
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

func TestFixedWindow_LimitWithinWindow(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	w := NewFixedWindow(clk, 10*time.Second, 60)

	for i := 0; i < 60; i++ {
		if !w.Allow() {
			t.Fatalf("message %d unexpectedly denied", i+1)
		}
	}
	if w.Allow() {
		t.Fatalf("message 61 should exceed the window limit")
	}
}

func TestFixedWindow_ResetsAfterWindow(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	w := NewFixedWindow(clk, 10*time.Second, 2)

	if !w.Allow() || !w.Allow() {
		t.Fatalf("expected first two messages to be allowed")
	}
	if w.Allow() {
		t.Fatalf("expected third message to be denied")
	}

	clk.Advance(10*time.Second + time.Millisecond)
	if !w.Allow() {
		t.Fatalf("expected a fresh window after the old one expired")
	}
}

func TestFixedWindow_CountsSpreadAcrossWindows(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	w := NewFixedWindow(clk, 10*time.Second, 3)

	for i := 0; i < 3; i++ {
		if !w.Allow() {
			t.Fatalf("message %d unexpectedly denied", i+1)
		}
		clk.Advance(4 * time.Second)
	}
	// 12s elapsed: the window has rolled over, so the count restarted.
	if !w.Allow() {
		t.Fatalf("expected message in the new window to be allowed")
	}
}

func TestFixedWindow_ZeroLimitDisables(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	w := NewFixedWindow(clk, time.Second, 0)

	for i := 0; i < 1000; i++ {
		if !w.Allow() {
			t.Fatalf("limit 0 should disable limiting")
		}
	}
}
