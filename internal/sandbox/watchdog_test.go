package sandbox

import (
	"context"
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

func newTestWatchdog() (*Watchdog, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	w := NewWatchdog(2000*time.Millisecond, 500*time.Millisecond)
	w.now = clock.Now
	return w, clock
}

func TestWatchdogUnarmedNeverExpires(t *testing.T) {
	w, clock := newTestWatchdog()
	clock.Advance(time.Hour)
	if w.Expired() {
		t.Fatalf("unarmed watchdog must not expire")
	}
}

func TestWatchdogExpiresAfterIdle(t *testing.T) {
	w, clock := newTestWatchdog()
	w.Arm()
	clock.Advance(1500 * time.Millisecond)
	if w.Expired() {
		t.Fatalf("expired too early")
	}
	w.Touch()
	clock.Advance(2000 * time.Millisecond)
	if w.Expired() {
		t.Fatalf("exactly the idle window is not yet expired")
	}
	clock.Advance(time.Millisecond)
	if !w.Expired() {
		t.Fatalf("expected expiry after idle window")
	}
}

func TestWatchdogKeepAliveSuppressesExpiry(t *testing.T) {
	w, clock := newTestWatchdog()
	w.Arm()
	w.KeepAlive()
	clock.Advance(10 * time.Second)
	if w.Expired() {
		t.Fatalf("keep-alive must suppress idle expiry")
	}
}

func TestWatchdogArmIsIdempotent(t *testing.T) {
	w, clock := newTestWatchdog()
	w.Arm()
	clock.Advance(1900 * time.Millisecond)
	w.Arm()
	clock.Advance(200 * time.Millisecond)
	if !w.Expired() {
		t.Fatalf("second Arm must not reset lastActivity")
	}
}

func TestWatchdogWatchFires(t *testing.T) {
	w := NewWatchdog(20*time.Millisecond, 5*time.Millisecond)
	w.Arm()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	select {
	case <-w.Watch(ctx):
	case <-time.After(2 * time.Second):
		t.Fatalf("watchdog did not fire")
	}
}
