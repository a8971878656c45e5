package sandbox

import (
	"context"
	"sync"
	"time"
)

// Watchdog reclaims sandboxes that stay idle after scheduling timers or
// fetches. It is armed lazily: purely synchronous code never arms it.
type Watchdog struct {
	idle time.Duration
	poll time.Duration
	now  func() time.Time

	mu        sync.Mutex
	last      time.Time
	armed     bool
	keepAlive bool
}

func NewWatchdog(idle, poll time.Duration) *Watchdog {
	return &Watchdog{idle: idle, poll: poll, now: time.Now}
}

// Touch records activity.
func (w *Watchdog) Touch() {
	w.mu.Lock()
	w.last = w.now()
	w.mu.Unlock()
}

// Arm starts idle tracking from now. Later calls are no-ops.
func (w *Watchdog) Arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.armed {
		return
	}
	w.armed = true
	w.last = w.now()
}

// KeepAlive disables the idle check for the rest of the run.
func (w *Watchdog) KeepAlive() {
	w.mu.Lock()
	w.keepAlive = true
	w.mu.Unlock()
}

func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

// Expired reports whether the sandbox has been idle for longer than the timeout.
func (w *Watchdog) Expired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.armed || w.keepAlive {
		return false
	}
	return w.now().Sub(w.last) > w.idle
}

// Watch polls until the watchdog expires or ctx is done. The returned channel
// is closed only on expiry.
func (w *Watchdog) Watch(ctx context.Context) <-chan struct{} {
	fired := make(chan struct{})
	go func() {
		ticker := time.NewTicker(w.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if w.Expired() {
					close(fired)
					return
				}
			}
		}
	}()
	return fired
}
