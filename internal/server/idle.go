package server

import (
	"sync"
	"time"
)

// IdleTimer shuts the daemon down after a period with no active stacks.
// The server registers each stack instance by id when it is accepted and
// settles it when the run reaches a terminal outcome or the instance is
// replaced. Settling an id twice, or one that was never registered, is a
// no-op, so callers on different paths (teardown, replacement) don't need
// to coordinate.
type IdleTimer struct {
	mu       sync.Mutex
	active   map[string]struct{}
	timeout  time.Duration
	timer    *time.Timer
	shutdown chan struct{}
	once     sync.Once
}

// NewIdleTimer creates an IdleTimer that fires after timeout if no stack is
// registered first. Pass zero to disable (the timer never fires).
func NewIdleTimer(timeout time.Duration) *IdleTimer {
	t := &IdleTimer{
		active:   make(map[string]struct{}),
		timeout:  timeout,
		shutdown: make(chan struct{}),
	}
	if timeout > 0 {
		t.timer = time.AfterFunc(timeout, t.fire)
	}
	return t
}

func (t *IdleTimer) fire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.active) == 0 {
		t.once.Do(func() { close(t.shutdown) })
	}
}

// StackCreated registers an active stack and stops the countdown.
func (t *IdleTimer) StackCreated(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[id] = struct{}{}
	if t.timer != nil {
		t.timer.Stop()
	}
}

// StackSettled removes a stack from the active set. When the last one
// settles, the countdown restarts.
func (t *IdleTimer) StackSettled(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[id]; !ok {
		return
	}
	delete(t.active, id)
	if len(t.active) == 0 && t.timer != nil {
		t.timer.Reset(t.timeout)
	}
}

// ShutdownCh returns a channel that is closed when the idle timeout fires.
func (t *IdleTimer) ShutdownCh() <-chan struct{} {
	return t.shutdown
}
