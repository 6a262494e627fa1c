package campaign

import "sync"

// token carries pause and stop requests from the control surface to the
// worker. Every change closes the current wake channel so a waiting worker
// re-evaluates immediately.
type token struct {
	mu      sync.Mutex
	paused  bool
	stopped bool
	wake    chan struct{}
}

func newToken() *token {
	return &token{wake: make(chan struct{})}
}

func (t *token) state() (paused, stopped bool, wake <-chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused, t.stopped, t.wake
}

func (t *token) isPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

func (t *token) setPaused(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused == v {
		return
	}
	t.paused = v
	t.signal()
}

func (t *token) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	t.signal()
}

// signal must be called with mu held.
func (t *token) signal() {
	close(t.wake)
	t.wake = make(chan struct{})
}
