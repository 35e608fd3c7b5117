package capture

import (
	"context"
	"sync"
	"time"
)

// notifier is a broadcast signal usable in select statements. Each call to
// broadcast closes the current channel and installs a fresh one, waking
// every goroutine blocked in wait.
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

// signal returns the channel that will be closed by the next broadcast.
func (n *notifier) signal() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

// broadcast wakes all current waiters. It never blocks on them.
func (n *notifier) broadcast() {
	n.mu.Lock()
	close(n.ch)
	n.ch = make(chan struct{})
	n.mu.Unlock()
}

// waitFor blocks until cond returns true, the deadline passes, ctx is done
// or done is closed. cond is re-evaluated after every broadcast and at least
// every recheck interval. It reports whether cond was satisfied.
func (n *notifier) waitFor(ctx context.Context, done <-chan struct{}, timeout, recheck time.Duration, cond func() bool) (bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(recheck)
	defer ticker.Stop()

	for {
		// Grab the signal before checking so a write in between is not missed.
		sig := n.signal()
		if cond() {
			return true, nil
		}
		select {
		case <-sig:
		case <-ticker.C:
		case <-deadline.C:
			return cond(), nil
		case <-ctx.Done():
			return false, ctx.Err()
		case <-done:
			return false, ErrClosed
		}
	}
}
