package streamlog

import (
	"context"
	"sync"
	"time"
)

// notifier wakes blocked readers whenever a stream changes. Readers take the
// wait channel before checking for data so a concurrent append is never missed.
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func (n *notifier) wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ch == nil {
		n.ch = make(chan struct{})
	}
	return n.ch
}

func (n *notifier) broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ch != nil {
		close(n.ch)
		n.ch = nil
	}
}

// blockingRead runs try until it yields data, the block window elapses or ctx
// ends. A positive poll also retries on a timer, for stores that can be
// written by other processes.
func blockingRead(ctx context.Context, block time.Duration, n *notifier, poll time.Duration, try func() ([]Stream, error)) ([]Stream, error) {
	var deadline <-chan time.Time
	if block > 0 {
		timer := time.NewTimer(block)
		defer timer.Stop()
		deadline = timer.C
	}

	var tick <-chan time.Time
	if poll > 0 && block != 0 {
		ticker := time.NewTicker(poll)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		wake := n.wait()
		res, err := try()
		if err != nil || len(res) > 0 || block == 0 {
			return res, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, nil
		case <-wake:
		case <-tick:
		}
	}
}
