package lifecycle

import (
	"context"
	"sync"
)

// Readiness tracks subscriber states published on a Bus. It reports ready once
// at least one subscriber is known and every known subscriber is running.
type Readiness struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewReadiness returns an empty tracker.
func NewReadiness() *Readiness {
	return &Readiness{states: make(map[string]State)}
}

// Observe records a state change.
func (r *Readiness) Observe(evt SubscriberStateChanged) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[evt.SubscriberKey()] = evt.To
}

// Ready reports whether every known subscriber is running.
func (r *Readiness) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.states) == 0 {
		return false
	}
	for _, s := range r.states {
		if s != StateRunning {
			return false
		}
	}
	return true
}

// States returns a snapshot keyed by "group/consumer".
func (r *Readiness) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.states))
	for k, v := range r.states {
		out[k] = v
	}
	return out
}

// Run subscribes to state changes on bus and records them until ctx ends or
// the bus closes. It returns once the subscription is registered.
func (r *Readiness) Run(ctx context.Context, bus *Bus) {
	ch, unsubscribe := Subscribe[SubscriberStateChanged](bus, 16)
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				r.Observe(evt)
			}
		}
	}()
}
