// Package lifecycle carries in-process control-flow events between pmbus
// components, such as subscriber state transitions feeding readiness.
package lifecycle

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	ferrors "git.home.luguber.info/inful/pmbus/internal/foundation/errors"
)

// Bus fans lifecycle events out to in-process subscriptions. It is not
// durable; domain events go through streamlog.
//
// Publish blocks until every matching subscription accepted the event or the
// context ends, so subscriptions must be drained.
type Bus struct {
	mu        sync.RWMutex
	subs      map[reflect.Type]map[uint64]*subscription
	nextID    atomic.Uint64
	isClosed  atomic.Bool
	closeOnce sync.Once
}

type subscription struct {
	send  func(ctx context.Context, evt Event) error
	close func()
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[reflect.Type]map[uint64]*subscription),
	}
}

// Subscribe registers a subscription for lifecycle events of type T.
// Subscribing to Event itself receives every lifecycle event.
func Subscribe[T Event](b *Bus, buffer int) (<-chan T, func()) {
	eventType := reflect.TypeFor[T]()
	ch := make(chan T, buffer)

	if b.isClosed.Load() {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID.Add(1)
	var closeOnce sync.Once
	closeChannel := func() { closeOnce.Do(func() { close(ch) }) }

	var unsubOnce sync.Once
	unsubscribe := func() {
		unsubOnce.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if typeSubs, ok := b.subs[eventType]; ok {
				delete(typeSubs, id)
				if len(typeSubs) == 0 {
					delete(b.subs, eventType)
				}
			}
			closeChannel()
		})
	}

	sub := &subscription{
		send: func(ctx context.Context, evt Event) error {
			v, ok := evt.(T)
			if !ok {
				return ferrors.InternalError("lifecycle event type mismatch").
					WithContext("expected", eventType.String()).
					WithContext("actual", reflect.TypeOf(evt).String()).
					Build()
			}
			select {
			case ch <- v:
				return nil
			case <-ctx.Done():
				return ferrors.WrapError(ctx.Err(), ferrors.CategoryRuntime, "lifecycle publish canceled").
					WithContext("event", eventType.String()).
					WithContext("subscriber", evt.SubscriberKey()).
					Build()
			}
		},
		close: closeChannel,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isClosed.Load() {
		closeChannel()
		return ch, func() {}
	}
	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[uint64]*subscription)
	}
	b.subs[eventType][id] = sub
	return ch, unsubscribe
}

// SubscriberCount returns the number of active subscriptions for events of type T.
func SubscriberCount[T Event](b *Bus) int {
	if b == nil {
		return 0
	}
	eventType := reflect.TypeFor[T]()
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

// Publish delivers evt to all matching subscriptions. A nil bus drops events.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if b == nil {
		return nil
	}
	if evt == nil {
		return ferrors.ValidationError("lifecycle event cannot be nil").Build()
	}
	if b.isClosed.Load() {
		return ferrors.RuntimeError("lifecycle bus is closed").Build()
	}

	evtType := reflect.TypeOf(evt)
	b.mu.RLock()
	var targets []*subscription
	for subType, typeSubs := range b.subs {
		if subType != evtType && (subType.Kind() != reflect.Interface || !evtType.Implements(subType)) {
			continue
		}
		for _, s := range typeSubs {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if err := s.send(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the bus and all subscription channels.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.isClosed.Store(true)

		b.mu.Lock()
		var toClose []*subscription
		for _, typeSubs := range b.subs {
			for _, s := range typeSubs {
				toClose = append(toClose, s)
			}
		}
		b.subs = make(map[reflect.Type]map[uint64]*subscription)
		b.mu.Unlock()

		for _, s := range toClose {
			s.close()
		}
	})
}
