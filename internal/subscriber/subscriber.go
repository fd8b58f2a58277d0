// Package subscriber runs the consumer-group consume loop: read pending-tracked
// deliveries, dispatch each to the handler registered for its stream, and
// acknowledge on success.
package subscriber

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/pmbus/internal/config"
	"git.home.luguber.info/inful/pmbus/internal/events"
	ferrors "git.home.luguber.info/inful/pmbus/internal/foundation/errors"
	"git.home.luguber.info/inful/pmbus/internal/lifecycle"
	"git.home.luguber.info/inful/pmbus/internal/logfields"
	"git.home.luguber.info/inful/pmbus/internal/metrics"
	"git.home.luguber.info/inful/pmbus/internal/observability"
	"git.home.luguber.info/inful/pmbus/internal/retry"
	"git.home.luguber.info/inful/pmbus/internal/streamlog"
)

const (
	DefaultCount = 10
	DefaultBlock = 5 * time.Second
)

// Subscriber binds handlers to streams for one (group, consumer) identity.
//
// Handlers run one at a time, whether called from the consume loop or through
// Dispatch by a redelivery sweep. Stop is cooperative: it is observed between
// reads, so an in-flight handler always completes and its message is
// acknowledged before Start returns.
type Subscriber struct {
	client   streamlog.Client
	group    string
	consumer string

	count   int64
	block   time.Duration
	startID string
	backoff retry.Policy

	logger   *slog.Logger
	recorder metrics.Recorder
	bus      *lifecycle.Bus

	mu         sync.Mutex
	state      lifecycle.State
	handlers   map[events.Type]Handler
	cancelRead context.CancelFunc
	stopping   atomic.Bool

	// dispatchMu serializes handler calls; inFlight holds the deliveries of
	// the current read batch until each has been dispatched.
	dispatchMu sync.Mutex
	inFlight   map[string]struct{}
}

// Option configures a Subscriber.
type Option func(*Subscriber)

func WithCount(n int64) Option { return func(s *Subscriber) { s.count = n } }

// WithBlock sets how long one read waits for new deliveries.
func WithBlock(d time.Duration) Option { return func(s *Subscriber) { s.block = d } }

// WithStartID sets where newly created groups begin. Existing groups keep their cursor.
func WithStartID(id string) Option { return func(s *Subscriber) { s.startID = id } }

// WithBackoff sets the pause policy after a failed read.
func WithBackoff(p retry.Policy) Option { return func(s *Subscriber) { s.backoff = p } }

func WithLogger(l *slog.Logger) Option { return func(s *Subscriber) { s.logger = l } }

func WithRecorder(r metrics.Recorder) Option { return func(s *Subscriber) { s.recorder = r } }

// WithBus publishes state transitions on bus.
func WithBus(b *lifecycle.Bus) Option { return func(s *Subscriber) { s.bus = b } }

// FromConfig maps the subscriber config section onto options.
func FromConfig(c config.SubscriberConfig) []Option {
	opts := []Option{WithBackoff(retry.FromConfig(c.Backoff))}
	if c.Count > 0 {
		opts = append(opts, WithCount(c.Count))
	}
	if c.Block > 0 {
		opts = append(opts, WithBlock(c.Block))
	}
	if c.StartID != "" {
		opts = append(opts, WithStartID(c.StartID))
	}
	return opts
}

// New returns a Subscriber in the created state.
func New(client streamlog.Client, group, consumer string, opts ...Option) *Subscriber {
	s := &Subscriber{
		client:   client,
		group:    group,
		consumer: consumer,
		count:    DefaultCount,
		block:    DefaultBlock,
		startID:  streamlog.StartFromNew,
		backoff:  retry.DefaultPolicy(),
		logger:   slog.Default(),
		recorder: metrics.NoopRecorder{},
		state:    lifecycle.StateCreated,
		handlers: make(map[events.Type]Handler),
		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Subscriber) Group() string    { return s.group }
func (s *Subscriber) Consumer() string { return s.consumer }

// State returns the current lifecycle state.
func (s *Subscriber) State() lifecycle.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// On binds h to the stream of event type t. Registration is only allowed
// before Start, and binding a stream twice is a configuration error.
func (s *Subscriber) On(t events.Type, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != lifecycle.StateCreated {
		return ferrors.ConfigError("handlers must be registered before start").
			WithContext("stream", t.Stream()).
			WithContext("state", string(s.state)).
			Build()
	}
	if t == "" || h == nil {
		return ferrors.ConfigError("handler registration needs a stream and a handler").Build()
	}
	if _, exists := s.handlers[t]; exists {
		return ferrors.ConfigError("stream already has a handler").
			WithContext("stream", t.Stream()).
			Build()
	}
	s.handlers[t] = h
	return nil
}

// Streams returns the registered stream names in sorted order.
func (s *Subscriber) Streams() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamsLocked()
}

func (s *Subscriber) streamsLocked() []string {
	out := make([]string, 0, len(s.handlers))
	for t := range s.handlers {
		out = append(out, t.Stream())
	}
	slices.Sort(out)
	return out
}

// Start registers the consumer groups and runs the consume loop until Stop is
// called or ctx ends. It fails fast, before touching the store, when no
// handler is registered.
func (s *Subscriber) Start(ctx context.Context) error {
	ctx = observability.WithConsumer(observability.WithGroup(ctx, s.group), s.consumer)

	s.mu.Lock()
	if s.state != lifecycle.StateCreated {
		state := s.state
		s.mu.Unlock()
		return ferrors.ConfigError("subscriber already started").
			WithContext("state", string(state)).
			Build()
	}
	if len(s.handlers) == 0 {
		s.mu.Unlock()
		return ferrors.ConfigError("subscriber started with no handlers").
			WithContext("group", s.group).
			Build()
	}
	streams := s.streamsLocked()
	readCtx, cancelRead := context.WithCancel(ctx)
	s.cancelRead = cancelRead
	s.mu.Unlock()
	defer cancelRead()

	s.transition(ctx, lifecycle.StateRegisteringGroups, streams, nil)
	if err := s.registerGroups(readCtx, streams); err != nil {
		if readCtx.Err() != nil {
			s.transition(ctx, lifecycle.StateStopped, streams, nil)
			return nil
		}
		s.transition(ctx, lifecycle.StateStopped, streams, err)
		return err
	}

	s.transition(ctx, lifecycle.StateRunning, streams, nil)
	s.consume(ctx, readCtx, streams)
	s.transition(ctx, lifecycle.StateStopped, streams, nil)
	return nil
}

// Stop asks the loop to exit. A read blocked waiting for deliveries is
// interrupted; a running handler is not.
func (s *Subscriber) Stop() {
	s.stopping.Store(true)
	s.mu.Lock()
	cancel := s.cancelRead
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Subscriber) registerGroups(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		for attempt := 1; ; attempt++ {
			created, err := s.client.CreateGroup(ctx, stream, s.group, s.startID)
			if err == nil {
				observability.Log(ctx, s.logger, slog.LevelDebug, "Consumer group ready",
					logfields.Stream(stream), slog.Bool("created", created))
				break
			}
			if !ferrors.IsTransient(err) || s.backoff.Exhausted(attempt) {
				return err
			}
			observability.Log(ctx, s.logger, slog.LevelError, "Failed to create consumer group",
				logfields.Stream(stream), logfields.Error(err))
			if werr := s.backoff.Wait(ctx, attempt); werr != nil {
				return werr
			}
		}
	}
	return nil
}

func (s *Subscriber) consume(ctx, readCtx context.Context, streams []string) {
	cursors := streamlog.LiveTail(streams...)
	opts := streamlog.ReadOptions{Count: s.count, Block: s.block}
	failures := 0

	for !s.stopping.Load() && readCtx.Err() == nil {
		res, err := s.client.ReadGroup(readCtx, s.group, s.consumer, cursors, opts)
		if err != nil {
			if readCtx.Err() != nil {
				return
			}
			failures++
			s.recorder.IncReadError()
			observability.Log(ctx, s.logger, slog.LevelError, "Failed to read from streams",
				logfields.Streams(streams), logfields.Error(err), slog.Int("attempt", failures))
			if s.backoff.Wait(readCtx, failures) != nil {
				return
			}
			continue
		}
		failures = 0
		if !s.dispatchBatch(ctx, res) {
			return
		}
	}
}

// dispatchBatch hands one read result to Dispatch in order. Every message of
// the batch counts as in flight until its own dispatch returns.
func (s *Subscriber) dispatchBatch(ctx context.Context, res []streamlog.Stream) bool {
	s.markInFlight(res, true)
	defer s.markInFlight(res, false)

	for _, st := range res {
		s.recorder.AddDelivered(st.Name, len(st.Messages))
		for _, m := range st.Messages {
			if ctx.Err() != nil {
				return false
			}
			s.Dispatch(ctx, st.Name, m)
			s.setInFlight(st.Name, m.ID, false)
		}
	}
	return true
}

func inFlightKey(stream, id string) string { return stream + "\x00" + id }

func (s *Subscriber) setInFlight(stream, id string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.inFlight[inFlightKey(stream, id)] = struct{}{}
	} else {
		delete(s.inFlight, inFlightKey(stream, id))
	}
}

func (s *Subscriber) markInFlight(res []streamlog.Stream, on bool) {
	for _, st := range res {
		for _, m := range st.Messages {
			s.setInFlight(st.Name, m.ID, on)
		}
	}
}

// InFlight reports whether msg id on stream was delivered by the consume loop
// and has not been dispatched yet, or is being dispatched now.
func (s *Subscriber) InFlight(stream, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[inFlightKey(stream, id)]
	return ok
}

// Dispatch runs the handler registered for stream on msg and acknowledges it
// on success. It reports whether the message was acknowledged. Handler errors
// and panics are logged and leave the message pending.
func (s *Subscriber) Dispatch(ctx context.Context, stream string, msg streamlog.Message) bool {
	s.mu.Lock()
	h, ok := s.handlers[events.Type(stream)]
	s.mu.Unlock()

	attrs := []slog.Attr{logfields.Stream(stream), logfields.MessageID(msg.ID)}
	if !ok {
		s.recorder.IncHandled(stream, metrics.ResultSkipped)
		observability.Log(ctx, s.logger, slog.LevelWarn, "No handler for stream, leaving message pending", attrs...)
		return false
	}

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	start := time.Now()
	err := invoke(ctx, h, Message{Stream: stream, ID: msg.ID, Fields: events.Fields(msg.Fields)})
	elapsed := time.Since(start)
	s.recorder.ObserveHandlerDuration(stream, elapsed)
	s.recorder.IncHandled(stream, metrics.ResultFor(err))

	if err != nil {
		herr := ferrors.HandlerError("handler failed").
			WithCause(err).
			WithContext("stream", stream).
			WithContext("message_id", msg.ID).
			Build()
		observability.Log(ctx, s.logger, slog.LevelError, "Handler failed, message left pending",
			append(attrs, logfields.Duration(elapsed), logfields.Error(herr))...)
		return false
	}

	// The handler completed, so the ack goes through even if ctx just ended.
	n, err := s.client.Ack(context.WithoutCancel(ctx), stream, s.group, msg.ID)
	if err != nil {
		observability.Log(ctx, s.logger, slog.LevelError, "Failed to acknowledge message",
			append(attrs, logfields.Error(err))...)
		return false
	}
	s.recorder.AddAcked(stream, n)
	observability.Log(ctx, s.logger, slog.LevelDebug, "Handled message",
		append(attrs, logfields.Duration(elapsed))...)
	return true
}

func invoke(ctx context.Context, h Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, msg)
}

func (s *Subscriber) transition(ctx context.Context, to lifecycle.State, streams []string, cause error) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	attrs := []slog.Attr{logfields.State(string(to)), logfields.Streams(streams)}
	if cause != nil {
		observability.Log(ctx, s.logger, slog.LevelError, "Subscriber stopped on error", append(attrs, logfields.Error(cause))...)
	} else {
		observability.Log(ctx, s.logger, slog.LevelInfo, "Subscriber state changed", attrs...)
	}

	if s.bus == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	err := s.bus.Publish(pubCtx, lifecycle.SubscriberStateChanged{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  streams,
		From:     from,
		To:       to,
		Err:      cause,
		At:       time.Now(),
	})
	if err != nil {
		observability.Log(ctx, s.logger, slog.LevelDebug, "Lifecycle event dropped", logfields.Error(err))
	}
}
