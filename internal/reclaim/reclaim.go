// Package reclaim redelivers messages that sat pending too long in a consumer
// group, and moves those that keep failing to a dead-letter stream.
package reclaim

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"git.home.luguber.info/inful/pmbus/internal/config"
	"git.home.luguber.info/inful/pmbus/internal/lifecycle"
	"git.home.luguber.info/inful/pmbus/internal/logfields"
	"git.home.luguber.info/inful/pmbus/internal/metrics"
	"git.home.luguber.info/inful/pmbus/internal/observability"
	"git.home.luguber.info/inful/pmbus/internal/streamlog"
)

// Dead-letter entries carry the original fields plus these.
const (
	DeadLetterPrefix    = "deadletter."
	FieldReason         = "dead_letter_reason"
	FieldOriginalID     = "original_id"
	FieldOriginalStream = "original_stream"
	FieldDeliveries     = "deliveries"

	ReasonMaxDeliveries = "max_deliveries_exceeded"
)

// DeadLetterStream names the dead-letter stream for stream.
func DeadLetterStream(stream string) string { return DeadLetterPrefix + stream }

// Dispatcher is the part of a subscriber the sweep re-dispatches through.
type Dispatcher interface {
	Group() string
	Consumer() string
	Streams() []string
	Dispatch(ctx context.Context, stream string, msg streamlog.Message) bool
	InFlight(stream, id string) bool
}

// Result summarises one sweep.
type Result struct {
	Claimed      int
	Redelivered  int
	Acked        int
	DeadLettered int
}

// Reclaimer claims idle pending entries of a group for the local consumer and
// re-dispatches them. An entry already delivered MaxDeliveries times is
// dead-lettered instead of being handled again.
type Reclaimer struct {
	client        streamlog.Client
	sub           Dispatcher
	minIdle       time.Duration
	maxDeliveries int64
	batch         int64

	logger   *slog.Logger
	recorder metrics.Recorder
	bus      *lifecycle.Bus
}

// Option configures a Reclaimer.
type Option func(*Reclaimer)

func WithLogger(l *slog.Logger) Option { return func(r *Reclaimer) { r.logger = l } }

func WithRecorder(rec metrics.Recorder) Option { return func(r *Reclaimer) { r.recorder = rec } }

// WithBus publishes a MessageDeadLettered event per dead-lettered message.
func WithBus(b *lifecycle.Bus) Option { return func(r *Reclaimer) { r.bus = b } }

// New returns a Reclaimer for sub using the sweep settings in cfg.
func New(client streamlog.Client, sub Dispatcher, cfg config.ReclaimConfig, opts ...Option) *Reclaimer {
	r := &Reclaimer{
		client:        client,
		sub:           sub,
		minIdle:       cfg.MinIdle,
		maxDeliveries: cfg.MaxDeliveries,
		batch:         cfg.Batch,
		logger:        slog.Default(),
		recorder:      metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sweep runs one pass over every stream the subscriber handles. A failing
// stream is logged and skipped; the first error is returned after all
// streams were tried.
func (r *Reclaimer) Sweep(ctx context.Context) (Result, error) {
	var total Result
	var firstErr error
	for _, stream := range r.sub.Streams() {
		res, err := r.sweepStream(ctx, stream)
		total.Claimed += res.Claimed
		total.Redelivered += res.Redelivered
		total.Acked += res.Acked
		total.DeadLettered += res.DeadLettered
		if err != nil {
			observability.Log(ctx, r.logger, slog.LevelError, "Reclaim sweep failed",
				logfields.Stream(stream), logfields.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return total, firstErr
}

func (r *Reclaimer) sweepStream(ctx context.Context, stream string) (Result, error) {
	var res Result
	group, consumer := r.sub.Group(), r.sub.Consumer()

	entries, err := r.client.Pending(ctx, stream, group, streamlog.PendingQuery{MinIdle: r.minIdle, Count: r.batch})
	if err != nil || len(entries) == 0 {
		return res, err
	}

	// Entries the live loop is still working through look idle once their
	// handler outlasts min_idle; claiming them would run the handler twice.
	deliveries := make(map[string]int64, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Consumer == consumer && r.sub.InFlight(stream, e.ID) {
			continue
		}
		ids = append(ids, e.ID)
		deliveries[e.ID] = e.Deliveries
	}
	if len(ids) == 0 {
		return res, nil
	}

	msgs, err := r.client.Claim(ctx, stream, group, consumer, r.minIdle, ids...)
	if err != nil {
		return res, err
	}
	res.Claimed = len(msgs)
	r.recorder.AddReclaimed(stream, len(msgs))

	for _, m := range msgs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if r.maxDeliveries > 0 && deliveries[m.ID] >= r.maxDeliveries {
			if err := r.deadLetter(ctx, stream, m, deliveries[m.ID]); err != nil {
				return res, err
			}
			res.DeadLettered++
			continue
		}
		res.Redelivered++
		if r.sub.Dispatch(ctx, stream, m) {
			res.Acked++
		}
	}

	if res.Claimed > 0 {
		observability.Log(ctx, r.logger, slog.LevelInfo, "Reclaimed pending messages",
			logfields.Stream(stream),
			logfields.Count(res.Claimed),
			slog.Int("acked", res.Acked),
			slog.Int("dead_lettered", res.DeadLettered))
	}
	return res, nil
}

func (r *Reclaimer) deadLetter(ctx context.Context, stream string, m streamlog.Message, deliveries int64) error {
	fields := make(map[string]string, len(m.Fields)+4)
	for k, v := range m.Fields {
		fields[k] = v
	}
	fields[FieldReason] = ReasonMaxDeliveries
	fields[FieldOriginalID] = m.ID
	fields[FieldOriginalStream] = stream
	fields[FieldDeliveries] = strconv.FormatInt(deliveries, 10)

	dlq := DeadLetterStream(stream)
	if _, err := r.client.Append(ctx, dlq, fields); err != nil {
		return err
	}
	if _, err := r.client.Ack(ctx, stream, r.sub.Group(), m.ID); err != nil {
		return err
	}
	r.recorder.IncDeadLettered(stream)

	observability.Log(ctx, r.logger, slog.LevelWarn, "Message dead-lettered",
		logfields.Stream(stream),
		logfields.MessageID(m.ID),
		slog.String("dead_letter_stream", dlq),
		slog.Int64("deliveries", deliveries))

	if r.bus != nil {
		err := r.bus.Publish(ctx, lifecycle.MessageDeadLettered{
			Group:      r.sub.Group(),
			Consumer:   r.sub.Consumer(),
			Stream:     stream,
			MessageID:  m.ID,
			Deliveries: deliveries,
			At:         time.Now(),
		})
		if err != nil {
			observability.Log(ctx, r.logger, slog.LevelDebug, "Lifecycle event dropped", logfields.Error(err))
		}
	}
	return nil
}
