// Package publisher appends typed domain events to the stream named after their type.
package publisher

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/pmbus/internal/events"
	"git.home.luguber.info/inful/pmbus/internal/logfields"
	"git.home.luguber.info/inful/pmbus/internal/metrics"
	"git.home.luguber.info/inful/pmbus/internal/observability"
	"git.home.luguber.info/inful/pmbus/internal/streamlog"
)

// Publisher serializes events and appends them through a streamlog.Client.
// It never retries: an append retried after an ambiguous failure would
// duplicate the event, and consumers dedupe on event_id.
type Publisher struct {
	client   streamlog.Client
	logger   *slog.Logger
	recorder metrics.Recorder
}

// Option configures a Publisher.
type Option func(*Publisher)

func WithLogger(l *slog.Logger) Option { return func(p *Publisher) { p.logger = l } }

func WithRecorder(r metrics.Recorder) Option { return func(p *Publisher) { p.recorder = r } }

// New returns a Publisher appending through client.
func New(client streamlog.Client, opts ...Option) *Publisher {
	p := &Publisher{client: client, logger: slog.Default(), recorder: metrics.NoopRecorder{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish validates ev and appends it, returning the store-assigned message id.
func (p *Publisher) Publish(ctx context.Context, ev events.Event) (string, error) {
	stream := ev.Type().Stream()
	if err := ev.Validate(); err != nil {
		p.recorder.IncPublished(stream, metrics.ResultSkipped)
		return "", err
	}

	start := time.Now()
	id, err := p.client.Append(ctx, stream, ev.Fields())
	p.recorder.IncPublished(stream, metrics.ResultFor(err))
	if err != nil {
		observability.Log(ctx, p.logger, slog.LevelError, "Failed to publish event",
			logfields.Stream(stream),
			logfields.EventID(ev.Meta().EventID.String()),
			logfields.Error(err))
		return "", err
	}

	observability.Log(ctx, p.logger, slog.LevelInfo, "Published event",
		logfields.Stream(stream),
		logfields.MessageID(id),
		logfields.EventID(ev.Meta().EventID.String()),
		logfields.Duration(time.Since(start)))
	return id, nil
}

// PublishMany publishes evs in order. It stops at the first failure and
// returns the ids of the events already published alongside the error; those
// stay published.
func (p *Publisher) PublishMany(ctx context.Context, evs ...events.Event) ([]string, error) {
	ids := make([]string, 0, len(evs))
	for _, ev := range evs {
		id, err := p.Publish(ctx, ev)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
