// Package notify relays generated insights to NATS JetStream so push
// consumers can follow a project without reading the log store.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/pmbus/internal/config"
	"git.home.luguber.info/inful/pmbus/internal/events"
	"git.home.luguber.info/inful/pmbus/internal/foundation/errors"
	"git.home.luguber.info/inful/pmbus/internal/logfields"
	"git.home.luguber.info/inful/pmbus/internal/metrics"
	"git.home.luguber.info/inful/pmbus/internal/observability"
	"git.home.luguber.info/inful/pmbus/internal/subscriber"
)

// Sink is the JetStream publish call the relay needs. jetstream.JetStream
// satisfies it.
type Sink interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Relay publishes insight.generated events to <prefix>.<project_id>.
type Relay struct {
	sink     Sink
	prefix   string
	timeout  time.Duration
	logger   *slog.Logger
	recorder metrics.Recorder
}

// Option configures a Relay.
type Option func(*Relay)

func WithLogger(l *slog.Logger) Option { return func(r *Relay) { r.logger = l } }

func WithRecorder(rec metrics.Recorder) Option { return func(r *Relay) { r.recorder = rec } }

// NewRelay returns a relay publishing through sink.
func NewRelay(sink Sink, subjectPrefix string, timeout time.Duration, opts ...Option) *Relay {
	r := &Relay{
		sink:     sink,
		prefix:   subjectPrefix,
		timeout:  timeout,
		logger:   slog.Default(),
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subject returns the subject insights for projectID are published on.
func (r *Relay) Subject(projectID string) string { return r.prefix + "." + projectID }

// Register binds the relay on sub.
func (r *Relay) Register(sub *subscriber.Subscriber) error {
	return sub.On(events.TypeInsightGenerated, subscriber.Typed(r.HandleInsight))
}

// HandleInsight publishes the event's field map as a JSON object. The
// event_id is the JetStream message id, so a redelivered insight is
// deduplicated by the server within its duplicate window.
func (r *Relay) HandleInsight(ctx context.Context, messageID string, ev *events.InsightGenerated) error {
	payload, err := json.Marshal(ev.Fields())
	if err != nil {
		return errors.InternalError("failed to marshal insight").WithCause(err).Build()
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	subject := r.Subject(ev.ProjectID.String())
	_, err = r.sink.Publish(ctx, subject, payload, jetstream.WithMsgID(ev.Meta().EventID.String()))
	r.recorder.IncRelayed(metrics.ResultFor(err))
	if err != nil {
		return errors.ConnectionError("failed to publish insight to JetStream").
			WithCause(err).
			WithContext("subject", subject).
			Build()
	}

	observability.Log(ctx, r.logger, slog.LevelDebug, "Relayed insight",
		logfields.MessageID(messageID),
		logfields.EventID(ev.Meta().EventID.String()),
		slog.String("subject", subject))
	return nil
}

// Connect dials NATS, ensures the JetStream stream capturing the relay's
// subjects exists, and returns a relay plus a close func for the connection.
func Connect(ctx context.Context, cfg config.NotifyConfig, opts ...Option) (*Relay, func(), error) {
	conn, err := nats.Connect(cfg.URL, nats.Name("pmbus-notify"))
	if err != nil {
		return nil, nil, errors.ConnectionError("failed to connect to NATS").
			WithCause(err).
			WithContext("url", cfg.URL).
			Build()
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, nil, errors.ConnectionError("failed to create JetStream context").WithCause(err).Build()
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "Generated project insights",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
	})
	if err != nil {
		conn.Close()
		return nil, nil, errors.ConnectionError("failed to create JetStream stream").
			WithCause(err).
			WithContext("stream", cfg.Stream).
			Build()
	}

	r := NewRelay(js, cfg.SubjectPrefix, cfg.Timeout, opts...)
	observability.Log(ctx, r.logger, slog.LevelInfo, "NATS relay initialized",
		slog.String("url", cfg.URL),
		slog.String("jetstream", cfg.Stream),
		slog.String("subject_prefix", cfg.SubjectPrefix))
	return r, conn.Close, nil
}
