// Package insights turns analysis requests into generated insights using an
// LLM, and asks for a risk assessment whenever a milestone is missed.
package insights

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/pmbus/internal/events"
	"git.home.luguber.info/inful/pmbus/internal/llm"
	"git.home.luguber.info/inful/pmbus/internal/logfields"
	"git.home.luguber.info/inful/pmbus/internal/observability"
	"git.home.luguber.info/inful/pmbus/internal/projection"
	"git.home.luguber.info/inful/pmbus/internal/subscriber"
)

// SystemUserID is the requester recorded on analyses the worker asks for itself.
var SystemUserID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:pmbus:insights-service"))

const defaultDedupSize = 10000

// Completer is the LLM call the worker depends on.
type Completer interface {
	CompleteJSON(ctx context.Context, r llm.Request) (map[string]any, error)
}

// Publisher appends events.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) (string, error)
}

// Worker handles ai.analysis_requested and project.milestone.
type Worker struct {
	llm      Completer
	pub      Publisher
	activity *projection.Activity
	logger   *slog.Logger

	mu        sync.Mutex
	answered  map[uuid.UUID]struct{}
	order     []uuid.UUID
	dedupSize int
}

// Option configures a Worker.
type Option func(*Worker)

// WithActivity adds project counters to prompts. Register then also keeps a
// up to date from the activity streams.
func WithActivity(a *projection.Activity) Option { return func(w *Worker) { w.activity = a } }

func WithLogger(l *slog.Logger) Option { return func(w *Worker) { w.logger = l } }

// WithDedupSize bounds how many answered request ids are remembered.
func WithDedupSize(n int) Option { return func(w *Worker) { w.dedupSize = n } }

func New(c Completer, p Publisher, opts ...Option) *Worker {
	w := &Worker{
		llm:       c,
		pub:       p,
		logger:    slog.Default(),
		answered:  make(map[uuid.UUID]struct{}),
		dedupSize: defaultDedupSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Register binds the worker's handlers on sub, plus the activity streams when
// the worker has an activity model.
func (w *Worker) Register(sub *subscriber.Subscriber) error {
	if err := sub.On(events.TypeAnalysisRequested, subscriber.Typed(w.HandleAnalysisRequested)); err != nil {
		return err
	}
	if err := sub.On(events.TypeProjectMilestone, subscriber.Typed(w.HandleMilestone)); err != nil {
		return err
	}
	if w.activity == nil {
		return nil
	}
	return projection.Register(sub, w.activity, events.TypeProjectMilestone)
}

// HandleAnalysisRequested runs the analysis and publishes its insight. A
// request already answered by this process is skipped. Any failure, including
// the publish, is returned so the message stays pending.
func (w *Worker) HandleAnalysisRequested(ctx context.Context, messageID string, req *events.AnalysisRequested) error {
	attrs := []slog.Attr{logfields.MessageID(messageID), slog.String("request_id", req.RequestID.String())}
	if w.seen(req.RequestID) {
		observability.Log(ctx, w.logger, slog.LevelDebug, "Skipping answered analysis request", attrs...)
		return nil
	}

	var activity projection.ProjectActivity
	known := false
	if w.activity != nil {
		activity, known = w.activity.Project(req.ProjectID)
	}

	resp, err := w.llm.CompleteJSON(ctx, llm.Request{
		Prompt:       buildPrompt(req, activity, known),
		SystemPrompt: systemPrompt(req.AnalysisType),
	})
	if err != nil {
		return err
	}

	insight := &events.InsightGenerated{
		Envelope:    events.NewEnvelope(),
		InsightID:   uuid.New(),
		ProjectID:   req.ProjectID,
		InsightType: req.AnalysisType,
	}
	insight.Severity, insight.RequiresAttention = assess(resp)

	if _, err := w.pub.Publish(ctx, insight); err != nil {
		return err
	}
	w.remember(req.RequestID)

	observability.Log(ctx, w.logger, slog.LevelInfo, "Insight generated",
		append(attrs, slog.String("insight_id", insight.InsightID.String()),
			slog.Bool("requires_attention", insight.RequiresAttention))...)
	return nil
}

// HandleMilestone requests a risk assessment for every missed milestone.
func (w *Worker) HandleMilestone(ctx context.Context, messageID string, ev *events.ProjectMilestone) error {
	if w.activity != nil {
		w.activity.Apply(ev)
	}
	if !ev.Missed() {
		return nil
	}
	req := events.NewAnalysisRequested(ev.ProjectID, SystemUserID, events.AnalysisRiskAssessment)
	req.Priority = events.PriorityHigh
	if _, err := w.pub.Publish(ctx, req); err != nil {
		return err
	}
	observability.Log(ctx, w.logger, slog.LevelInfo, "Risk assessment requested for missed milestone",
		logfields.MessageID(messageID),
		slog.String("milestone", ev.MilestoneName),
		slog.String("request_id", req.RequestID.String()))
	return nil
}

// assess reads severity and attention from a completion. Risk assessments
// report risk_level rather than severity; attention defaults to high or
// critical severity when the model does not say.
func assess(resp map[string]any) (*string, bool) {
	var severity *string
	for _, key := range []string{"severity", "risk_level"} {
		if s, ok := resp[key].(string); ok && s != "" {
			v := strings.ToLower(s)
			severity = &v
			break
		}
	}
	if attention, ok := resp["requires_attention"].(bool); ok {
		return severity, attention
	}
	return severity, severity != nil && (*severity == "high" || *severity == "critical")
}

func (w *Worker) seen(id uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.answered[id]
	return ok
}

func (w *Worker) remember(id uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.answered[id]; ok {
		return
	}
	w.answered[id] = struct{}{}
	w.order = append(w.order, id)
	if w.dedupSize > 0 && len(w.order) > w.dedupSize {
		delete(w.answered, w.order[0])
		w.order = w.order[1:]
	}
}
