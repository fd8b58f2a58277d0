package events

import (
	"github.com/google/uuid"
)

// AnalysisPriorityNormal is the default priority of an analysis request.
const AnalysisPriorityNormal = "normal"

// AnalysisRequested asks the insights service to analyse a project.
type AnalysisRequested struct {
	Envelope
	RequestID         uuid.UUID
	AnalysisType      string
	ProjectID         uuid.UUID
	RequestedByUserID uuid.UUID
	Priority          string
}

// NewAnalysisRequested returns a request with fresh envelope and request ids.
func NewAnalysisRequested(projectID, requestedBy uuid.UUID, analysisType string) *AnalysisRequested {
	return &AnalysisRequested{
		Envelope:          NewEnvelope(),
		RequestID:         uuid.New(),
		AnalysisType:      analysisType,
		ProjectID:         projectID,
		RequestedByUserID: requestedBy,
		Priority:          AnalysisPriorityNormal,
	}
}

func (e *AnalysisRequested) Type() Type { return TypeAnalysisRequested }

func (e *AnalysisRequested) Fields() Fields {
	w := newFieldWriter(TypeAnalysisRequested, e.Envelope)
	w.uuid("request_id", e.RequestID)
	w.str("analysis_type", e.AnalysisType)
	w.uuid("project_id", e.ProjectID)
	w.uuid("requested_by_user_id", e.RequestedByUserID)
	w.str("priority", e.Priority)
	return w.fields()
}

func (e *AnalysisRequested) Validate() error {
	v := validator{t: TypeAnalysisRequested}
	v.uuid("request_id", e.RequestID)
	v.str("analysis_type", e.AnalysisType)
	v.uuid("project_id", e.ProjectID)
	v.uuid("requested_by_user_id", e.RequestedByUserID)
	v.str("priority", e.Priority)
	return v.err
}

func decodeAnalysisRequested(r *fieldReader) Event {
	return &AnalysisRequested{
		Envelope:          r.envelope(),
		RequestID:         r.uuid("request_id"),
		AnalysisType:      r.str("analysis_type"),
		ProjectID:         r.uuid("project_id"),
		RequestedByUserID: r.uuid("requested_by_user_id"),
		Priority:          r.strDefault("priority", AnalysisPriorityNormal),
	}
}

// InsightGenerated is published once an analysis produced an insight.
type InsightGenerated struct {
	Envelope
	InsightID         uuid.UUID
	ProjectID         uuid.UUID
	InsightType       string
	Severity          *string
	RequiresAttention bool
}

func (e *InsightGenerated) Type() Type { return TypeInsightGenerated }

func (e *InsightGenerated) Fields() Fields {
	w := newFieldWriter(TypeInsightGenerated, e.Envelope)
	w.uuid("insight_id", e.InsightID)
	w.uuid("project_id", e.ProjectID)
	w.str("insight_type", e.InsightType)
	w.optStr("severity", e.Severity)
	w.boolean("requires_attention", e.RequiresAttention)
	return w.fields()
}

func (e *InsightGenerated) Validate() error {
	v := validator{t: TypeInsightGenerated}
	v.uuid("insight_id", e.InsightID)
	v.uuid("project_id", e.ProjectID)
	v.str("insight_type", e.InsightType)
	return v.err
}

func decodeInsightGenerated(r *fieldReader) Event {
	return &InsightGenerated{
		Envelope:          r.envelope(),
		InsightID:         r.uuid("insight_id"),
		ProjectID:         r.uuid("project_id"),
		InsightType:       r.str("insight_type"),
		Severity:          r.optStr("severity"),
		RequiresAttention: r.boolDefault("requires_attention", false),
	}
}
