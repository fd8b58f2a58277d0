// Package events defines the domain events exchanged between pmbus services.
//
// Every event is an immutable value that flattens to a map of string keys to
// string values (Fields) and is rebuilt by consumers from that map plus its
// event_type discriminator. The event type doubles as the name of the stream
// the event is appended to.
package events

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Type discriminates event variants and names the stream they are appended to.
type Type string

const (
	TypeTaskCreated        Type = "task.created"
	TypeTaskStatusChanged  Type = "task.status_changed"
	TypeTaskCompleted      Type = "task.completed"
	TypeProjectMilestone   Type = "project.milestone"
	TypeAnalysisRequested  Type = "ai.analysis_requested"
	TypeInsightGenerated   Type = "insight.generated"
	TypeTimesheetSubmitted Type = "timesheet.submitted"
)

func (t Type) String() string { return string(t) }

// Stream returns the name of the stream events of this type are appended to.
func (t Type) Stream() string { return string(t) }

// Envelope field names carried by every event.
const (
	FieldEventID   = "event_id"
	FieldTimestamp = "timestamp"
	FieldEventType = "event_type"
)

// Fields is the flat wire representation of an event.
type Fields map[string]string

// Clone returns a copy that can be mutated without affecting f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Event is implemented by every domain event variant.
type Event interface {
	Type() Type
	Meta() Envelope
	// Fields flattens the event, envelope included, to its wire map.
	Fields() Fields
	// Validate reports whether all required payload fields are set.
	Validate() error
}

// Envelope holds the fields common to all events. The timestamp is informational;
// ordering is the log's responsibility.
type Envelope struct {
	EventID   uuid.UUID
	Timestamp time.Time
}

// NewEnvelope returns an envelope with a fresh event id and the current UTC time.
func NewEnvelope() Envelope {
	return Envelope{EventID: uuid.New(), Timestamp: time.Now().UTC()}
}

func (e Envelope) Meta() Envelope { return e }

type decoder func(r *fieldReader) Event

// registry is the tagged dispatch table from event type to decoder.
var registry = map[Type]decoder{
	TypeTaskCreated:        decodeTaskCreated,
	TypeTaskStatusChanged:  decodeTaskStatusChanged,
	TypeTaskCompleted:      decodeTaskCompleted,
	TypeProjectMilestone:   decodeProjectMilestone,
	TypeAnalysisRequested:  decodeAnalysisRequested,
	TypeInsightGenerated:   decodeInsightGenerated,
	TypeTimesheetSubmitted: decodeTimesheetSubmitted,
}

// Types returns every known event type in lexical order.
func Types() []Type {
	out := make([]Type, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Known reports whether t names a registered event variant.
func Known(t Type) bool {
	_, ok := registry[t]
	return ok
}

// Decode rebuilds an event from its wire map using the embedded event_type.
func Decode(fields Fields) (Event, error) {
	return DecodeAs(Type(fields[FieldEventType]), fields)
}

// DecodeAs rebuilds an event of type t from fields. The stream name is an
// acceptable discriminator when fields lack event_type; when both are present
// they must agree.
func DecodeAs(t Type, fields Fields) (Event, error) {
	if embedded := fields[FieldEventType]; embedded != "" && Type(embedded) != t {
		return nil, malformed(t, FieldEventType, errTypeMismatch(embedded))
	}
	dec, ok := registry[t]
	if !ok {
		return nil, unknownType(t)
	}
	r := newFieldReader(t, fields)
	ev := dec(r)
	if r.err != nil {
		return nil, r.err
	}
	return ev, nil
}

// Build assembles an event of type t from a payload map, stamping a fresh
// envelope where the payload does not carry one, and validates it.
func Build(t Type, payload Fields) (Event, error) {
	fields := payload.Clone()
	env := NewEnvelope()
	if fields[FieldEventID] == "" {
		fields[FieldEventID] = env.EventID.String()
	}
	if fields[FieldTimestamp] == "" {
		fields[FieldTimestamp] = env.Timestamp.Format(time.RFC3339Nano)
	}
	delete(fields, FieldEventType)
	ev, err := DecodeAs(t, fields)
	if err != nil {
		return nil, err
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}
