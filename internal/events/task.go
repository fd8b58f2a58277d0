package events

import (
	"github.com/google/uuid"
)

// TaskCreated is published when a task is added to a project.
type TaskCreated struct {
	Envelope
	ProjectID        uuid.UUID
	TaskID           uuid.UUID
	Title            string
	AssignedToUserID *uuid.UUID
	Priority         string
	EstimatedHours   *float64
	RequiredSkills   []uuid.UUID
}

// NewTaskCreated returns a TaskCreated with a fresh envelope and medium priority.
func NewTaskCreated(projectID, taskID uuid.UUID, title string) *TaskCreated {
	return &TaskCreated{
		Envelope:  NewEnvelope(),
		ProjectID: projectID,
		TaskID:    taskID,
		Title:     title,
		Priority:  PriorityMedium,
	}
}

func (e *TaskCreated) Type() Type { return TypeTaskCreated }

func (e *TaskCreated) Fields() Fields {
	w := newFieldWriter(TypeTaskCreated, e.Envelope)
	w.uuid("project_id", e.ProjectID)
	w.uuid("task_id", e.TaskID)
	w.str("title", e.Title)
	w.optUUID("assigned_to_user_id", e.AssignedToUserID)
	w.str("priority", e.Priority)
	w.optFloat("estimated_hours", e.EstimatedHours)
	w.uuids("required_skills", e.RequiredSkills)
	return w.fields()
}

func (e *TaskCreated) Validate() error {
	v := validator{t: TypeTaskCreated}
	v.uuid("project_id", e.ProjectID)
	v.uuid("task_id", e.TaskID)
	v.str("title", e.Title)
	v.oneOf("priority", e.Priority, taskPriorities)
	if e.EstimatedHours != nil {
		v.nonNegative("estimated_hours", *e.EstimatedHours)
	}
	return v.err
}

func decodeTaskCreated(r *fieldReader) Event {
	return &TaskCreated{
		Envelope:         r.envelope(),
		ProjectID:        r.uuid("project_id"),
		TaskID:           r.uuid("task_id"),
		Title:            r.str("title"),
		AssignedToUserID: r.optUUID("assigned_to_user_id"),
		Priority:         r.strDefault("priority", PriorityMedium),
		EstimatedHours:   r.optFloat("estimated_hours"),
		RequiredSkills:   r.uuids("required_skills"),
	}
}

// TaskStatusChanged is published on every task status transition.
type TaskStatusChanged struct {
	Envelope
	ProjectID            uuid.UUID
	TaskID               uuid.UUID
	PreviousStatus       string
	NewStatus            string
	ChangedByUserID      uuid.UUID
	CompletionPercentage float64
}

func (e *TaskStatusChanged) Type() Type { return TypeTaskStatusChanged }

func (e *TaskStatusChanged) Fields() Fields {
	w := newFieldWriter(TypeTaskStatusChanged, e.Envelope)
	w.uuid("project_id", e.ProjectID)
	w.uuid("task_id", e.TaskID)
	w.str("previous_status", e.PreviousStatus)
	w.str("new_status", e.NewStatus)
	w.uuid("changed_by_user_id", e.ChangedByUserID)
	w.float("completion_percentage", e.CompletionPercentage)
	return w.fields()
}

func (e *TaskStatusChanged) Validate() error {
	v := validator{t: TypeTaskStatusChanged}
	v.uuid("project_id", e.ProjectID)
	v.uuid("task_id", e.TaskID)
	v.oneOf("previous_status", e.PreviousStatus, taskStatuses)
	v.oneOf("new_status", e.NewStatus, taskStatuses)
	v.uuid("changed_by_user_id", e.ChangedByUserID)
	if e.CompletionPercentage < 0 || e.CompletionPercentage > 100 {
		v.fail("completion_percentage", "must be between 0 and 100")
	}
	return v.err
}

func decodeTaskStatusChanged(r *fieldReader) Event {
	e := &TaskStatusChanged{
		Envelope:        r.envelope(),
		ProjectID:       r.uuid("project_id"),
		TaskID:          r.uuid("task_id"),
		PreviousStatus:  r.str("previous_status"),
		NewStatus:       r.str("new_status"),
		ChangedByUserID: r.uuid("changed_by_user_id"),
	}
	if p := r.optFloat("completion_percentage"); p != nil {
		e.CompletionPercentage = *p
	}
	return e
}

// TaskCompleted is published when a task is marked done.
type TaskCompleted struct {
	Envelope
	ProjectID         uuid.UUID
	TaskID            uuid.UUID
	CompletedByUserID uuid.UUID
	ActualHours       float64
}

func (e *TaskCompleted) Type() Type { return TypeTaskCompleted }

func (e *TaskCompleted) Fields() Fields {
	w := newFieldWriter(TypeTaskCompleted, e.Envelope)
	w.uuid("project_id", e.ProjectID)
	w.uuid("task_id", e.TaskID)
	w.uuid("completed_by_user_id", e.CompletedByUserID)
	w.float("actual_hours", e.ActualHours)
	return w.fields()
}

func (e *TaskCompleted) Validate() error {
	v := validator{t: TypeTaskCompleted}
	v.uuid("project_id", e.ProjectID)
	v.uuid("task_id", e.TaskID)
	v.uuid("completed_by_user_id", e.CompletedByUserID)
	v.nonNegative("actual_hours", e.ActualHours)
	return v.err
}

func decodeTaskCompleted(r *fieldReader) Event {
	return &TaskCompleted{
		Envelope:          r.envelope(),
		ProjectID:         r.uuid("project_id"),
		TaskID:            r.uuid("task_id"),
		CompletedByUserID: r.uuid("completed_by_user_id"),
		ActualHours:       r.float("actual_hours"),
	}
}
