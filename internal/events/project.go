package events

import (
	"time"

	"github.com/google/uuid"
)

// ProjectMilestone is published when a milestone is achieved or missed.
type ProjectMilestone struct {
	Envelope
	ProjectID       uuid.UUID
	MilestoneID     uuid.UUID
	MilestoneName   string
	Status          string
	AchievementDate *time.Time
}

func (e *ProjectMilestone) Type() Type { return TypeProjectMilestone }

// Missed reports whether the milestone deadline passed without completion.
func (e *ProjectMilestone) Missed() bool { return e.Status == MilestoneMissed }

func (e *ProjectMilestone) Fields() Fields {
	w := newFieldWriter(TypeProjectMilestone, e.Envelope)
	w.uuid("project_id", e.ProjectID)
	w.uuid("milestone_id", e.MilestoneID)
	w.str("milestone_name", e.MilestoneName)
	w.str("status", e.Status)
	w.optTime("achievement_date", e.AchievementDate)
	return w.fields()
}

func (e *ProjectMilestone) Validate() error {
	v := validator{t: TypeProjectMilestone}
	v.uuid("project_id", e.ProjectID)
	v.uuid("milestone_id", e.MilestoneID)
	v.str("milestone_name", e.MilestoneName)
	v.oneOf("status", e.Status, milestoneResults)
	return v.err
}

func decodeProjectMilestone(r *fieldReader) Event {
	return &ProjectMilestone{
		Envelope:        r.envelope(),
		ProjectID:       r.uuid("project_id"),
		MilestoneID:     r.uuid("milestone_id"),
		MilestoneName:   r.str("milestone_name"),
		Status:          r.str("status"),
		AchievementDate: r.optTime("achievement_date"),
	}
}
