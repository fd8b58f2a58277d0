// Package projection maintains the activity read model: per-project and
// per-user counters folded from the event streams.
package projection

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/pmbus/internal/events"
)

// ProjectActivity counts what happened in one project.
type ProjectActivity struct {
	TasksCreated       int
	TasksCompleted     int
	StatusChanges      int
	ActualHours        float64
	MilestonesAchieved int
	MilestonesMissed   int
	Insights           int
	LastEventAt        time.Time
}

// UserHours sums the timesheets one user submitted.
type UserHours struct {
	Timesheets    int
	TotalHours    float64
	BillableHours float64
}

// Streams lists the event types the activity model folds.
var Streams = []events.Type{
	events.TypeTaskCreated,
	events.TypeTaskStatusChanged,
	events.TypeTaskCompleted,
	events.TypeProjectMilestone,
	events.TypeInsightGenerated,
	events.TypeTimesheetSubmitted,
}

// Activity is safe for concurrent use. Apply is idempotent per event_id, so
// a replay overlapping live delivery counts each event once.
type Activity struct {
	mu       sync.RWMutex
	projects map[uuid.UUID]*ProjectActivity
	users    map[uuid.UUID]*UserHours
	seen     map[uuid.UUID]struct{}
}

func NewActivity() *Activity {
	return &Activity{
		projects: make(map[uuid.UUID]*ProjectActivity),
		users:    make(map[uuid.UUID]*UserHours),
		seen:     make(map[uuid.UUID]struct{}),
	}
}

// Apply folds ev into the model and reports whether it changed anything.
// Already applied events and types the model ignores return false.
func (a *Activity) Apply(ev events.Event) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := ev.Meta().EventID
	if _, dup := a.seen[id]; dup {
		return false
	}

	at := ev.Meta().Timestamp
	switch e := ev.(type) {
	case *events.TaskCreated:
		a.project(e.ProjectID, at).TasksCreated++
	case *events.TaskStatusChanged:
		a.project(e.ProjectID, at).StatusChanges++
	case *events.TaskCompleted:
		p := a.project(e.ProjectID, at)
		p.TasksCompleted++
		p.ActualHours += e.ActualHours
	case *events.ProjectMilestone:
		p := a.project(e.ProjectID, at)
		if e.Missed() {
			p.MilestonesMissed++
		} else {
			p.MilestonesAchieved++
		}
	case *events.InsightGenerated:
		a.project(e.ProjectID, at).Insights++
	case *events.TimesheetSubmitted:
		u := a.users[e.UserID]
		if u == nil {
			u = &UserHours{}
			a.users[e.UserID] = u
		}
		u.Timesheets++
		u.TotalHours += e.TotalHours
		u.BillableHours += e.BillableHours
	default:
		return false
	}
	a.seen[id] = struct{}{}
	return true
}

func (a *Activity) project(id uuid.UUID, at time.Time) *ProjectActivity {
	p := a.projects[id]
	if p == nil {
		p = &ProjectActivity{}
		a.projects[id] = p
	}
	if at.After(p.LastEventAt) {
		p.LastEventAt = at
	}
	return p
}

// Project returns a copy of the counters for id.
func (a *Activity) Project(id uuid.UUID) (ProjectActivity, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.projects[id]
	if !ok {
		return ProjectActivity{}, false
	}
	return *p, true
}

// User returns a copy of the hours submitted by id.
func (a *Activity) User(id uuid.UUID) (UserHours, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	u, ok := a.users[id]
	if !ok {
		return UserHours{}, false
	}
	return *u, true
}

// Projects returns a snapshot of every project's counters.
func (a *Activity) Projects() map[uuid.UUID]ProjectActivity {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[uuid.UUID]ProjectActivity, len(a.projects))
	for id, p := range a.projects {
		out[id] = *p
	}
	return out
}

// Applied returns how many distinct events were folded.
func (a *Activity) Applied() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.seen)
}
