package projection

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pmbus/internal/events"
	"git.home.luguber.info/inful/pmbus/internal/lifecycle"
	"git.home.luguber.info/inful/pmbus/internal/publisher"
	"git.home.luguber.info/inful/pmbus/internal/streamlog"
	"git.home.luguber.info/inful/pmbus/internal/subscriber"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func projectHistory(project, user uuid.UUID) []events.Event {
	task := uuid.New()
	return []events.Event{
		events.NewTaskCreated(project, task, "write docs"),
		&events.TaskStatusChanged{Envelope: events.NewEnvelope(), ProjectID: project, TaskID: task,
			PreviousStatus: events.StatusTodo, NewStatus: events.StatusInProgress, ChangedByUserID: user, CompletionPercentage: 50},
		&events.TaskCompleted{Envelope: events.NewEnvelope(), ProjectID: project, TaskID: task, CompletedByUserID: user, ActualHours: 3.5},
		&events.ProjectMilestone{Envelope: events.NewEnvelope(), ProjectID: project, MilestoneID: uuid.New(),
			MilestoneName: "beta", Status: events.MilestoneMissed},
		&events.TimesheetSubmitted{Envelope: events.NewEnvelope(), UserID: user, WeekStartDate: "2026-10-12", TotalHours: 40, BillableHours: 32},
	}
}

func TestActivity_ApplyFoldsAndDedups(t *testing.T) {
	project, user := uuid.New(), uuid.New()
	a := NewActivity()
	for _, ev := range projectHistory(project, user) {
		require.True(t, a.Apply(ev))
		require.False(t, a.Apply(ev))
	}
	require.False(t, a.Apply(events.NewAnalysisRequested(project, user, events.AnalysisSummary)))

	p, ok := a.Project(project)
	require.True(t, ok)
	require.Equal(t, 1, p.TasksCreated)
	require.Equal(t, 1, p.StatusChanges)
	require.Equal(t, 1, p.TasksCompleted)
	require.InDelta(t, 3.5, p.ActualHours, 1e-9)
	require.Equal(t, 1, p.MilestonesMissed)
	require.Zero(t, p.MilestonesAchieved)
	require.False(t, p.LastEventAt.IsZero())

	u, ok := a.User(user)
	require.True(t, ok)
	require.Equal(t, UserHours{Timesheets: 1, TotalHours: 40, BillableHours: 32}, u)
	require.Equal(t, 5, a.Applied())
	require.Len(t, a.Projects(), 1)
}

func TestRebuild_PagesThroughHistory(t *testing.T) {
	ctx := context.Background()
	store := streamlog.NewMemoryStore()
	pub := publisher.New(store, publisher.WithLogger(quiet))

	project, user := uuid.New(), uuid.New()
	_, err := pub.PublishMany(ctx, projectHistory(project, user)...)
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		_, err := pub.Publish(ctx, events.NewTaskCreated(project, uuid.New(), "bulk"))
		require.NoError(t, err)
	}
	_, err = store.Append(ctx, "task.created", map[string]string{"title": "garbage"})
	require.NoError(t, err)

	a := NewActivity()
	n, err := Rebuild(ctx, store, a, 2, quiet)
	require.NoError(t, err)
	require.Equal(t, 12, n)

	p, _ := a.Project(project)
	require.Equal(t, 8, p.TasksCreated)

	n, err = Rebuild(ctx, store, a, 0, quiet)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRun_ReplaysThenFollowsLive(t *testing.T) {
	ctx := context.Background()
	store := streamlog.NewMemoryStore()
	pub := publisher.New(store, publisher.WithLogger(quiet))

	project := uuid.New()
	_, err := pub.Publish(ctx, events.NewTaskCreated(project, uuid.New(), "old"))
	require.NoError(t, err)

	a := NewActivity()
	sub := subscriber.New(store, "activity-service", "c1",
		subscriber.WithLogger(quiet), subscriber.WithBlock(20*time.Millisecond))
	require.NoError(t, Register(sub, a))

	done := make(chan error, 1)
	go func() { done <- Run(ctx, store, sub, a, quiet) }()
	require.Eventually(t, func() bool { return sub.State() == lifecycle.StateRunning }, 2*time.Second, 5*time.Millisecond)

	_, err = pub.Publish(ctx, events.NewTaskCreated(project, uuid.New(), "new"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		p, _ := a.Project(project)
		return p.TasksCreated == 2
	}, 2*time.Second, 5*time.Millisecond)

	sub.Stop()
	require.NoError(t, <-done)
}
