package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/pmbus/internal/foundation/errors"
)

// recorder collects start and stop calls across services.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) service(name string, failStart bool, deps ...string) *FuncService {
	return NewFuncService(name,
		func(context.Context) error {
			r.add("start:" + name)
			if failStart {
				return errors.New("boom")
			}
			return nil
		},
		func(context.Context) error {
			r.add("stop:" + name)
			return nil
		},
		deps...)
}

func TestStartStopOrder(t *testing.T) {
	rec := &recorder{}
	o := New()
	require.NoError(t, o.Register(rec.service("reclaim", false, "metrics")))
	require.NoError(t, o.Register(rec.service("metrics", false)))
	require.NoError(t, o.Register(rec.service("alpha", false)))

	require.NoError(t, o.StartAll(context.Background()))
	st, ok := o.Status("reclaim")
	require.True(t, ok)
	require.Equal(t, StatusRunning, st)

	require.NoError(t, o.StopAll(context.Background()))
	require.Equal(t, []string{
		"start:alpha", "start:metrics", "start:reclaim",
		"stop:reclaim", "stop:metrics", "stop:alpha",
	}, rec.calls)

	infos := o.Info()
	require.Len(t, infos, 3)
	require.Equal(t, "alpha", infos[0].Name)
	require.Equal(t, StatusStopped, infos[0].Status)
	require.NotNil(t, infos[0].StartedAt)
}

func TestStartFailureStopsStarted(t *testing.T) {
	rec := &recorder{}
	o := New()
	require.NoError(t, o.Register(rec.service("a", false)))
	require.NoError(t, o.Register(rec.service("b", true, "a")))

	err := o.StartAll(context.Background())
	require.Error(t, err)
	require.Equal(t, []string{"start:a", "start:b", "stop:a"}, rec.calls)

	st, _ := o.Status("b")
	require.Equal(t, StatusFailed, st)
	require.Equal(t, "boom", o.Info()[1].LastError)
}

func TestRegisterRejects(t *testing.T) {
	o := New()
	err := o.Register(NewFuncService("", nil, nil))
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))

	require.NoError(t, o.Register(NewFuncService("x", nil, nil)))
	err = o.Register(NewFuncService("x", nil, nil))
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestDependencyErrors(t *testing.T) {
	o := New()
	require.NoError(t, o.Register(NewFuncService("a", nil, nil, "b")))
	require.NoError(t, o.Register(NewFuncService("b", nil, nil, "a")))
	require.True(t, ferrors.HasCategory(o.StartAll(context.Background()), ferrors.CategoryConfig))

	o = New()
	require.NoError(t, o.Register(NewFuncService("a", nil, nil, "missing")))
	require.True(t, ferrors.HasCategory(o.StartAll(context.Background()), ferrors.CategoryConfig))
}

func TestBackgroundService(t *testing.T) {
	started := make(chan struct{})
	svc := NewBackgroundService("loop", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})

	// A start deadline must not end the background run.
	startCtx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	require.NoError(t, svc.Start(startCtx))
	cancel()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("run not started")
	}
	require.NoError(t, svc.Stop(context.Background()))
}

func TestBackgroundService_StopTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	svc := NewBackgroundService("stuck", func(context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, svc.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, svc.Stop(ctx), context.DeadlineExceeded)
}
