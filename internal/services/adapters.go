package services

import (
	"context"
	"sync"
)

// FuncService adapts a pair of start and stop functions.
type FuncService struct {
	name      string
	deps      []string
	startFunc func(ctx context.Context) error
	stopFunc  func(ctx context.Context) error
}

// NewFuncService returns a service calling start and stop. Either may be nil.
func NewFuncService(name string, start, stop func(ctx context.Context) error, deps ...string) *FuncService {
	return &FuncService{name: name, deps: deps, startFunc: start, stopFunc: stop}
}

func (f *FuncService) Name() string           { return f.name }
func (f *FuncService) Dependencies() []string { return f.deps }

func (f *FuncService) Start(ctx context.Context) error {
	if f.startFunc == nil {
		return nil
	}
	return f.startFunc(ctx)
}

func (f *FuncService) Stop(ctx context.Context) error {
	if f.stopFunc == nil {
		return nil
	}
	return f.stopFunc(ctx)
}

// BackgroundService runs a blocking function in a goroutine. Stop cancels it
// and waits for it to return.
type BackgroundService struct {
	name string
	deps []string
	run  func(ctx context.Context) error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

// NewBackgroundService returns a service hosting run, which must return when its ctx ends.
func NewBackgroundService(name string, run func(ctx context.Context) error, deps ...string) *BackgroundService {
	return &BackgroundService{name: name, deps: deps, run: run}
}

func (b *BackgroundService) Name() string           { return b.name }
func (b *BackgroundService) Dependencies() []string { return b.deps }

// Start launches run detached from the start deadline.
func (b *BackgroundService) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel
	b.done = make(chan error, 1)
	go func() { b.done <- b.run(runCtx) }()
	return nil
}

func (b *BackgroundService) Stop(ctx context.Context) error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
