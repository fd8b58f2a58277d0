// Package services starts and stops the auxiliary services a worker hosts
// next to its subscriber, in dependency order.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"git.home.luguber.info/inful/pmbus/internal/foundation/errors"
	"git.home.luguber.info/inful/pmbus/internal/logfields"
)

// Status is the lifecycle state of a managed service.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusStopping   Status = "stopping"
	StatusStopped    Status = "stopped"
	StatusFailed     Status = "failed"
)

// ManagedService is a component with an explicit start and stop.
type ManagedService interface {
	// Name identifies the service in logs and dependency lists.
	Name() string

	// Start must return once the service is running; long-running work belongs in a goroutine.
	Start(ctx context.Context) error

	// Stop shuts the service down, honouring ctx's deadline.
	Stop(ctx context.Context) error

	// Dependencies names the services that must be running first.
	Dependencies() []string
}

// Info describes a registered service.
type Info struct {
	Name         string     `json:"name"`
	Status       Status     `json:"status"`
	Dependencies []string   `json:"dependencies"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// Orchestrator manages the lifecycle of several services.
type Orchestrator struct {
	mu         sync.RWMutex
	services   map[string]ManagedService
	status     map[string]Status
	startedAt  map[string]time.Time
	lastErrors map[string]error

	logger       *slog.Logger
	startTimeout time.Duration
	stopTimeout  time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTimeouts bounds each service's Start and Stop.
func WithTimeouts(start, stop time.Duration) Option {
	return func(o *Orchestrator) {
		o.startTimeout = start
		o.stopTimeout = stop
	}
}

// New returns an empty orchestrator.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		services:     make(map[string]ManagedService),
		status:       make(map[string]Status),
		startedAt:    make(map[string]time.Time),
		lastErrors:   make(map[string]error),
		logger:       slog.Default(),
		startTimeout: 30 * time.Second,
		stopTimeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register adds a service. Names must be unique and non-empty.
func (o *Orchestrator) Register(svc ManagedService) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	name := svc.Name()
	if name == "" {
		return errors.ConfigError("service name cannot be empty").Build()
	}
	if _, exists := o.services[name]; exists {
		return errors.ConfigError("service already registered").WithContext("service", name).Build()
	}
	o.services[name] = svc
	o.status[name] = StatusNotStarted
	o.logger.Debug("Service registered", logfields.Service(name), slog.Any("dependencies", svc.Dependencies()))
	return nil
}

// StartAll starts every service after its dependencies. If one fails, the
// services already started are stopped again.
func (o *Orchestrator) StartAll(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	order, err := o.startOrder()
	if err != nil {
		return err
	}
	o.logger.Info("Starting services", logfields.Count(len(order)), slog.Any("order", order))

	for i, name := range order {
		if err := o.start(ctx, name); err != nil {
			o.stopInOrder(ctx, reverse(order[:i]))
			return err
		}
	}
	return nil
}

// StopAll stops running services in reverse start order.
func (o *Orchestrator) StopAll(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	order, err := o.startOrder()
	if err != nil {
		return err
	}
	if lastErr := o.stopInOrder(ctx, reverse(order)); lastErr != nil {
		return errors.InternalError("some services failed to stop gracefully").WithCause(lastErr).Build()
	}
	return nil
}

// Info returns the state of every service, sorted by name.
func (o *Orchestrator) Info() []Info {
	o.mu.RLock()
	defer o.mu.RUnlock()

	infos := make([]Info, 0, len(o.services))
	for name, svc := range o.services {
		info := Info{Name: name, Status: o.status[name], Dependencies: svc.Dependencies()}
		if t, ok := o.startedAt[name]; ok {
			info.StartedAt = &t
		}
		if err := o.lastErrors[name]; err != nil {
			info.LastError = err.Error()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Status reports one service's state.
func (o *Orchestrator) Status(name string) (Status, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.status[name]
	return s, ok
}

// startOrder is a topological sort over dependencies, ties broken by name.
func (o *Orchestrator) startOrder() ([]string, error) {
	names := make([]string, 0, len(o.services))
	for name := range o.services {
		names = append(names, name)
	}
	sort.Strings(names)

	visited := make(map[string]bool)
	visiting := make(map[string]bool)
	order := make([]string, 0, len(names))

	var visit func(string) error
	visit = func(name string) error {
		if visiting[name] {
			return errors.ConfigError("circular service dependency").WithContext("service", name).Build()
		}
		if visited[name] {
			return nil
		}
		svc, ok := o.services[name]
		if !ok {
			return errors.ConfigError("unknown service dependency").WithContext("service", name).Build()
		}
		visiting[name] = true
		for _, dep := range svc.Dependencies() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		visiting[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func (o *Orchestrator) start(ctx context.Context, name string) error {
	o.status[name] = StatusStarting
	startCtx, cancel := context.WithTimeout(ctx, o.startTimeout)
	defer cancel()

	begin := time.Now()
	if err := o.services[name].Start(startCtx); err != nil {
		o.status[name] = StatusFailed
		o.lastErrors[name] = err
		return errors.WrapError(err, errors.CategoryRuntime, fmt.Sprintf("failed to start service %s", name)).Build()
	}
	o.status[name] = StatusRunning
	o.startedAt[name] = begin
	o.lastErrors[name] = nil
	o.logger.Info("Service started", logfields.Service(name), logfields.Duration(time.Since(begin)))
	return nil
}

func (o *Orchestrator) stop(ctx context.Context, name string) error {
	if o.status[name] != StatusRunning {
		return nil
	}
	o.status[name] = StatusStopping
	stopCtx, cancel := context.WithTimeout(ctx, o.stopTimeout)
	defer cancel()

	if err := o.services[name].Stop(stopCtx); err != nil {
		o.status[name] = StatusFailed
		o.lastErrors[name] = err
		return err
	}
	o.status[name] = StatusStopped
	o.logger.Info("Service stopped", logfields.Service(name))
	return nil
}

func (o *Orchestrator) stopInOrder(ctx context.Context, order []string) error {
	var lastErr error
	for _, name := range order {
		if err := o.stop(ctx, name); err != nil {
			lastErr = err
			o.logger.Error("Error stopping service", logfields.Service(name), logfields.Error(err))
		}
	}
	return lastErr
}

func reverse(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[len(names)-1-i] = n
	}
	return out
}
