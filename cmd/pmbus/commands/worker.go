package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/pmbus/internal/config"
	ferrors "git.home.luguber.info/inful/pmbus/internal/foundation/errors"
	"git.home.luguber.info/inful/pmbus/internal/insights"
	"git.home.luguber.info/inful/pmbus/internal/lifecycle"
	"git.home.luguber.info/inful/pmbus/internal/llm"
	"git.home.luguber.info/inful/pmbus/internal/logfields"
	"git.home.luguber.info/inful/pmbus/internal/metrics"
	"git.home.luguber.info/inful/pmbus/internal/notify"
	"git.home.luguber.info/inful/pmbus/internal/observability"
	"git.home.luguber.info/inful/pmbus/internal/projection"
	"git.home.luguber.info/inful/pmbus/internal/publisher"
	"git.home.luguber.info/inful/pmbus/internal/reclaim"
	"git.home.luguber.info/inful/pmbus/internal/services"
	"git.home.luguber.info/inful/pmbus/internal/streamlog"
	"git.home.luguber.info/inful/pmbus/internal/subscriber"
)

// Services hosted by 'worker'.
const (
	ServiceInsights = "insights"
	ServiceNotify   = "notify"
	ServiceActivity = "activity"
)

// WorkerCmd implements the 'worker' command.
type WorkerCmd struct {
	Service  string `required:"" enum:"insights,notify,activity" help:"Service to run: insights, notify or activity"`
	Group    string `help:"Consumer group (default <service>-service)"`
	Consumer string `help:"Consumer name (default hostname)"`
}

func (w *WorkerCmd) Run(g *Global, root *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := root.load(g)
	if err != nil {
		return err
	}
	if err := w.resolveIdentity(cfg); err != nil {
		return err
	}
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}

	client, closeStore, err := root.openStore(ctx, g, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	return runWorker(ctx, w.Service, cfg, client, g.Logger)
}

func (w *WorkerCmd) resolveIdentity(cfg *config.Config) error {
	if w.Group != "" {
		cfg.Subscriber.Group = w.Group
	}
	if cfg.Subscriber.Group == "" {
		cfg.Subscriber.Group = w.Service + "-service"
	}
	if w.Consumer != "" {
		cfg.Subscriber.Consumer = w.Consumer
	}
	if cfg.Subscriber.Consumer == "" {
		host, err := os.Hostname()
		if err != nil {
			return ferrors.ConfigError("consumer name not set and hostname unavailable").WithCause(err).Build()
		}
		cfg.Subscriber.Consumer = host
	}
	return nil
}

// runWorker wires one service onto a subscriber and runs it until ctx ends.
func runWorker(ctx context.Context, service string, cfg *config.Config, client streamlog.Client, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	ctx = observability.WithService(ctx, service)

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	registry := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder = metrics.NewPrometheusRecorder(registry)
	}

	bus := lifecycle.NewBus()
	defer bus.Close()
	readiness := lifecycle.NewReadiness()
	readiness.Run(ctx, bus)

	pub := publisher.New(client, publisher.WithLogger(logger), publisher.WithRecorder(recorder))
	sub := subscriber.New(client, cfg.Subscriber.Group, cfg.Subscriber.Consumer,
		append(subscriber.FromConfig(cfg.Subscriber),
			subscriber.WithLogger(logger),
			subscriber.WithRecorder(recorder),
			subscriber.WithBus(bus))...)

	var activity *projection.Activity
	switch service {
	case ServiceInsights:
		activity = projection.NewActivity()
		worker := insights.New(llm.New(cfg.LLM), pub,
			insights.WithLogger(logger), insights.WithActivity(activity))
		if err := worker.Register(sub); err != nil {
			return err
		}
	case ServiceNotify:
		if !cfg.Notify.Enabled {
			return ferrors.ConfigError("notify service requires notify.enabled").Build()
		}
		relay, closeNATS, err := notify.Connect(ctx, cfg.Notify,
			notify.WithLogger(logger), notify.WithRecorder(recorder))
		if err != nil {
			return err
		}
		defer closeNATS()
		if err := relay.Register(sub); err != nil {
			return err
		}
	case ServiceActivity:
		activity = projection.NewActivity()
		if err := projection.Register(sub, activity); err != nil {
			return err
		}
	default:
		return ferrors.ConfigError("unknown service").WithContext("service", service).Build()
	}

	orch := services.New(services.WithLogger(logger))
	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Address, registry, readiness.Ready)
		if err := orch.Register(services.NewBackgroundService("metrics", func(ctx context.Context) error {
			err := srv.Serve(ctx)
			if err != nil {
				observability.Log(ctx, logger, slog.LevelError, "Metrics server failed", logfields.Error(err))
			}
			return err
		})); err != nil {
			return err
		}
	}
	if cfg.Reclaim.Enabled {
		r := reclaim.New(client, sub, cfg.Reclaim,
			reclaim.WithLogger(logger), reclaim.WithRecorder(recorder), reclaim.WithBus(bus))
		sch, err := reclaim.NewScheduler(r, cfg.Reclaim.Interval)
		if err != nil {
			return err
		}
		if err := orch.Register(services.NewFuncService("reclaim",
			func(ctx context.Context) error {
				sch.Start(context.WithoutCancel(ctx))
				return nil
			},
			func(context.Context) error { return sch.Stop() },
		)); err != nil {
			return err
		}
	}
	if err := orch.StartAll(ctx); err != nil {
		return err
	}
	defer func() {
		if err := orch.StopAll(context.WithoutCancel(ctx)); err != nil {
			observability.Log(ctx, logger, slog.LevelWarn, "Failed to stop worker services", logfields.Error(err))
		}
	}()

	observability.Log(ctx, logger, slog.LevelInfo, "Worker starting",
		logfields.Group(sub.Group()), logfields.Consumer(sub.Consumer()), logfields.Streams(sub.Streams()))
	if activity != nil {
		return projection.Run(ctx, client, sub, activity, logger)
	}
	return sub.Start(ctx)
}
