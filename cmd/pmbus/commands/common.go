package commands

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/pmbus/internal/config"
	"git.home.luguber.info/inful/pmbus/internal/observability"
	"git.home.luguber.info/inful/pmbus/internal/streamlog"
)

// Global carries process-wide collaborators into commands.
type Global struct {
	Logger *slog.Logger
	Out    io.Writer
	// Store, when set, is used instead of opening the configured backend.
	Store streamlog.Client
}

func (g *Global) out() io.Writer {
	if g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" env:"PMBUS_CONFIG" help:"Configuration file path (built-in defaults when empty)"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Publish PublishCmd `cmd:"" help:"Publish a typed event"`
	Tail    TailCmd    `cmd:"" help:"Read messages from streams without a consumer group"`
	Group   GroupCmd   `cmd:"" help:"Manage consumer groups"`
	Ack     AckCmd     `cmd:"" help:"Acknowledge pending messages"`
	Pending PendingCmd `cmd:"" help:"List pending messages of a consumer group"`
	Claim   ClaimCmd   `cmd:"" help:"Claim idle pending messages for a consumer"`
	Worker  WorkerCmd  `cmd:"" help:"Run one service's subscriber until interrupted"`
	Init    InitCmd    `cmd:"" help:"Initialize a new configuration file"`
}

// AfterApply runs after flag parsing; set up a bootstrap logger once. The
// configured logger replaces it when a command loads the config.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// load reads the configuration and installs the configured logger.
func (c *CLI) load(g *Global) (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if c.Verbose {
		cfg.Logging.Level = config.LogLevelDebug
	}
	g.Logger = observability.Setup(cfg.Logging, os.Stderr)
	return cfg, nil
}

// openStore returns the injected store or opens the configured one. The
// returned close func is a no-op for injected stores.
func (c *CLI) openStore(ctx context.Context, g *Global, cfg *config.Config) (streamlog.Client, func(), error) {
	if g.Store != nil {
		return g.Store, func() {}, nil
	}
	client, err := streamlog.Open(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	return client, func() {
		if err := client.Close(); err != nil {
			slog.Warn("Failed to close log store", "error", err)
		}
	}, nil
}

// session loads config and opens the store for one-shot commands.
func (c *CLI) session(ctx context.Context, g *Global) (*config.Config, streamlog.Client, func(), error) {
	cfg, err := c.load(g)
	if err != nil {
		return nil, nil, nil, err
	}
	client, closeFn, err := c.openStore(ctx, g, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, client, closeFn, nil
}
