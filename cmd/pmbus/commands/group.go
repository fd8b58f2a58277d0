package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/pmbus/internal/streamlog"
)

// GroupCmd groups consumer-group subcommands.
type GroupCmd struct {
	Create GroupCreateCmd `cmd:"" help:"Create a consumer group (idempotent)"`
}

// GroupCreateCmd implements 'group create'.
type GroupCreateCmd struct {
	Stream string `arg:""`
	Group  string `arg:""`
	Start  string `default:"$" help:"0 replays full history, $ starts with new messages"`
}

func (c *GroupCreateCmd) Run(g *Global, root *CLI) error {
	ctx := context.Background()
	_, client, closeFn, err := root.session(ctx, g)
	if err != nil {
		return err
	}
	defer closeFn()

	created, err := client.CreateGroup(ctx, c.Stream, c.Group, c.Start)
	if err != nil {
		return err
	}
	if created {
		_, _ = fmt.Fprintln(g.out(), "created")
	} else {
		_, _ = fmt.Fprintln(g.out(), "exists")
	}
	return nil
}

// AckCmd implements the 'ack' command.
type AckCmd struct {
	Stream string   `arg:""`
	Group  string   `arg:""`
	IDs    []string `arg:"" name:"id" help:"Message ids to acknowledge"`
}

func (a *AckCmd) Run(g *Global, root *CLI) error {
	ctx := context.Background()
	_, client, closeFn, err := root.session(ctx, g)
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := client.Ack(ctx, a.Stream, a.Group, a.IDs...)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(g.out(), n)
	return nil
}

// PendingCmd implements the 'pending' command.
type PendingCmd struct {
	Stream   string        `arg:""`
	Group    string        `arg:""`
	Consumer string        `help:"Only entries owned by this consumer"`
	MinIdle  time.Duration `name:"min-idle" help:"Only entries idle at least this long"`
	Count    int64         `default:"100" help:"Maximum entries to list"`
}

func (p *PendingCmd) Run(g *Global, root *CLI) error {
	ctx := context.Background()
	_, client, closeFn, err := root.session(ctx, g)
	if err != nil {
		return err
	}
	defer closeFn()

	entries, err := client.Pending(ctx, p.Stream, p.Group, streamlog.PendingQuery{
		Consumer: p.Consumer,
		MinIdle:  p.MinIdle,
		Count:    p.Count,
	})
	if err != nil {
		return err
	}
	return writePending(g.out(), entries)
}

func writePending(w io.Writer, entries []streamlog.PendingEntry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tCONSUMER\tIDLE\tDELIVERIES")
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", e.ID, e.Consumer, e.Idle.Truncate(time.Millisecond), e.Deliveries)
	}
	return tw.Flush()
}

// ClaimCmd implements the 'claim' command.
type ClaimCmd struct {
	Stream   string        `arg:""`
	Group    string        `arg:""`
	Consumer string        `arg:""`
	IDs      []string      `arg:"" name:"id" help:"Pending message ids to claim"`
	MinIdle  time.Duration `name:"min-idle" help:"Only claim entries idle at least this long"`
}

func (c *ClaimCmd) Run(g *Global, root *CLI) error {
	ctx := context.Background()
	_, client, closeFn, err := root.session(ctx, g)
	if err != nil {
		return err
	}
	defer closeFn()

	msgs, err := client.Claim(ctx, c.Stream, c.Group, c.Consumer, c.MinIdle, c.IDs...)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(g.out())
	for _, m := range msgs {
		if err := enc.Encode(tailLine{Stream: c.Stream, ID: m.ID, Fields: m.Fields}); err != nil {
			return err
		}
	}
	return nil
}
