package commands

import (
	"context"
	"encoding/json"
	"io"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/pmbus/internal/streamlog"
)

// TailCmd implements the 'tail' command.
type TailCmd struct {
	Streams []string `arg:"" help:"Streams to read"`
	From    string   `default:"0" help:"Start after this id: 0 for full history, $ for new messages only"`
	Count   int64    `default:"100" help:"Maximum messages per stream per read"`
	Block   int64    `default:"0" help:"Milliseconds to wait for data; -1 blocks until interrupted"`
	Follow  bool     `short:"F" help:"Keep reading until interrupted"`
}

type tailLine struct {
	Stream string            `json:"stream"`
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

func (t *TailCmd) Run(g *Global, root *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_, client, closeFn, err := root.session(ctx, g)
	if err != nil {
		return err
	}
	defer closeFn()
	return t.tail(ctx, client, g.out())
}

func (t *TailCmd) tail(ctx context.Context, client streamlog.Client, w io.Writer) error {
	block := time.Duration(t.Block) * time.Millisecond
	if t.Block < 0 {
		block = streamlog.BlockForever
	}
	if t.Follow && block == 0 {
		block = 5 * time.Second
	}

	cursors := streamlog.From(t.From, t.Streams...)
	index := make(map[string]int, len(cursors))
	for i, c := range cursors {
		index[c.Stream] = i
	}

	enc := json.NewEncoder(w)
	for {
		res, err := client.Read(ctx, cursors, streamlog.ReadOptions{Count: t.Count, Block: block})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, st := range res {
			for _, m := range st.Messages {
				if err := enc.Encode(tailLine{Stream: st.Name, ID: m.ID, Fields: m.Fields}); err != nil {
					return err
				}
			}
			if n := len(st.Messages); n > 0 {
				cursors[index[st.Name]].ID = st.Messages[n-1].ID
			}
		}
		if !t.Follow && (streamlog.Total(res) == 0 || block != 0) {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
