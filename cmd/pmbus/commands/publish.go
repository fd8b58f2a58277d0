package commands

import (
	"context"
	"fmt"
	"strings"

	"git.home.luguber.info/inful/pmbus/internal/events"
	ferrors "git.home.luguber.info/inful/pmbus/internal/foundation/errors"
	"git.home.luguber.info/inful/pmbus/internal/publisher"
)

// PublishCmd implements the 'publish' command.
type PublishCmd struct {
	Type  string   `arg:"" help:"Event type, e.g. task.created"`
	Field []string `short:"f" help:"Payload field as key=value (repeatable)"`
}

func (p *PublishCmd) Run(g *Global, root *CLI) error {
	ctx := context.Background()
	_, client, closeFn, err := root.session(ctx, g)
	if err != nil {
		return err
	}
	defer closeFn()

	t := events.Type(p.Type)
	if !events.Known(t) {
		return ferrors.ValidationError("unknown event type").
			WithContext("event_type", p.Type).
			WithContext("known", events.Types()).
			Build()
	}
	payload, err := parseFields(p.Field)
	if err != nil {
		return err
	}
	ev, err := events.Build(t, payload)
	if err != nil {
		return err
	}

	id, err := publisher.New(client, publisher.WithLogger(g.Logger)).Publish(ctx, ev)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(g.out(), id)
	return nil
}

func parseFields(pairs []string) (events.Fields, error) {
	out := make(events.Fields, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, ferrors.ValidationError("field must be key=value").
				WithContext("field", pair).
				Build()
		}
		out[k] = v
	}
	return out, nil
}
