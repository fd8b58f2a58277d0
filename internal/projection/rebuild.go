package projection

import (
	"context"
	"log/slog"
	"slices"

	"git.home.luguber.info/inful/pmbus/internal/events"
	"git.home.luguber.info/inful/pmbus/internal/logfields"
	"git.home.luguber.info/inful/pmbus/internal/observability"
	"git.home.luguber.info/inful/pmbus/internal/streamlog"
	"git.home.luguber.info/inful/pmbus/internal/subscriber"
)

// DefaultPageSize bounds one history read during Rebuild.
const DefaultPageSize = 500

func streamNames() []string {
	out := make([]string, len(Streams))
	for i, t := range Streams {
		out[i] = t.Stream()
	}
	return out
}

// Rebuild replays the full history of every folded stream into a, paging with
// non-blocking reads until no stream returns data. Messages that fail to
// decode are logged and skipped. It returns the number of events applied.
func Rebuild(ctx context.Context, client streamlog.Client, a *Activity, pageSize int64, logger *slog.Logger) (int, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	names := streamNames()
	cursors := streamlog.From(streamlog.StartFromBeginning, names...)
	index := make(map[string]int, len(cursors))
	for i, c := range cursors {
		index[c.Stream] = i
	}

	applied := 0
	for {
		res, err := client.Read(ctx, cursors, streamlog.ReadOptions{Count: pageSize})
		if err != nil {
			return applied, err
		}
		if streamlog.Total(res) == 0 {
			break
		}
		for _, st := range res {
			for _, m := range st.Messages {
				ev, err := events.DecodeAs(events.Type(st.Name), events.Fields(m.Fields))
				if err != nil {
					observability.Log(ctx, logger, slog.LevelWarn, "Skipping undecodable message",
						logfields.Stream(st.Name), logfields.MessageID(m.ID), logfields.Error(err))
					continue
				}
				if a.Apply(ev) {
					applied++
				}
			}
			if n := len(st.Messages); n > 0 {
				cursors[index[st.Name]].ID = st.Messages[n-1].ID
			}
		}
	}

	observability.Log(ctx, logger, slog.LevelInfo, "Activity projection rebuilt",
		logfields.Streams(names), logfields.Count(applied))
	return applied, nil
}

// Handler folds every delivered message into a. Undecodable messages fail
// and stay pending.
func Handler(a *Activity) subscriber.Handler {
	return subscriber.HandlerFunc(func(_ context.Context, msg subscriber.Message) error {
		ev, err := events.DecodeAs(events.Type(msg.Stream), msg.Fields)
		if err != nil {
			return err
		}
		a.Apply(ev)
		return nil
	})
}

// Register binds Handler for every folded stream on sub, except the types in
// skip, which the caller handles itself.
func Register(sub *subscriber.Subscriber, a *Activity, skip ...events.Type) error {
	h := Handler(a)
	for _, t := range Streams {
		if slices.Contains(skip, t) {
			continue
		}
		if err := sub.On(t, h); err != nil {
			return err
		}
	}
	return nil
}

// Run creates sub's groups, replays history into a, then consumes live until
// sub stops. Creating the groups first means nothing appended during the
// replay is missed; the overlap is absorbed by Apply's event_id dedup.
func Run(ctx context.Context, client streamlog.Client, sub *subscriber.Subscriber, a *Activity, logger *slog.Logger) error {
	for _, stream := range sub.Streams() {
		if _, err := client.CreateGroup(ctx, stream, sub.Group(), streamlog.StartFromNew); err != nil {
			return err
		}
	}
	if _, err := Rebuild(ctx, client, a, DefaultPageSize, logger); err != nil {
		return err
	}
	return sub.Start(ctx)
}
