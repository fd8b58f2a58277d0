package subscriber

import (
	"context"

	"git.home.luguber.info/inful/pmbus/internal/events"
	ferrors "git.home.luguber.info/inful/pmbus/internal/foundation/errors"
)

// Message is one delivery handed to a Handler.
type Message struct {
	Stream string
	ID     string
	Fields events.Fields
}

// Handler processes one delivered message. A nil return acknowledges it; any
// error leaves it pending in the group.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Typed decodes the message into the event variant T before calling fn. A
// message that does not decode into T fails with a validation error and stays
// pending.
func Typed[T events.Event](fn func(ctx context.Context, messageID string, ev T) error) Handler {
	return HandlerFunc(func(ctx context.Context, msg Message) error {
		decoded, err := events.DecodeAs(events.Type(msg.Stream), msg.Fields)
		if err != nil {
			return err
		}
		ev, ok := decoded.(T)
		if !ok {
			return ferrors.ValidationError("event does not match handler type").
				WithContext("stream", msg.Stream).
				WithContext("event_type", string(decoded.Type())).
				Build()
		}
		return fn(ctx, msg.ID, ev)
	})
}
