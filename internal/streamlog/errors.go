package streamlog

import (
	"git.home.luguber.info/inful/pmbus/internal/foundation/errors"
)

func errClosed(backend string) error {
	return errors.ConnectionError("log store closed").
		WithContext("backend", backend).
		Build()
}

func errNoGroup(stream, group string) error {
	return errors.NotFoundError("consumer group not found").
		WithContext("stream", stream).
		WithContext("group", group).
		Build()
}

func errInvalidID(id string, cause error) error {
	return errors.ValidationError("invalid message id").
		WithContext("id", id).
		WithCause(cause).
		Build()
}

func errNoStreams() error {
	return errors.ValidationError("read requires at least one stream").Build()
}

func errStore(op string, cause error) error {
	return errors.WrapError(cause, errors.CategoryStore, op+" failed").
		WithContext("op", op).
		Build()
}
