// Package errors provides the classified error primitives used across pmbus.
//
// Every failure that crosses a package boundary is a ClassifiedError carrying a
// category, a severity, a retry strategy and structured context. Callers branch
// on the category instead of matching strings:
//
//   - CategoryConnection: the log store is unreachable; transient, retry with backoff.
//   - CategoryConfig: the process was started with an invalid setup; fatal.
//   - CategoryHandler: a registered event handler failed for one message.
//   - CategoryValidation: an event or field map violates the wire contract.
//   - CategoryNotFound: a stream or consumer group does not exist.
//   - CategoryStore: the log store rejected an otherwise well-formed command.
//
// Example usage:
//
//	err := errors.ConnectionError("append failed").
//		WithCause(cause).
//		WithContext("stream", "task.created").
//		Build()
package errors
