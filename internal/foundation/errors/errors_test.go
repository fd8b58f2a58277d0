package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifiedError(t *testing.T) {
	t.Run("Basic error creation", func(t *testing.T) {
		err := NewError(CategoryConfig, "invalid configuration").
			WithSeverity(SeverityFatal).
			WithContext("file", "pmbus.yaml").
			Build()

		if err.Category() != CategoryConfig {
			t.Errorf("expected category %s, got %s", CategoryConfig, err.Category())
		}
		if err.Severity() != SeverityFatal {
			t.Errorf("expected severity %s, got %s", SeverityFatal, err.Severity())
		}
		file, exists := err.Context().GetString("file")
		if !exists || file != "pmbus.yaml" {
			t.Errorf("expected context file=pmbus.yaml, got %v", file)
		}
	})

	t.Run("Error string", func(t *testing.T) {
		err := ConnectionError("append failed").WithCause(errors.New("EOF")).Build()
		if got := err.Error(); got != "[connection:error] append failed: EOF" {
			t.Errorf("Error() = %q", got)
		}
	})

	t.Run("Connection errors are transient", func(t *testing.T) {
		err := ConnectionError("read failed").Build()
		if !err.CanRetry() || !err.IsTransient() {
			t.Error("expected connection error to be retryable")
		}
		if IsTransient(HandlerError("boom").Build()) {
			t.Error("handler errors must not be transient")
		}
	})

	t.Run("Config errors are fatal", func(t *testing.T) {
		err := ConfigError("no handlers").Build()
		if !err.IsFatal() || err.CanRetry() {
			t.Error("expected fatal, non-retryable config error")
		}
	})
}

func TestClassifiedError_WithContextCopies(t *testing.T) {
	base := StoreError("rejected").Build()
	derived := base.WithContext("stream", "task.created")

	if _, ok := base.Context().Get("stream"); ok {
		t.Error("WithContext must not mutate the receiver")
	}
	if v, _ := derived.Context().GetString("stream"); v != "task.created" {
		t.Errorf("derived context stream = %q", v)
	}
}

func TestChainHelpers(t *testing.T) {
	inner := NotFoundError("no such group").WithContext("group", "g1").Build()
	wrapped := fmt.Errorf("read group: %w", inner)

	if !HasCategory(wrapped, CategoryNotFound) {
		t.Error("HasCategory should walk the wrapped chain")
	}
	if HasCategory(wrapped, CategoryConnection) {
		t.Error("HasCategory matched the wrong category")
	}
	if GetCategory(wrapped) != CategoryNotFound {
		t.Errorf("GetCategory = %s", GetCategory(wrapped))
	}
	if GetCategory(errors.New("plain")) != CategoryInternal {
		t.Error("unclassified errors should report internal")
	}
	if !errors.Is(wrapped, NotFoundError("no such group").Build()) {
		t.Error("errors.Is should match on category and message")
	}
}

func TestErrorContext_Merge(t *testing.T) {
	a := ErrorContext{"stream": "a", "group": "g"}
	b := ErrorContext{"stream": "b"}
	merged := a.Merge(b)
	if merged["stream"] != "b" || merged["group"] != "g" {
		t.Errorf("unexpected merge result %v", merged)
	}
	if ErrorContext(nil).Merge(b)["stream"] != "b" {
		t.Error("nil receiver should return other")
	}
}
