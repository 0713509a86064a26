package corerr

import (
	"errors"
	"testing"
)

func TestClientErrorMessage(t *testing.T) {
	err := Client("ai/generate", "unknown command %q", "foo/bar")
	if err.Category != CategoryClient {
		t.Errorf("Category = %v", err.Category)
	}
	want := `[client] ai/generate: unknown command "foo/bar"`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestTransientIsRetryable(t *testing.T) {
	err := Transient("providers/dispatch", errors.New("429 rate limited"))
	if !Retryable(err) {
		t.Error("expected transient error to be retryable")
	}
	if Retryable(Client("x", "bad")) {
		t.Error("expected client error not to be retryable")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Storage("memory/append", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if Wrap(CategoryStorage, "op", nil) != nil {
		t.Error("expected Wrap(nil) to return nil")
	}
}

func TestCancelledSentinel(t *testing.T) {
	if !Cancelled(ErrCancelled) {
		t.Error("expected ErrCancelled to report Cancelled")
	}
	if Cancelled(errors.New("other")) {
		t.Error("expected unrelated error not to report Cancelled")
	}
}

func TestCategoryOfPlainErrorIsEmpty(t *testing.T) {
	if CategoryOf(errors.New("plain")) != "" {
		t.Error("expected empty category for a non-CoreError")
	}
}
