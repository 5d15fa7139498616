package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
)

func TestDefaultLogger(t *testing.T) {
	t.Parallel()

	custom := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := defaultLogger(custom); got != custom {
		t.Fatalf("expected custom logger to be returned")
	}

	if got := defaultLogger(nil); got != slog.Default() {
		t.Fatalf("expected default logger when none provided")
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "not found", err: fmt.Errorf("load: %w", ErrNotFound), want: "not_found"},
		{name: "conflict", err: fmt.Errorf("%w: ended", ErrConflict), want: "conflict"},
		{name: "unauthorized", err: ErrUnauthorized, want: "unauthorized"},
		{name: "validation", err: fieldError("scope", "unknown"), want: "validation"},
		{name: "cancelled", err: context.Canceled, want: "cancelled"},
		{name: "other", err: errors.New("boom"), want: "unexpected"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ErrorKind(tc.err); got != tc.want {
				t.Fatalf("ErrorKind(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}
