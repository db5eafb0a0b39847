package shared

import (
	"context"
	"errors"
	"testing"
)

func TestIsSQLiteConflictError(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"SQLITE_BUSY: database busy":    true,
		"database is locked (5)":        true,
		"UNIQUE constraint failed: x.y": false,
	}
	for msg, want := range cases {
		if got := IsSQLiteConflictError(errors.New(msg)); got != want {
			t.Fatalf("IsSQLiteConflictError(%q) = %v, want %v", msg, got, want)
		}
	}
	if IsSQLiteConflictError(nil) {
		t.Fatal("nil error must not be a conflict")
	}
}

func TestRetryOnConflict(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RetryOnConflict(context.Background(), "test", func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected success on second call, got err=%v calls=%d", err, calls)
	}

	calls = 0
	permanent := errors.New("no such table")
	err = RetryOnConflict(context.Background(), "test", func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("expected single attempt with permanent error, got err=%v calls=%d", err, calls)
	}
}

func TestRetryOnConflictHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RetryOnConflict(ctx, "test", func() error { return errors.New("SQLITE_BUSY") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
