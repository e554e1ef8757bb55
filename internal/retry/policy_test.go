package retry

import (
	"context"
	"testing"
	"time"

	xerrors "AgentMesh-Chain/internal/errors"
)

func TestDoRetriesTransientErrorOnce(t *testing.T) {
	attempts := 0
	err := Default().Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts == 1 {
			return xerrors.New(xerrors.CodeTransientExternal, "")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	attempts := 0
	policy := Policy{MaxAttempts: 2, Backoff: time.Millisecond}
	err := policy.Do(context.Background(), func(context.Context) error {
		attempts++
		return xerrors.New(xerrors.CodeTransientExternal, "")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestDoDoesNotRetryPermanentError(t *testing.T) {
	attempts := 0
	err := Default().Do(context.Background(), func(context.Context) error {
		attempts++
		return xerrors.New(xerrors.CodePermanentExternal, "")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("permanent error should not be retried, got %d attempts", attempts)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Default().Do(ctx, func(context.Context) error {
		t.Fatal("op should not run with cancelled context")
		return nil
	})
	if err == nil {
		t.Fatal("expected context error")
	}
}
