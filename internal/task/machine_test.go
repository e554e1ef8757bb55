package task

import (
	"context"
	stdErrors "errors"
	"testing"

	"AgentMesh-Chain/internal/coordlog"
	"AgentMesh-Chain/internal/retry"
)

func newTestMachine() (*Machine, *coordlog.MemoryLog) {
	log := coordlog.NewMemoryLog()
	return NewMachine(NewMemoryStore(), log, retry.Default()), log
}

func TestCreateYieldsPendingVersionZero(t *testing.T) {
	machine, log := newTestMachine()
	defer log.Close()
	ctx := context.Background()

	task, err := machine.Create(ctx, "issuer-1", "analyze sales", "quarterly numbers")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != StatusPending || task.Version != 0 {
		t.Fatalf("unexpected initial state: %s v%d", task.Status, task.Version)
	}

	history := log.History(task.ID)
	if len(history) != 1 || history[0].Type != coordlog.TypeTaskCreated {
		t.Fatalf("expected one task_created message, got %+v", history)
	}
}

func TestLifecycleEndsCompleted(t *testing.T) {
	machine, log := newTestMachine()
	defer log.Close()
	ctx := context.Background()

	task, err := machine.Create(ctx, "issuer-1", "analyze sales", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	task, err = machine.Assign(ctx, "negotiator-1", task.ID, "executor-1", task.Version)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if task.Status != StatusAssigned || task.AssignedTo != "executor-1" || task.Version != 1 {
		t.Fatalf("unexpected assigned state: %+v", task)
	}
	task, err = machine.Start(ctx, "executor-1", task.ID, task.Version)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if task.Status != StatusInProgress {
		t.Fatalf("unexpected status: %s", task.Status)
	}
	task, err = machine.Complete(ctx, "executor-1", task.ID, Result{Output: "report"}, task.Version)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if task.Status != StatusCompleted || task.Result == nil || task.Result.Output != "report" {
		t.Fatalf("unexpected completed state: %+v", task)
	}

	history := log.History(task.ID)
	if len(history) != 4 {
		t.Fatalf("expected 4 coordination messages, got %d", len(history))
	}
	if history[3].Type != coordlog.TypeTaskCompleted {
		t.Fatalf("last message should be task_completed, got %s", history[3].Type)
	}
}

func TestCompleteFromPendingIsRejected(t *testing.T) {
	machine, log := newTestMachine()
	defer log.Close()
	ctx := context.Background()

	task, err := machine.Create(ctx, "issuer-1", "t", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := machine.Complete(ctx, "executor-1", task.ID, Result{Output: "x"}, task.Version); !stdErrors.Is(err, ErrTaskTransition) {
		t.Fatalf("expected InvalidTransition, got %v", err)
	}
	current, err := machine.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.Status != StatusPending || current.Version != 0 {
		t.Fatalf("rejected transition must not mutate: %+v", current)
	}
}

func TestCompleteFromAssignedSkipsStart(t *testing.T) {
	machine, log := newTestMachine()
	defer log.Close()
	ctx := context.Background()

	task, _ := machine.Create(ctx, "issuer-1", "t", "")
	task, err := machine.Assign(ctx, "negotiator-1", task.ID, "executor-1", task.Version)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := machine.Complete(ctx, "executor-1", task.ID, Result{Output: "done"}, task.Version); err != nil {
		t.Fatalf("complete from assigned should pass: %v", err)
	}
}

func TestStaleVersionIsRejectedWithoutMutation(t *testing.T) {
	machine, log := newTestMachine()
	defer log.Close()
	ctx := context.Background()

	task, _ := machine.Create(ctx, "issuer-1", "t", "")
	if _, err := machine.Assign(ctx, "negotiator-1", task.ID, "executor-1", task.Version); err != nil {
		t.Fatalf("assign: %v", err)
	}
	// 使用过期的版本 0 再次操作。
	if _, err := machine.Assign(ctx, "negotiator-1", task.ID, "executor-2", 0); !stdErrors.Is(err, ErrTaskStale) {
		t.Fatalf("expected StaleVersion, got %v", err)
	}
	current, _ := machine.Get(ctx, task.ID)
	if current.AssignedTo != "executor-1" {
		t.Fatalf("stale write must not mutate: %+v", current)
	}
}

func TestFailFromAnyNonTerminalState(t *testing.T) {
	machine, log := newTestMachine()
	defer log.Close()
	ctx := context.Background()

	task, _ := machine.Create(ctx, "issuer-1", "t", "")
	task, err := machine.Fail(ctx, "verifier-1", task.ID, "cancelled", task.Version)
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if task.Status != StatusFailed {
		t.Fatalf("unexpected status: %s", task.Status)
	}
	if task.Result == nil || task.Result.Metadata["failure_reason"] != "cancelled" {
		t.Fatalf("failure reason missing: %+v", task.Result)
	}

	// 终态之后不允许再失败。
	if _, err := machine.Fail(ctx, "verifier-1", task.ID, "again", task.Version); !stdErrors.Is(err, ErrTaskTransition) {
		t.Fatalf("expected InvalidTransition on terminal task, got %v", err)
	}
}

func TestProgressDoesNotChangeState(t *testing.T) {
	machine, log := newTestMachine()
	defer log.Close()
	ctx := context.Background()

	task, _ := machine.Create(ctx, "issuer-1", "t", "")
	if err := machine.Progress(ctx, "executor-1", task.ID, map[string]any{"step": "searching"}); err != nil {
		t.Fatalf("progress: %v", err)
	}
	current, _ := machine.Get(ctx, task.ID)
	if current.Status != StatusPending || current.Version != 0 {
		t.Fatalf("progress must not mutate task: %+v", current)
	}
	history := log.History(task.ID)
	if len(history) != 2 || history[1].Type != coordlog.TypeTaskProgress {
		t.Fatalf("expected progress message, got %+v", history)
	}
}
