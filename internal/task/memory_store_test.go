package task

import (
	"context"
	stdErrors "errors"
	"testing"
)

func TestMemoryStoreCreateRejectsDuplicate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Task{ID: "t1", Title: "a", Status: StatusPending}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Task{ID: "t1", Title: "b", Status: StatusPending}); !stdErrors.Is(err, ErrTaskConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMemoryStoreUpdateChecksVersion(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	task := &Task{ID: "t1", Title: "a", Status: StatusPending}
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	task.Status = StatusAssigned
	if err := store.Update(ctx, task, 0); err != nil {
		t.Fatalf("update: %v", err)
	}
	if task.Version != 1 {
		t.Fatalf("expected version 1, got %d", task.Version)
	}

	// 再次以旧版本写入必须失败。
	stale := &Task{ID: "t1", Title: "a", Status: StatusInProgress}
	if err := store.Update(ctx, stale, 0); !stdErrors.Is(err, ErrTaskStale) {
		t.Fatalf("expected StaleVersion, got %v", err)
	}

	stored, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusAssigned {
		t.Fatalf("stale update must not apply: %s", stored.Status)
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Task{ID: "t1", Title: "a", Status: StatusPending}); err != nil {
		t.Fatalf("create: %v", err)
	}
	first, _ := store.Get(ctx, "t1")
	first.Title = "mutated"
	second, _ := store.Get(ctx, "t1")
	if second.Title != "a" {
		t.Fatal("store must not expose internal state")
	}
}

func TestMemoryStoreGetUnknownID(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "missing"); !stdErrors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
