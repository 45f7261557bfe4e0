package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"logalert/internal/domain"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	if _, _, err := store.Get(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rev, err := store.Create(ctx, domain.ConditionState{ConditionID: "c1", LastOutcome: domain.OutcomeNotTriggered})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Create(ctx, domain.ConditionState{ConditionID: "c1"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on second create, got %v", err)
	}

	loaded, loadedRev, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loadedRev != rev || loaded.LastOutcome != domain.OutcomeNotTriggered {
		t.Fatalf("unexpected state %+v rev=%d", loaded, loadedRev)
	}

	loaded.LastOutcome = domain.OutcomeTriggered
	rev2, err := store.Update(ctx, loaded, rev)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if rev2 == rev {
		t.Fatalf("expected revision to change")
	}
	if _, err := store.Update(ctx, loaded, rev); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected stale revision conflict, got %v", err)
	}
	if _, err := store.Update(ctx, domain.ConditionState{ConditionID: "missing"}, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	ids, err := store.List(ctx)
	if err != nil || len(ids) != 1 || ids[0] != "c1" {
		t.Fatalf("unexpected list %v err=%v", ids, err)
	}
	if err := store.Delete(ctx, "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := store.Get(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreDetachesTimestamps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := domain.ConditionState{ConditionID: "c1", LastTriggeredAt: &at}
	if _, err := store.Create(ctx, record); err != nil {
		t.Fatalf("create: %v", err)
	}
	at = at.Add(time.Hour)

	loaded, _, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !loaded.LastTriggeredAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected stored timestamp detached from caller, got %s", loaded.LastTriggeredAt)
	}
}

func TestMutateConcurrentIncrements(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	const writers = 6
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Mutate(ctx, store, "c1", func(current domain.ConditionState) domain.ConditionState {
				current.ConsecutiveFailures++
				return current
			})
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("unexpected mutate error: %v", err)
		}
	}

	loaded, _, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.ConsecutiveFailures < 1 || loaded.ConsecutiveFailures > writers {
		t.Fatalf("unexpected failure counter %d", loaded.ConsecutiveFailures)
	}
}

func TestMutateStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Mutate(ctx, NewMemoryStore(), "c1", func(current domain.ConditionState) domain.ConditionState {
		return current
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestKeySanitizesConditionID(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"c1":                  "condition.c1",
		"a/b c":               "condition.a_b_c",
		"9b2f-ff=":            "condition.9b2f-ff=",
		"stream.errors>high*": "condition.stream_errors_high_",
	}
	for input, want := range tests {
		if got := Key(input); got != want {
			t.Fatalf("Key(%q)=%q want %q", input, got, want)
		}
	}
}
