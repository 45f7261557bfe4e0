package indexset

import (
	"errors"
	"slices"
	"sync"
	"testing"
)

func mustSet(t *testing.T, name, prefix string) *IndexSet {
	t.Helper()
	set, err := New(Config{Name: name, Prefix: prefix})
	if err != nil {
		t.Fatalf("new index set: %v", err)
	}
	return set
}

func TestIndexSetNames(t *testing.T) {
	t.Parallel()

	set := mustSet(t, "default", "graylog")
	if set.WriteAlias() != "graylog_deflector" {
		t.Fatalf("unexpected alias: %s", set.WriteAlias())
	}
	if set.WriteWildcard() != "graylog_*" {
		t.Fatalf("unexpected wildcard: %s", set.WriteWildcard())
	}
	if set.PartitionName(7) != "graylog_7" {
		t.Fatalf("unexpected partition name: %s", set.PartitionName(7))
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Name: "", Prefix: "graylog"}); err == nil {
		t.Fatalf("expected empty name error")
	}
	for _, prefix := range []string{"", "Graylog", "_x", "a b", "a*"} {
		if _, err := New(Config{Name: "x", Prefix: prefix}); !errors.Is(err, ErrInvalidPrefix) {
			t.Fatalf("prefix %q: expected ErrInvalidPrefix, got %v", prefix, err)
		}
	}
}

func TestIsManaged(t *testing.T) {
	t.Parallel()

	set := mustSet(t, "default", "graylog")
	cases := map[string]bool{
		"graylog_0":         true,
		"graylog_15":        true,
		"graylog_deflector": false,
		"graylog_":          false,
		"graylog_1a":        false,
		"graylog_-1":        false,
		"other_1":           false,
		"graylog":           false,
		"graylog_1_2":       false,
	}
	for name, want := range cases {
		if got := set.IsManaged(name); got != want {
			t.Fatalf("IsManaged(%q)=%v, want %v", name, got, want)
		}
	}
}

func TestCycleAdvancesWriteTarget(t *testing.T) {
	t.Parallel()

	set := mustSet(t, "default", "graylog")
	target, err := set.CurrentWriteTarget()
	if err != nil || target != "" {
		t.Fatalf("expected no target before first cycle, got %q err=%v", target, err)
	}

	for i, want := range []string{"graylog_0", "graylog_1", "graylog_2"} {
		got, err := set.Cycle()
		if err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("cycle %d: got %q want %q", i, got, want)
		}
	}

	target, err = set.CurrentWriteTarget()
	if err != nil || target != "graylog_2" {
		t.Fatalf("unexpected current target %q err=%v", target, err)
	}
	if !slices.Equal(set.Partitions(), []string{"graylog_0", "graylog_1", "graylog_2"}) {
		t.Fatalf("unexpected partitions: %v", set.Partitions())
	}
	if set.Snapshot().Version != 3 {
		t.Fatalf("expected version 3, got %d", set.Snapshot().Version)
	}
}

func TestPublishValidatesAndReportsAmbiguity(t *testing.T) {
	t.Parallel()

	set := mustSet(t, "default", "graylog")
	if err := set.Publish(Snapshot{Partitions: []string{"other_0"}}); err == nil {
		t.Fatalf("expected foreign partition error")
	}
	if err := set.Publish(Snapshot{Partitions: []string{"graylog_0"}, WriteTargets: []string{"graylog_1"}}); err == nil {
		t.Fatalf("expected unknown target error")
	}

	err := set.Publish(Snapshot{
		Partitions:   []string{"graylog_3", "graylog_4"},
		WriteTargets: []string{"graylog_3", "graylog_4"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := set.CurrentWriteTarget(); !errors.Is(err, ErrTooManyAliases) {
		t.Fatalf("expected ErrTooManyAliases, got %v", err)
	}
	if _, err := set.Cycle(); !errors.Is(err, ErrTooManyAliases) {
		t.Fatalf("expected cycle to refuse ambiguous metadata, got %v", err)
	}

	if err := set.Publish(Snapshot{Partitions: []string{"graylog_3", "graylog_4"}, WriteTargets: []string{"graylog_4"}}); err != nil {
		t.Fatalf("publish repaired: %v", err)
	}
	next, err := set.Cycle()
	if err != nil || next != "graylog_5" {
		t.Fatalf("expected graylog_5 after repair, got %q err=%v", next, err)
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	t.Parallel()

	set := mustSet(t, "default", "graylog")
	if _, err := set.Cycle(); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	snap := set.Snapshot()
	snap.Partitions[0] = "mutated"
	snap.WriteTargets[0] = "mutated"

	target, _ := set.CurrentWriteTarget()
	if target != "graylog_0" || set.Partitions()[0] != "graylog_0" {
		t.Fatalf("snapshot mutation leaked into set")
	}
}

func TestConcurrentCycleAndResolve(t *testing.T) {
	t.Parallel()

	set := mustSet(t, "default", "graylog")
	if _, err := set.Cycle(); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	const writers = 4
	const rotations = 50
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range rotations {
				if _, err := set.Cycle(); err != nil {
					t.Errorf("cycle: %v", err)
					return
				}
			}
		}()
	}
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range rotations {
				target, err := set.CurrentWriteTarget()
				if err != nil {
					t.Errorf("resolve: %v", err)
					return
				}
				if !set.IsManaged(target) {
					t.Errorf("unmanaged target %q", target)
					return
				}
			}
		}()
	}
	wg.Wait()

	partitions := set.Partitions()
	if len(partitions) != 1+writers*rotations {
		t.Fatalf("expected %d partitions, got %d", 1+writers*rotations, len(partitions))
	}
	target, _ := set.CurrentWriteTarget()
	if target != partitions[len(partitions)-1] {
		t.Fatalf("write target %q is not newest partition %q", target, partitions[len(partitions)-1])
	}
}
