package lifecycle

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/private-chat/shellcache/internal/cache"
	"github.com/private-chat/shellcache/internal/config"
	"github.com/private-chat/shellcache/internal/logging"
)

func TestSweepKeepsCurrentPartitions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "static-v1", "model-v1", "static-v2")
	manager := newTestManager(t, store, scenarioNames())

	report, err := manager.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !reflect.DeepEqual(report.Deleted, []string{"static-v1"}) {
		t.Fatalf("expected only static-v1 deleted, got %v", report.Deleted)
	}
	if !report.OK() {
		t.Fatalf("unexpected failures: %v", report.Failed)
	}
	assertPartitions(t, store, []string{"model-v1", "static-v2"})
}

func TestSweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "static-v1", "runtime-v1", "model-v1", "static-v2")
	manager := newTestManager(t, store, scenarioNames())

	if _, err := manager.Sweep(ctx); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	first, _ := store.Partitions(ctx)

	report, err := manager.Sweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(report.Deleted) != 0 {
		t.Fatalf("second sweep should delete nothing, got %v", report.Deleted)
	}
	second, _ := store.Partitions(ctx)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("partition set changed: %v -> %v", first, second)
	}
}

func TestSweepIsolatesDeleteFailures(t *testing.T) {
	ctx := context.Background()
	base := newTestStore(t, "static-v0", "static-v1", "model-v1", "static-v2")
	store := &failingDropStore{Store: base, fail: "static-v0"}
	manager := newTestManager(t, store, scenarioNames())

	report, err := manager.Sweep(ctx)
	if err != nil {
		t.Fatalf("per-partition failures must not fail the sweep: %v", err)
	}
	if _, ok := report.Failed["static-v0"]; !ok || report.OK() {
		t.Fatalf("failure should be recorded, got %v", report.Failed)
	}
	if !reflect.DeepEqual(report.Deleted, []string{"static-v1"}) {
		t.Fatalf("later partitions should still be swept, got %v", report.Deleted)
	}
}

func TestSweepFailsWhenListingFails(t *testing.T) {
	store := &failingListStore{Store: newTestStore(t)}
	manager := newTestManager(t, store, scenarioNames())
	if _, err := manager.Sweep(context.Background()); err == nil {
		t.Fatalf("listing failure should fail the sweep")
	}
}

func TestProvisionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	manager := newTestManager(t, store, scenarioNames())

	first, err := manager.Provision(ctx)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	second, err := manager.Provision(ctx)
	if err != nil {
		t.Fatalf("provision again: %v", err)
	}
	if first != second || first.Name() != "static-v2" {
		t.Fatalf("provision should return the same shell partition, got %s and %s", first.Name(), second.Name())
	}
	assertPartitions(t, store, []string{"static-v2"})
}

func TestScanOrderPrecedence(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "app-shell-v1", "legacy-v0", "runtime-v1", "models-v1")
	names := NewNames(config.PartitionTags{
		ShellPrefix:   "app-shell",
		RuntimePrefix: "runtime",
		ModelPrefix:   "models",
		Version:       "v1",
		ModelVersion:  "v1",
	})
	manager := newTestManager(t, store, names)

	order, err := manager.ScanOrder(ctx)
	if err != nil {
		t.Fatalf("scan order: %v", err)
	}
	want := []string{"models-v1", "runtime-v1", "app-shell-v1", "legacy-v0"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("unexpected scan order %v, want %v", order, want)
	}
}

func TestClaim(t *testing.T) {
	manager := newTestManager(t, newTestStore(t), scenarioNames())
	if manager.Claimed() {
		t.Fatalf("manager must not start claimed")
	}
	manager.Claim()
	manager.Claim()
	if !manager.Claimed() {
		t.Fatalf("claim should stick")
	}
}

func TestNamesMergeRuntime(t *testing.T) {
	names := NewNames(config.PartitionTags{
		ShellPrefix:   "app-shell",
		RuntimePrefix: "runtime",
		ModelPrefix:   "models",
		Version:       "v3",
		ModelVersion:  "v1",
		MergeRuntime:  true,
	})
	if names.Runtime() != "app-shell-v3" || !names.Merged() {
		t.Fatalf("runtime should resolve to shell when merged, got %s", names.Runtime())
	}
	if !reflect.DeepEqual(names.Current(), []string{"models-v1", "app-shell-v3"}) {
		t.Fatalf("current names should be deduplicated, got %v", names.Current())
	}
	if names.For(Role("unknown")) != "" {
		t.Fatalf("unknown role should have no partition")
	}
}

// scenarioNames 对应 static-v2 为当前 shell、model-v1 保持不变的发布。
func scenarioNames() Names {
	return NewNames(config.PartitionTags{
		ShellPrefix:   "static",
		RuntimePrefix: "runtime",
		ModelPrefix:   "model",
		Version:       "v2",
		ModelVersion:  "v1",
		MergeRuntime:  true,
	})
}

func newTestStore(t *testing.T, partitions ...string) cache.Store {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	for _, name := range partitions {
		if err := store.Provision(context.Background(), name); err != nil {
			t.Fatalf("provision %s: %v", name, err)
		}
	}
	return store
}

func newTestManager(t *testing.T, store cache.Store, names Names) *Manager {
	t.Helper()
	manager, err := NewManager(store, names, logging.Discard())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return manager
}

func assertPartitions(t *testing.T, store cache.Store, want []string) {
	t.Helper()
	got, err := store.Partitions(context.Background())
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("partitions = %v, want %v", got, want)
	}
}

type failingDropStore struct {
	cache.Store
	fail string
}

func (s *failingDropStore) DropPartition(ctx context.Context, name string) (bool, error) {
	if name == s.fail {
		return false, errors.New("permission denied")
	}
	return s.Store.DropPartition(ctx, name)
}

type failingListStore struct {
	cache.Store
}

func (s *failingListStore) Partitions(context.Context) ([]string, error) {
	return nil, errors.New("storage offline")
}
