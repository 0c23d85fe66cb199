package cache

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
)

func TestMemoryTierServesFromMemory(t *testing.T) {
	ctx := context.Background()
	disk := newTestStore(t)
	tier := newTestMemoryTier(t, disk, 1<<20)

	loc := Locator{Partition: "runtime-v1", Key: "/app.js"}
	if _, err := tier.Put(ctx, loc, bytes.NewReader([]byte("v1")), PutOptions{Status: http.StatusOK}); err != nil {
		t.Fatalf("put: %v", err)
	}
	readAll(t, tier, loc)
	tier.wait()

	if _, err := disk.DropPartition(ctx, "runtime-v1"); err != nil {
		t.Fatalf("drop on disk: %v", err)
	}
	if got := readAll(t, tier, loc); got != "v1" {
		t.Fatalf("expected memory hit after disk removal, got %q", got)
	}
}

func TestMemoryTierDropInvalidates(t *testing.T) {
	ctx := context.Background()
	tier := newTestMemoryTier(t, newTestStore(t), 1<<20)
	loc := Locator{Partition: "static-v1", Key: "/index.html"}
	if _, err := tier.Put(ctx, loc, bytes.NewReader([]byte("shell")), PutOptions{Status: http.StatusOK}); err != nil {
		t.Fatalf("put: %v", err)
	}
	readAll(t, tier, loc)
	tier.wait()

	if _, err := tier.DropPartition(ctx, "static-v1"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := tier.Get(ctx, loc); err != ErrNotFound {
		t.Fatalf("dropped partition must not be served from memory, got %v", err)
	}
}

func TestMemoryTierPutRefreshes(t *testing.T) {
	ctx := context.Background()
	tier := newTestMemoryTier(t, newTestStore(t), 1<<20)
	loc := Locator{Partition: "runtime-v1", Key: "/app.css"}
	for _, body := range []string{"old", "new"} {
		if _, err := tier.Put(ctx, loc, bytes.NewReader([]byte(body)), PutOptions{Status: http.StatusOK}); err != nil {
			t.Fatalf("put: %v", err)
		}
		readAll(t, tier, loc)
		tier.wait()
	}
	if got := readAll(t, tier, loc); got != "new" {
		t.Fatalf("expected refreshed body, got %q", got)
	}
}

func TestMemoryTierSkipsFillWhenPutLandsDuringRead(t *testing.T) {
	ctx := context.Background()
	disk := newTestStore(t)
	loc := Locator{Partition: "runtime-v1", Key: "/app.js"}
	if _, err := disk.Put(ctx, loc, bytes.NewReader([]byte("old")), PutOptions{Status: http.StatusOK}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	slow := &pausingStore{Store: disk, reached: make(chan struct{}), release: make(chan struct{})}
	tier := newTestMemoryTier(t, slow, 1<<20)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		result, err := tier.Get(ctx, loc)
		if err != nil {
			t.Errorf("in-flight get: %v", err)
			return
		}
		defer result.Reader.Close()
		if body, _ := io.ReadAll(result.Reader); string(body) != "old" {
			t.Errorf("in-flight read should see the old body, got %q", body)
		}
	}()

	<-slow.reached
	if _, err := tier.Put(ctx, loc, bytes.NewReader([]byte("new")), PutOptions{Status: http.StatusOK}); err != nil {
		t.Fatalf("put: %v", err)
	}
	close(slow.release)
	wg.Wait()
	tier.wait()

	if got := readAll(t, tier, loc); got != "new" {
		t.Fatalf("memory tier serves %q after Put stored \"new\"", got)
	}
}

func TestMemoryTierDeleteInvalidates(t *testing.T) {
	ctx := context.Background()
	tier := newTestMemoryTier(t, newTestStore(t), 1<<20)
	loc := Locator{Partition: "app-shell-v1", Key: "/favicon.svg"}
	if _, err := tier.Put(ctx, loc, bytes.NewReader([]byte("<svg/>")), PutOptions{Status: http.StatusOK}); err != nil {
		t.Fatalf("put: %v", err)
	}
	readAll(t, tier, loc)
	tier.wait()

	removed, err := tier.Delete(ctx, loc)
	if err != nil || !removed {
		t.Fatalf("delete: removed=%v err=%v", removed, err)
	}
	if _, err := tier.Get(ctx, loc); err != ErrNotFound {
		t.Fatalf("deleted entry must not be served from memory, got %v", err)
	}
}

// pausingStore 在第一次 Get 读完正文后暂停，直到测试放行。
type pausingStore struct {
	Store
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func (s *pausingStore) Get(ctx context.Context, loc Locator) (*ReadResult, error) {
	result, err := s.Store.Get(ctx, loc)
	if err != nil {
		return nil, err
	}
	paused := false
	s.once.Do(func() { paused = true })
	if !paused {
		return result, nil
	}
	body, err := io.ReadAll(result.Reader)
	result.Reader.Close()
	if err != nil {
		return nil, err
	}
	close(s.reached)
	<-s.release
	return &ReadResult{Entry: result.Entry, Reader: newMemoryReader(body)}, nil
}

func newTestMemoryTier(t *testing.T, next Store, maxCost int64) *memoryTier {
	t.Helper()
	store, err := NewMemoryTier(next, MemoryOptions{MaxCost: maxCost, MaxEntrySize: 1024})
	if err != nil {
		t.Fatalf("memory tier: %v", err)
	}
	tier := store.(*memoryTier)
	t.Cleanup(func() { tier.cache.Close() })
	return tier
}

func readAll(t *testing.T, store Store, loc Locator) string {
	t.Helper()
	result, err := store.Get(context.Background(), loc)
	if err != nil {
		t.Fatalf("get %s: %v", loc.Key, err)
	}
	defer result.Reader.Close()
	body, err := io.ReadAll(result.Reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(body)
}
