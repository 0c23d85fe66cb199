package cache

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestStorePutAndGet(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Partition: "app-shell-v1", Key: "/assets/app.abc123.js"}

	modTime := time.Now().Add(-time.Hour).UTC()
	payload := []byte("console.log('shell')")
	header := http.Header{"Content-Type": []string{"text/javascript"}}
	if _, err := store.Put(context.Background(), locator, bytes.NewReader(payload), PutOptions{
		Status:  http.StatusOK,
		Header:  header,
		ModTime: modTime,
	}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	result, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()

	body, err := io.ReadAll(result.Reader)
	if err != nil {
		t.Fatalf("read cached body error: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
	if result.Entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", result.Entry.SizeBytes)
	}
	if result.Entry.Status != http.StatusOK {
		t.Fatalf("status mismatch: %d", result.Entry.Status)
	}
	if result.Entry.Header.Get("Content-Type") != "text/javascript" {
		t.Fatalf("header mismatch: %v", result.Entry.Header)
	}
	if !result.Entry.ModTime.Equal(modTime) {
		t.Fatalf("modtime mismatch: expected %v got %v", modTime, result.Entry.ModTime)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), Locator{Partition: "runtime-v1", Key: "/missing"})
	if err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreLastWriteWins(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Partition: "runtime-v1", Key: "/index.html"}
	for _, body := range []string{"first", "second"} {
		if _, err := store.Put(context.Background(), locator, bytes.NewReader([]byte(body)), PutOptions{Status: http.StatusOK}); err != nil {
			t.Fatalf("put error: %v", err)
		}
	}
	result, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()
	body, _ := io.ReadAll(result.Reader)
	if string(body) != "second" {
		t.Fatalf("expected last write to win, got %s", string(body))
	}
}

func TestStoreKeysWithQueryDoNotCollide(t *testing.T) {
	store := newTestStore(t)
	a := Locator{Partition: "runtime-v1", Key: "/app.js"}
	b := Locator{Partition: "runtime-v1", Key: "/app.js?v=2"}
	if _, err := store.Put(context.Background(), a, bytes.NewReader([]byte("a")), PutOptions{Status: http.StatusOK}); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if _, err := store.Get(context.Background(), b); err != ErrNotFound {
		t.Fatalf("query variant should miss, got %v", err)
	}
}

func TestStorePartitionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"static-v1", "model-v1", "static-v1"} {
		if err := store.Provision(ctx, name); err != nil {
			t.Fatalf("provision %s: %v", name, err)
		}
	}
	names, err := store.Partitions(ctx)
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	if len(names) != 2 || names[0] != "model-v1" || names[1] != "static-v1" {
		t.Fatalf("unexpected partitions: %v", names)
	}

	if _, err := store.Put(ctx, Locator{Partition: "static-v1", Key: "/"}, bytes.NewReader([]byte("x")), PutOptions{Status: http.StatusOK}); err != nil {
		t.Fatalf("put: %v", err)
	}
	dropped, err := store.DropPartition(ctx, "static-v1")
	if err != nil || !dropped {
		t.Fatalf("drop should succeed, dropped=%v err=%v", dropped, err)
	}
	if _, err := store.Get(ctx, Locator{Partition: "static-v1", Key: "/"}); err != ErrNotFound {
		t.Fatalf("entries must vanish with their partition, got %v", err)
	}
	dropped, err = store.DropPartition(ctx, "static-v1")
	if err != nil || dropped {
		t.Fatalf("second drop should be a no-op, dropped=%v err=%v", dropped, err)
	}
}

func TestStoreRejectsInvalidPartition(t *testing.T) {
	store := newTestStore(t)
	for _, name := range []string{"", "..", "../etc", "a/b", ".hidden"} {
		if err := store.Provision(context.Background(), name); err == nil {
			t.Fatalf("expected error for partition %q", name)
		}
	}
}

func TestStoreIgnoresStrayFiles(t *testing.T) {
	store := newTestStore(t)
	fs, ok := store.(*fileStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}
	if err := os.WriteFile(filepath.Join(fs.basePath, "README"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write stray file: %v", err)
	}
	names, err := store.Partitions(context.Background())
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("stray files must not be reported as partitions: %v", names)
	}
}

func TestStoreOverwriteKeepsMetadataWithBody(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	loc := Locator{Partition: "runtime-v1", Key: "/app.js"}
	variants := []struct {
		status int
		tag    string
		body   string
	}{
		{http.StatusOK, "a", strings.Repeat("a", 4096)},
		{http.StatusNonAuthoritativeInfo, "b", strings.Repeat("b", 70000)},
	}
	put := func(i int) error {
		v := variants[i%len(variants)]
		_, err := store.Put(ctx, loc, strings.NewReader(v.body), PutOptions{
			Status: v.status,
			Header: http.Header{"X-Variant": []string{v.tag}},
		})
		return err
	}
	if err := put(0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := put(i + w); err != nil {
					t.Errorf("put: %v", err)
					return
				}
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				result, err := store.Get(ctx, loc)
				if err != nil {
					t.Errorf("get: %v", err)
					return
				}
				body, err := io.ReadAll(result.Reader)
				result.Reader.Close()
				if err != nil {
					t.Errorf("read: %v", err)
					return
				}
				tag := result.Entry.Header.Get("X-Variant")
				for _, v := range variants {
					if v.tag != tag {
						continue
					}
					if result.Entry.Status != v.status || string(body) != v.body || result.Entry.SizeBytes != int64(len(v.body)) {
						t.Errorf("variant %s paired with status %d and %d body bytes", tag, result.Entry.Status, len(body))
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}

func TestStoreRejectsTruncatedEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	loc := Locator{Partition: "model-v1", Key: "/models/tiny.gguf"}
	if _, err := store.Put(ctx, loc, strings.NewReader(strings.Repeat("w", 1024)), PutOptions{Status: http.StatusOK}); err != nil {
		t.Fatalf("put: %v", err)
	}
	path, err := store.(*fileStore).entryPath(loc)
	if err != nil {
		t.Fatalf("entry path: %v", err)
	}
	if err := os.Truncate(path, 512); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if result, err := store.Get(ctx, loc); err == nil {
		result.Reader.Close()
		t.Fatalf("truncated entry must not be served")
	}
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	loc := Locator{Partition: "app-shell-v1", Key: "/index.html"}
	if _, err := store.Put(ctx, loc, strings.NewReader("<html>"), PutOptions{Status: http.StatusOK}); err != nil {
		t.Fatalf("put: %v", err)
	}
	removed, err := store.Delete(ctx, loc)
	if err != nil || !removed {
		t.Fatalf("delete: removed=%v err=%v", removed, err)
	}
	if _, err := store.Get(ctx, loc); err != ErrNotFound {
		t.Fatalf("deleted entry should miss, got %v", err)
	}
	removed, err = store.Delete(ctx, loc)
	if err != nil || removed {
		t.Fatalf("second delete should be a no-op, removed=%v err=%v", removed, err)
	}
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
