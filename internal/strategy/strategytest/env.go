// Package strategytest wires a strategy.Deps against a temporary disk store
// and an in-memory origin.
package strategytest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/private-chat/shellcache/internal/cache"
	"github.com/private-chat/shellcache/internal/config"
	"github.com/private-chat/shellcache/internal/lifecycle"
	"github.com/private-chat/shellcache/internal/logging"
	"github.com/private-chat/shellcache/internal/strategy"
	"github.com/private-chat/shellcache/internal/upstream/upstreamtest"
)

// Env bundles the collaborators of a strategy under test.
type Env struct {
	Origin  *upstreamtest.Fetcher
	Store   cache.Store
	Manager *lifecycle.Manager
	Tasks   *strategy.Tasks
}

// Tags are the partition tags used by NewEnv: app-shell-v1, runtime-v1, models-v1.
var Tags = config.PartitionTags{
	ShellPrefix:   "app-shell",
	RuntimePrefix: "runtime",
	ModelPrefix:   "models",
	Version:       "v1",
	ModelVersion:  "v1",
}

// NewEnv builds an environment backed by t.TempDir().
func NewEnv(t testing.TB) *Env {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	logger := logging.Discard()
	manager, err := lifecycle.NewManager(store, lifecycle.NewNames(Tags), logger)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return &Env{
		Origin:  upstreamtest.New(),
		Store:   store,
		Manager: manager,
		Tasks:   strategy.NewTasks(logger),
	}
}

// Deps returns the strategy dependencies for this environment.
func (e *Env) Deps() strategy.Deps {
	return strategy.Deps{
		Fetcher:    e.Origin,
		Partitions: e.Manager,
		Tasks:      e.Tasks,
		Logger:     logging.Discard(),
	}
}

// Seed stores a response under key in the partition of role.
func (e *Env) Seed(t testing.TB, role lifecycle.Role, key string, body string) {
	t.Helper()
	e.SeedPartition(t, e.Manager.Names().For(role), key, body)
}

// SeedPartition stores a response under key in an arbitrary partition.
func (e *Env) SeedPartition(t testing.TB, partition, key, body string) {
	t.Helper()
	p, err := cache.Open(context.Background(), e.Store, partition)
	if err != nil {
		t.Fatalf("open %s: %v", partition, err)
	}
	if _, err := p.Put(context.Background(), key, cache.NewResponse(http.StatusOK, nil, []byte(body))); err != nil {
		t.Fatalf("seed %s%s: %v", partition, key, err)
	}
}

// Cached returns the body stored under key in the partition of role.
func (e *Env) Cached(t testing.TB, role lifecycle.Role, key string) (string, bool) {
	t.Helper()
	resp, err := cache.Match(context.Background(), e.Store, e.Manager.Names().For(role), key)
	if errors.Is(err, cache.ErrNotFound) {
		return "", false
	}
	if err != nil {
		t.Fatalf("match %s: %v", key, err)
	}
	return Body(t, resp), true
}

// Body drains and closes resp.
func Body(t testing.TB, resp *cache.Response) string {
	t.Helper()
	if resp == nil {
		t.Fatalf("nil response")
	}
	defer resp.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}
