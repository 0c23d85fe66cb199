package networkscan

import (
	"context"
	"net/http"
	"testing"

	"github.com/private-chat/shellcache/internal/lifecycle"
	"github.com/private-chat/shellcache/internal/strategy/strategytest"
	"github.com/private-chat/shellcache/internal/upstream"
)

func TestNetworkResponseWinsForAnyStatus(t *testing.T) {
	env := strategytest.NewEnv(t)
	env.Seed(t, lifecycle.RoleShell, "/api/config", "cached")
	env.Origin.Serve("/api/config", http.StatusInternalServerError, "broken")

	resp := New(env.Deps()).Handle(context.Background(), upstream.MustRequest("/api/config"))
	if resp.Status != http.StatusInternalServerError || strategytest.Body(t, resp) != "broken" {
		t.Fatalf("a reachable network answers even with an error status")
	}
}

func TestOfflineScansPartitionsInPrecedence(t *testing.T) {
	env := strategytest.NewEnv(t)
	env.Seed(t, lifecycle.RoleShell, "/favicon.svg", "from-shell")
	env.Seed(t, lifecycle.RoleRuntime, "/favicon.svg", "from-runtime")
	env.Origin.SetOffline(true)

	resp := New(env.Deps()).Handle(context.Background(), upstream.MustRequest("/favicon.svg"))
	if body := strategytest.Body(t, resp); body != "from-runtime" {
		t.Fatalf("runtime precedes shell in the scan, got %q", body)
	}
}

func TestOfflineFindsEntryInStalePartition(t *testing.T) {
	env := strategytest.NewEnv(t)
	env.SeedPartition(t, "app-shell-v0", "/robots.txt", "old")
	env.Origin.SetOffline(true)

	resp := New(env.Deps()).Handle(context.Background(), upstream.MustRequest("/robots.txt"))
	if resp.Partition != "app-shell-v0" || strategytest.Body(t, resp) != "old" {
		t.Fatalf("any existing partition may answer")
	}
}

func TestOfflineNothingCached(t *testing.T) {
	env := strategytest.NewEnv(t)
	env.Origin.SetOffline(true)

	resp := New(env.Deps()).Handle(context.Background(), upstream.MustRequest("/unknown"))
	if resp.Status != http.StatusServiceUnavailable || strategytest.Body(t, resp) != "Offline" {
		t.Fatalf("expected 503 Offline, got %d", resp.Status)
	}
}

func TestNeverWritesCache(t *testing.T) {
	env := strategytest.NewEnv(t)
	env.Origin.Serve("/data.json", http.StatusOK, "{}")

	resp := New(env.Deps()).Handle(context.Background(), upstream.MustRequest("/data.json"))
	resp.Close()
	env.Tasks.Wait()
	for _, role := range lifecycle.Roles {
		if _, ok := env.Cached(t, role, "/data.json"); ok {
			t.Fatalf("network-first-any-cache must not store responses")
		}
	}
}
