package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/private-chat/shellcache/internal/cache"
	"github.com/private-chat/shellcache/internal/logging"
	"github.com/private-chat/shellcache/internal/router"
	"github.com/private-chat/shellcache/internal/server"
	"github.com/private-chat/shellcache/internal/upstream"
	"github.com/private-chat/shellcache/internal/upstream/upstreamtest"
)

type interceptorFunc func(context.Context, *upstream.Request) (*cache.Response, router.Outcome, bool)

func (f interceptorFunc) Handle(ctx context.Context, req *upstream.Request) (*cache.Response, router.Outcome, bool) {
	return f(ctx, req)
}

func declineAll() Interceptor {
	return interceptorFunc(func(context.Context, *upstream.Request) (*cache.Response, router.Outcome, bool) {
		return nil, router.Outcome{}, false
	})
}

func newProxyApp(t *testing.T, handler server.ProxyHandler) *fiber.App {
	t.Helper()
	app, err := server.NewApp(server.AppOptions{
		Logger:     logging.Discard(),
		Proxy:      handler,
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app
}

func TestHandlerWritesInterceptedResponse(t *testing.T) {
	var seen *upstream.Request
	interceptor := interceptorFunc(func(_ context.Context, req *upstream.Request) (*cache.Response, router.Outcome, bool) {
		seen = req
		resp := cache.NewResponse(http.StatusOK, http.Header{"Content-Type": {"text/javascript"}}, []byte("console.log(1)"))
		resp.FromCache = true
		resp.Partition = "app-shell-v1"
		return resp, router.Outcome{
			Class:     router.ClassVersionedStatic,
			Strategy:  "stale-while-revalidate",
			CacheHit:  true,
			Partition: "app-shell-v1",
		}, true
	})
	app := newProxyApp(t, NewHandler(interceptor, upstreamtest.New(), logging.Discard()))

	req := httptest.NewRequest("GET", "http://chat.local/assets/app.abc.js?v=2", nil)
	req.Header.Set("Sec-Fetch-Mode", "no-cors")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "console.log(1)" {
		t.Fatalf("unexpected response: %d %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get(HeaderClass); got != "static" {
		t.Fatalf("unexpected class header: %s", got)
	}
	if got := resp.Header.Get(HeaderStrategy); got != "stale-while-revalidate" {
		t.Fatalf("unexpected strategy header: %s", got)
	}
	if got := resp.Header.Get(HeaderCacheHit); got != "true" {
		t.Fatalf("unexpected cache hit header: %s", got)
	}
	if got := resp.Header.Get(HeaderPartition); got != "app-shell-v1" {
		t.Fatalf("unexpected partition header: %s", got)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/javascript" {
		t.Fatalf("cached headers should be replayed, got %s", got)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}

	if seen == nil {
		t.Fatalf("interceptor was not called")
	}
	if seen.Key() != "/assets/app.abc.js?v=2" || seen.Mode != "no-cors" || seen.Method != http.MethodGet {
		t.Fatalf("unexpected request: key=%s mode=%s method=%s", seen.Key(), seen.Mode, seen.Method)
	}
}

func TestHandlerPassesThroughDeclinedRequests(t *testing.T) {
	origin := upstreamtest.New().Serve("/api/chat", http.StatusCreated, "created")
	app := newProxyApp(t, NewHandler(declineAll(), origin, logging.Discard()))

	req := httptest.NewRequest("POST", "http://chat.local/api/chat", strings.NewReader(`{"q":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated || string(body) != "created" {
		t.Fatalf("unexpected response: %d %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get(HeaderCacheHit); got != "false" {
		t.Fatalf("passthrough must not report a cache hit, got %s", got)
	}
	if resp.Header.Get(HeaderStrategy) != "" {
		t.Fatalf("passthrough must not report a strategy")
	}

	requests := origin.Requests()
	if len(requests) != 1 {
		t.Fatalf("expected one upstream request, got %d", len(requests))
	}
	forwarded := requests[0]
	if forwarded.Method != http.MethodPost {
		t.Fatalf("method not forwarded: %s", forwarded.Method)
	}
	if forwarded.Body == nil {
		t.Fatalf("request body not forwarded")
	}
	payload, _ := io.ReadAll(forwarded.Body)
	if string(payload) != `{"q":"hi"}` {
		t.Fatalf("unexpected forwarded body: %s", payload)
	}
	if forwarded.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("headers not forwarded: %v", forwarded.Header)
	}
}

func TestHandlerReportsUpstreamFailure(t *testing.T) {
	origin := upstreamtest.New()
	origin.SetOffline(true)
	app := newProxyApp(t, NewHandler(declineAll(), origin, logging.Discard()))

	resp, err := app.Test(httptest.NewRequest("POST", "http://chat.local/api/chat", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "upstream_failed") {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestHandlerHeadOmitsBody(t *testing.T) {
	interceptor := interceptorFunc(func(context.Context, *upstream.Request) (*cache.Response, router.Outcome, bool) {
		return cache.NewResponse(http.StatusOK, nil, []byte("payload")), router.Outcome{Class: router.ClassOther, Strategy: "network-first-any-cache"}, true
	})
	app := newProxyApp(t, NewHandler(interceptor, upstreamtest.New(), logging.Discard()))

	resp, err := app.Test(httptest.NewRequest("HEAD", "http://chat.local/favicon.svg", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || len(body) != 0 {
		t.Fatalf("unexpected HEAD response: %d %q", resp.StatusCode, body)
	}
}

func TestBuildRequestKeepsEscapedPath(t *testing.T) {
	var seen *upstream.Request
	interceptor := interceptorFunc(func(_ context.Context, req *upstream.Request) (*cache.Response, router.Outcome, bool) {
		seen = req
		return cache.NewResponse(http.StatusNoContent, nil, nil), router.Outcome{}, true
	})
	app := newProxyApp(t, NewHandler(interceptor, upstreamtest.New(), logging.Discard()))

	req := httptest.NewRequest("GET", "http://chat.local/models/my%20model.gguf", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	if _, err := app.Test(req); err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if seen == nil {
		t.Fatalf("interceptor was not called")
	}
	if seen.Key() != "/models/my%20model.gguf" || seen.Path() != "/models/my model.gguf" {
		t.Fatalf("unexpected key/path: %s %s", seen.Key(), seen.Path())
	}
	if !seen.IsNavigation() {
		t.Fatalf("navigation mode lost")
	}
	if seen.URL.Host != "" || seen.URL.Scheme != "" {
		t.Fatalf("request url should be site relative: %s", seen.URL)
	}
}
