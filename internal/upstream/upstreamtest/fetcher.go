// Package upstreamtest provides an in-memory origin for exercising code that
// depends on upstream.Fetcher.
package upstreamtest

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/private-chat/shellcache/internal/cache"
	"github.com/private-chat/shellcache/internal/upstream"
)

// ErrOffline is returned for every fetch while the origin is offline or for
// keys registered with Fail.
var ErrOffline = errors.New("upstreamtest: network unreachable")

type route struct {
	status int
	header http.Header
	body   []byte
}

// Fetcher is a programmable origin keyed by request key (path plus query).
// Unknown keys answer 404.
type Fetcher struct {
	mu       sync.Mutex
	routes   map[string]route
	failing  map[string]struct{}
	offline  bool
	requests []*upstream.Request
}

// New returns an online origin with no routes.
func New() *Fetcher {
	return &Fetcher{
		routes:  make(map[string]route),
		failing: make(map[string]struct{}),
	}
}

// Serve registers a response for key.
func (f *Fetcher) Serve(key string, status int, body string) *Fetcher {
	return f.ServeWithHeader(key, status, nil, body)
}

// ServeWithHeader registers a response with headers for key.
func (f *Fetcher) ServeWithHeader(key string, status int, header http.Header, body string) *Fetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[key] = route{status: status, header: header.Clone(), body: []byte(body)}
	return f
}

// Fail makes fetches of key fail at the transport level.
func (f *Fetcher) Fail(key string) *Fetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[key] = struct{}{}
	return f
}

// SetOffline toggles a whole-origin network failure.
func (f *Fetcher) SetOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

// Fetch implements upstream.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, req *upstream.Request) (*cache.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := req.Key()

	f.mu.Lock()
	defer f.mu.Unlock()
	recorded := *req
	f.requests = append(f.requests, &recorded)
	if f.offline {
		return nil, ErrOffline
	}
	if _, ok := f.failing[key]; ok {
		return nil, ErrOffline
	}
	r, ok := f.routes[key]
	if !ok {
		return cache.NewResponse(http.StatusNotFound, nil, []byte("not found")), nil
	}
	return cache.NewResponse(r.status, r.header.Clone(), r.body), nil
}

// Calls reports how many times key was fetched.
func (f *Fetcher) Calls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, req := range f.requests {
		if req.Key() == key {
			n++
		}
	}
	return n
}

// Total reports the number of fetches attempted.
func (f *Fetcher) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Requests returns a snapshot of every fetch attempted.
func (f *Fetcher) Requests() []*upstream.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*upstream.Request(nil), f.requests...)
}
