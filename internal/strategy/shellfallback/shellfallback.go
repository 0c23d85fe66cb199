// Package shellfallback handles top-level navigations: always try the network
// first and keep the app-shell root document fresh, falling back to it when
// offline.
package shellfallback

import (
	"context"
	"errors"

	"github.com/private-chat/shellcache/internal/cache"
	"github.com/private-chat/shellcache/internal/lifecycle"
	"github.com/private-chat/shellcache/internal/strategy"
	"github.com/private-chat/shellcache/internal/upstream"
)

// Key 是该策略的注册键。
const Key = "network-first-shell"

// RootDocumentKey 是导航回退所用的根文档键；任何导航的成功响应都会写到这里。
const RootDocumentKey = "/index.html"

func init() {
	strategy.MustRegister(strategy.Descriptor{
		Key:         Key,
		Description: "Network first; refresh and fall back to the cached root document",
		Role:        lifecycle.RoleShell,
		New:         New,
	})
}

// Strategy 实现 network-first-shell。
type Strategy struct {
	deps strategy.Deps
	role lifecycle.Role
}

// New 构建 network-first-shell 策略。
func New(deps strategy.Deps) strategy.Strategy {
	return &Strategy{deps: deps, role: lifecycle.RoleShell}
}

func (s *Strategy) Handle(ctx context.Context, req *upstream.Request) *cache.Response {
	resp, err := s.deps.Fetcher.Fetch(ctx, req)
	if err != nil {
		s.deps.Log(Key, req).WithError(err).Info("navigation offline, using shell")
		return s.fallback(ctx, req)
	}
	if resp.OK() {
		s.refresh(ctx, req, resp)
	}
	return resp
}

// refresh 缓冲响应，把副本异步写入 shell 分区的根文档键。
func (s *Strategy) refresh(ctx context.Context, req *upstream.Request, resp *cache.Response) {
	copied, err := resp.Clone()
	if err != nil {
		s.deps.Log(Key, req).WithError(err).Warn("navigation body not buffered")
		return
	}
	s.deps.Tasks.Go(ctx, Key, func(bg context.Context) error {
		partition, err := s.deps.Partitions.Open(bg, s.role)
		if err != nil {
			return err
		}
		_, err = partition.Put(bg, RootDocumentKey, copied)
		return err
	})
}

func (s *Strategy) fallback(ctx context.Context, req *upstream.Request) *cache.Response {
	partition, err := s.deps.Partitions.Open(ctx, s.role)
	if err != nil {
		s.deps.Log(Key, req).WithError(err).Warn("shell partition unavailable")
		return strategy.Offline(strategy.OfflineMessage)
	}
	cached, err := partition.Match(ctx, RootDocumentKey)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			s.deps.Log(Key, req).WithError(err).Warn("shell cache read failed")
		}
		return strategy.Offline(strategy.OfflineMessage)
	}
	return cached
}
