// Package revalidate implements stale-while-revalidate for versioned static
// bundles: a cached copy is served immediately while a background fetch
// refreshes it.
package revalidate

import (
	"context"
	"errors"

	"github.com/private-chat/shellcache/internal/cache"
	"github.com/private-chat/shellcache/internal/lifecycle"
	"github.com/private-chat/shellcache/internal/strategy"
	"github.com/private-chat/shellcache/internal/upstream"
)

// Key 是该策略的注册键。
const Key = "stale-while-revalidate"

func init() {
	strategy.MustRegister(strategy.Descriptor{
		Key:         Key,
		Description: "Serve cached bundles immediately and refresh them in the background",
		Role:        lifecycle.RoleRuntime,
		Revalidates: true,
		New:         New,
	})
}

// Strategy 实现 stale-while-revalidate。
type Strategy struct {
	deps strategy.Deps
	role lifecycle.Role
}

// New 构建 stale-while-revalidate 策略。
func New(deps strategy.Deps) strategy.Strategy {
	return &Strategy{deps: deps, role: lifecycle.RoleRuntime}
}

type fetched struct {
	resp *cache.Response
	err  error
}

func (s *Strategy) Handle(ctx context.Context, req *upstream.Request) *cache.Response {
	log := s.deps.Log(Key, req)
	partition, err := s.deps.Partitions.Open(ctx, s.role)
	if err != nil {
		log.WithError(err).Warn("runtime partition unavailable")
	}

	var cached *cache.Response
	if partition != nil {
		cached, err = partition.Match(ctx, req.Key())
		if err != nil && !errors.Is(err, cache.ErrNotFound) {
			log.WithError(err).Warn("runtime cache read failed")
		}
	}

	// 无论是否命中都发起后台回源；仅在未命中时有人等待结果。
	waiting := cached == nil
	result := make(chan fetched, 1)
	s.deps.Tasks.Go(ctx, Key, func(bg context.Context) error {
		return s.refresh(bg, partition, req, waiting, result)
	})

	if !waiting {
		return cached
	}
	select {
	case r := <-result:
		if r.err != nil {
			return strategy.Offline(strategy.OfflineMessage)
		}
		return r.resp
	case <-ctx.Done():
		return strategy.Offline(strategy.OfflineMessage)
	}
}

// refresh 回源并在成功时写回分区。deliver 为真时先把响应交给等待中的请求。
func (s *Strategy) refresh(ctx context.Context, partition *cache.Partition, req *upstream.Request, deliver bool, result chan<- fetched) error {
	resp, err := s.deps.Fetcher.Fetch(ctx, req)
	if err != nil {
		if deliver {
			result <- fetched{err: err}
		}
		return err
	}

	if !deliver {
		if !resp.OK() || partition == nil {
			return resp.Close()
		}
		_, err := partition.Put(ctx, req.Key(), resp)
		return err
	}

	if !resp.OK() || partition == nil {
		result <- fetched{resp: resp}
		return nil
	}
	copied, err := resp.Clone()
	if err != nil {
		result <- fetched{err: err}
		return err
	}
	result <- fetched{resp: resp}
	_, err = partition.Put(ctx, req.Key(), copied)
	return err
}
