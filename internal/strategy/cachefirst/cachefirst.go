// Package cachefirst serves large immutable artifacts (model files) from
// cache forever once stored; only a miss reaches the network.
package cachefirst

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/sync/singleflight"

	"github.com/private-chat/shellcache/internal/cache"
	"github.com/private-chat/shellcache/internal/lifecycle"
	"github.com/private-chat/shellcache/internal/strategy"
	"github.com/private-chat/shellcache/internal/upstream"
)

// Key 是该策略的注册键。
const Key = "cache-first"

func init() {
	strategy.MustRegister(strategy.Descriptor{
		Key:         Key,
		Description: "Serve from the model partition; fetch and store only on a miss",
		Role:        lifecycle.RoleModel,
		New:         New,
	})
}

// Strategy 命中即返回且永不回源校验；同一键的并发未命中合并为一次下载。
type Strategy struct {
	deps  strategy.Deps
	role  lifecycle.Role
	group singleflight.Group
}

// New 构建 cache-first 策略。
func New(deps strategy.Deps) strategy.Strategy {
	return &Strategy{deps: deps, role: lifecycle.RoleModel}
}

// download 是一次共享下载的结果。未写入缓存的响应会被缓冲，供每个等待者各自构造响应。
type download struct {
	stored bool
	status int
	header http.Header
	body   []byte
}

func (s *Strategy) Handle(ctx context.Context, req *upstream.Request) *cache.Response {
	log := s.deps.Log(Key, req)
	partition, err := s.deps.Partitions.Open(ctx, s.role)
	if err != nil {
		log.WithError(err).Warn("model partition unavailable")
		return s.passThrough(ctx, req)
	}

	if cached, err := partition.Match(ctx, req.Key()); err == nil {
		return cached
	} else if !errors.Is(err, cache.ErrNotFound) {
		log.WithError(err).Warn("model cache read failed")
	}

	value, err, _ := s.group.Do(req.Key(), func() (interface{}, error) {
		return s.fetchAndStore(context.WithoutCancel(ctx), partition, req)
	})
	if err != nil {
		log.WithError(err).Info("model fetch failed")
		return strategy.Offline(strategy.ModelOfflineMessage)
	}

	result := value.(*download)
	if !result.stored {
		return cache.NewResponse(result.status, result.header.Clone(), result.body)
	}
	cached, err := partition.Match(ctx, req.Key())
	if err != nil {
		log.WithError(err).Error("stored model not readable")
		return strategy.Failure(http.StatusBadGateway, "model_cache_read_failed")
	}
	return cached
}

// fetchAndStore 回源并在成功时写入模型分区；非成功状态原样缓冲返回且不写入。
func (s *Strategy) fetchAndStore(ctx context.Context, partition *cache.Partition, req *upstream.Request) (*download, error) {
	resp, err := s.deps.Fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		body, err := resp.Buffer()
		if err != nil {
			return nil, err
		}
		return &download{status: resp.Status, header: resp.Header, body: body}, nil
	}
	if _, err := partition.Put(ctx, req.Key(), resp); err != nil {
		s.deps.Log(Key, req).WithError(err).Error("model cache write failed")
		failed := strategy.Failure(http.StatusBadGateway, "model_cache_write_failed")
		body, _ := failed.Buffer()
		return &download{status: failed.Status, header: failed.Header, body: body}, nil
	}
	return &download{stored: true}, nil
}

// passThrough 在分区不可用时直接返回网络响应。
func (s *Strategy) passThrough(ctx context.Context, req *upstream.Request) *cache.Response {
	resp, err := s.deps.Fetcher.Fetch(ctx, req)
	if err != nil {
		return strategy.Offline(strategy.ModelOfflineMessage)
	}
	return resp
}
