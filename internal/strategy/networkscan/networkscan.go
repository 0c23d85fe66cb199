// Package networkscan is the catch-all strategy: the network answers whenever
// it is reachable, otherwise any partition holding the key does.
package networkscan

import (
	"context"
	"errors"

	"github.com/private-chat/shellcache/internal/cache"
	"github.com/private-chat/shellcache/internal/strategy"
	"github.com/private-chat/shellcache/internal/upstream"
)

// Key 是该策略的注册键。
const Key = "network-first-any-cache"

func init() {
	strategy.MustRegister(strategy.Descriptor{
		Key:         Key,
		Description: "Network first; on failure scan every partition for the key",
		New:         New,
	})
}

// Strategy 实现 network-first-any-cache，从不写缓存。
type Strategy struct {
	deps strategy.Deps
}

// New 构建 network-first-any-cache 策略。
func New(deps strategy.Deps) strategy.Strategy {
	return &Strategy{deps: deps}
}

func (s *Strategy) Handle(ctx context.Context, req *upstream.Request) *cache.Response {
	resp, err := s.deps.Fetcher.Fetch(ctx, req)
	if err == nil {
		return resp
	}
	log := s.deps.Log(Key, req).WithError(err)
	log.Info("network failed, scanning partitions")

	order, scanErr := s.deps.Partitions.ScanOrder(ctx)
	if scanErr != nil {
		log.WithField("scan_error", scanErr.Error()).Warn("partition listing failed")
	}
	store := s.deps.Partitions.Store()
	for _, name := range order {
		cached, err := cache.Match(ctx, store, name, req.Key())
		if err == nil {
			return cached
		}
		if !errors.Is(err, cache.ErrNotFound) {
			log.WithField("partition", name).Warn("partition read failed")
		}
	}
	return strategy.Offline(strategy.OfflineMessage)
}
