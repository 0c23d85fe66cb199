package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/private-chat/shellcache/internal/cache"
	"github.com/private-chat/shellcache/internal/config"
	"github.com/private-chat/shellcache/internal/lifecycle"
	"github.com/private-chat/shellcache/internal/logging"
	"github.com/private-chat/shellcache/internal/precache"
	"github.com/private-chat/shellcache/internal/proxy"
	"github.com/private-chat/shellcache/internal/router"
	"github.com/private-chat/shellcache/internal/server"
	"github.com/private-chat/shellcache/internal/session"
	"github.com/private-chat/shellcache/internal/strategy"
	"github.com/private-chat/shellcache/internal/upstream"
	"github.com/private-chat/shellcache/internal/worker"
)

// redisKeyPrefix 是 Redis 存储驱动使用的键前缀。
const redisKeyPrefix = "shellcache"

// gateway 持有进程内唯一的一组运行时组件。
type gateway struct {
	cfg      *config.Config
	logger   *logrus.Logger
	store    cache.Store
	client   *upstream.Client
	tasks    *strategy.Tasks
	worker   *worker.Worker
	sessions *session.SQLiteStore
}

func newGateway(cfg *config.Config, logger *logrus.Logger) (*gateway, error) {
	store, err := openStore(cfg.Global)
	if err != nil {
		return nil, err
	}
	gw := &gateway{cfg: cfg, logger: logger, store: store}

	if err := gw.wire(); err != nil {
		gw.Close()
		return nil, err
	}
	return gw, nil
}

func (gw *gateway) wire() error {
	cfg := gw.cfg
	manager, err := lifecycle.NewManager(gw.store, lifecycle.NewNames(cfg.Cache.Tags()), gw.logger)
	if err != nil {
		return err
	}

	gw.client, err = upstream.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("build upstream client: %w", err)
	}

	gw.tasks = strategy.NewTasks(gw.logger)
	deps := strategy.Deps{
		Fetcher:    gw.client,
		Partitions: manager,
		Tasks:      gw.tasks,
		Logger:     gw.logger,
	}
	r, err := router.New(router.NewClassifier(cfg.Cache), cfg.Strategy, deps, gw.logger)
	if err != nil {
		return err
	}

	gw.worker, err = worker.New(manager, precache.NewLoader(gw.client, cfg.Cache, gw.logger), r, gw.logger)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Global.SessionDBPath), 0o755); err != nil {
		return fmt.Errorf("create session db dir: %w", err)
	}
	gw.sessions, err = session.OpenSQLite(cfg.Global.SessionDBPath, cfg.Global.MaxSessions)
	if err != nil {
		return err
	}
	return nil
}

// ProxyHandler 返回带 panic 兜底的代理 handler。
func (gw *gateway) ProxyHandler() server.ProxyHandler {
	return proxy.NewForwarder(proxy.NewHandler(gw.worker, gw.client, gw.logger), gw.logger)
}

// Bootstrap 在失败时按指数退避重试 install，成功后 activate 并接管请求。
// 完成前 worker 不拦截任何请求。
func (gw *gateway) Bootstrap(ctx context.Context) error {
	if err := installWithRetry(ctx, gw.worker, gw.cfg.Global, gw.logger); err != nil {
		gw.logger.WithFields(logging.LifecycleFields("install", "")).
			WithError(err).Error("install gave up")
		return err
	}
	if _, err := gw.worker.Activate(ctx); err != nil {
		gw.logger.WithFields(logging.LifecycleFields("activate", "")).
			WithError(err).Error("activate failed")
		return err
	}
	return nil
}

// Close 等待后台写入结束后释放存储与会话库。
func (gw *gateway) Close() {
	if gw.tasks != nil {
		gw.tasks.Wait()
	}
	if gw.sessions != nil {
		if err := gw.sessions.Close(); err != nil {
			gw.logger.WithError(err).Warn("close session store")
		}
	}
	if closer, ok := gw.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			gw.logger.WithError(err).Warn("close cache store")
		}
	}
}

// installer 是 installWithRetry 需要的最小接口，*worker.Worker 满足。
type installer interface {
	Install(ctx context.Context) error
}

// installWithRetry 最多尝试 MaxRetries+1 次，每次失败后等待时间翻倍。
func installWithRetry(ctx context.Context, w installer, cfg config.GlobalConfig, logger *logrus.Logger) error {
	backoff := cfg.InitialBackoff.DurationValue()
	attempts := cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = w.Install(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		logger.WithFields(logging.LifecycleFields("install", "")).WithFields(logrus.Fields{
			"attempt": attempt,
			"backoff": backoff.String(),
		}).WithError(lastErr).Warn("install failed, retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
		backoff *= 2
	}
	return fmt.Errorf("install failed after %d attempts: %w", attempts, lastErr)
}

// openStore 按存储驱动构建分区存储，MaxMemoryCacheSize > 0 时叠加内存热层。
func openStore(cfg config.GlobalConfig) (cache.Store, error) {
	var (
		store cache.Store
		err   error
	)
	switch cfg.StorageDriver {
	case config.StorageDriverRedis:
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		store, err = cache.NewRedisStore(rdb, redisKeyPrefix)
	default:
		store, err = cache.NewStore(cfg.StoragePath)
	}
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}

	if cfg.MaxMemoryCache <= 0 {
		return store, nil
	}
	tiered, err := cache.NewMemoryTier(store, cache.MemoryOptions{
		MaxCost:      cfg.MaxMemoryCache,
		MaxEntrySize: cfg.MemoryEntryLimit,
	})
	if err != nil {
		if closer, ok := store.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, err
	}
	return tiered, nil
}
