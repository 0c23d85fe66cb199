package precache

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/private-chat/shellcache/internal/cache"
	"github.com/private-chat/shellcache/internal/config"
	"github.com/private-chat/shellcache/internal/upstream"
)

// fetchConcurrency 限制批量预取时并发的回源数。
const fetchConcurrency = 6

// ErrNoManifest 表示所有候选清单都不可用。
var ErrNoManifest = errors.New("no build manifest available")

// Loader 负责 install 阶段的预缓存。
type Loader struct {
	fetcher   upstream.Fetcher
	core      []string
	manifests []string
	logger    *logrus.Logger
}

// NewLoader 使用配置中的核心资源与清单候选创建 Loader。
func NewLoader(fetcher upstream.Fetcher, cfg config.CacheConfig, logger *logrus.Logger) *Loader {
	return &Loader{
		fetcher:   fetcher,
		core:      append([]string(nil), cfg.CoreAssets...),
		manifests: append([]string(nil), cfg.ManifestURLs...),
		logger:    logger,
	}
}

// Warm 先写入核心资源（失败即返回 error），再尽力写入清单列出的文件。
func (l *Loader) Warm(ctx context.Context, partition *cache.Partition) error {
	if err := l.AddAll(ctx, partition, l.core); err != nil {
		return fmt.Errorf("precache core assets: %w", err)
	}
	l.logInfo(partition, "core", len(l.core), "core assets cached")

	files, source, err := l.manifestFiles(ctx)
	if err != nil {
		l.logWarn(partition, "manifest", err, "manifest unavailable")
		return nil
	}
	if len(files) == 0 {
		l.logInfo(partition, source, 0, "manifest lists no files")
		return nil
	}
	if err := l.AddAll(ctx, partition, files); err != nil {
		l.logWarn(partition, source, err, "manifest files not cached")
		return nil
	}
	if l.logger != nil {
		l.logger.WithFields(logrus.Fields{
			"action":    "precache",
			"partition": partition.Name(),
			"source":    source,
			"files":     files,
		}).Info("manifest files cached")
	}
	return nil
}

// AddAll 全有或全无地写入一组路径：先全部回源成功，再统一写入分区；
// 写入中途失败时删除本次已写入的条目。
func (l *Loader) AddAll(ctx context.Context, partition *cache.Partition, paths []string) error {
	if partition == nil {
		return cache.ErrStoreUnavailable
	}
	responses := make([]*cache.Response, len(paths))
	defer func() {
		for _, resp := range responses {
			resp.Close()
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(fetchConcurrency)
	for i, path := range paths {
		i, path := i, path
		group.Go(func() error {
			req, err := upstream.NewRequest(path)
			if err != nil {
				return err
			}
			resp, err := l.fetcher.Fetch(groupCtx, req)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", path, err)
			}
			if !resp.OK() {
				resp.Close()
				return fmt.Errorf("fetch %s: status %d", path, resp.Status)
			}
			if _, err := resp.Buffer(); err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	written := make([]string, 0, len(paths))
	for i, path := range paths {
		req, _ := upstream.NewRequest(path)
		if _, err := partition.Put(ctx, req.Key(), responses[i]); err != nil {
			storeErr := fmt.Errorf("store %s: %w", path, err)
			return errors.Join(storeErr, rollback(ctx, partition, written))
		}
		written = append(written, req.Key())
	}
	return nil
}

// rollback 删除 keys；调用方的 ctx 可能已取消，删除不受其影响。
func rollback(ctx context.Context, partition *cache.Partition, keys []string) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for _, key := range keys {
		if _, err := partition.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("rollback %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// manifestFiles 依次尝试候选清单，第一个能成功解析的生效；返回文件列表与其来源。
func (l *Loader) manifestFiles(ctx context.Context) ([]string, string, error) {
	var errs []error
	for _, candidate := range l.manifests {
		req, err := upstream.NewRequest(candidate)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		req.NoCache = true
		resp, err := l.fetcher.Fetch(ctx, req)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", candidate, err))
			continue
		}
		if !resp.OK() {
			resp.Close()
			errs = append(errs, fmt.Errorf("%s: status %d", candidate, resp.Status))
			continue
		}
		raw, err := resp.Buffer()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", candidate, err))
			continue
		}
		files, err := ManifestFiles(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", candidate, err))
			continue
		}
		return files, candidate, nil
	}
	errs = append(errs, ErrNoManifest)
	return nil, "", errors.Join(errs...)
}

func (l *Loader) logInfo(partition *cache.Partition, source string, count int, msg string) {
	if l.logger == nil {
		return
	}
	l.logger.WithFields(logrus.Fields{
		"action":    "precache",
		"partition": partition.Name(),
		"source":    source,
		"count":     count,
	}).Info(msg)
}

func (l *Loader) logWarn(partition *cache.Partition, source string, err error, msg string) {
	if l.logger == nil {
		return
	}
	l.logger.WithFields(logrus.Fields{
		"action":    "precache",
		"partition": partition.Name(),
		"source":    source,
	}).WithError(err).Warn(msg)
}
