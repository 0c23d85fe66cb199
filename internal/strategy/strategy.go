package strategy

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/private-chat/shellcache/internal/cache"
	"github.com/private-chat/shellcache/internal/lifecycle"
	"github.com/private-chat/shellcache/internal/upstream"
)

// 离线响应正文。
const (
	OfflineMessage      = "Offline"
	ModelOfflineMessage = "Offline and model not cached."
)

// Strategy 处理一个被拦截的请求，总是返回响应；离线时返回 503。
type Strategy interface {
	Handle(ctx context.Context, req *upstream.Request) *cache.Response
}

// Func adapts a function to the Strategy interface.
type Func func(ctx context.Context, req *upstream.Request) *cache.Response

// Handle makes Func satisfy Strategy.
func (f Func) Handle(ctx context.Context, req *upstream.Request) *cache.Response {
	return f(ctx, req)
}

// Partitions 提供当前版本分区的访问，lifecycle.Manager 实现该接口。
type Partitions interface {
	Open(ctx context.Context, role lifecycle.Role) (*cache.Partition, error)
	ScanOrder(ctx context.Context) ([]string, error)
	Store() cache.Store
}

// Deps 是构建策略所需的共享依赖。
type Deps struct {
	Fetcher    upstream.Fetcher
	Partitions Partitions
	Tasks      *Tasks
	Logger     *logrus.Logger
}

// Validate 检查必需依赖。
func (d Deps) Validate() error {
	if d.Fetcher == nil {
		return errors.New("strategy: fetcher is required")
	}
	if d.Partitions == nil {
		return errors.New("strategy: partitions are required")
	}
	if d.Tasks == nil {
		return errors.New("strategy: tasks are required")
	}
	return nil
}

// Log 返回带 action/strategy 字段的日志 entry；Logger 为空时丢弃输出。
func (d Deps) Log(key string, req *upstream.Request) *logrus.Entry {
	logger := d.Logger
	if logger == nil {
		logger = discardLogger
	}
	fields := logrus.Fields{"action": "strategy", "strategy": key}
	if req != nil {
		fields["key"] = req.Key()
	}
	return logger.WithFields(fields)
}

// Offline 构造 503 纯文本离线响应。
func Offline(message string) *cache.Response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Cache-Control", "no-store")
	return cache.NewResponse(http.StatusServiceUnavailable, header, []byte(message))
}

// Failure 构造 JSON 错误响应，用于策略内部故障。
func Failure(status int, code string) *cache.Response {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Cache-Control", "no-store")
	return cache.NewResponse(status, header, []byte(`{"error":"`+code+`"}`))
}
