package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrStoreUnavailable 表示当前未注入缓存存储实例。
	ErrStoreUnavailable = errors.New("cache store unavailable")
	// ErrNotCacheable 表示响应状态不是完整成功，拒绝写入。
	ErrNotCacheable = errors.New("response not cacheable")
)

// Writer 是策略层唯一的写缓存入口：写入前校验状态码，错误/网络失败响应永不落盘。
type Writer struct {
	store Store
	now   func() time.Time
}

// NewWriter 构造写入器，默认使用 time.Now 作为时钟。
func NewWriter(store Store) Writer {
	return Writer{
		store: store,
		now:   time.Now,
	}
}

// Enabled 返回当前是否具备缓存写入能力。
func (w Writer) Enabled() bool {
	return w.store != nil
}

// Put 将响应写入 partition 下的 key，消耗 resp.Body。
// 状态码不可缓存时返回 ErrNotCacheable，且不会读取正文。
func (w Writer) Put(ctx context.Context, partition, key string, resp *Response) (*Entry, error) {
	if w.store == nil {
		return nil, ErrStoreUnavailable
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: nil response", ErrNotCacheable)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: status %d", ErrNotCacheable, resp.Status)
	}
	body := resp.Body
	if body == nil {
		body = http.NoBody
	}
	defer body.Close()

	return w.store.Put(ctx, Locator{Partition: partition, Key: key}, body, PutOptions{
		Status:  resp.Status,
		Header:  storableHeader(resp.Header),
		ModTime: w.now().UTC(),
	})
}

// storableHeader 去掉与单次传输绑定、不应随缓存条目重放的头部。
func storableHeader(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		return http.Header{}
	}
	for _, key := range []string{"Set-Cookie", "Content-Length", "Date", "X-Request-Id"} {
		dst.Del(key)
	}
	return dst
}
