package cache

import (
	"context"
	"errors"
)

// Partition 是一个已打开的分区句柄，Precache Loader 与各策略通过它读写条目。
type Partition struct {
	name   string
	store  Store
	writer Writer
}

// Open 打开（必要时创建）指定分区并返回句柄，重复调用安全。
func Open(ctx context.Context, store Store, name string) (*Partition, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}
	if err := store.Provision(ctx, name); err != nil {
		return nil, err
	}
	return &Partition{name: name, store: store, writer: NewWriter(store)}, nil
}

// Name 返回分区名，例如 app-shell-v2。
func (p *Partition) Name() string {
	return p.name
}

// Match 查找 key 对应的缓存响应，未命中返回 ErrNotFound。
func (p *Partition) Match(ctx context.Context, key string) (*Response, error) {
	return Match(ctx, p.store, p.name, key)
}

// Put 写入 key，仅接受可缓存状态码。
func (p *Partition) Put(ctx context.Context, key string, resp *Response) (*Entry, error) {
	return p.writer.Put(ctx, p.name, key, resp)
}

// Delete 删除 key 对应的条目，返回条目此前是否存在。
func (p *Partition) Delete(ctx context.Context, key string) (bool, error) {
	return p.store.Delete(ctx, Locator{Partition: p.name, Key: key})
}

// Match 在 store 的指定分区中查找 key，未命中返回 ErrNotFound。
func Match(ctx context.Context, store Store, partition, key string) (*Response, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}
	result, err := store.Get(ctx, Locator{Partition: partition, Key: key})
	if err != nil {
		if errors.Is(err, ErrInvalidPartition) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return responseFromRead(result), nil
}
