package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/dgraph-io/ristretto"
)

// MemoryOptions 控制内存热层容量。
type MemoryOptions struct {
	// MaxCost 为内存层总字节预算。
	MaxCost int64
	// MaxEntrySize 以上的条目（例如模型文件）永远只走下层存储。
	MaxEntrySize int64
}

// memoryTier 是包裹任意 Store 的只读穿透层：Get 未命中时从下层读取并回填，
// Put 直接写下层并失效对应键。分区代数写入键中，DropPartition 后旧条目立即不可达。
// writes 在每次写入或删除后递增；回填前若 writes 已变化则放弃回填，避免旧正文覆盖新写入。
type memoryTier struct {
	next     Store
	cache    *ristretto.Cache
	maxEntry int64

	mu     sync.RWMutex
	gens   map[string]uint64
	writes uint64
}

type memoryEntry struct {
	entry Entry
	body  []byte
}

// NewMemoryTier 在 next 之上叠加 ristretto 内存层。
func NewMemoryTier(next Store, opts MemoryOptions) (Store, error) {
	if next == nil {
		return nil, ErrStoreUnavailable
	}
	if opts.MaxCost <= 0 {
		return nil, errors.New("memory tier: max cost must be positive")
	}
	if opts.MaxEntrySize <= 0 || opts.MaxEntrySize > opts.MaxCost {
		opts.MaxEntrySize = opts.MaxCost
	}
	// ristretto 建议计数器数量约为可容纳条目数的 10 倍，这里按 4KiB 平均条目估算。
	counters := opts.MaxCost / 4096 * 10
	if counters < 1000 {
		counters = 1000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: counters,
		MaxCost:     opts.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("memory tier: %w", err)
	}
	return &memoryTier{
		next:     next,
		cache:    c,
		maxEntry: opts.MaxEntrySize,
		gens:     make(map[string]uint64),
	}, nil
}

func (t *memoryTier) Get(ctx context.Context, locator Locator) (*ReadResult, error) {
	key := t.key(locator)
	if value, ok := t.cache.Get(key); ok {
		if hit, ok := value.(*memoryEntry); ok {
			return &ReadResult{Entry: hit.entry, Reader: newMemoryReader(hit.body)}, nil
		}
		t.cache.Del(key)
	}

	seq := t.writeSeq()
	result, err := t.next.Get(ctx, locator)
	if err != nil {
		return nil, err
	}
	if result.Entry.SizeBytes > t.maxEntry {
		return result, nil
	}

	body, err := io.ReadAll(result.Reader)
	result.Reader.Close()
	if err != nil {
		return nil, err
	}
	hit := &memoryEntry{entry: result.Entry, body: body}
	t.fill(key, seq, hit)
	return &ReadResult{Entry: hit.entry, Reader: newMemoryReader(body)}, nil
}

func (t *memoryTier) Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error) {
	entry, err := t.next.Put(ctx, locator, body, opts)
	t.invalidate(locator)
	return entry, err
}

func (t *memoryTier) Delete(ctx context.Context, locator Locator) (bool, error) {
	removed, err := t.next.Delete(ctx, locator)
	t.invalidate(locator)
	return removed, err
}

func (t *memoryTier) Provision(ctx context.Context, partition string) error {
	return t.next.Provision(ctx, partition)
}

func (t *memoryTier) Partitions(ctx context.Context) ([]string, error) {
	return t.next.Partitions(ctx)
}

func (t *memoryTier) DropPartition(ctx context.Context, partition string) (bool, error) {
	t.mu.Lock()
	t.gens[partition]++
	t.mu.Unlock()
	return t.next.DropPartition(ctx, partition)
}

// Close 释放 ristretto 的后台 goroutine。
func (t *memoryTier) Close() error {
	t.cache.Close()
	if closer, ok := t.next.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// wait 阻塞直到 ristretto 的写缓冲全部生效，仅供测试使用。
func (t *memoryTier) wait() {
	t.cache.Wait()
}

func (t *memoryTier) writeSeq() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.writes
}

// fill 仅在读取期间没有发生写入时回填；与 invalidate 共用互斥锁，
// 因此回填要么先于失效（随后被删除），要么因序号变化被跳过。
func (t *memoryTier) fill(key string, seq uint64, hit *memoryEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writes != seq {
		return
	}
	t.cache.Set(key, hit, int64(len(hit.body))+1)
}

func (t *memoryTier) invalidate(locator Locator) {
	key := t.key(locator)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes++
	t.cache.Del(key)
}

func (t *memoryTier) key(locator Locator) string {
	t.mu.RLock()
	gen := t.gens[locator.Partition]
	t.mu.RUnlock()
	return locator.Partition + "#" + strconv.FormatUint(gen, 10) + "::" + locator.Key
}
