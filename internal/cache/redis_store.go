package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrNilRedisClient 表示未注入 Redis 客户端。
var ErrNilRedisClient = errors.New("redis store: nil client")

// redisStore 将分区登记在有序集合 <prefix>:partitions 中（score 为创建时间，
// 因而 Partitions 返回创建顺序），每个分区的条目保存在哈希 <prefix>:p:<name>。
type redisStore struct {
	rdb    goredis.UniversalClient
	prefix string
	now    func() time.Time
}

type redisRecord struct {
	Status   int                 `msgpack:"s"`
	Header   map[string][]string `msgpack:"h,omitempty"`
	Body     []byte              `msgpack:"b"`
	StoredAt time.Time           `msgpack:"t"`
}

// NewRedisStore 基于已有客户端构建 Redis 分区存储，prefix 为空时使用 shellcache。
func NewRedisStore(rdb goredis.UniversalClient, prefix string) (Store, error) {
	if rdb == nil {
		return nil, ErrNilRedisClient
	}
	if prefix == "" {
		prefix = "shellcache"
	}
	return &redisStore{rdb: rdb, prefix: prefix, now: time.Now}, nil
}

func (s *redisStore) Get(ctx context.Context, locator Locator) (*ReadResult, error) {
	if err := validatePartition(locator.Partition); err != nil {
		return nil, err
	}
	raw, err := s.rdb.HGet(ctx, s.partitionKey(locator.Partition), locator.Key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var record redisRecord
	if err := msgpack.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode redis cache record: %w", err)
	}
	entry := Entry{
		Locator:   locator,
		Status:    record.Status,
		Header:    http.Header(record.Header),
		SizeBytes: int64(len(record.Body)),
		ModTime:   record.StoredAt,
	}
	return &ReadResult{Entry: entry, Reader: newMemoryReader(record.Body)}, nil
}

func (s *redisStore) Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error) {
	if err := validatePartition(locator.Partition); err != nil {
		return nil, err
	}
	if locator.Key == "" {
		return nil, errors.New("cache key required")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = s.now().UTC()
	}
	encoded, err := msgpack.Marshal(redisRecord{
		Status:   opts.Status,
		Header:   map[string][]string(opts.Header.Clone()),
		Body:     data,
		StoredAt: modTime,
	})
	if err != nil {
		return nil, fmt.Errorf("encode redis cache record: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAddNX(ctx, s.registryKey(), goredis.Z{Score: float64(s.now().UnixNano()), Member: locator.Partition})
		pipe.HSet(ctx, s.partitionKey(locator.Partition), locator.Key, encoded)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Entry{
		Locator:   locator,
		Status:    opts.Status,
		Header:    opts.Header.Clone(),
		SizeBytes: int64(len(data)),
		ModTime:   modTime,
	}, nil
}

func (s *redisStore) Delete(ctx context.Context, locator Locator) (bool, error) {
	if err := validatePartition(locator.Partition); err != nil {
		return false, err
	}
	removed, err := s.rdb.HDel(ctx, s.partitionKey(locator.Partition), locator.Key).Result()
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

func (s *redisStore) Provision(ctx context.Context, partition string) error {
	if err := validatePartition(partition); err != nil {
		return err
	}
	return s.rdb.ZAddNX(ctx, s.registryKey(), goredis.Z{
		Score:  float64(s.now().UnixNano()),
		Member: partition,
	}).Err()
}

func (s *redisStore) Partitions(ctx context.Context) ([]string, error) {
	return s.rdb.ZRange(ctx, s.registryKey(), 0, -1).Result()
}

func (s *redisStore) DropPartition(ctx context.Context, partition string) (bool, error) {
	if err := validatePartition(partition); err != nil {
		return false, err
	}
	var removed *goredis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		removed = pipe.ZRem(ctx, s.registryKey(), partition)
		pipe.Del(ctx, s.partitionKey(partition))
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed.Val() > 0, nil
}

// Close 关闭底层客户端；Store 独占客户端时由调用方通过 io.Closer 调用。
func (s *redisStore) Close() error {
	if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}

func (s *redisStore) registryKey() string {
	return s.prefix + ":partitions"
}

func (s *redisStore) partitionKey(partition string) string {
	return s.prefix + ":p:" + partition
}
