package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// Store 负责管理分区化的响应缓存。磁盘布局遵循：
//
//	<StoragePath>/<Partition>/<sha1[:2]>/<sha1>.entry
//
// 每个 .entry 文件依次为正文、CBOR 元数据（状态码/头部/正文长度）与 4 字节大端元数据长度，
// 元数据与正文通过一次 rename 同时生效。
//
// 分区在首次 Provision 或首次写入时隐式创建，仅在 DropPartition 时整体销毁。
type Store interface {
	// Get 返回一个可流式读取的缓存条目。分区或条目不存在时返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 将响应正文写入缓存并产出新的 Entry 描述，同一 Locator 并发写入时后写者生效。
	// 实现需保证写入原子性，并在失败时清理临时数据。
	Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error)

	// Delete 删除单个条目，返回条目此前是否存在。
	Delete(ctx context.Context, locator Locator) (bool, error)

	// Provision 打开（必要时创建）指定分区，重复调用安全。
	Provision(ctx context.Context, partition string) error

	// Partitions 以稳定顺序列出现存的全部分区名。
	Partitions(ctx context.Context) ([]string, error)

	// DropPartition 删除整个分区，返回分区此前是否存在。
	DropPartition(ctx context.Context, partition string) (bool, error)
}

// PutOptions 携带随正文一起持久化的响应元数据。
type PutOptions struct {
	Status  int
	Header  http.Header
	ModTime time.Time
}

// Locator 唯一定位一个缓存条目（分区 + 请求键），Key 为 URL 路径加查询串。
type Locator struct {
	Partition string
	Key       string
}

// Entry 表示一次缓存命中结果的元数据。
type Entry struct {
	Locator   Locator     `json:"locator"`
	Status    int         `json:"status"`
	Header    http.Header `json:"header"`
	SizeBytes int64       `json:"size_bytes"`
	ModTime   time.Time   `json:"mod_time"`
}

// ReadResult 组合 Entry 与正文 Reader，便于代理层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

var (
	// ErrNotFound 表示分区或条目不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidPartition 表示分区名不合法（为空或包含路径分隔符）。
	ErrInvalidPartition = errors.New("invalid partition name")
)
