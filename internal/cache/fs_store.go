package cache

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const (
	entrySuffix = ".entry"
	// trailerSize 是记录末尾元数据长度字段的字节数。
	trailerSize = 4
)

// errCorruptEntry 表示 .entry 文件的尾部长度或正文长度与元数据不一致。
var errCorruptEntry = errors.New("corrupt cache entry")

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一 Locator 并发写入交错，同时复用 basePath。
// 每个条目是单个文件：正文 | CBOR 元数据 | 元数据长度（uint32 大端），
// 读者看到的要么是完整的旧记录，要么是完整的新记录。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// entryMeta 是记录尾部的 CBOR 结构，BodySize 用于读取时校验记录完整。
type entryMeta struct {
	Key      string              `cbor:"key"`
	Status   int                 `cbor:"status"`
	Header   map[string][]string `cbor:"header,omitempty"`
	StoredAt time.Time           `cbor:"stored_at"`
	BodySize int64               `cbor:"body_size"`
}

var metaEncMode = mustMetaEncMode()

func mustMetaEncMode() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

// entryReader 只暴露记录中的正文区段，Close 时关闭底层文件。
type entryReader struct {
	*io.SectionReader
	file *os.File
}

func (r *entryReader) Close() error {
	return r.file.Close()
}

func (s *fileStore) Get(ctx context.Context, locator Locator) (*ReadResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	path, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	meta, err := readEntryMeta(f)
	if err != nil {
		f.Close()
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if meta.Key != locator.Key {
		// sha1 碰撞或手工篡改，按未命中处理
		f.Close()
		return nil, ErrNotFound
	}

	entry := Entry{
		Locator:   locator,
		Status:    meta.Status,
		Header:    http.Header(meta.Header),
		SizeBytes: meta.BodySize,
		ModTime:   meta.StoredAt,
	}
	reader := &entryReader{SectionReader: io.NewSectionReader(f, 0, meta.BodySize), file: f}
	return &ReadResult{Entry: entry, Reader: reader}, nil
}

// readEntryMeta 从记录尾部解析元数据，并确认正文长度与元数据一致。
func readEntryMeta(f *os.File) (entryMeta, error) {
	var meta entryMeta
	info, err := f.Stat()
	if err != nil {
		return meta, err
	}
	if info.IsDir() {
		return meta, ErrNotFound
	}
	size := info.Size()
	if size < trailerSize {
		return meta, errCorruptEntry
	}
	var trailer [trailerSize]byte
	if _, err := f.ReadAt(trailer[:], size-trailerSize); err != nil {
		return meta, err
	}
	metaLen := int64(binary.BigEndian.Uint32(trailer[:]))
	bodySize := size - trailerSize - metaLen
	if metaLen == 0 || bodySize < 0 {
		return meta, errCorruptEntry
	}
	raw := make([]byte, metaLen)
	if _, err := f.ReadAt(raw, bodySize); err != nil {
		return meta, err
	}
	if err := cbor.Unmarshal(raw, &meta); err != nil {
		return meta, fmt.Errorf("decode cache metadata: %w", err)
	}
	if meta.BodySize != bodySize {
		return meta, errCorruptEntry
	}
	return meta, nil
}

func (s *fileStore) Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error) {
	unlock, err := s.lockEntry(locator)
	if err != nil {
		return nil, err
	}
	defer unlock()

	path, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	written, err := writeAtomic(filepath.Dir(path), path, func(w io.Writer) (int64, error) {
		n, err := copyWithContext(ctx, w, body)
		if err != nil {
			return n, err
		}
		encoded, err := metaEncMode.Marshal(entryMeta{
			Key:      locator.Key,
			Status:   opts.Status,
			Header:   map[string][]string(opts.Header.Clone()),
			StoredAt: modTime,
			BodySize: n,
		})
		if err != nil {
			return n, fmt.Errorf("encode cache metadata: %w", err)
		}
		var trailer [trailerSize]byte
		binary.BigEndian.PutUint32(trailer[:], uint32(len(encoded)))
		if _, err := w.Write(encoded); err != nil {
			return n, err
		}
		if _, err := w.Write(trailer[:]); err != nil {
			return n, err
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}

	entry := Entry{
		Locator:   locator,
		Status:    opts.Status,
		Header:    opts.Header.Clone(),
		SizeBytes: written,
		ModTime:   modTime,
	}
	return &entry, nil
}

func (s *fileStore) Delete(ctx context.Context, locator Locator) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	unlock, err := s.lockEntry(locator)
	if err != nil {
		return false, err
	}
	defer unlock()

	path, err := s.entryPath(locator)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *fileStore) Provision(ctx context.Context, partition string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.partitionDir(partition)
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *fileStore) Partitions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		if !item.IsDir() || strings.HasPrefix(item.Name(), ".") {
			continue
		}
		names = append(names, item.Name())
	}
	return names, nil
}

func (s *fileStore) DropPartition(ctx context.Context, partition string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := s.partitionDir(partition)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fileStore) lockEntry(locator Locator) (func(), error) {
	key := locatorKey(locator)
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}, nil
}

func (s *fileStore) partitionDir(partition string) (string, error) {
	if err := validatePartition(partition); err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, partition), nil
}

// entryPath 以 Key 的 sha1 作为文件名，避免 /a 与 /a/b 这类路径在磁盘上互相冲突。
func (s *fileStore) entryPath(locator Locator) (string, error) {
	dir, err := s.partitionDir(locator.Partition)
	if err != nil {
		return "", err
	}
	if locator.Key == "" {
		return "", errors.New("cache key required")
	}
	sum := sha1.Sum([]byte(locator.Key))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(dir, name[:2], name+entrySuffix), nil
}

func validatePartition(name string) error {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidPartition, name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidPartition, name)
	}
	return nil
}

// writeAtomic 先写入同目录临时文件再 rename，失败时清理临时文件。
func writeAtomic(dir, target string, fill func(io.Writer) (int64, error)) (int64, error) {
	tempFile, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return 0, err
	}
	tempName := tempFile.Name()

	written, err := fill(tempFile)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return 0, err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return 0, err
	}
	return written, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

func locatorKey(locator Locator) string {
	return locator.Partition + "::" + locator.Key
}
