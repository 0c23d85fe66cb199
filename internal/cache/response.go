package cache

import (
	"bytes"
	"io"
	"net/http"
)

// Response 是策略层流转的响应：既可能来自网络，也可能来自某个分区或为合成的离线响应。
type Response struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
	// Size 为正文长度，未知时为 -1。
	Size int64
	// FromCache/Partition 描述响应来源，供日志与 X-Shellcache-Cache-Hit 头使用。
	FromCache bool
	Partition string
}

// NewResponse 基于内存正文构造响应。
func NewResponse(status int, header http.Header, body []byte) *Response {
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		Status: status,
		Header: header,
		Body:   io.NopCloser(bytes.NewReader(body)),
		Size:   int64(len(body)),
	}
}

// OK 判断响应是否可以写入缓存。
func (r *Response) OK() bool {
	return r != nil && IsCacheableStatus(r.Status)
}

// Close 释放正文，nil 安全。
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// Buffer 读取完整正文并以内存 Reader 替换原 Body，返回正文字节。
func (r *Response) Buffer() ([]byte, error) {
	if r.Body == nil {
		r.Body = http.NoBody
		r.Size = 0
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	closeErr := r.Body.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		r.Body = io.NopCloser(bytes.NewReader(nil))
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	r.Size = int64(len(data))
	return data, nil
}

// Clone 缓冲正文后返回一份拥有独立 Reader 的副本，原响应仍可继续读取。
func (r *Response) Clone() (*Response, error) {
	data, err := r.Buffer()
	if err != nil {
		return nil, err
	}
	cloned := *r
	cloned.Header = r.Header.Clone()
	cloned.Body = io.NopCloser(bytes.NewReader(data))
	return &cloned, nil
}

// IsCacheableStatus 只接受完整成功的状态码；206 部分内容不可作为完整条目缓存。
func IsCacheableStatus(status int) bool {
	return status >= 200 && status < 300 && status != http.StatusPartialContent
}

// responseFromRead 将缓存读取结果包装为 Response。
func responseFromRead(result *ReadResult) *Response {
	header := result.Entry.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		Status:    result.Entry.Status,
		Header:    header,
		Body:      result.Reader,
		Size:      result.Entry.SizeBytes,
		FromCache: true,
		Partition: result.Entry.Locator.Partition,
	}
}

// nopSeekCloser 让内存正文满足 io.ReadSeekCloser。
type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }

func newMemoryReader(data []byte) io.ReadSeekCloser {
	return nopSeekCloser{bytes.NewReader(data)}
}
