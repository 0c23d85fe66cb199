package upstream

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/private-chat/shellcache/internal/cache"
)

// ModeNavigate 是顶层页面导航请求的 Sec-Fetch-Mode 取值。
const ModeNavigate = "navigate"

// Request 是被拦截的一次页面请求。URL 只需要携带 path 与 query，
// scheme/host 缺省时视为站内请求。
type Request struct {
	Method string
	URL    *url.URL
	// Mode 对应 Sec-Fetch-Mode，例如 navigate、cors、no-cors。
	Mode   string
	Header http.Header
	Body   io.Reader
	// NoCache 要求回源时绕过中间缓存。
	NoCache bool
}

// NewRequest 构造一个站内 GET 请求，rawPath 可以包含查询串。
func NewRequest(rawPath string) (*Request, error) {
	parsed, err := url.Parse(rawPath)
	if err != nil {
		return nil, err
	}
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	return &Request{Method: http.MethodGet, URL: parsed, Header: http.Header{}}, nil
}

// MustRequest 与 NewRequest 相同，解析失败时 panic，仅用于常量路径。
func MustRequest(rawPath string) *Request {
	req, err := NewRequest(rawPath)
	if err != nil {
		panic(err)
	}
	return req
}

// Key 返回缓存条目键：path，若存在查询串则追加 ?query。
func (r *Request) Key() string {
	if r == nil || r.URL == nil {
		return "/"
	}
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		return path + "?" + r.URL.RawQuery
	}
	return path
}

// Path 返回未转义的请求路径。
func (r *Request) Path() string {
	if r == nil || r.URL == nil || r.URL.Path == "" {
		return "/"
	}
	return r.URL.Path
}

// IsNavigation 判断是否为顶层导航。
func (r *Request) IsNavigation() bool {
	return r != nil && strings.EqualFold(r.Mode, ModeNavigate)
}

// WithPath 返回指向同站另一路径的 GET 副本，头部沿用原请求。
func (r *Request) WithPath(rawPath string) (*Request, error) {
	next, err := NewRequest(rawPath)
	if err != nil {
		return nil, err
	}
	if r != nil && r.Header != nil {
		next.Header = r.Header.Clone()
	}
	return next, nil
}

// Fetcher 表示"网络"：返回任意 HTTP 状态都算响应，只有传输失败才返回 error。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*cache.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request) (*cache.Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*cache.Response, error) {
	return f(ctx, req)
}
