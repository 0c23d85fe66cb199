package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/private-chat/shellcache/internal/cache"
	"github.com/private-chat/shellcache/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// Client 将页面请求解析到源站并执行，是生产环境下的 Fetcher。
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient 根据 Upstream 与 UpstreamTimeout 构建客户端。
// 超时只作用于建连与等待响应头，正文传输不设上限，避免大模型文件下载被截断。
func NewClient(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	base, err := url.Parse(cfg.Cache.Upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("upstream must be absolute: %s", cfg.Cache.Upstream)
	}

	timeout := 30 * time.Second
	if d := cfg.Global.UpstreamTimeout.DurationValue(); d > 0 {
		timeout = d
	}
	transport := defaultTransport.Clone()
	transport.ResponseHeaderTimeout = timeout
	transport.DialContext = (&net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}).DialContext

	return &Client{
		base: base,
		http: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return errors.New("stopped after 10 redirects")
				}
				return nil
			},
		},
	}, nil
}

// Base 返回源站根地址。
func (c *Client) Base() *url.URL {
	copied := *c.base
	return &copied
}

// Resolve 将站内路径映射到源站，保留源站自身的路径前缀。
func (c *Client) Resolve(target *url.URL) *url.URL {
	resolved := *c.base
	path := "/"
	if target != nil && target.Path != "" {
		path = target.Path
	}
	resolved.Path = strings.TrimRight(c.base.Path, "/") + path
	resolved.RawPath = ""
	if target != nil {
		resolved.RawQuery = target.RawQuery
	}
	return &resolved
}

// Fetch 执行一次回源；非 2xx 状态同样作为响应返回。
func (c *Client) Fetch(ctx context.Context, req *Request) (*cache.Response, error) {
	if req == nil {
		return nil, errors.New("request is required")
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	body := req.Body
	if body == nil {
		body = http.NoBody
	}

	target := c.Resolve(req.URL)
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	CopyHeaders(httpReq.Header, req.Header)
	httpReq.Header.Del("Host")
	httpReq.Header.Del("Accept-Encoding")
	httpReq.Host = target.Host
	if req.NoCache {
		httpReq.Header.Set("Cache-Control", "no-cache")
		httpReq.Header.Set("Pragma", "no-cache")
		httpReq.Header.Del("If-None-Match")
		httpReq.Header.Del("If-Modified-Since")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	CopyHeaders(header, resp.Header)
	return &cache.Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   resp.Body,
		Size:   resp.ContentLength,
	}, nil
}

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

// CopyHeaders 将 src 中允许透传的头复制到 dst，自动忽略 hop-by-hop 字段。
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// IsHopByHopHeader reports whether the header should be stripped by proxies.
func IsHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}
