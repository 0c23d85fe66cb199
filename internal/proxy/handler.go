package proxy

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/private-chat/shellcache/internal/cache"
	"github.com/private-chat/shellcache/internal/logging"
	"github.com/private-chat/shellcache/internal/router"
	"github.com/private-chat/shellcache/internal/server"
	"github.com/private-chat/shellcache/internal/upstream"
)

// 网关写给浏览器的诊断头。
const (
	HeaderClass     = "X-Shellcache-Class"
	HeaderStrategy  = "X-Shellcache-Strategy"
	HeaderCacheHit  = "X-Shellcache-Cache-Hit"
	HeaderPartition = "X-Shellcache-Partition"
)

// Interceptor 是拦截边界，*worker.Worker 满足该接口。
type Interceptor interface {
	Handle(ctx context.Context, req *upstream.Request) (*cache.Response, router.Outcome, bool)
}

// Handler 把 Fiber 请求交给拦截器；拦截器放行的请求直接回源透传。
type Handler struct {
	interceptor Interceptor
	network     upstream.Fetcher
	logger      *logrus.Logger
}

// NewHandler 构造代理 handler，network 用于透传未被拦截的请求。
func NewHandler(interceptor Interceptor, network upstream.Fetcher, logger *logrus.Logger) *Handler {
	return &Handler{
		interceptor: interceptor,
		network:     network,
		logger:      logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	req := buildRequest(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if resp, outcome, ok := h.interceptor.Handle(ctx, req); ok {
		copyResponseHeaders(c, resp.Header)
		outcomeHeaders(c, outcome)
		err := h.writeResponse(c, req, resp, requestID)
		h.logResult(req, outcome, true, requestID, resp.Status, started, err)
		return err
	}

	resp, err := h.network.Fetch(ctx, req)
	if err != nil {
		h.logResult(req, router.Outcome{}, false, requestID, fiber.StatusBadGateway, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed", requestID)
	}
	copyResponseHeaders(c, resp.Header)
	c.Set(HeaderCacheHit, "false")
	err = h.writeResponse(c, req, resp, requestID)
	h.logResult(req, router.Outcome{}, false, requestID, resp.Status, started, err)
	return err
}

func (h *Handler) writeResponse(c fiber.Ctx, req *upstream.Request, resp *cache.Response, requestID string) error {
	setRequestIDHeader(c, requestID)
	c.Status(resp.Status)

	if req.Method == http.MethodHead || resp.Body == nil {
		resp.Close()
		return nil
	}
	// fasthttp 在写完响应后关闭实现了 io.Closer 的正文。
	if resp.Size >= 0 {
		return c.SendStream(resp.Body, int(resp.Size))
	}
	return c.SendStream(resp.Body)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code, requestID string) error {
	setRequestIDHeader(c, requestID)
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	req *upstream.Request,
	outcome router.Outcome,
	intercepted bool,
	requestID string,
	status int,
	started time.Time,
	err error,
) {
	if h.logger == nil {
		return
	}
	var fields logrus.Fields
	if intercepted {
		fields = logging.RequestFields(outcome.Class.String(), outcome.Strategy, outcome.Partition, outcome.CacheHit)
	} else {
		fields = logging.RequestFields("", "passthrough", "", false)
	}
	fields["action"] = "proxy"
	fields["method"] = req.Method
	fields["path"] = req.Key()
	fields["status"] = status
	fields["intercepted"] = intercepted
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// buildRequest 将 Fiber 请求转换为拦截层使用的 upstream.Request。
func buildRequest(c fiber.Ctx) *upstream.Request {
	uri := c.Request().URI()
	target, err := url.ParseRequestURI(string(c.Request().RequestURI()))
	if err != nil || target.Path == "" {
		target = &url.URL{Path: requestPath(c), RawQuery: string(uri.QueryString())}
	}
	// 只保留站内部分，scheme/host 由回源客户端决定。
	target.Scheme = ""
	target.Host = ""
	target.User = nil

	req := &upstream.Request{
		Method: c.Method(),
		URL:    target,
		Mode:   c.Get("Sec-Fetch-Mode"),
		Header: fiberHeadersAsHTTP(c),
	}
	if body := c.Body(); len(body) > 0 {
		req.Body = bytes.NewReader(append([]byte(nil), body...))
	}
	return req
}

func requestPath(c fiber.Ctx) string {
	pathVal := string(c.Request().URI().Path())
	if pathVal == "" {
		return "/"
	}
	return pathVal
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// copyResponseHeaders 透传响应头；Content-Length 由 SendStream 根据实际正文重新设置。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if upstream.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == fiber.HeaderContentLength {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

// outcomeHeaders 写入分类、策略与命中头。
func outcomeHeaders(c fiber.Ctx, outcome router.Outcome) {
	c.Set(HeaderClass, outcome.Class.String())
	c.Set(HeaderStrategy, outcome.Strategy)
	c.Set(HeaderCacheHit, strconv.FormatBool(outcome.CacheHit))
	if outcome.Partition != "" {
		c.Set(HeaderPartition, outcome.Partition)
	}
}
