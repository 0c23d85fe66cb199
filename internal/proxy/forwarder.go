package proxy

import (
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/private-chat/shellcache/internal/server"
)

// Forwarder 包裹 ProxyHandler：handler 缺失或 panic 时返回 500 JSON，而不是断开连接。
type Forwarder struct {
	next   server.ProxyHandler
	logger *logrus.Logger
}

// NewForwarder 创建 Forwarder。
func NewForwarder(next server.ProxyHandler, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		next:   next,
		logger: logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (f *Forwarder) Handle(c fiber.Ctx) error {
	requestID := server.RequestID(c)
	if f.next == nil {
		return f.respondFailure(c, "proxy_handler_missing", nil, requestID)
	}
	return f.invokeHandler(c, requestID)
}

func (f *Forwarder) invokeHandler(c fiber.Ctx, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = f.respondFailure(c, "proxy_handler_panic", fmt.Errorf("panic: %v", r), requestID)
		}
	}()
	return f.next.Handle(c)
}

func (f *Forwarder) respondFailure(c fiber.Ctx, code string, err error, requestID string) error {
	f.logFailure(c, code, err, requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": code})
}

func (f *Forwarder) logFailure(c fiber.Ctx, code string, err error, requestID string) {
	if f.logger == nil {
		return
	}
	fields := logrus.Fields{
		"action": "proxy",
		"error":  code,
		"path":   requestPath(c),
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("proxy handler unavailable")
}
