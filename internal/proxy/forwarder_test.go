package proxy

import (
	"bytes"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/private-chat/shellcache/internal/server"
)

func TestForwarderMissingHandler(t *testing.T) {
	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	app := newProxyApp(t, NewForwarder(nil, logger))
	resp, err := app.Test(httptest.NewRequest("GET", "http://chat.local/index.html", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 for missing handler, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "proxy_handler_missing") {
		t.Fatalf("expected error body to mention proxy_handler_missing, got %s", body)
	}
	if !strings.Contains(logBuf.String(), "proxy_handler_missing") {
		t.Fatalf("expected log to mention proxy_handler_missing, got %s", logBuf.String())
	}
}

func TestForwarderHandlerPanic(t *testing.T) {
	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	panicking := server.ProxyHandlerFunc(func(fiber.Ctx) error {
		panic("boom")
	})
	app := newProxyApp(t, NewForwarder(panicking, logger))

	resp, err := app.Test(httptest.NewRequest("GET", "http://chat.local/index.html", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 for panic, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "proxy_handler_panic") {
		t.Fatalf("expected error body to mention proxy_handler_panic, got %s", body)
	}
	reqID := resp.Header.Get("X-Request-ID")
	if reqID == "" {
		t.Fatalf("expected request id header")
	}
	logs := logBuf.String()
	if !strings.Contains(logs, "panic: boom") || !strings.Contains(logs, reqID) {
		t.Fatalf("expected log to include panic and request id, got %s", logs)
	}
}

func TestForwarderDelegates(t *testing.T) {
	called := false
	next := server.ProxyHandlerFunc(func(c fiber.Ctx) error {
		called = true
		return c.SendString("ok")
	})
	app := newProxyApp(t, NewForwarder(next, logrus.New()))
	resp, err := app.Test(httptest.NewRequest("GET", "http://chat.local/", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if !called || resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected delegation, called=%v status=%d", called, resp.StatusCode)
	}
}
