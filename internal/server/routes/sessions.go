package routes

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/private-chat/shellcache/internal/server"
	"github.com/private-chat/shellcache/internal/session"
)

// RegisterSessionRoutes 暴露 /-/sessions/:domain 会话读写接口。
func RegisterSessionRoutes(app *fiber.App, store session.Store, logger *logrus.Logger) {
	if app == nil || store == nil {
		return
	}
	h := &sessionHandler{store: store, logger: logger, now: time.Now}

	app.Get("/-/sessions/:domain", h.list)
	app.Put("/-/sessions/:domain", h.replace)
	app.Post("/-/sessions/:domain", h.upsert)
	app.Delete("/-/sessions/:domain/:id", h.remove)
}

type sessionHandler struct {
	store  session.Store
	logger *logrus.Logger
	now    func() time.Time
}

// upsertRequest 中 ID 为空时新建会话。
type upsertRequest struct {
	ID       string            `json:"id"`
	Messages []session.Message `json:"messages"`
}

func (h *sessionHandler) list(c fiber.Ctx) error {
	domain := session.NormalizeDomain(c.Params("domain"))
	sessions, err := h.store.LoadAll(c.Context(), domain)
	if err != nil {
		return h.fail(c, domain, "session_load_failed", err)
	}
	return c.JSON(sessions)
}

func (h *sessionHandler) replace(c fiber.Ctx) error {
	domain := session.NormalizeDomain(c.Params("domain"))
	var sessions session.Sessions
	if err := json.Unmarshal(c.Body(), &sessions); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_sessions"})
	}
	for id, item := range sessions {
		if item.ID == "" {
			item.ID = id
			sessions[id] = item
		}
	}
	if err := h.store.SaveAll(c.Context(), domain, sessions); err != nil {
		return h.fail(c, domain, "session_save_failed", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *sessionHandler) upsert(c fiber.Ctx) error {
	domain := session.NormalizeDomain(c.Params("domain"))
	var payload upsertRequest
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_session"})
	}

	now := h.now()
	status := fiber.StatusOK
	var current session.Session
	if id := strings.TrimSpace(payload.ID); id != "" {
		existing, err := h.store.LoadAll(c.Context(), domain)
		if err != nil {
			return h.fail(c, domain, "session_load_failed", err)
		}
		found, ok := existing[id]
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session_not_found"})
		}
		current = found
	} else {
		current = session.Create(now)
		status = fiber.StatusCreated
	}

	current = session.Update(current, payload.Messages, now)
	if err := h.store.Put(c.Context(), domain, current); err != nil {
		return h.fail(c, domain, "session_save_failed", err)
	}
	return c.Status(status).JSON(current)
}

func (h *sessionHandler) remove(c fiber.Ctx) error {
	domain := session.NormalizeDomain(c.Params("domain"))
	removed, err := h.store.Remove(c.Context(), domain, c.Params("id"))
	if err != nil {
		return h.fail(c, domain, "session_delete_failed", err)
	}
	if !removed {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session_not_found"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *sessionHandler) fail(c fiber.Ctx, domain, code string, err error) error {
	if h.logger != nil {
		h.logger.WithFields(logrus.Fields{
			"action":     "sessions",
			"domain":     domain,
			"error":      code,
			"request_id": server.RequestID(c),
		}).WithError(err).Error("session store failed")
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": code})
}
