package routes

import (
	"sort"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/private-chat/shellcache/internal/strategy"
	"github.com/private-chat/shellcache/internal/version"
	"github.com/private-chat/shellcache/internal/worker"
)

// RegisterDiagnosticsRoutes 暴露 /-/status、/-/strategies 与 /-/partitions 诊断接口。
func RegisterDiagnosticsRoutes(app *fiber.App, w *worker.Worker) {
	if app == nil || w == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(encodeStatus(w))
	})

	app.Get("/-/strategies", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"strategies": encodeDescriptors(strategy.List()),
			"bindings":   encodeBindings(w),
		})
	})

	app.Get("/-/partitions", func(c fiber.Ctx) error {
		manager := w.Manager()
		names, err := manager.Store().Partitions(c.Context())
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "partitions_unavailable"})
		}
		order, err := manager.ScanOrder(c.Context())
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "partitions_unavailable"})
		}
		current := manager.Names()
		items := make([]partitionPayload, 0, len(names))
		for _, name := range names {
			items = append(items, partitionPayload{Name: name, Current: current.IsCurrent(name)})
		}
		return c.JSON(fiber.Map{
			"partitions": items,
			"scan_order": order,
		})
	})
}

type statusPayload struct {
	Version     string            `json:"version"`
	CacheTag    string            `json:"cache_tag"`
	State       string            `json:"state"`
	Claimed     bool              `json:"claimed"`
	ActivatedAt *time.Time        `json:"activated_at,omitempty"`
	Partitions  map[string]string `json:"partitions"`
	Merged      bool              `json:"merged_runtime"`
	LastSweep   sweepPayload      `json:"last_sweep"`
}

type sweepPayload struct {
	Kept    []string          `json:"kept"`
	Deleted []string          `json:"deleted"`
	Failed  map[string]string `json:"failed,omitempty"`
}

type descriptorPayload struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	Role        string `json:"role,omitempty"`
	Revalidates bool   `json:"revalidates"`
}

type bindingPayload struct {
	Class      string `json:"class"`
	Strategy   string `json:"strategy"`
	Overridden bool   `json:"overridden"`
}

type partitionPayload struct {
	Name    string `json:"name"`
	Current bool   `json:"current"`
}

func encodeStatus(w *worker.Worker) statusPayload {
	manager := w.Manager()
	names := manager.Names()
	payload := statusPayload{
		Version:  version.Full(),
		CacheTag: version.CacheTag(),
		State:    w.State().String(),
		Claimed:  manager.Claimed(),
		Partitions: map[string]string{
			"shell":   names.Shell(),
			"runtime": names.Runtime(),
			"model":   names.Model(),
		},
		Merged:    names.Merged(),
		LastSweep: encodeSweep(w),
	}
	if at := w.ActivatedAt(); !at.IsZero() {
		payload.ActivatedAt = &at
	}
	return payload
}

func encodeSweep(w *worker.Worker) sweepPayload {
	report := w.LastSweep()
	out := sweepPayload{
		Kept:    append([]string{}, report.Kept...),
		Deleted: append([]string{}, report.Deleted...),
	}
	if len(report.Failed) > 0 {
		out.Failed = make(map[string]string, len(report.Failed))
		for name, err := range report.Failed {
			out.Failed[name] = err.Error()
		}
	}
	return out
}

func encodeDescriptors(descs []strategy.Descriptor) []descriptorPayload {
	sort.Slice(descs, func(i, j int) bool {
		return descs[i].Key < descs[j].Key
	})
	result := make([]descriptorPayload, 0, len(descs))
	for _, desc := range descs {
		result = append(result, descriptorPayload{
			Key:         desc.Key,
			Description: desc.Description,
			Role:        string(desc.Role),
			Revalidates: desc.Revalidates,
		})
	}
	return result
}

func encodeBindings(w *worker.Worker) []bindingPayload {
	bindings := w.Router().Bindings()
	result := make([]bindingPayload, 0, len(bindings))
	for _, binding := range bindings {
		result = append(result, bindingPayload{
			Class:      binding.Class.String(),
			Strategy:   binding.Descriptor.Key,
			Overridden: binding.Overridden,
		})
	}
	return result
}
