// Package worker owns the install/activate state machine and the interception
// boundary that the HTTP gateway calls for every page request.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/private-chat/shellcache/internal/cache"
	"github.com/private-chat/shellcache/internal/lifecycle"
	"github.com/private-chat/shellcache/internal/logging"
	"github.com/private-chat/shellcache/internal/precache"
	"github.com/private-chat/shellcache/internal/router"
	"github.com/private-chat/shellcache/internal/upstream"
)

// ErrNotInstalled 表示在 install 完成前调用了 Activate。
var ErrNotInstalled = errors.New("worker: not installed")

// State 是 worker 生命周期状态。
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	default:
		return "parsed"
	}
}

// Worker 串联生命周期管理、预缓存与路由。
type Worker struct {
	manager *lifecycle.Manager
	loader  *precache.Loader
	router  *router.Router
	logger  *logrus.Logger

	mu          sync.RWMutex
	state       State
	activatedAt time.Time
	lastSweep   lifecycle.SweepReport
}

// New 创建处于 parsed 状态的 worker。
func New(manager *lifecycle.Manager, loader *precache.Loader, r *router.Router, logger *logrus.Logger) (*Worker, error) {
	if manager == nil || loader == nil || r == nil {
		return nil, errors.New("worker: manager, loader and router are required")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Worker{manager: manager, loader: loader, router: r, logger: logger}, nil
}

// State 返回当前状态。
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Manager 返回生命周期管理器。
func (w *Worker) Manager() *lifecycle.Manager {
	return w.manager
}

// Router 返回请求路由。
func (w *Worker) Router() *router.Router {
	return w.router
}

// LastSweep 返回最近一次 activate 的清理报告。
func (w *Worker) LastSweep() lifecycle.SweepReport {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastSweep
}

// ActivatedAt 返回接管时间，未接管时为零值。
func (w *Worker) ActivatedAt() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.activatedAt
}

// Install 打开 shell 分区并完成核心预缓存后才返回 nil；失败时回到 parsed，可重试。
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition([]State{StateParsed}, StateInstalling); err != nil {
		return err
	}
	shell := w.manager.Names().Shell()
	w.logger.WithFields(logging.LifecycleFields("install", shell)).Info("install started")

	partition, err := w.manager.Provision(ctx)
	if err == nil {
		err = w.loader.Warm(ctx, partition)
	}
	if err != nil {
		w.setState(StateParsed)
		w.logger.WithFields(logging.LifecycleFields("install", shell)).WithError(err).Warn("install failed")
		return err
	}

	w.setState(StateInstalled)
	w.logger.WithFields(logging.LifecycleFields("install", shell)).Info("install finished")
	return nil
}

// Activate 在清理过期分区后接管请求。重复调用是安全的。
func (w *Worker) Activate(ctx context.Context) (lifecycle.SweepReport, error) {
	if w.State() == StateActivated {
		return w.LastSweep(), nil
	}
	if err := w.transition([]State{StateInstalled}, StateActivating); err != nil {
		return lifecycle.SweepReport{}, err
	}

	report, err := w.manager.Sweep(ctx)
	if err != nil {
		w.setState(StateInstalled)
		w.logger.WithFields(logging.LifecycleFields("activate", "")).WithError(err).Error("sweep failed")
		return report, err
	}
	w.manager.Claim()

	w.mu.Lock()
	w.state = StateActivated
	w.activatedAt = time.Now()
	w.lastSweep = report
	w.mu.Unlock()

	w.logger.WithFields(logging.LifecycleFields("activate", "")).WithFields(logrus.Fields{
		"deleted": report.Deleted,
		"failed":  len(report.Failed),
		"kept":    report.Kept,
	}).Info("activated")
	return report, nil
}

// Handle 是拦截边界：未接管或不拦截时返回 false，调用方应原样透传请求。
func (w *Worker) Handle(ctx context.Context, req *upstream.Request) (*cache.Response, router.Outcome, bool) {
	if !w.manager.Claimed() {
		return nil, router.Outcome{}, false
	}
	return w.router.Route(ctx, req)
}

func (w *Worker) transition(from []State, to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range from {
		if w.state == s {
			w.state = to
			return nil
		}
	}
	if to == StateActivating && w.state < StateInstalled {
		return ErrNotInstalled
	}
	return fmt.Errorf("worker: cannot move from %s to %s", w.state, to)
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}
