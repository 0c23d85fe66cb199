package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/private-chat/shellcache/internal/cache"
	"github.com/private-chat/shellcache/internal/logging"
)

// SweepReport 记录一次换代清理的结果；单个分区删除失败不会中断清理。
type SweepReport struct {
	Kept    []string
	Deleted []string
	Failed  map[string]error
}

// OK 表示所有过期分区都已删除。
func (r SweepReport) OK() bool {
	return len(r.Failed) == 0
}

// Manager 负责分区的创建、换代清理与接管标记。
type Manager struct {
	store  cache.Store
	names  Names
	logger *logrus.Logger

	opened  sync.Map // partition name -> *cache.Partition
	claimed atomic.Bool
}

// NewManager 创建生命周期管理器，logger 为空时不输出日志。
func NewManager(store cache.Store, names Names, logger *logrus.Logger) (*Manager, error) {
	if store == nil {
		return nil, cache.ErrStoreUnavailable
	}
	if names.shell == "" || names.model == "" {
		return nil, errors.New("partition names are required")
	}
	return &Manager{store: store, names: names, logger: logger}, nil
}

// Names 返回当前分区名。
func (m *Manager) Names() Names {
	return m.names
}

// Store 返回底层存储。
func (m *Manager) Store() cache.Store {
	return m.store
}

// Provision 打开（必要时创建）当前版本的 shell 分区，可重复调用。
func (m *Manager) Provision(ctx context.Context) (*cache.Partition, error) {
	return m.Open(ctx, RoleShell)
}

// Open 打开角色对应的当前分区；同一分区只会向存储登记一次。
func (m *Manager) Open(ctx context.Context, role Role) (*cache.Partition, error) {
	name := m.names.For(role)
	if name == "" {
		return nil, fmt.Errorf("unknown partition role %q", role)
	}
	if value, ok := m.opened.Load(name); ok {
		return value.(*cache.Partition), nil
	}
	partition, err := cache.Open(ctx, m.store, name)
	if err != nil {
		return nil, err
	}
	actual, _ := m.opened.LoadOrStore(name, partition)
	return actual.(*cache.Partition), nil
}

// Sweep 删除所有不属于当前版本的分区。只有列举失败才返回 error。
func (m *Manager) Sweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{Failed: map[string]error{}}
	existing, err := m.store.Partitions(ctx)
	if err != nil {
		return report, fmt.Errorf("list partitions: %w", err)
	}

	for _, name := range existing {
		if m.names.IsCurrent(name) {
			report.Kept = append(report.Kept, name)
			continue
		}
		if _, err := m.store.DropPartition(ctx, name); err != nil {
			report.Failed[name] = err
			m.log(logrus.WarnLevel, "sweep", name, err, "stale partition not deleted")
			continue
		}
		report.Deleted = append(report.Deleted, name)
		m.log(logrus.InfoLevel, "sweep", name, nil, "stale partition deleted")
	}
	return report, nil
}

// Claim 标记接管，此后请求进入策略引擎。
func (m *Manager) Claim() {
	if m.claimed.CompareAndSwap(false, true) {
		m.log(logrus.InfoLevel, "claim", "", nil, "clients claimed")
	}
}

// Claimed 表示是否已经接管。
func (m *Manager) Claimed() bool {
	return m.claimed.Load()
}

// ScanOrder 返回任意缓存回退的查找顺序：当前 model、runtime、shell，
// 其后是其余仍存在的分区（按存储列举顺序）。
func (m *Manager) ScanOrder(ctx context.Context) ([]string, error) {
	order := m.names.Current()
	existing, err := m.store.Partitions(ctx)
	if err != nil {
		return order, err
	}
	for _, name := range existing {
		if !m.names.IsCurrent(name) {
			order = append(order, name)
		}
	}
	return order, nil
}

func (m *Manager) log(level logrus.Level, phase, partition string, err error, msg string) {
	if m.logger == nil {
		return
	}
	entry := m.logger.WithFields(logging.LifecycleFields(phase, partition))
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Log(level, msg)
}
