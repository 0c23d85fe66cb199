package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/private-chat/shellcache/internal/lifecycle"
)

// Descriptor 记录一个策略的静态信息与构造函数，供路由绑定与诊断端使用。
type Descriptor struct {
	Key         string
	Description string
	// Role 为策略读写的分区角色；为空表示只读地扫描所有分区。
	Role lifecycle.Role
	// Revalidates 表示命中缓存后是否仍会后台回源刷新。
	Revalidates bool
	New         func(Deps) Strategy
}

var globalRegistry = newRegistry()

type registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

func newRegistry() *registry {
	return &registry{descriptors: make(map[string]Descriptor)}
}

// Register 将策略加入全局注册表，重复键会返回错误。
func Register(desc Descriptor) error {
	return globalRegistry.register(desc)
}

// MustRegister 在注册失败时 panic，适合策略包 init() 中调用。
func MustRegister(desc Descriptor) {
	if err := Register(desc); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的策略描述。
func Resolve(key string) (Descriptor, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按键排序的策略描述列表。
func List() []Descriptor {
	return globalRegistry.list()
}

// Keys 返回所有已注册策略的键。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, desc := range items {
		result[i] = desc.Key
	}
	return result
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(desc Descriptor) error {
	key := normalizeKey(desc.Key)
	if key == "" {
		return fmt.Errorf("strategy key is required")
	}
	if desc.New == nil {
		return fmt.Errorf("strategy %s has no constructor", key)
	}
	desc.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[key]; exists {
		return fmt.Errorf("strategy %s already registered", key)
	}
	r.descriptors[key] = desc
	return nil
}

func (r *registry) resolve(key string) (Descriptor, bool) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return Descriptor{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.descriptors[normalized]
	return desc, ok
}

func (r *registry) list() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.descriptors) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.descriptors))
	for key := range r.descriptors {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Descriptor, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.descriptors[key])
	}
	return result
}
