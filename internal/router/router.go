package router

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/private-chat/shellcache/internal/cache"
	"github.com/private-chat/shellcache/internal/strategy"
	"github.com/private-chat/shellcache/internal/upstream"
)

// DefaultBindings 是每个类别的默认策略键。
var DefaultBindings = map[Class]string{
	ClassModelFile:       "cache-first",
	ClassNavigation:      "network-first-shell",
	ClassVersionedStatic: "stale-while-revalidate",
	ClassOther:           "network-first-any-cache",
}

// Outcome 描述一次被拦截请求的处理结果，供响应头与日志使用。
type Outcome struct {
	Class     Class
	Strategy  string
	CacheHit  bool
	Partition string
}

// Binding 是分派表中的一行。
type Binding struct {
	Class      Class
	Descriptor strategy.Descriptor
	Overridden bool
	impl       strategy.Strategy
}

// Router 对请求分类并分派到唯一的策略。
type Router struct {
	classifier Classifier
	bindings   map[Class]Binding
	logger     *logrus.Logger
}

// ResolveBindings 解析类别到策略描述的映射，overrides 的键为类别名、值为策略键。
func ResolveBindings(overrides map[string]string) (map[Class]strategy.Descriptor, error) {
	keys := make(map[Class]string, len(DefaultBindings))
	for class, key := range DefaultBindings {
		keys[class] = key
	}
	for name, key := range overrides {
		class, ok := ParseClass(name)
		if !ok {
			return nil, fmt.Errorf("Strategy.%s: unknown request class", name)
		}
		keys[class] = key
	}

	result := make(map[Class]strategy.Descriptor, len(keys))
	for class, key := range keys {
		desc, ok := strategy.Resolve(key)
		if !ok {
			return nil, fmt.Errorf("Strategy.%s: strategy %q is not registered", class, key)
		}
		result[class] = desc
	}
	return result, nil
}

// New 构建路由：按 overrides 覆盖默认绑定并实例化各策略。
func New(classifier Classifier, overrides map[string]string, deps strategy.Deps, logger *logrus.Logger) (*Router, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	descriptors, err := ResolveBindings(overrides)
	if err != nil {
		return nil, err
	}

	bindings := make(map[Class]Binding, len(descriptors))
	for class, desc := range descriptors {
		bindings[class] = Binding{
			Class:      class,
			Descriptor: desc,
			Overridden: desc.Key != DefaultBindings[class],
			impl:       desc.New(deps),
		}
	}
	return &Router{classifier: classifier, bindings: bindings, logger: logger}, nil
}

// Classifier 返回路由使用的分类器。
func (r *Router) Classifier() Classifier {
	return r.classifier
}

// Bindings 返回按类别优先级排序的分派表。
func (r *Router) Bindings() []Binding {
	out := make([]Binding, 0, len(r.bindings))
	for _, b := range r.bindings {
		out = append(out, b)
	}
	order := make(map[Class]int, len(Classes))
	for i, class := range Classes {
		order[class] = i
	}
	sort.Slice(out, func(i, j int) bool {
		return order[out[i].Class] < order[out[j].Class]
	})
	return out
}

// Route 处理一个请求。第三个返回值为 false 表示请求不被拦截，应原样透传。
func (r *Router) Route(ctx context.Context, req *upstream.Request) (*cache.Response, Outcome, bool) {
	if !r.classifier.Intercepts(req) {
		return nil, Outcome{}, false
	}
	class := r.classifier.Classify(req)
	binding := r.bindings[class]
	outcome := Outcome{Class: class, Strategy: binding.Descriptor.Key}

	resp := r.invoke(ctx, binding, req, outcome)
	outcome.CacheHit = resp.FromCache
	outcome.Partition = resp.Partition
	return resp, outcome, true
}

// invoke 调用策略并隔离 panic，panic 时返回 500 JSON。
func (r *Router) invoke(ctx context.Context, binding Binding, req *upstream.Request, outcome Outcome) (resp *cache.Response) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logStrategyError(req, outcome, "strategy_panic", fmt.Errorf("panic: %v", recovered))
			resp = strategy.Failure(http.StatusInternalServerError, "strategy_panic")
		}
	}()
	resp = binding.impl.Handle(ctx, req)
	if resp == nil {
		r.logStrategyError(req, outcome, "strategy_no_response", nil)
		resp = strategy.Failure(http.StatusInternalServerError, "strategy_no_response")
	}
	return resp
}

func (r *Router) logStrategyError(req *upstream.Request, outcome Outcome, code string, err error) {
	if r.logger == nil {
		return
	}
	fields := logrus.Fields{
		"action":   "route",
		"class":    outcome.Class.String(),
		"strategy": outcome.Strategy,
		"key":      req.Key(),
		"error":    code,
	}
	if err != nil {
		r.logger.WithFields(fields).Error(err.Error())
		return
	}
	r.logger.WithFields(fields).Error("strategy returned no response")
}
