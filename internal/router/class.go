package router

import (
	"net/http"
	"strings"

	"github.com/private-chat/shellcache/internal/config"
	"github.com/private-chat/shellcache/internal/upstream"
)

// Class 是请求的分类结果，每个请求独立计算。
type Class int

const (
	ClassOther Class = iota
	ClassModelFile
	ClassNavigation
	ClassVersionedStatic
)

// Classes 按判定优先级列出所有类别（Other 兜底）。
var Classes = []Class{ClassModelFile, ClassNavigation, ClassVersionedStatic, ClassOther}

// String 返回配置 [Strategy] 表中使用的类别名。
func (c Class) String() string {
	switch c {
	case ClassModelFile:
		return "model"
	case ClassNavigation:
		return "navigation"
	case ClassVersionedStatic:
		return "static"
	default:
		return "other"
	}
}

// ParseClass 将类别名解析为 Class。
func ParseClass(name string) (Class, bool) {
	for _, class := range Classes {
		if class.String() == strings.ToLower(strings.TrimSpace(name)) {
			return class, true
		}
	}
	return ClassOther, false
}

// Classifier 依据扩展名与请求模式对请求分类。
type Classifier struct {
	modelExt   string
	staticExts []string
}

// NewClassifier 从配置构建分类器。
func NewClassifier(cfg config.CacheConfig) Classifier {
	return Classifier{
		modelExt:   strings.ToLower(cfg.ModelExtension),
		staticExts: append([]string(nil), cfg.StaticExtensions...),
	}
}

// Intercepts 判断请求是否进入策略引擎：只处理 http(s) 的 GET。
func (c Classifier) Intercepts(req *upstream.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	if req.Method != "" && req.Method != http.MethodGet {
		return false
	}
	switch strings.ToLower(req.URL.Scheme) {
	case "", "http", "https":
		return true
	default:
		return false
	}
}

// Classify 依次判定 model、navigation、static，均不满足时为 other。
func (c Classifier) Classify(req *upstream.Request) Class {
	path := strings.ToLower(req.Path())
	if c.modelExt != "" && strings.HasSuffix(path, c.modelExt) {
		return ClassModelFile
	}
	if req.IsNavigation() {
		return ClassNavigation
	}
	for _, ext := range c.staticExts {
		if strings.HasSuffix(path, ext) {
			return ClassVersionedStatic
		}
	}
	return ClassOther
}
