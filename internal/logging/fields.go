package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 描述一次被拦截请求的分类、策略、命中分区与命中状态。
func RequestFields(class, strategy, partition string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"class":     class,
		"strategy":  strategy,
		"partition": partition,
		"cache_hit": cacheHit,
	}
}

// LifecycleFields 用于 install/activate 阶段的日志。
func LifecycleFields(phase, partition string) logrus.Fields {
	return logrus.Fields{
		"action":    "lifecycle",
		"phase":     phase,
		"partition": partition,
	}
}
