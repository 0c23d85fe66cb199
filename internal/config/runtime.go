package config

// PartitionTags 汇总分区命名所需的前缀与版本标签，由 lifecycle.Names 消费。
type PartitionTags struct {
	ShellPrefix   string
	RuntimePrefix string
	ModelPrefix   string
	Version       string
	ModelVersion  string
	MergeRuntime  bool
}

// Tags 返回当前配置下的分区标签；ModelCacheVersion 为空时沿用 CacheVersion。
func (c CacheConfig) Tags() PartitionTags {
	modelVersion := c.ModelCacheVersion
	if modelVersion == "" {
		modelVersion = c.CacheVersion
	}
	return PartitionTags{
		ShellPrefix:   c.ShellCachePrefix,
		RuntimePrefix: c.RuntimeCachePrefix,
		ModelPrefix:   c.ModelCachePrefix,
		Version:       c.CacheVersion,
		ModelVersion:  modelVersion,
		MergeRuntime:  c.MergeRuntime,
	}
}

// PartitionName 拼接分区名 {prefix}-{version}。
func PartitionName(prefix, version string) string {
	return prefix + "-" + version
}
