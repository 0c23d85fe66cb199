package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}
	if err := c.Global.validate(); err != nil {
		return err
	}
	if err := c.Cache.validate(); err != nil {
		return err
	}
	return validateStrategy(c.Strategy)
}

func (g GlobalConfig) validate() error {
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	switch g.StorageDriver {
	case StorageDriverFS:
		if g.StoragePath == "" {
			return newFieldError("StoragePath", "不能为空")
		}
	case StorageDriverRedis:
		if strings.TrimSpace(g.RedisAddr) == "" {
			return newFieldError("RedisAddr", "StorageDriver=redis 时不能为空")
		}
		if g.RedisDB < 0 {
			return newFieldError("RedisDB", "不能为负数")
		}
	default:
		return newFieldError("StorageDriver", "仅支持 fs|redis")
	}
	if g.MaxMemoryCache < 0 {
		return newFieldError("MaxMemoryCacheSize", "不能为负数")
	}
	if g.MemoryEntryLimit < 0 {
		return newFieldError("MemoryEntryLimit", "不能为负数")
	}
	if g.MaxRetries < 0 {
		return newFieldError("MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("InitialBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "必须大于 0")
	}
	if g.MaxSessions <= 0 {
		return newFieldError("MaxSessions", "必须大于 0")
	}
	return nil
}

func (c CacheConfig) validate() error {
	if err := validateUpstream(c.Upstream); err != nil {
		return fmt.Errorf("Upstream: %w", err)
	}
	for field, value := range map[string]string{
		"ShellCachePrefix":   c.ShellCachePrefix,
		"RuntimeCachePrefix": c.RuntimeCachePrefix,
		"ModelCachePrefix":   c.ModelCachePrefix,
		"CacheVersion":       c.CacheVersion,
	} {
		if err := validateNamePart(value); err != nil {
			return newFieldError(field, err.Error())
		}
	}
	if c.ModelCacheVersion != "" {
		if err := validateNamePart(c.ModelCacheVersion); err != nil {
			return newFieldError("ModelCacheVersion", err.Error())
		}
	}
	if err := c.validateRoleNames(); err != nil {
		return err
	}
	if len(c.CoreAssets) == 0 {
		return newFieldError("CoreAssets", "至少需要一个核心资源")
	}
	for i, asset := range c.CoreAssets {
		if !strings.HasPrefix(asset, "/") {
			return newFieldError(listField("CoreAssets", i), "必须以 / 开头")
		}
	}
	for i, manifest := range c.ManifestURLs {
		if !strings.HasPrefix(manifest, "/") {
			return newFieldError(listField("ManifestURLs", i), "必须以 / 开头")
		}
	}
	if err := validateExtension(c.ModelExtension); err != nil {
		return newFieldError("ModelExtension", err.Error())
	}
	if len(c.StaticExtensions) == 0 {
		return newFieldError("StaticExtensions", "不能为空")
	}
	for i, ext := range c.StaticExtensions {
		if err := validateExtension(ext); err != nil {
			return newFieldError(listField("StaticExtensions", i), err.Error())
		}
		if ext == c.ModelExtension {
			return newFieldError(listField("StaticExtensions", i), "不能与 ModelExtension 相同")
		}
	}
	return nil
}

// validateRoleNames 拒绝两个角色落到同一分区名；runtime 与 shell 共用分区只能通过 MergeRuntime 声明。
func (c CacheConfig) validateRoleNames() error {
	tags := c.Tags()
	shell := PartitionName(tags.ShellPrefix, tags.Version)
	model := PartitionName(tags.ModelPrefix, tags.ModelVersion)
	if model == shell {
		return newFieldError("ModelCachePrefix", "与 shell 角色生成相同的分区名 "+model)
	}
	if tags.MergeRuntime {
		return nil
	}
	runtime := PartitionName(tags.RuntimePrefix, tags.Version)
	if runtime == shell {
		return newFieldError("RuntimeCachePrefix", "与 shell 角色生成相同的分区名 "+runtime+"，共用分区请设置 MergeRuntime")
	}
	if runtime == model {
		return newFieldError("RuntimeCachePrefix", "与 model 角色生成相同的分区名 "+runtime)
	}
	return nil
}

// validateStrategy 只校验类别名；策略键是否已注册由路由在构建分派表时检查。
func validateStrategy(table map[string]string) error {
	for class, key := range table {
		known := false
		for _, candidate := range StrategyClasses {
			if class == candidate {
				known = true
				break
			}
		}
		if !known {
			return newFieldError(strategyField(class), "未知类别，仅支持 "+strings.Join(StrategyClasses, "|"))
		}
		if key == "" {
			return newFieldError(strategyField(class), "策略键不能为空")
		}
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

// validateNamePart 约束分区名的组成部分，分区名会直接作为目录名与 Redis 键的一部分。
func validateNamePart(value string) error {
	if value == "" {
		return errors.New("不能为空")
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return fmt.Errorf("包含非法字符 %q", r)
		}
	}
	if strings.HasPrefix(value, ".") {
		return errors.New("不能以 . 开头")
	}
	return nil
}

func validateExtension(ext string) error {
	if len(ext) < 2 || !strings.HasPrefix(ext, ".") {
		return errors.New("必须形如 .ext")
	}
	if strings.ContainsAny(ext, `/\?#`) {
		return errors.New("包含非法字符")
	}
	return nil
}
