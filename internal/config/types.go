package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 存储驱动取值。
const (
	StorageDriverFS    = "fs"
	StorageDriverRedis = "redis"
)

// GlobalConfig 描述进程级运行参数：监听、日志、存储与回源。
type GlobalConfig struct {
	ListenPort       int      `mapstructure:"ListenPort"`
	LogLevel         string   `mapstructure:"LogLevel"`
	LogFilePath      string   `mapstructure:"LogFilePath"`
	LogMaxSize       int      `mapstructure:"LogMaxSize"`
	LogMaxBackups    int      `mapstructure:"LogMaxBackups"`
	LogCompress      bool     `mapstructure:"LogCompress"`
	StoragePath      string   `mapstructure:"StoragePath"`
	StorageDriver    string   `mapstructure:"StorageDriver"`
	RedisAddr        string   `mapstructure:"RedisAddr"`
	RedisPassword    string   `mapstructure:"RedisPassword"`
	RedisDB          int      `mapstructure:"RedisDB"`
	MaxMemoryCache   int64    `mapstructure:"MaxMemoryCacheSize"`
	MemoryEntryLimit int64    `mapstructure:"MemoryEntryLimit"`
	MaxRetries       int      `mapstructure:"MaxRetries"`
	InitialBackoff   Duration `mapstructure:"InitialBackoff"`
	UpstreamTimeout  Duration `mapstructure:"UpstreamTimeout"`
	SessionDBPath    string   `mapstructure:"SessionDBPath"`
	MaxSessions      int      `mapstructure:"MaxSessions"`
}

// CacheConfig 描述源站、分区命名与请求分类规则。
type CacheConfig struct {
	Upstream           string   `mapstructure:"Upstream"`
	CacheVersion       string   `mapstructure:"CacheVersion"`
	ModelCacheVersion  string   `mapstructure:"ModelCacheVersion"`
	ShellCachePrefix   string   `mapstructure:"ShellCachePrefix"`
	RuntimeCachePrefix string   `mapstructure:"RuntimeCachePrefix"`
	ModelCachePrefix   string   `mapstructure:"ModelCachePrefix"`
	MergeRuntime       bool     `mapstructure:"MergeRuntime"`
	CoreAssets         []string `mapstructure:"CoreAssets"`
	ManifestURLs       []string `mapstructure:"ManifestURLs"`
	ModelExtension     string   `mapstructure:"ModelExtension"`
	StaticExtensions   []string `mapstructure:"StaticExtensions"`
}

// Config 是 TOML 文件映射的整体结构。Strategy 表按请求类别覆盖默认策略。
type Config struct {
	Global   GlobalConfig      `mapstructure:",squash"`
	Cache    CacheConfig       `mapstructure:",squash"`
	Strategy map[string]string `mapstructure:"Strategy"`
}

// StrategyClasses 列出 [Strategy] 表允许出现的类别名。
var StrategyClasses = []string{"model", "navigation", "static", "other"}

// UsesRedis 表示缓存分区是否落在 Redis。
func (g GlobalConfig) UsesRedis() bool {
	return g.StorageDriver == StorageDriverRedis
}
