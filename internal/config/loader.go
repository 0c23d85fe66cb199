package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/private-chat/shellcache/internal/version"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyCacheDefaults(&cfg.Cache)
	cfg.Strategy = normalizeStrategy(cfg.Strategy)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	if cfg.Global.SessionDBPath != "" && !filepath.IsAbs(cfg.Global.SessionDBPath) {
		cfg.Global.SessionDBPath = filepath.Join(absStorage, cfg.Global.SessionDBPath)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StorageDriver", StorageDriverFS)
	v.SetDefault("RedisAddr", "")
	v.SetDefault("RedisDB", 0)
	v.SetDefault("MaxMemoryCacheSize", 256*1024*1024)
	v.SetDefault("MemoryEntryLimit", 8*1024*1024)
	v.SetDefault("MaxRetries", 3)
	v.SetDefault("InitialBackoff", "1s")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("SessionDBPath", "sessions.db")
	v.SetDefault("MaxSessions", 50)

	v.SetDefault("ShellCachePrefix", "app-shell")
	v.SetDefault("RuntimeCachePrefix", "runtime")
	v.SetDefault("ModelCachePrefix", "models")
	v.SetDefault("MergeRuntime", false)
	v.SetDefault("CoreAssets", []string{"/", "/index.html", "/favicon.svg"})
	v.SetDefault("ManifestURLs", []string{"/.vite/manifest.json", "/manifest.json"})
	v.SetDefault("ModelExtension", ".gguf")
	v.SetDefault("StaticExtensions", []string{".js", ".css", ".wasm"})
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.StorageDriver = strings.ToLower(strings.TrimSpace(g.StorageDriver))
	if g.StorageDriver == "" {
		g.StorageDriver = StorageDriverFS
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(time.Second)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.MaxSessions == 0 {
		g.MaxSessions = 50
	}
}

// applyCacheDefaults 规范化分区与分类相关字段；CacheVersion 缺省时取构建版本，保证每次发布都会换代。
func applyCacheDefaults(c *CacheConfig) {
	c.Upstream = strings.TrimRight(strings.TrimSpace(c.Upstream), "/")
	c.CacheVersion = strings.TrimSpace(c.CacheVersion)
	if c.CacheVersion == "" {
		c.CacheVersion = version.CacheTag()
	}
	c.ModelCacheVersion = strings.TrimSpace(c.ModelCacheVersion)
	c.ShellCachePrefix = strings.TrimSpace(c.ShellCachePrefix)
	c.RuntimeCachePrefix = strings.TrimSpace(c.RuntimeCachePrefix)
	c.ModelCachePrefix = strings.TrimSpace(c.ModelCachePrefix)
	c.ModelExtension = strings.ToLower(strings.TrimSpace(c.ModelExtension))
	for i, ext := range c.StaticExtensions {
		c.StaticExtensions[i] = strings.ToLower(strings.TrimSpace(ext))
	}
}

func normalizeStrategy(raw map[string]string) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for class, key := range raw {
		out[strings.ToLower(strings.TrimSpace(class))] = strings.ToLower(strings.TrimSpace(key))
	}
	return out
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
