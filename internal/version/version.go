package version

import "fmt"

// Version/Commit 可在构建时通过 -ldflags 注入，默认使用开发占位符。
// Version 同时作为默认的缓存版本标签，每次发布构建都必须不同。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Full 返回便于 CLI 打印的完整版本信息。
func Full() string {
	return fmt.Sprintf("shellcache %s (%s)", Version, Commit)
}

// CacheTag 返回默认的缓存分区版本标签，例如 v0.1.0-dev。
func CacheTag() string {
	return fmt.Sprintf("v%s-%s", Version, Commit)
}
