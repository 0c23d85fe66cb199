package main

import (
	"fmt"

	"github.com/private-chat/shellcache/internal/version"
)

// printVersion 输出注入的版本、提交信息与默认缓存标签。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
	fmt.Fprintf(stdOut, "cache tag: %s\n", version.CacheTag())
}
