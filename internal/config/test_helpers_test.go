package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testUpstreamLine = `Upstream = "https://chat.example.com"`

func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("testdata", name)
}

// writeTempConfig 写入临时 TOML；未声明 Upstream 时补上测试上游，便于只关注被测字段。
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	if !strings.Contains(content, "Upstream") {
		content = testUpstreamLine + "\n" + content
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}
