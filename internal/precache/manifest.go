package precache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// manifestEntry 对应构建清单中的一项；只关心产物文件。
type manifestEntry struct {
	File   string   `json:"file"`
	CSS    []string `json:"css"`
	Assets []string `json:"assets"`
}

// ManifestFiles 解析构建清单，返回所有 file/css/assets 的站内路径（去重、排序）。
func ManifestFiles(raw []byte) ([]string, error) {
	var manifest map[string]manifestEntry
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	set := make(map[string]struct{})
	add := func(file string) {
		if strings.TrimSpace(file) == "" {
			return
		}
		set[rootPath(file)] = struct{}{}
	}
	for _, entry := range manifest {
		add(entry.File)
		for _, css := range entry.CSS {
			add(css)
		}
		for _, asset := range entry.Assets {
			add(asset)
		}
	}

	files := make([]string, 0, len(set))
	for file := range set {
		files = append(files, file)
	}
	sort.Strings(files)
	return files, nil
}

// rootPath 去掉至多一个前导 / 后再补上，得到站内绝对路径。
func rootPath(file string) string {
	return "/" + strings.TrimPrefix(file, "/")
}
