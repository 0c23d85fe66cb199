package lifecycle

import "github.com/private-chat/shellcache/internal/config"

// Role 是分区的逻辑角色。
type Role string

const (
	RoleShell   Role = "shell"
	RoleRuntime Role = "runtime"
	RoleModel   Role = "model"
)

// Roles 按任意缓存回退的优先级列出角色。
var Roles = []Role{RoleModel, RoleRuntime, RoleShell}

// Names 保存当前版本下每个角色对应的分区名，启动时构建一次，之后只读。
type Names struct {
	shell   string
	runtime string
	model   string
}

// NewNames 根据配置标签计算分区名，MergeRuntime 时 runtime 与 shell 共用一个分区。
func NewNames(tags config.PartitionTags) Names {
	shell := partitionName(tags.ShellPrefix, tags.Version)
	runtime := partitionName(tags.RuntimePrefix, tags.Version)
	if tags.MergeRuntime {
		runtime = shell
	}
	return Names{
		shell:   shell,
		runtime: runtime,
		model:   partitionName(tags.ModelPrefix, tags.ModelVersion),
	}
}

// For 返回角色对应的分区名，未知角色返回空字符串。
func (n Names) For(role Role) string {
	switch role {
	case RoleShell:
		return n.shell
	case RoleRuntime:
		return n.runtime
	case RoleModel:
		return n.model
	default:
		return ""
	}
}

func (n Names) Shell() string   { return n.shell }
func (n Names) Runtime() string { return n.runtime }
func (n Names) Model() string   { return n.model }

// Current 按 model、runtime、shell 顺序返回去重后的当前分区名。
func (n Names) Current() []string {
	out := make([]string, 0, len(Roles))
	seen := make(map[string]struct{}, len(Roles))
	for _, role := range Roles {
		name := n.For(role)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// IsCurrent 判断分区是否属于当前版本。
func (n Names) IsCurrent(name string) bool {
	return name != "" && (name == n.shell || name == n.runtime || name == n.model)
}

// Merged 表示 runtime 是否并入 shell。
func (n Names) Merged() bool {
	return n.runtime == n.shell
}

func partitionName(prefix, version string) string {
	return config.PartitionName(prefix, version)
}
