package config

import "fmt"

// FieldError 提供字段路径与错误原因，便于 CLI 向用户反馈。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// newFieldError 创建包含字段路径与原因的 error，便于 CLI 定位。
func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// strategyField 拼接 [Strategy] 表内的字段路径，例如 Strategy.model。
func strategyField(class string) string {
	return fmt.Sprintf("Strategy.%s", class)
}

// listField 拼接列表元素路径，例如 CoreAssets[1]。
func listField(name string, idx int) string {
	return fmt.Sprintf("%s[%d]", name, idx)
}
