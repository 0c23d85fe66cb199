// Package session persists chat sessions per embedding domain. The chat
// history format is opaque to the gateway: a session is an ordered list of
// role/content messages plus a derived title.
package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxSessions 是每个域名默认保留的会话数。
	MaxSessions = 50
	// DefaultTitle 用于尚无用户消息的会话。
	DefaultTitle = "New Chat"
	// DefaultDomain 用于未指定域名的请求。
	DefaultDomain = "default"

	titleLimit = 30
	idPrefix   = "session_"
)

// ErrNotFound 表示会话不存在。
var ErrNotFound = errors.New("session not found")

// Message 是一条聊天消息。
type Message struct {
	Role    string `json:"role" msgpack:"r"`
	Content string `json:"content" msgpack:"c"`
}

// Session 是一段聊天记录。
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Sessions 以会话 ID 为键。
type Sessions map[string]Session

// Store 按域名保存会话集合。
type Store interface {
	LoadAll(ctx context.Context, domain string) (Sessions, error)
	SaveAll(ctx context.Context, domain string, sessions Sessions) error
	Put(ctx context.Context, domain string, session Session) error
	Remove(ctx context.Context, domain, id string) (bool, error)
	Close() error
}

// Create 返回一个空的新会话。
func Create(now time.Time) Session {
	now = now.UTC()
	return Session{
		ID:        idPrefix + uuid.NewString(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Update 替换消息列表并重新计算标题与更新时间。
func Update(s Session, messages []Message, now time.Time) Session {
	s.Messages = append([]Message(nil), messages...)
	s.Title = Title(messages)
	s.UpdatedAt = now.UTC()
	return s
}

// Delete 返回去掉 id 之后的新集合，原集合不变。
func Delete(sessions Sessions, id string) Sessions {
	out := make(Sessions, len(sessions))
	for key, s := range sessions {
		if key != id {
			out[key] = s
		}
	}
	return out
}

// Title 取第一条用户消息去除首尾空白后的内容，超过 30 个字符时截断并追加 "..."。
func Title(messages []Message) string {
	for _, msg := range messages {
		if msg.Role != "user" {
			continue
		}
		title := strings.TrimSpace(msg.Content)
		runes := []rune(title)
		if len(runes) > titleLimit {
			return string(runes[:titleLimit]) + "..."
		}
		return title
	}
	return DefaultTitle
}

// Newest 按更新时间倒序保留至多 limit 个会话。
func Newest(sessions Sessions, limit int) []Session {
	list := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		list = append(list, s)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}

// NormalizeDomain 规范化域名键，空值回退为 default。
func NormalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return DefaultDomain
	}
	return domain
}
