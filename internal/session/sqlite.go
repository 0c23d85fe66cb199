package session

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore 将会话保存在 SQLite 中，消息列表以 msgpack 编码。
type SQLiteStore struct {
	sqlDB *sql.DB
	limit int
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenSQLite 打开（必要时创建）会话库；limit 为每个域名保留的会话数，<=0 时取 MaxSessions。
func OpenSQLite(path string, limit int) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("session db path is required")
	}
	if limit <= 0 {
		limit = MaxSessions
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply session schema: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB, limit: limit}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// LoadAll 返回域名下的全部会话，没有记录时返回空集合。
func (s *SQLiteStore) LoadAll(ctx context.Context, domain string) (Sessions, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, title, messages, created_at, updated_at
		   FROM chat_sessions
		  WHERE domain = ?
		  ORDER BY updated_at DESC`,
		NormalizeDomain(domain),
	)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()

	out := Sessions{}
	for rows.Next() {
		var (
			item      Session
			encoded   []byte
			createdAt int64
			updatedAt int64
		)
		if err := rows.Scan(&item.ID, &item.Title, &encoded, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if err := msgpack.Unmarshal(encoded, &item.Messages); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", item.ID, err)
		}
		if item.Messages == nil {
			item.Messages = []Message{}
		}
		item.CreatedAt = fromMillis(createdAt)
		item.UpdatedAt = fromMillis(updatedAt)
		out[item.ID] = item
	}
	return out, rows.Err()
}

// SaveAll 以 sessions 替换域名下的全部会话，只保留最新的 limit 个。
func (s *SQLiteStore) SaveAll(ctx context.Context, domain string, sessions Sessions) error {
	domain = NormalizeDomain(domain)
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE domain = ?`, domain); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	for _, item := range Newest(sessions, s.limit) {
		if err := upsert(ctx, tx, domain, item); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Put 新增或覆盖单个会话，并裁剪超出上限的旧会话。
func (s *SQLiteStore) Put(ctx context.Context, domain string, item Session) error {
	if strings.TrimSpace(item.ID) == "" {
		return errors.New("session id is required")
	}
	domain = NormalizeDomain(domain)
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsert(ctx, tx, domain, item); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chat_sessions
		  WHERE domain = ?
		    AND id NOT IN (
		      SELECT id FROM chat_sessions
		       WHERE domain = ?
		       ORDER BY updated_at DESC, id ASC
		       LIMIT ?)`,
		domain, domain, s.limit,
	); err != nil {
		return fmt.Errorf("trim sessions: %w", err)
	}
	return tx.Commit()
}

// Remove 删除单个会话，返回是否存在。
func (s *SQLiteStore) Remove(ctx context.Context, domain, id string) (bool, error) {
	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM chat_sessions WHERE domain = ? AND id = ?`,
		NormalizeDomain(domain), id,
	)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func upsert(ctx context.Context, tx *sql.Tx, domain string, item Session) error {
	messages := item.Messages
	if messages == nil {
		messages = []Message{}
	}
	encoded, err := msgpack.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", item.ID, err)
	}
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := item.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	title := item.Title
	if title == "" {
		title = Title(messages)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO chat_sessions (domain, id, title, messages, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (domain, id) DO UPDATE SET
		   title = excluded.title,
		   messages = excluded.messages,
		   created_at = excluded.created_at,
		   updated_at = excluded.updated_at`,
		domain, item.ID, title, encoded, toMillis(createdAt), toMillis(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", item.ID, err)
	}
	return nil
}
