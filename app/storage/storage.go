// Package storage provides persistence for moderated chats and per-user
// trust state, over the engine wrapper with sqlite and postgres dialects.
package storage

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/umputun/tg-guard/app/storage/engine"
)

// ErrDuplicate is returned when an insert hits a unique constraint, the
// caller resolves the race by restarting its session and re-fetching.
var ErrDuplicate = errors.New("duplicate record")

// ChatConfig is a monitored group and its moderation settings.
type ChatConfig struct {
	ID             int64      `db:"id"`
	TelegramChatID int64      `db:"telegram_chat_id"`
	Title          string     `db:"title"`
	Active         bool       `db:"is_active"`
	AICheckEnabled bool       `db:"ai_check_enabled"`
	CleanupMention bool       `db:"cleanup_mentions"`
	CleanupLinks   bool       `db:"cleanup_links"`
	CleanupEmojis  bool       `db:"cleanup_emojis"`
	AllowedDomains DomainList `db:"allowed_domains"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// UserState tracks one user's trust progress inside one chat.
type UserState struct {
	ID             int64     `db:"id"`
	ChatID         int64     `db:"chat_id"`
	TelegramUserID int64     `db:"telegram_user_id"`
	JoinedAt       time.Time `db:"joined_at"`
	ValidMessages  int       `db:"valid_messages"`
}

// DomainList is a whitelist of domains stored as a json array.
type DomainList []string

// Value implements driver.Valuer
func (d DomainList) Value() (driver.Value, error) {
	if d == nil {
		d = DomainList{}
	}
	res, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal domain list: %w", err)
	}
	return string(res), nil
}

// Scan implements sql.Scanner
func (d *DomainList) Scan(value any) error {
	if value == nil {
		*d = DomainList{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for domain list", value)
	}
	if len(data) == 0 {
		*d = DomainList{}
		return nil
	}
	if err := json.Unmarshal(data, d); err != nil {
		return fmt.Errorf("failed to unmarshal domain list: %w", err)
	}
	return nil
}

// commands for chats table
const (
	CmdCreateChatsTable engine.DBCmd = iota + 100
	CmdCreateChatsIndexes
	CmdGetChatByTelegramID
	CmdCreateChat
	CmdUpdateChatTitle
	CmdListChats
)

// commands for user_states table
const (
	CmdCreateUserStatesTable engine.DBCmd = iota + 200
	CmdCreateUserStatesIndexes
	CmdGetUserState
	CmdCreateUserState
	CmdIncValidMessages
	CmdTrustedCount
)

var queries = engine.NewQueryMap().
	Add(CmdCreateChatsTable, engine.Query{
		Sqlite: `CREATE TABLE IF NOT EXISTS chats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			telegram_chat_id INTEGER NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT 0,
			ai_check_enabled BOOLEAN NOT NULL DEFAULT 0,
			cleanup_mentions BOOLEAN NOT NULL DEFAULT 0,
			cleanup_links BOOLEAN NOT NULL DEFAULT 0,
			cleanup_emojis BOOLEAN NOT NULL DEFAULT 0,
			allowed_domains TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		Postgres: `CREATE TABLE IF NOT EXISTS chats (
			id BIGSERIAL PRIMARY KEY,
			telegram_chat_id BIGINT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			ai_check_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			cleanup_mentions BOOLEAN NOT NULL DEFAULT FALSE,
			cleanup_links BOOLEAN NOT NULL DEFAULT FALSE,
			cleanup_emojis BOOLEAN NOT NULL DEFAULT FALSE,
			allowed_domains TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}).
	AddSame(CmdCreateChatsIndexes,
		`CREATE INDEX IF NOT EXISTS idx_chats_telegram_chat_id ON chats(telegram_chat_id)`).
	AddSame(CmdGetChatByTelegramID,
		`SELECT * FROM chats WHERE telegram_chat_id = ?`).
	AddSame(CmdCreateChat,
		`INSERT INTO chats (telegram_chat_id, title, is_active, ai_check_enabled,
			cleanup_mentions, cleanup_links, cleanup_emojis, allowed_domains, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`).
	AddSame(CmdUpdateChatTitle,
		`UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`).
	AddSame(CmdListChats,
		`SELECT * FROM chats ORDER BY id`).
	Add(CmdCreateUserStatesTable, engine.Query{
		Sqlite: `CREATE TABLE IF NOT EXISTS user_states (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL REFERENCES chats(id),
			telegram_user_id INTEGER NOT NULL,
			joined_at TIMESTAMP NOT NULL,
			valid_messages INTEGER NOT NULL DEFAULT 0,
			UNIQUE(chat_id, telegram_user_id)
		)`,
		Postgres: `CREATE TABLE IF NOT EXISTS user_states (
			id BIGSERIAL PRIMARY KEY,
			chat_id BIGINT NOT NULL REFERENCES chats(id),
			telegram_user_id BIGINT NOT NULL,
			joined_at TIMESTAMP NOT NULL,
			valid_messages INTEGER NOT NULL DEFAULT 0,
			UNIQUE(chat_id, telegram_user_id)
		)`,
	}).
	AddSame(CmdCreateUserStatesIndexes,
		`CREATE INDEX IF NOT EXISTS idx_user_states_chat_user ON user_states(chat_id, telegram_user_id)`).
	AddSame(CmdGetUserState,
		`SELECT * FROM user_states WHERE chat_id = ? AND telegram_user_id = ?`).
	AddSame(CmdCreateUserState,
		`INSERT INTO user_states (chat_id, telegram_user_id, joined_at, valid_messages)
		 VALUES (?, ?, ?, 0) RETURNING id`).
	AddSame(CmdIncValidMessages,
		`UPDATE user_states SET valid_messages = valid_messages + 1 WHERE id = ?`).
	AddSame(CmdTrustedCount,
		`SELECT COUNT(*) FROM user_states WHERE valid_messages >= ? AND joined_at <= ?`)

// Store provides chats and trust-state persistence.
type Store struct {
	*engine.SQL
	lock engine.RWLocker
}

// New makes a store over the given engine and creates the tables.
func New(ctx context.Context, db *engine.SQL) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db connection is nil")
	}
	res := &Store{SQL: db, lock: db.MakeLock()}

	err := engine.InitTable(ctx, db, engine.TableConfig{
		Name: "chats", CreateTable: CmdCreateChatsTable, CreateIndexes: CmdCreateChatsIndexes, QueriesMap: queries})
	if err != nil {
		return nil, fmt.Errorf("failed to init chats table: %w", err)
	}
	err = engine.InitTable(ctx, db, engine.TableConfig{
		Name: "user_states", CreateTable: CmdCreateUserStatesTable, CreateIndexes: CmdCreateUserStatesIndexes, QueriesMap: queries})
	if err != nil {
		return nil, fmt.Errorf("failed to init user_states table: %w", err)
	}
	return res, nil
}

// query picks the dialect variant and adopts placeholders.
func (s *Store) query(cmd engine.DBCmd) (string, error) {
	q, err := queries.Pick(s.Type(), cmd)
	if err != nil {
		return "", err
	}
	return s.Adopt(q), nil
}

// Chats returns all registered chats.
func (s *Store) Chats(ctx context.Context) ([]ChatConfig, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	q, err := s.query(CmdListChats)
	if err != nil {
		return nil, err
	}
	var res []ChatConfig
	if err := s.SelectContext(ctx, &res, q); err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return res, nil
}

// TrustedCount returns the number of trusted users across all chats, i.e.
// users with enough valid messages who joined before the cutoff.
func (s *Store) TrustedCount(ctx context.Context, joinedBefore time.Time, minValidMessages int) (int, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	q, err := s.query(CmdTrustedCount)
	if err != nil {
		return 0, err
	}
	var res int
	if err := s.GetContext(ctx, &res, q, minValidMessages, joinedBefore); err != nil {
		return 0, fmt.Errorf("failed to count trusted users: %w", err)
	}
	return res, nil
}

// isUniqueViolation detects unique constraint errors across both engines.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value violates unique constraint") // postgres
}
