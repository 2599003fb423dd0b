package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Session is a single transaction scope, one per processed message. All
// trust-state mutations for a message go through one session and become
// visible together on Commit.
type Session struct {
	store *Store
	tx    *sqlx.Tx
}

// NewSession starts a transaction-backed session.
func (s *Store) NewSession(ctx context.Context) (*Session, error) {
	tx, err := s.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return &Session{store: s, tx: tx}, nil
}

// Commit commits the transaction.
func (s *Session) Commit() error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	return nil
}

// Rollback rolls the transaction back. Safe to call after Commit, the
// already-done error is swallowed.
func (s *Session) Rollback() error {
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback session: %w", err)
	}
	return nil
}

// Restart discards the current transaction and starts a fresh one, used to
// recover from a unique-constraint race where the failed transaction can't
// run further statements.
func (s *Session) Restart(ctx context.Context) error {
	if err := s.Rollback(); err != nil {
		return err
	}
	tx, err := s.store.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to restart session: %w", err)
	}
	s.tx = tx
	return nil
}

// ChatByTelegramID fetches a chat by its telegram id, found is false on miss.
func (s *Session) ChatByTelegramID(ctx context.Context, telegramChatID int64) (chat ChatConfig, found bool, err error) {
	q, err := s.store.query(CmdGetChatByTelegramID)
	if err != nil {
		return ChatConfig{}, false, err
	}
	if err := s.tx.GetContext(ctx, &chat, q, telegramChatID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ChatConfig{}, false, nil
		}
		return ChatConfig{}, false, fmt.Errorf("failed to get chat %d: %w", telegramChatID, err)
	}
	return chat, true, nil
}

// CreateChat inserts a new chat row and returns it with the id set. Returns
// ErrDuplicate when another session created the same chat first.
func (s *Session) CreateChat(ctx context.Context, chat ChatConfig) (ChatConfig, error) {
	q, err := s.store.query(CmdCreateChat)
	if err != nil {
		return ChatConfig{}, err
	}
	now := time.Now().UTC()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	if chat.UpdatedAt.IsZero() {
		chat.UpdatedAt = now
	}
	if chat.AllowedDomains == nil {
		chat.AllowedDomains = DomainList{}
	}
	err = s.tx.GetContext(ctx, &chat.ID, q, chat.TelegramChatID, chat.Title, chat.Active, chat.AICheckEnabled,
		chat.CleanupMention, chat.CleanupLinks, chat.CleanupEmojis, chat.AllowedDomains, chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ChatConfig{}, fmt.Errorf("chat %d already exists: %w", chat.TelegramChatID, ErrDuplicate)
		}
		return ChatConfig{}, fmt.Errorf("failed to create chat %d: %w", chat.TelegramChatID, err)
	}
	return chat, nil
}

// UpdateChatTitle syncs the stored title with the one seen on the wire.
func (s *Session) UpdateChatTitle(ctx context.Context, chatID int64, title string) error {
	q, err := s.store.query(CmdUpdateChatTitle)
	if err != nil {
		return err
	}
	if _, err := s.tx.ExecContext(ctx, q, title, time.Now().UTC(), chatID); err != nil {
		return fmt.Errorf("failed to update title for chat %d: %w", chatID, err)
	}
	return nil
}

// UserState fetches the trust state for a user in a chat, found is false on
// miss.
func (s *Session) UserState(ctx context.Context, chatID, telegramUserID int64) (state UserState, found bool, err error) {
	q, err := s.store.query(CmdGetUserState)
	if err != nil {
		return UserState{}, false, err
	}
	if err := s.tx.GetContext(ctx, &state, q, chatID, telegramUserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserState{}, false, nil
		}
		return UserState{}, false, fmt.Errorf("failed to get user state %d/%d: %w", chatID, telegramUserID, err)
	}
	return state, true, nil
}

// CreateUserState inserts a fresh trust state with zero valid messages.
// Returns ErrDuplicate when another session created it first.
func (s *Session) CreateUserState(ctx context.Context, chatID, telegramUserID int64, joinedAt time.Time) (UserState, error) {
	q, err := s.store.query(CmdCreateUserState)
	if err != nil {
		return UserState{}, err
	}
	state := UserState{ChatID: chatID, TelegramUserID: telegramUserID, JoinedAt: joinedAt.UTC()}
	if err := s.tx.GetContext(ctx, &state.ID, q, chatID, telegramUserID, state.JoinedAt); err != nil {
		if isUniqueViolation(err) {
			return UserState{}, fmt.Errorf("user state %d/%d already exists: %w", chatID, telegramUserID, ErrDuplicate)
		}
		return UserState{}, fmt.Errorf("failed to create user state %d/%d: %w", chatID, telegramUserID, err)
	}
	return state, nil
}

// IncValidMessages bumps the valid message counter by one.
func (s *Session) IncValidMessages(ctx context.Context, stateID int64) error {
	q, err := s.store.query(CmdIncValidMessages)
	if err != nil {
		return err
	}
	if _, err := s.tx.ExecContext(ctx, q, stateID); err != nil {
		return fmt.Errorf("failed to increment valid messages for %d: %w", stateID, err)
	}
	return nil
}
