package antispam

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/tg-guard/app/antispam/mocks"
	"github.com/umputun/tg-guard/app/storage"
	"github.com/umputun/tg-guard/app/storage/engine"
	"github.com/umputun/tg-guard/lib/moderation"
)

var testNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

type procEnv struct {
	store      *storage.Store
	proc       *Processor
	deleter    *mocks.DeleterMock
	moderator  *mocks.ModeratorMock
	notifier   *mocks.NotifierMock
	spamLogger *mocks.SpamLoggerMock
}

func setupProc(t *testing.T, tweak func(*ProcessorParams)) *procEnv {
	db, err := engine.NewSqlite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := storage.New(context.Background(), db)
	require.NoError(t, err)

	env := &procEnv{
		store:      store,
		deleter:    &mocks.DeleterMock{DeleteMessageFunc: func(context.Context, int64, int) {}},
		moderator:  &mocks.ModeratorMock{CheckFunc: func(context.Context, moderation.Task) (*moderation.Hit, bool, error) { return nil, true, nil }},
		notifier:   &mocks.NotifierMock{NotifyFunc: func(context.Context, string) {}},
		spamLogger: &mocks.SpamLoggerMock{SaveFunc: func(moderation.Task, string) {}},
	}
	params := ProcessorParams{
		Deleter:          env.deleter,
		Moderator:        env.moderator,
		Notifier:         env.notifier,
		SpamLogger:       env.spamLogger,
		MinTimeInChat:    24 * time.Hour,
		MinValidMessages: 3,
		MaxEmoji:         5,
		AIEnabled:        true,
		NowFn:            func() time.Time { return testNow },
	}
	if tweak != nil {
		tweak(&params)
	}
	env.proc = NewProcessor(params)
	return env
}

// seedChat commits a chat row with the given settings
func (e *procEnv) seedChat(t *testing.T, chat storage.ChatConfig) storage.ChatConfig {
	sess, err := e.store.NewSession(context.Background())
	require.NoError(t, err)
	res, err := sess.CreateChat(context.Background(), chat)
	require.NoError(t, err)
	require.NoError(t, sess.Commit())
	return res
}

// seedUser commits a trust state with the given age and message count
func (e *procEnv) seedUser(t *testing.T, chatID, userID int64, joinedAt time.Time, validMessages int) {
	sess, err := e.store.NewSession(context.Background())
	require.NoError(t, err)
	state, err := sess.CreateUserState(context.Background(), chatID, userID, joinedAt)
	require.NoError(t, err)
	for i := 0; i < validMessages; i++ {
		require.NoError(t, sess.IncValidMessages(context.Background(), state.ID))
	}
	require.NoError(t, sess.Commit())
}

func (e *procEnv) validMessages(t *testing.T, chatID, userID int64) int {
	sess, err := e.store.NewSession(context.Background())
	require.NoError(t, err)
	defer sess.Rollback()
	state, found, err := sess.UserState(context.Background(), chatID, userID)
	require.NoError(t, err)
	require.True(t, found)
	return state.ValidMessages
}

func (e *procEnv) process(t *testing.T, task moderation.Task) Result {
	sess, err := e.store.NewSession(context.Background())
	require.NoError(t, err)
	res, err := e.proc.Process(context.Background(), sess, task)
	require.NoError(t, err)
	return res
}

func TestProcessor_NewChatStartsInactive(t *testing.T) {
	env := setupProc(t, nil)

	res := env.process(t, moderation.Task{ChatID: -100, MessageID: 1, UserID: 7, Text: "hi @spammer123", ChatTitle: "new group"})
	assert.Equal(t, ResultValid, res)
	assert.Empty(t, env.deleter.DeleteMessageCalls(), "inactive chats are observe-only")
	assert.Empty(t, env.moderator.CheckCalls())

	chats, err := env.store.Chats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, int64(-100), chats[0].TelegramChatID)
	assert.Equal(t, "new group", chats[0].Title)
	assert.False(t, chats[0].Active)
}

func TestProcessor_TitleSync(t *testing.T) {
	env := setupProc(t, nil)
	env.seedChat(t, storage.ChatConfig{TelegramChatID: -100, Title: "old title"})

	env.process(t, moderation.Task{ChatID: -100, MessageID: 1, UserID: 7, ChatTitle: "fresh title"})

	chats, err := env.store.Chats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "fresh title", chats[0].Title)
}

func TestProcessor_TrustedBypass(t *testing.T) {
	env := setupProc(t, nil)
	chat := env.seedChat(t, storage.ChatConfig{TelegramChatID: -100, Active: true, CleanupMention: true, AICheckEnabled: true})
	env.seedUser(t, chat.ID, 7, testNow.Add(-48*time.Hour), 5)

	res := env.process(t, moderation.Task{ChatID: -100, MessageID: 1, UserID: 7, Text: "hi @spammer123 check https://evil.io"})
	assert.Equal(t, ResultValid, res)
	assert.Empty(t, env.deleter.DeleteMessageCalls())
	assert.Empty(t, env.moderator.CheckCalls(), "trusted users skip all checks")
	assert.Equal(t, 5, env.validMessages(t, chat.ID, 7), "no increment on bypass")
}

func TestProcessor_TrustedBypassBoundary(t *testing.T) {
	env := setupProc(t, nil)
	chat := env.seedChat(t, storage.ChatConfig{TelegramChatID: -100, Active: true, AICheckEnabled: true})

	t.Run("exactly at both thresholds trusted", func(t *testing.T) {
		env.seedUser(t, chat.ID, 7, testNow.Add(-24*time.Hour), 3) // age == MinTimeInChat, count == MinValidMessages
		env.process(t, moderation.Task{ChatID: -100, MessageID: 1, UserID: 7, Text: "hello"})
		assert.Empty(t, env.moderator.CheckCalls(), "thresholds are inclusive")
		assert.Equal(t, 3, env.validMessages(t, chat.ID, 7), "no increment on bypass")
	})

	t.Run("one second short of the age threshold checked", func(t *testing.T) {
		env.moderator.ResetCalls()
		env.seedUser(t, chat.ID, 8, testNow.Add(-24*time.Hour+time.Second), 3)
		env.process(t, moderation.Task{ChatID: -100, MessageID: 2, UserID: 8, Text: "hello"})
		assert.Len(t, env.moderator.CheckCalls(), 1)
	})
}

func TestProcessor_ZeroThresholdsTrustImmediately(t *testing.T) {
	env := setupProc(t, func(p *ProcessorParams) {
		p.MinTimeInChat = 0
		p.MinValidMessages = 0
	})
	chat := env.seedChat(t, storage.ChatConfig{TelegramChatID: -100, Active: true, CleanupMention: true, AICheckEnabled: true})

	res := env.process(t, moderation.Task{ChatID: -100, MessageID: 1, UserID: 7, Text: "hi @spammer123"})
	assert.Equal(t, ResultValid, res)
	assert.Empty(t, env.deleter.DeleteMessageCalls(), "zero thresholds disable moderation for everyone")
	assert.Empty(t, env.moderator.CheckCalls())
	assert.Equal(t, 0, env.validMessages(t, chat.ID, 7))
}

func TestProcessor_AlmostTrustedStillChecked(t *testing.T) {
	env := setupProc(t, nil)
	chat := env.seedChat(t, storage.ChatConfig{TelegramChatID: -100, Active: true, AICheckEnabled: true})

	t.Run("old enough but too few messages", func(t *testing.T) {
		env.seedUser(t, chat.ID, 7, testNow.Add(-48*time.Hour), 2)
		env.process(t, moderation.Task{ChatID: -100, MessageID: 1, UserID: 7, Text: "hello"})
		assert.Len(t, env.moderator.CheckCalls(), 1)
	})

	t.Run("enough messages but too new", func(t *testing.T) {
		env.moderator.ResetCalls()
		env.seedUser(t, chat.ID, 8, testNow.Add(-time.Hour), 10)
		env.process(t, moderation.Task{ChatID: -100, MessageID: 2, UserID: 8, Text: "hello"})
		assert.Len(t, env.moderator.CheckCalls(), 1)
	})
}

func TestProcessor_RuleCascade(t *testing.T) {
	tests := []struct {
		name   string
		chat   storage.ChatConfig
		task   moderation.Task
		reason string
	}{
		{
			name:   "mentions",
			chat:   storage.ChatConfig{TelegramChatID: -100, Active: true, CleanupMention: true},
			task:   moderation.Task{ChatID: -100, MessageID: 1, UserID: 7, Text: "dm @promobot99 for deals"},
			reason: "mentions",
		},
		{
			name:   "links",
			chat:   storage.ChatConfig{TelegramChatID: -100, Active: true, CleanupLinks: true, AllowedDomains: storage.DomainList{"github.com"}},
			task:   moderation.Task{ChatID: -100, MessageID: 1, UserID: 7, Text: "click https://evil.io/win"},
			reason: "links",
		},
		{
			name:   "emoji",
			chat:   storage.ChatConfig{TelegramChatID: -100, Active: true, CleanupEmojis: true},
			task:   moderation.Task{ChatID: -100, MessageID: 1, UserID: 7, Text: "🚀🚀🚀🚀🚀🚀"},
			reason: "emoji",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupProc(t, nil)
			env.seedChat(t, tt.chat)

			res := env.process(t, tt.task)
			assert.Equal(t, ResultDeleted, res)
			require.Len(t, env.deleter.DeleteMessageCalls(), 1)
			assert.Equal(t, tt.task.ChatID, env.deleter.DeleteMessageCalls()[0].ChatID)
			assert.Equal(t, tt.task.MessageID, env.deleter.DeleteMessageCalls()[0].MsgID)
			require.Len(t, env.spamLogger.SaveCalls(), 1)
			assert.Equal(t, tt.reason, env.spamLogger.SaveCalls()[0].Reason)
			assert.Empty(t, env.moderator.CheckCalls(), "rules fire before AI")
		})
	}
}

func TestProcessor_RuleDisabledByChatFlag(t *testing.T) {
	env := setupProc(t, func(p *ProcessorParams) { p.AIEnabled = false })
	chat := env.seedChat(t, storage.ChatConfig{TelegramChatID: -100, Active: true}) // all cleanup flags off

	res := env.process(t, moderation.Task{ChatID: -100, MessageID: 1, UserID: 7, Text: "dm @promobot99 https://evil.io 🚀🚀🚀🚀🚀🚀"})
	assert.Equal(t, ResultValid, res)
	assert.Empty(t, env.deleter.DeleteMessageCalls())
	assert.Equal(t, 1, env.validMessages(t, chat.ID, 7))
}

func TestProcessor_AIHit(t *testing.T) {
	env := setupProc(t, nil)
	chat := env.seedChat(t, storage.ChatConfig{TelegramChatID: -100, Active: true, AICheckEnabled: true})
	env.moderator.CheckFunc = func(context.Context, moderation.Task) (*moderation.Hit, bool, error) {
		return &moderation.Hit{PromptIndex: 1, Score: 0.92}, true, nil
	}

	res := env.process(t, moderation.Task{ChatID: -100, MessageID: 5, UserID: 7, Text: "earn $5000 weekly"})
	assert.Equal(t, ResultDeleted, res)
	require.Len(t, env.deleter.DeleteMessageCalls(), 1)
	require.Len(t, env.spamLogger.SaveCalls(), 1)
	assert.Contains(t, env.spamLogger.SaveCalls()[0].Reason, "ai:")

	// user state exists but got no trust credit
	assert.Equal(t, 0, env.validMessages(t, chat.ID, 7))
}

func TestProcessor_AINoHitIncrementsTrust(t *testing.T) {
	env := setupProc(t, nil)
	chat := env.seedChat(t, storage.ChatConfig{TelegramChatID: -100, Active: true, AICheckEnabled: true})

	for i := 1; i <= 3; i++ {
		res := env.process(t, moderation.Task{ChatID: -100, MessageID: i, UserID: 7, Text: "normal chat"})
		assert.Equal(t, ResultValid, res)
		assert.Equal(t, i, env.validMessages(t, chat.ID, 7))
	}
	assert.Len(t, env.moderator.CheckCalls(), 3)
}

func TestProcessor_AIOffIncrementsTrust(t *testing.T) {
	env := setupProc(t, nil)
	chat := env.seedChat(t, storage.ChatConfig{TelegramChatID: -100, Active: true}) // ai off for the chat

	res := env.process(t, moderation.Task{ChatID: -100, MessageID: 1, UserID: 7, Text: "hello"})
	assert.Equal(t, ResultValid, res)
	assert.Empty(t, env.moderator.CheckCalls())
	assert.Equal(t, 1, env.validMessages(t, chat.ID, 7))
}

func TestProcessor_GlobalAIOffDowngradesChat(t *testing.T) {
	env := setupProc(t, func(p *ProcessorParams) { p.AIEnabled = false })
	chat := env.seedChat(t, storage.ChatConfig{TelegramChatID: -100, Active: true, AICheckEnabled: true})

	res := env.process(t, moderation.Task{ChatID: -100, MessageID: 1, UserID: 7, Text: "hello"})
	assert.Equal(t, ResultValid, res)
	assert.Empty(t, env.moderator.CheckCalls(), "global switch wins over the chat flag")
	assert.Equal(t, 1, env.validMessages(t, chat.ID, 7))
}

func TestProcessor_AIError(t *testing.T) {
	t.Run("permissive keeps message without credit", func(t *testing.T) {
		env := setupProc(t, nil) // default policy is permissive
		chat := env.seedChat(t, storage.ChatConfig{TelegramChatID: -100, Active: true, AICheckEnabled: true})
		env.moderator.CheckFunc = func(context.Context, moderation.Task) (*moderation.Hit, bool, error) {
			return nil, true, errors.New("service down")
		}

		res := env.process(t, moderation.Task{ChatID: -100, MessageID: 1, UserID: 7, Text: "hello"})
		assert.Equal(t, ResultValid, res)
		assert.Empty(t, env.deleter.DeleteMessageCalls())
		require.Len(t, env.notifier.NotifyCalls(), 1)
		assert.Contains(t, env.notifier.NotifyCalls()[0].Message, "service down")
		assert.Equal(t, 0, env.validMessages(t, chat.ID, 7), "no trust credit on AI failure")
	})

	t.Run("closed deletes message", func(t *testing.T) {
		env := setupProc(t, func(p *ProcessorParams) { p.FailPolicy = FailClosed })
		env.seedChat(t, storage.ChatConfig{TelegramChatID: -100, Active: true, AICheckEnabled: true})
		env.moderator.CheckFunc = func(context.Context, moderation.Task) (*moderation.Hit, bool, error) {
			return nil, true, errors.New("service down")
		}

		res := env.process(t, moderation.Task{ChatID: -100, MessageID: 1, UserID: 7, Text: "hello"})
		assert.Equal(t, ResultDeleted, res)
		require.Len(t, env.deleter.DeleteMessageCalls(), 1)
		require.Len(t, env.notifier.NotifyCalls(), 1)
	})
}

func TestProcessor_WhitelistedLinkPassesToAI(t *testing.T) {
	env := setupProc(t, nil)
	env.seedChat(t, storage.ChatConfig{
		TelegramChatID: -100, Active: true, CleanupLinks: true, AICheckEnabled: true,
		AllowedDomains: storage.DomainList{"github.com"},
	})

	res := env.process(t, moderation.Task{ChatID: -100, MessageID: 1, UserID: 7, Text: "see https://github.com/umputun"})
	assert.Equal(t, ResultValid, res)
	assert.Empty(t, env.deleter.DeleteMessageCalls())
	assert.Len(t, env.moderator.CheckCalls(), 1, "clean message still goes through AI")
}
