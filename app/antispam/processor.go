// Package antispam implements the moderation pipeline: the message processor
// with its trust state machine and the queue-backed worker service driving it.
package antispam

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/umputun/tg-guard/app/metrics"
	"github.com/umputun/tg-guard/app/storage"
	"github.com/umputun/tg-guard/lib/moderation"
)

//go:generate moq --out mocks/deleter.go --pkg mocks --skip-ensure --with-resets . Deleter
//go:generate moq --out mocks/moderator.go --pkg mocks --skip-ensure --with-resets . Moderator
//go:generate moq --out mocks/notifier.go --pkg mocks --skip-ensure --with-resets . Notifier
//go:generate moq --out mocks/spam_logger.go --pkg mocks --skip-ensure --with-resets . SpamLogger

// Deleter removes a message from a chat. Failures are handled inside the
// implementation, a failed delete never fails the pipeline.
type Deleter interface {
	DeleteMessage(ctx context.Context, chatID int64, msgID int)
}

// Moderator runs the AI prompt cascade for a task.
type Moderator interface {
	Check(ctx context.Context, task moderation.Task) (hit *moderation.Hit, requested bool, err error)
}

// Notifier delivers admin alerts about AI failures, rate limiting is the
// implementation's business.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// SpamLogger records deleted messages for the audit trail.
type SpamLogger interface {
	Save(task moderation.Task, reason string)
}

// FailPolicy decides what happens to a message when the AI check errors out.
type FailPolicy string

// fail policies for AI errors
const (
	FailPermissive FailPolicy = "permissive" // keep the message, no trust increment
	FailClosed     FailPolicy = "closed"     // delete the message
)

// Result is the outcome of processing one task.
type Result string

// processing outcomes
const (
	ResultValid   Result = "valid"
	ResultDeleted Result = "deleted"
)

// ProcessorParams is the full set of collaborators and thresholds for the
// processor.
type ProcessorParams struct {
	Deleter    Deleter
	Moderator  Moderator
	Notifier   Notifier
	SpamLogger SpamLogger
	Metrics    metrics.Collector

	MinTimeInChat    time.Duration // trust age threshold
	MinValidMessages int           // trust message threshold
	MaxEmoji         int           // emoji rule limit, negative disables
	AIEnabled        bool          // global AI switch, overrides per-chat flags
	FailPolicy       FailPolicy

	NowFn func() time.Time // injected clock for tests
}

// Processor applies the trust state machine and the detector cascade to one
// message at a time. Stateless between calls, all persistence goes through
// the session passed to Process.
type Processor struct {
	ProcessorParams
}

// NewProcessor makes a processor, filling defaults for unset params.
func NewProcessor(params ProcessorParams) *Processor {
	if params.Metrics == nil {
		params.Metrics = metrics.Noop{}
	}
	if params.FailPolicy == "" {
		params.FailPolicy = FailPermissive
	}
	if params.NowFn == nil {
		params.NowFn = time.Now
	}
	// zero trust thresholds are legitimate, they mean trust right away
	return &Processor{ProcessorParams: params}
}

// Process runs the fixed evaluation order for one task inside the given
// session. The session is committed on every terminal path, the caller rolls
// back only when an error is returned.
func (p *Processor) Process(ctx context.Context, sess *storage.Session, task moderation.Task) (Result, error) {
	chat, err := p.ensureChat(ctx, sess, task)
	if err != nil {
		return ResultValid, err
	}
	if chat == nil { // vanished after a create race, nothing to moderate
		return ResultValid, sess.Commit()
	}

	if task.ChatTitle != "" && chat.Title != task.ChatTitle {
		if err := sess.UpdateChatTitle(ctx, chat.ID, task.ChatTitle); err != nil {
			return ResultValid, err
		}
	}

	if !chat.Active {
		return ResultValid, sess.Commit()
	}

	state, err := p.ensureUserState(ctx, sess, chat, task)
	if err != nil {
		return ResultValid, err
	}

	now := p.NowFn().UTC()
	age := now.Sub(state.JoinedAt)
	if age >= p.MinTimeInChat && state.ValidMessages >= p.MinValidMessages {
		return ResultValid, sess.Commit() // trusted users bypass all checks
	}

	if reason := p.ruleReason(task, chat); reason != "" {
		p.deleteAsSpam(ctx, task, reason)
		return ResultDeleted, sess.Commit()
	}

	aiEnabled := chat.AICheckEnabled
	if aiEnabled && !p.AIEnabled {
		log.Printf("[WARN] ai checks disabled globally, ignoring ai_check_enabled for chat %d", task.ChatID)
		aiEnabled = false
	}

	if aiEnabled {
		hit, requested, checkErr := p.Moderator.Check(ctx, task)
		if requested {
			p.Metrics.IncAIRequests()
		}
		if checkErr != nil {
			return p.applyFailPolicy(ctx, sess, task, checkErr)
		}
		if hit != nil {
			p.deleteAsSpam(ctx, task, fmt.Sprintf("ai: %s", hit))
			return ResultDeleted, sess.Commit()
		}
	}

	if err := sess.IncValidMessages(ctx, state.ID); err != nil {
		return ResultValid, err
	}
	if age >= p.MinTimeInChat && state.ValidMessages+1 >= p.MinValidMessages {
		log.Printf("[INFO] user %d in chat %d promoted to trusted", task.UserID, task.ChatID)
	}
	return ResultValid, sess.Commit()
}

// ensureChat fetches the chat config, registering an inactive chat with safe
// defaults on first sight. A concurrent create is resolved by restarting the
// session and re-fetching. Nil result means the chat could not be resolved,
// the caller treats the message as valid.
func (p *Processor) ensureChat(ctx context.Context, sess *storage.Session, task moderation.Task) (*storage.ChatConfig, error) {
	chat, found, err := sess.ChatByTelegramID(ctx, task.ChatID)
	if err != nil {
		return nil, err
	}
	if found {
		return &chat, nil
	}

	chat, err = sess.CreateChat(ctx, storage.ChatConfig{TelegramChatID: task.ChatID, Title: task.ChatTitle})
	if err == nil {
		log.Printf("[INFO] registered new chat %d %q, inactive until enabled", task.ChatID, task.ChatTitle)
		return &chat, nil
	}
	if !errors.Is(err, storage.ErrDuplicate) {
		return nil, err
	}

	// lost the create race, the row exists now in another transaction
	if err := sess.Restart(ctx); err != nil {
		return nil, err
	}
	chat, found, err = sess.ChatByTelegramID(ctx, task.ChatID)
	if err != nil {
		return nil, err
	}
	if !found {
		log.Printf("[WARN] chat %d missing after create race, skipping message %d", task.ChatID, task.MessageID)
		return nil, nil
	}
	return &chat, nil
}

// ensureUserState fetches or creates the trust state. On a create race the
// session restarts, so the chat title sync is replayed before re-fetching.
func (p *Processor) ensureUserState(ctx context.Context, sess *storage.Session, chat *storage.ChatConfig, task moderation.Task) (storage.UserState, error) {
	state, found, err := sess.UserState(ctx, chat.ID, task.UserID)
	if err != nil {
		return storage.UserState{}, err
	}
	if found {
		return state, nil
	}

	state, err = sess.CreateUserState(ctx, chat.ID, task.UserID, p.NowFn().UTC())
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, storage.ErrDuplicate) {
		return storage.UserState{}, err
	}

	if err := sess.Restart(ctx); err != nil {
		return storage.UserState{}, err
	}
	if task.ChatTitle != "" && chat.Title != task.ChatTitle {
		if err := sess.UpdateChatTitle(ctx, chat.ID, task.ChatTitle); err != nil {
			return storage.UserState{}, err
		}
	}
	state, found, err = sess.UserState(ctx, chat.ID, task.UserID)
	if err != nil {
		return storage.UserState{}, err
	}
	if !found {
		return storage.UserState{}, fmt.Errorf("user state %d/%d missing after create race", chat.ID, task.UserID)
	}
	return state, nil
}

// ruleReason runs the detector cascade in fixed order per the chat's flags.
func (p *Processor) ruleReason(task moderation.Task, chat *storage.ChatConfig) string {
	switch {
	case chat.CleanupMention && moderation.HasMentions(task):
		return "mentions"
	case chat.CleanupLinks && moderation.HasLinks(task, chat.AllowedDomains):
		return "links"
	case chat.CleanupEmojis && moderation.HasExcessiveEmoji(task, p.MaxEmoji):
		return "emoji"
	}
	return ""
}

func (p *Processor) deleteAsSpam(ctx context.Context, task moderation.Task, reason string) {
	log.Printf("[INFO] deleting message %s, reason: %s", task, reason)
	p.Deleter.DeleteMessage(ctx, task.ChatID, task.MessageID)
	if p.SpamLogger != nil {
		p.SpamLogger.Save(task, reason)
	}
	p.Metrics.IncSpamBlocked()
}

// applyFailPolicy handles an AI check error: alert the admin and either keep
// the message without a trust increment or delete it, per the configured
// policy. The session commits in both cases, the error is consumed here.
func (p *Processor) applyFailPolicy(ctx context.Context, sess *storage.Session, task moderation.Task, checkErr error) (Result, error) {
	p.Metrics.IncErrors()
	if p.Notifier != nil {
		p.Notifier.Notify(ctx, fmt.Sprintf("AI check failed for %s: %v", task, checkErr))
	}
	if p.FailPolicy == FailClosed {
		log.Printf("[WARN] ai check failed for %s, fail-closed policy deletes it: %v", task, checkErr)
		p.deleteAsSpam(ctx, task, "ai failure, fail-closed policy")
		return ResultDeleted, sess.Commit()
	}
	log.Printf("[WARN] ai check failed for %s, keeping message without trust credit: %v", task, checkErr)
	return ResultValid, sess.Commit()
}
