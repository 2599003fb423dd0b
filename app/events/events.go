// Package events provides the telegram-facing side of the bot: the updates
// listener feeding the anti-spam queue, the permission-checked message
// deleter and the rate-limited admin notifier.
package events

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	tbapi "github.com/OvyFlash/telegram-bot-api"
)

//go:generate moq --out mocks/tb_api.go --pkg mocks --skip-ensure --with-resets . TbAPI

// TbAPI is an interface for telegram bot API, only the subset of methods used
type TbAPI interface {
	GetUpdatesChan(config tbapi.UpdateConfig) tbapi.UpdatesChannel
	Send(c tbapi.Chattable) (tbapi.Message, error)
	Request(c tbapi.Chattable) (*tbapi.APIResponse, error)
	GetChat(config tbapi.ChatInfoConfig) (tbapi.ChatFullInfo, error)
	GetChatMember(config tbapi.GetChatMemberConfig) (tbapi.ChatMember, error)
}

// SuperUsers is a list of usernames and ids excluded from moderation
type SuperUsers []string

// IsSuper checks if the user is in the super list, by username or id
func (s SuperUsers) IsSuper(userName string, userID int64) bool {
	for _, super := range s {
		if strings.EqualFold(userName, super) || strings.EqualFold("/"+userName, super) {
			return true
		}
		if super == strconv.FormatInt(userID, 10) {
			return true
		}
	}
	return false
}

// ResolveChatID converts a group reference, numeric id or public group name,
// to a chat id.
func ResolveChatID(api TbAPI, group string) (int64, error) {
	if group == "" {
		return 0, fmt.Errorf("empty group")
	}
	if id, err := strconv.ParseInt(group, 10, 64); err == nil {
		return id, nil
	}
	chat, err := api.GetChat(tbapi.ChatInfoConfig{ChatConfig: tbapi.ChatConfig{SuperGroupUsername: "@" + strings.TrimPrefix(group, "@")}})
	if err != nil {
		return 0, fmt.Errorf("can't get chat for %s: %w", group, err)
	}
	return chat.ID, nil
}

// Deleter removes messages after verifying the bot can actually do it in the
// target chat, owner or admin with delete permission. Every failure is logged
// and swallowed, a failed delete never escalates.
type Deleter struct {
	TbAPI TbAPI
	BotID int64 // the bot's own user id, for the permission lookup
	Dry   bool  // log intended deletions without performing them
}

// DeleteMessage deletes a message if the bot has the rights for it. The
// context is accepted for interface compatibility, telegram-bot-api calls
// don't take one.
func (d *Deleter) DeleteMessage(_ context.Context, chatID int64, msgID int) {
	member, err := d.TbAPI.GetChatMember(tbapi.GetChatMemberConfig{
		ChatConfigWithUser: tbapi.ChatConfigWithUser{ChatConfig: tbapi.ChatConfig{ChatID: chatID}, UserID: d.BotID}})
	if err != nil {
		log.Printf("[WARN] can't check bot permissions in chat %d: %v", chatID, err)
		return
	}
	isOwner := member.Status == "creator"
	isAdminWithDelete := member.Status == "administrator" && member.CanDeleteMessages
	if !isOwner && !isAdminWithDelete {
		log.Printf("[WARN] can't delete message %d in chat %d, bot status %q lacks delete permission", msgID, chatID, member.Status)
		return
	}

	if d.Dry {
		log.Printf("[INFO] dry mode: would delete message %d in chat %d", msgID, chatID)
		return
	}

	if _, err := d.TbAPI.Request(tbapi.NewDeleteMessage(chatID, msgID)); err != nil {
		log.Printf("[WARN] failed to delete message %d in chat %d: %v", msgID, chatID, err)
		return
	}
	log.Printf("[INFO] deleted message %d in chat %d", msgID, chatID)
}
