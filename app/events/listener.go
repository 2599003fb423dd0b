package events

import (
	"context"
	"fmt"
	"log"
	"strings"

	tbapi "github.com/OvyFlash/telegram-bot-api"

	"github.com/umputun/tg-guard/lib/moderation"
)

// Enqueuer accepts tasks for asynchronous processing, implemented by
// antispam.Service.
type Enqueuer interface {
	Enqueue(task moderation.Task)
}

// TelegramListener consumes the updates stream, converts group messages to
// moderation tasks and hands them to the queue. Messages from bots and super
// users never enter the pipeline.
type TelegramListener struct {
	TbAPI      TbAPI
	Queue      Enqueuer
	SuperUsers SuperUsers
}

// Do runs the updates loop until the context is canceled or the updates
// channel closes.
func (l *TelegramListener) Do(ctx context.Context) error {
	u := tbapi.NewUpdate(0)
	u.Timeout = 60

	updates := l.TbAPI.GetUpdatesChan(u)
	log.Printf("[INFO] listener started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("telegram update chan closed")
			}
			l.procEvent(update)
		}
	}
}

func (l *TelegramListener) procEvent(update tbapi.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	if msg.Chat.Type != "group" && msg.Chat.Type != "supergroup" {
		return
	}
	if msg.From == nil || msg.From.IsBot {
		return
	}
	if l.SuperUsers.IsSuper(msg.From.UserName, msg.From.ID) {
		log.Printf("[DEBUG] skipping message %d from super user %s", msg.MessageID, msg.From.UserName)
		return
	}

	// media-only messages enqueue with empty text, they still earn trust credit
	task := l.transform(msg)
	log.Printf("[DEBUG] incoming %s: %q", task, strings.ReplaceAll(task.Text, "\n", " "))
	l.Queue.Enqueue(task)
}

// transform converts a telegram message to a moderation task, a snapshot of
// everything the pipeline needs. Caption and caption entities stand in for
// text on media messages.
func (l *TelegramListener) transform(msg *tbapi.Message) moderation.Task {
	text := msg.Text
	entities := msg.Entities
	if text == "" && msg.Caption != "" {
		text = msg.Caption
		entities = msg.CaptionEntities
	}

	task := moderation.Task{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      text,
		ChatTitle: msg.Chat.Title,
	}
	if msg.From != nil {
		task.UserID = msg.From.ID
	}
	for _, e := range entities {
		task.Entities = append(task.Entities, moderation.Entity{Type: e.Type, Offset: e.Offset, Length: e.Length, URL: e.URL})
	}
	return task
}
