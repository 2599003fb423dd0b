// Package moderation provides the pure building blocks of the anti-spam
// pipeline: the message task model, rule detectors, the dedupe set, prompt
// management and the AI scoring moderator. The package has no telegram or
// storage dependencies and can be embedded in other bots.
package moderation

import "fmt"

// Task is a single inbound message to evaluate, a snapshot taken at receive
// time so processing never goes back to the transport.
type Task struct {
	ChatID    int64
	MessageID int
	UserID    int64
	Text      string
	Entities  []Entity
	ChatTitle string
}

// Entity is a rich-text annotation attached to the message, offsets are in
// utf-16 code units as telegram sends them.
type Entity struct {
	Type   string
	Offset int
	Length int
	URL    string
}

func (t Task) String() string {
	return fmt.Sprintf("chat:%d msg:%d user:%d", t.ChatID, t.MessageID, t.UserID)
}

// Hit is a positive AI moderation verdict, the prompt that fired and the
// score it produced.
type Hit struct {
	PromptIndex int
	Score       float64
}

func (h Hit) String() string {
	return fmt.Sprintf("prompt:%d score:%.2f", h.PromptIndex, h.Score)
}
