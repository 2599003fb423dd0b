package moderation

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Moderator runs the ordered prompts against a message and short-circuits on
// the first score over the threshold.
type Moderator struct {
	scorer    *Scorer
	prompts   *PromptSet
	threshold float64
}

// NewModerator makes a moderator over the given scorer and prompt set.
func NewModerator(scorer *Scorer, prompts *PromptSet, threshold float64) *Moderator {
	return &Moderator{scorer: scorer, prompts: prompts, threshold: threshold}
}

// Check evaluates the task text prompt by prompt. Returns the first hit with
// score >= threshold, or nil if none fired. requested is false when the text
// is empty and no model call was made. An unparseable score skips to the next
// prompt, a scorer error aborts the evaluation and is returned to the caller
// to apply its fail policy.
func (m *Moderator) Check(ctx context.Context, task Task) (hit *Hit, requested bool, err error) {
	text := strings.TrimSpace(CleanText(task.Text))
	if text == "" {
		return nil, false, nil
	}

	for i := 0; i < m.prompts.Len(); i++ {
		prompt, err := m.prompts.Build(i, text)
		if err != nil {
			return nil, true, fmt.Errorf("failed to build prompt %d: %w", i, err)
		}
		raw, err := m.scorer.Score(ctx, prompt)
		if err != nil {
			return nil, true, fmt.Errorf("scoring failed on prompt %d for %s: %w", i, task, err)
		}
		score, ok := ExtractScore(raw)
		if !ok {
			log.Printf("[WARN] unparseable score %q from prompt %d for %s", raw, i, task)
			continue
		}
		if score >= m.threshold {
			return &Hit{PromptIndex: i, Score: score}, true, nil
		}
	}
	return nil, true, nil
}
