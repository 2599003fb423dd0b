package moderation

import (
	"context"
	"log"
	"regexp"
	"strconv"
	"strings"
)

// AIClient is the minimal LLM contract the scorer needs, implemented by
// lib/aiclient. Returns the raw model output for a single prompt.
type AIClient interface {
	OneShot(ctx context.Context, prompt string, temperature float32) (string, error)
}

// Scorer turns a moderation prompt into a raw model response. With no client
// configured every call returns "0.0", i.e. the AI check always passes.
type Scorer struct {
	client      AIClient
	temperature float32
}

// NewScorer makes a scorer over the given client, nil client allowed.
func NewScorer(client AIClient, temperature float32) *Scorer {
	return &Scorer{client: client, temperature: temperature}
}

// Score sends the prompt and returns the raw response. The unconfigured case
// is loud, it silently disables the whole AI layer otherwise.
func (s *Scorer) Score(ctx context.Context, prompt string) (string, error) {
	if s.client == nil {
		log.Printf("[WARN] ( ! ) ai service not configured, ai check will always pass with score 0.0 ( ! )")
		return "0.0", nil
	}
	return s.client.OneShot(ctx, prompt, s.temperature)
}

var scoreRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// ExtractScore parses a numeric spam score out of raw model output. Accepts
// the whole trimmed string as a float, or the first numeric token found.
// Values outside [0, 1] are rejected, never clamped.
func ExtractScore(raw string) (float64, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, false
	}
	if v, err := strconv.ParseFloat(trimmed, 64); err == nil {
		if v >= 0 && v <= 1 {
			return v, true
		}
		return 0, false
	}
	tok := scoreRe.FindString(trimmed)
	if tok == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil || v < 0 || v > 1 {
		return 0, false
	}
	return v, true
}
