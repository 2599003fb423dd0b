package moderation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type aiClientFunc func(ctx context.Context, prompt string, temperature float32) (string, error)

func (f aiClientFunc) OneShot(ctx context.Context, prompt string, temperature float32) (string, error) {
	return f(ctx, prompt, temperature)
}

func TestScorer_Score(t *testing.T) {
	t.Run("delegates to client", func(t *testing.T) {
		var gotPrompt string
		s := NewScorer(aiClientFunc(func(_ context.Context, prompt string, temperature float32) (string, error) {
			gotPrompt = prompt
			assert.InDelta(t, 0.2, temperature, 0.001)
			return "0.9", nil
		}), 0.2)
		res, err := s.Score(context.Background(), "rate this")
		require.NoError(t, err)
		assert.Equal(t, "0.9", res)
		assert.Equal(t, "rate this", gotPrompt)
	})

	t.Run("nil client always passes", func(t *testing.T) {
		s := NewScorer(nil, 0.2)
		res, err := s.Score(context.Background(), "rate this")
		require.NoError(t, err)
		assert.Equal(t, "0.0", res)
	})

	t.Run("client error propagated", func(t *testing.T) {
		s := NewScorer(aiClientFunc(func(context.Context, string, float32) (string, error) {
			return "", errors.New("boom")
		}), 0.2)
		_, err := s.Score(context.Background(), "rate this")
		assert.Error(t, err)
	})
}

func TestExtractScore(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want float64
		ok   bool
	}{
		{"plain float", "0.7", 0.7, true},
		{"with whitespace", "  0.7\n", 0.7, true},
		{"integer zero", "0", 0, true},
		{"integer one", "1", 1, true},
		{"embedded in text", "the score is 0.85 because", 0.85, true},
		{"first token wins", "0.2 or maybe 0.9", 0.2, true},
		{"over range rejected", "1.5", 0, false},
		{"percent style rejected", "100", 0, false},
		{"negative rejected", "-0.3", 0, false},
		{"no number", "definitely spam", 0, false},
		{"empty", "   ", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractScore(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 0.0001)
			}
		})
	}
}
