package aiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLooksLikeSimpleChat(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"http://localhost:11434", true},
		{"http://ollama.local:8080", true},
		{"http://host/api/chat", true},
		{"http://host/api/chat/", true},
		{"https://api.openai.com", false},
		{"http://localhost:8000/v1", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, looksLikeSimpleChat(tt.url))
		})
	}
}

func TestClient_SimpleChat(t *testing.T) {
	var gotBody simpleChatRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{"message": map[string]string{"content": "0.85"}})
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL + "/api/chat", Model: "llama3"})
	require.True(t, c.simple)

	out, err := c.OneShot(context.Background(), "rate this", 0.2)
	require.NoError(t, err)
	assert.Equal(t, "0.85", out)
	assert.Equal(t, "llama3", gotBody.Model)
	assert.False(t, gotBody.Stream)
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, "user", gotBody.Messages[0].Role)
	assert.Equal(t, "rate this", gotBody.Messages[0].Content)
	assert.InDelta(t, 0.2, gotBody.Options.Temperature, 0.001)
}

func TestClient_SimpleChatErrors(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}))
		defer ts.Close()

		c := New(Config{BaseURL: ts.URL + "/api/chat"})
		_, err := c.OneShot(context.Background(), "x", 0)
		var httpErr *HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusNotFound, httpErr.Code)
		assert.Contains(t, httpErr.Message, "model not found")
	})

	t.Run("empty output", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"message": map[string]string{"content": "  "}})
		}))
		defer ts.Close()

		c := New(Config{BaseURL: ts.URL + "/api/chat"})
		_, err := c.OneShot(context.Background(), "x", 0)
		var fmtErr *FormatError
		assert.ErrorAs(t, err, &fmtErr)
	})

	t.Run("connection refused", func(t *testing.T) {
		c := New(Config{BaseURL: "http://127.0.0.1:1/api/chat", Timeout: time.Second})
		_, err := c.OneShot(context.Background(), "x", 0)
		var httpErr *HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, 0, httpErr.Code)
	})
}

func TestClient_ChatCompletions(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "0.4"}}},
		})
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, APIKey: "test-key", Model: "gpt-4o-mini"})
	require.False(t, c.simple)

	out, err := c.OneShot(context.Background(), "rate this", 0.2)
	require.NoError(t, err)
	assert.Equal(t, "0.4", out)
}

func TestClient_ChatCompletionsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": {"message": "rate limited", "type": "rate_limit"}}`, http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL})
	_, err := c.OneShot(context.Background(), "x", 0)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.Code)
}

func TestClient_ConcurrencyLimit(t *testing.T) {
	var inflight, maxInflight int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		cur := atomic.AddInt32(&inflight, 1)
		for {
			prev := atomic.LoadInt32(&maxInflight)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxInflight, prev, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		_ = json.NewEncoder(w).Encode(map[string]any{"message": map[string]string{"content": "0.1"}})
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL + "/api/chat", Concurrency: 2})
	done := make(chan error, 6)
	for i := 0; i < 6; i++ {
		go func() {
			_, err := c.OneShot(context.Background(), "x", 0)
			done <- err
		}()
	}
	for i := 0; i < 6; i++ {
		require.NoError(t, <-done)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&maxInflight), int32(2))
}

func TestClient_ReduceRequest(t *testing.T) {
	c := New(Config{BaseURL: "http://localhost:11434", MaxTokensRequest: 10, MaxSymbolsRequest: 40})

	short := "short prompt"
	assert.Equal(t, short, c.reduceRequest(short))

	long := strings.Repeat("the quick brown fox jumps over the lazy dog ", 50)
	reduced := c.reduceRequest(long)
	assert.Less(t, len(reduced), len(long))
}

func TestClient_CanceledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(Config{BaseURL: "http://localhost:11434"})
	c.sem <- struct{}{}
	c.sem <- struct{}{}
	c.sem <- struct{}{}
	c.sem <- struct{}{}
	c.sem <- struct{}{} // fill all slots so OneShot has to wait
	_, err := c.OneShot(ctx, "x", 0)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.True(t, errors.Is(ctx.Err(), context.Canceled))
}
