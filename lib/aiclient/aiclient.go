// Package aiclient implements a one-shot chat client for LLM backends. Two
// wire shapes are supported: OpenAI-compatible chat completions and the
// simple-chat shape used by ollama, picked by looking at the base url.
// A global semaphore caps in-flight requests independently of how many
// workers call the client.
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tokenizer "github.com/sandwich-go/gpt3-encoder"
	"github.com/sashabaranov/go-openai"
)

// Config describes the backend connection and request shaping limits.
type Config struct {
	BaseURL           string
	APIKey            string
	Model             string
	Timeout           time.Duration // per request
	Concurrency       int           // max in-flight requests
	MaxTokensRequest  int           // request truncated to this many tokens
	MaxSymbolsRequest int           // fallback cut when tokenizer fails
}

// Client is a one-shot LLM caller. Safe for concurrent use.
type Client struct {
	params     Config
	sem        chan struct{}
	simple     bool
	openai     *openai.Client
	httpClient *http.Client
	encoder    *tokenizer.Encoder
}

// New makes a client for the backend at params.BaseURL. Unset limits get
// sane defaults.
func New(params Config) *Client {
	if params.Timeout == 0 {
		params.Timeout = 30 * time.Second
	}
	if params.Concurrency <= 0 {
		params.Concurrency = 5
	}
	if params.MaxTokensRequest == 0 {
		params.MaxTokensRequest = 2048
	}
	if params.MaxSymbolsRequest == 0 {
		params.MaxSymbolsRequest = 8192
	}
	if params.Model == "" {
		params.Model = "gpt-4o-mini"
	}

	res := &Client{
		params:     params,
		sem:        make(chan struct{}, params.Concurrency),
		simple:     looksLikeSimpleChat(params.BaseURL),
		httpClient: &http.Client{Timeout: params.Timeout},
	}
	if enc, err := tokenizer.NewEncoder(); err == nil {
		res.encoder = enc
	}

	if !res.simple {
		cfg := openai.DefaultConfig(params.APIKey)
		base := strings.TrimSuffix(params.BaseURL, "/")
		if !strings.HasSuffix(base, "/v1") {
			base += "/v1"
		}
		cfg.BaseURL = base
		cfg.HTTPClient = res.httpClient
		res.openai = openai.NewClientWithConfig(cfg)
	}
	return res
}

// looksLikeSimpleChat guesses the ollama-style backend from the url, the
// default ollama port or an explicit /api/chat path.
func looksLikeSimpleChat(baseURL string) bool {
	u := strings.ToLower(baseURL)
	return strings.Contains(u, ":11434") || strings.Contains(u, "ollama") || strings.HasSuffix(strings.TrimSuffix(u, "/"), "/api/chat")
}

// OneShot sends a single user prompt and returns the raw model output.
// Blocks on the concurrency semaphore, then applies the per-request timeout.
func (c *Client) OneShot(ctx context.Context, prompt string, temperature float32) (string, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return "", &HTTPError{Message: fmt.Sprintf("canceled while waiting for slot: %v", ctx.Err())}
	}
	defer func() { <-c.sem }()

	ctx, cancel := context.WithTimeout(ctx, c.params.Timeout)
	defer cancel()

	prompt = c.reduceRequest(prompt)
	if c.simple {
		return c.simpleChat(ctx, prompt, temperature)
	}
	return c.chatCompletions(ctx, prompt, temperature)
}

func (c *Client) chatCompletions(ctx context.Context, prompt string, temperature float32) (string, error) {
	resp, err := c.openai.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.params.Model,
		Temperature: temperature,
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", &HTTPError{Code: apiErr.HTTPStatusCode, Message: apiErr.Message}
		}
		return "", &HTTPError{Message: err.Error()}
	}
	if len(resp.Choices) == 0 {
		return "", &FormatError{Message: "no choices in response"}
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", &FormatError{Message: "empty model output"}
	}
	return out, nil
}

type simpleChatRequest struct {
	Model    string              `json:"model"`
	Messages []simpleChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  simpleChatOptions   `json:"options"`
}

type simpleChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type simpleChatOptions struct {
	Temperature float32 `json:"temperature"`
}

type simpleChatResponse struct {
	Message simpleChatMessage `json:"message"`
}

func (c *Client) simpleChat(ctx context.Context, prompt string, temperature float32) (string, error) {
	endpoint := strings.TrimSuffix(c.params.BaseURL, "/")
	if !strings.HasSuffix(endpoint, "/api/chat") {
		endpoint += "/api/chat"
	}

	body, err := json.Marshal(simpleChatRequest{
		Model:    c.params.Model,
		Messages: []simpleChatMessage{{Role: "user", Content: prompt}},
		Stream:   false,
		Options:  simpleChatOptions{Temperature: temperature},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.params.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.params.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &HTTPError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2000))
		return "", &HTTPError{Code: resp.StatusCode, Message: string(snippet)}
	}

	var parsed simpleChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &FormatError{Message: fmt.Sprintf("can't decode response: %v", err)}
	}
	out := strings.TrimSpace(parsed.Message.Content)
	if out == "" {
		return "", &FormatError{Message: "empty model output"}
	}
	return out, nil
}

// reduceRequest cuts the prompt to the token budget, symbol cap fallback
// when the tokenizer is unavailable.
func (c *Client) reduceRequest(text string) string {
	if c.encoder == nil {
		if len(text) <= c.params.MaxSymbolsRequest {
			return text
		}
		return text[:c.params.MaxSymbolsRequest]
	}
	tokens, err := c.encoder.Encode(text)
	if err != nil {
		if len(text) <= c.params.MaxSymbolsRequest {
			return text
		}
		return text[:c.params.MaxSymbolsRequest]
	}
	if len(tokens) <= c.params.MaxTokensRequest {
		return text
	}
	return c.encoder.Decode(tokens[:c.params.MaxTokensRequest])
}
