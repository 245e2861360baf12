// Package relay implements the resilient bridge to an OpenAI-compatible
// chat completions API: a single-call client, bounded retry with
// exponential backoff and jitter, a client-side timeout race, primary to
// fallback model orchestration, and per-caller conversation state.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ModelSelection fixes the primary and optional fallback model at startup.
type ModelSelection struct {
	Primary  string
	Fallback string
}

// Response is the parsed reply of one completion call.
type Response struct {
	Content      string
	FinishReason string
	Model        string // the model that actually answered
	Usage        Usage
}

// Usage is the upstream token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client calls the chat completions endpoint with retry, backoff, timeout
// and fallback applied. It is safe for concurrent use.
type Client struct {
	baseURL     string
	apiKey      string
	models      ModelSelection
	policy      RetryPolicy
	callTimeout time.Duration
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient builds a Client from config. Zero config fields fall back to
// the built-in defaults.
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	api := cfg.API.Effective()

	return &Client{
		baseURL:     strings.TrimRight(api.BaseURL, "/"),
		apiKey:      api.APIKey,
		models:      ModelSelection{Primary: cfg.Model, Fallback: cfg.FallbackModel},
		policy:      NewRetryPolicy(cfg.Retry),
		callTimeout: time.Duration(api.CallTimeoutMs) * time.Millisecond,
		temperature: api.Temperature,
		maxTokens:   api.MaxTokens,
		httpClient: &http.Client{
			// No client-wide timeout: the per-call budget bounds each
			// invocation through its context.
			Transport: &http.Transport{
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   5,
				IdleConnTimeout:       120 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 60 * time.Second,
			},
		},
		logger: logger.With("component", "llm"),
	}
}

// chatRequest is the chat completions request body.
type chatRequest struct {
	Model       string     `json:"model"`
	Messages    []Exchange `json:"messages"`
	Temperature *float64   `json:"temperature,omitempty"`
	MaxTokens   *int       `json:"max_tokens,omitempty"`
}

// chatResponse is the chat completions response body.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// completeOnce performs a single chat completion request. HTTP-level
// failures come back as *APIError so the retry policy can classify them.
func (c *Client) completeOnce(ctx context.Context, model string, messages []Exchange) (*Response, error) {
	reqBody := chatRequest{
		Model:    model,
		Messages: messages,
	}
	if c.temperature > 0 {
		t := c.temperature
		reqBody.Temperature = &t
	}
	if c.maxTokens > 0 {
		m := c.maxTokens
		reqBody.MaxTokens = &m
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("sending chat completion",
		"model", model,
		"messages", len(messages),
		"endpoint", endpoint)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// Some upstreams echo the Authorization header into error bodies.
		// Scrub before the body reaches an error value or a log line.
		bodyStr := RedactSecret(string(respBody), c.apiKey)
		apierr := &APIError{StatusCode: resp.StatusCode, Body: bodyStr}
		if resp.StatusCode == http.StatusTooManyRequests {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if sec, convErr := strconv.Atoi(ra); convErr == nil && sec > 0 {
					apierr.RetryAfterSec = sec
				}
			}
		}
		c.logger.Error("API error",
			"model", model,
			"status", resp.StatusCode,
			"body", truncate(bodyStr, 500))
		return nil, apierr
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", chatResp.Error.Message)
	}

	out := &Response{Model: model}
	// A reply without choices or content counts as an empty answer, not a
	// failure: the call itself succeeded.
	if len(chatResp.Choices) > 0 {
		choice := chatResp.Choices[0]
		out.Content = strings.TrimSpace(choice.Message.Content)
		out.FinishReason = choice.FinishReason
	}
	out.Usage = Usage{
		PromptTokens:     chatResp.Usage.PromptTokens,
		CompletionTokens: chatResp.Usage.CompletionTokens,
		TotalTokens:      chatResp.Usage.TotalTokens,
	}

	c.logger.Info("chat completion done",
		"model", model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", out.Usage.PromptTokens,
		"completion_tokens", out.Usage.CompletionTokens,
		"finish_reason", out.FinishReason)

	return out, nil
}
