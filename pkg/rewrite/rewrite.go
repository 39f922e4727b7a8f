// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package rewrite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrUpstream is returned when the rewrite service fails or answers with nothing usable.
var ErrUpstream = errors.New("rewrite upstream error")

// Defaults for the chat completions client.
const (
	DefaultBaseURL     = "https://api.together.xyz"
	DefaultModel       = "mistralai/Mixtral-8x7B-Instruct-v0.1"
	DefaultTemperature = 0.9
	DefaultTopP        = 0.9
	DefaultMaxTokens   = 1024
	DefaultTimeout     = 30 * time.Second

	completionsPath = "/v1/chat/completions"
)

// Rewriter transforms text.
type Rewriter interface {
	Rewrite(ctx context.Context, text string) (string, error)
}

// Func adapts a function to Rewriter.
type Func func(ctx context.Context, text string) (string, error)

func (f Func) Rewrite(ctx context.Context, text string) (string, error) { return f(ctx, text) }

// Config configures a ChatClient. Nil Temperature and TopP take the
// defaults; a pointer to 0 is sent as 0.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature *float64
	TopP        *float64
	MaxTokens   int
	Timeout     time.Duration
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ChatClient calls a chat completions endpoint with a single user message.
type ChatClient struct {
	http   *resty.Client
	cfg    Config
	logger *zap.SugaredLogger
}

// NewChatClient returns a client; zero Config fields take the package defaults.
func NewChatClient(cfg Config, logger *zap.SugaredLogger) *ChatClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == nil {
		t := DefaultTemperature
		cfg.Temperature = &t
	}
	if cfg.TopP == nil {
		p := DefaultTopP
		cfg.TopP = &p
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &ChatClient{http: client, cfg: cfg, logger: logger.Named("rewrite")}
}

// Rewrite sends text as the user prompt and returns the first choice.
func (c *ChatClient) Rewrite(ctx context.Context, text string) (string, error) {
	req := chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: text}},
		Temperature: *c.cfg.Temperature,
		TopP:        *c.cfg.TopP,
		MaxTokens:   c.cfg.MaxTokens,
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&chatResponse{}).
		SetError(&apiError{}).
		Post(completionsPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if resp.IsError() {
		detail := resp.Status()
		if apiErr, ok := resp.Error().(*apiError); ok && apiErr.Error.Message != "" {
			detail = apiErr.Error.Message
		}
		c.logger.Warnw("Rewrite request rejected", "status", resp.StatusCode(), "error", detail)
		return "", fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode(), detail)
	}
	out, ok := resp.Result().(*chatResponse)
	if !ok || len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: response has no choices", ErrUpstream)
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUpstream)
	}
	return content, nil
}
