// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

// Package prompt delivers passphrase prompts to the chat bridge.
package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/tokenlock/tokenlock/internal/auth"
)

// Delivery defaults.
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryBackoff   = 200 * time.Millisecond
)

// maxErrorBody bounds how much of a bridge error response is kept.
const maxErrorBody = 512

// WebhookConfig points the prompter at the bridge.
type WebhookConfig struct {
	URL string
	// Secret is sent as a bearer token. Empty sends no Authorization header.
	Secret         string
	RequestTimeout time.Duration
	// MaxRetries is how often a failed delivery is retried after the first try.
	MaxRetries   uint64
	RetryBackoff time.Duration
}

// Option configures a WebhookPrompter.
type Option func(*WebhookPrompter)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *WebhookPrompter) {
		if client != nil {
			p.client = client
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *WebhookPrompter) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WebhookPrompter posts prompts to the bridge as JSON. The bridge shows the
// passphrase form and later answers through the notify endpoint.
type WebhookPrompter struct {
	cfg    WebhookConfig
	client *http.Client
	logger *slog.Logger
}

// payload is the JSON body sent to the bridge.
type payload struct {
	Token        string    `json:"token"`
	UserID       string    `json:"user_id"`
	ProfileLabel string    `json:"profile_label"`
	AccountID    string    `json:"account_id"`
	ExpiresAt    time.Time `json:"expires_at"`
	Origin       any       `json:"origin,omitempty"`
}

// NewWebhookPrompter validates cfg and creates a prompter.
func NewWebhookPrompter(cfg WebhookConfig, opts ...Option) (*WebhookPrompter, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, oops.Code("PROMPT_INVALID_CONFIG").
			With("url", cfg.URL).
			Errorf("webhook URL must be an absolute http(s) URL")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}

	p := &WebhookPrompter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// SendPrompt implements auth.Prompter. Transport errors and 5xx responses are
// retried with exponential backoff; 4xx responses fail immediately.
func (p *WebhookPrompter) SendPrompt(ctx context.Context, prompt auth.Prompt) error {
	body, err := json.Marshal(payload{
		Token:        prompt.Token,
		UserID:       prompt.UserID,
		ProfileLabel: prompt.ProfileLabel,
		AccountID:    prompt.AccountID,
		ExpiresAt:    prompt.ExpiresAt.UTC(),
		Origin:       prompt.Origin,
	})
	if err != nil {
		return oops.Code("PROMPT_ENCODE_FAILED").With("user_id", prompt.UserID).Wrap(err)
	}

	backoff := retry.WithMaxRetries(p.cfg.MaxRetries, retry.NewExponential(p.cfg.RetryBackoff))
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := p.post(ctx, body)
		if err != nil && isRetryable(err) {
			p.logger.Warn("prompt delivery failed, retrying",
				"user_id", prompt.UserID,
				"attempt", attempt,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return oops.Code("PROMPT_DELIVERY_FAILED").
			With("user_id", prompt.UserID).
			With("attempts", attempt).
			Wrap(err)
	}

	p.logger.Debug("prompt delivered", "user_id", prompt.UserID, "attempts", attempt)
	return nil
}

// statusError is a non-2xx bridge response.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("bridge responded %d: %s", e.status, e.body)
}

func isRetryable(err error) bool {
	se, ok := err.(*statusError) //nolint:errorlint // post returns it unwrapped
	if !ok {
		return true
	}
	return se.status >= http.StatusInternalServerError || se.status == http.StatusTooManyRequests
}

func (p *WebhookPrompter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.Secret)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &statusError{status: resp.StatusCode, body: string(bytes.TrimSpace(snippet))}
}

var _ auth.Prompter = (*WebhookPrompter)(nil)
