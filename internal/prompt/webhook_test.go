// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package prompt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenlock/tokenlock/internal/auth"
	"github.com/tokenlock/tokenlock/pkg/errutil"
)

func testPrompt() auth.Prompt {
	return auth.Prompt{
		Token:        "tok-123",
		UserID:       "u1",
		AccountID:    "acct-1",
		ProfileLabel: "Main",
		ExpiresAt:    time.Date(2026, 5, 1, 10, 3, 0, 0, time.UTC),
		Origin:       map[string]any{"channel_id": "c-9"},
	}
}

func newPrompter(t *testing.T, url string, retries uint64) *WebhookPrompter {
	t.Helper()
	p, err := NewWebhookPrompter(WebhookConfig{
		URL:          url,
		Secret:       "bridge-secret",
		MaxRetries:   retries,
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, err)
	return p
}

func TestNewWebhookPrompter_InvalidURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "ftp://bridge/prompt", "/relative"} {
		_, err := NewWebhookPrompter(WebhookConfig{URL: raw})
		require.Error(t, err, raw)
		errutil.AssertErrorCode(t, err, "PROMPT_INVALID_CONFIG")
	}
}

func TestSendPrompt_Delivers(t *testing.T) {
	var got payload
	var authHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		authHeader = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	require.NoError(t, newPrompter(t, srv.URL, 0).SendPrompt(context.Background(), testPrompt()))

	assert.Equal(t, "Bearer bridge-secret", authHeader)
	assert.Equal(t, "tok-123", got.Token)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "acct-1", got.AccountID)
	assert.Equal(t, "Main", got.ProfileLabel)
	assert.True(t, got.ExpiresAt.Equal(testPrompt().ExpiresAt))
	assert.Equal(t, map[string]any{"channel_id": "c-9"}, got.Origin)
}

func TestSendPrompt_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, newPrompter(t, srv.URL, 3).SendPrompt(context.Background(), testPrompt()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendPrompt_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bridge down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := newPrompter(t, srv.URL, 2).SendPrompt(context.Background(), testPrompt())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "PROMPT_DELIVERY_FAILED")
	errutil.AssertErrorContext(t, err, "attempts", 3)
	assert.Contains(t, err.Error(), "bridge down")
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendPrompt_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown user", http.StatusNotFound)
	}))
	defer srv.Close()

	err := newPrompter(t, srv.URL, 5).SendPrompt(context.Background(), testPrompt())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "PROMPT_DELIVERY_FAILED")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendPrompt_TransportErrorIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := newPrompter(t, url, 1).SendPrompt(context.Background(), testPrompt())
	require.Error(t, err)
	errutil.AssertErrorContext(t, err, "attempts", 2)
}

func TestSendPrompt_HonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := NewWebhookPrompter(WebhookConfig{URL: srv.URL, MaxRetries: 100, RetryBackoff: time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	started := time.Now()
	require.Error(t, p.SendPrompt(ctx, testPrompt()))
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestSendPrompt_NoSecretNoHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p, err := NewWebhookPrompter(WebhookConfig{URL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, p.SendPrompt(context.Background(), testPrompt()))
}
