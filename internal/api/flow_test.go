// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tokenlock/tokenlock/internal/api"
	"github.com/tokenlock/tokenlock/internal/auth"
	"github.com/tokenlock/tokenlock/internal/auth/mocks"
	"github.com/tokenlock/tokenlock/internal/cache"
	"github.com/tokenlock/tokenlock/internal/vault"
)

type channelPrompter chan auth.Prompt

func (c channelPrompter) SendPrompt(_ context.Context, prompt auth.Prompt) error {
	c <- prompt
	return nil
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestAuthenticateFlow_PromptAndAnswer(t *testing.T) {
	sealed, err := vault.Seal([]byte("secret-token"), []byte("correct horse"))
	require.NoError(t, err)
	profile, err := auth.NewProfile("user-1", "acct-1", "main", sealed)
	require.NoError(t, err)
	profile.Position = 1

	profiles := mocks.NewMockProfileRepository(t)
	profiles.On("FindProfile", mock.Anything, "user-1", 0).Return(profile, nil)

	prompts := make(channelPrompter, 1)
	svc, err := auth.NewService(profiles, vault.New(), cache.NewMemoryCache[string](), prompts,
		auth.WithConfig(auth.Config{Timeout: 10 * time.Second}))
	require.NoError(t, err)

	srv, err := api.NewServer(api.Config{Token: testToken}, svc, &mockEnroller{})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	type outcome struct {
		status int
		body   map[string]any
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := http.DefaultClient.Do(func() *http.Request {
			req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/authenticate",
				strings.NewReader(`{"user_id":"user-1","origin":"dm"}`))
			req.Header.Set("Authorization", "Bearer "+testToken)
			return req
		}())
		if err != nil {
			done <- outcome{}
			return
		}
		defer func() { _ = resp.Body.Close() }()
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		done <- outcome{status: resp.StatusCode, body: body}
	}()

	var prompt auth.Prompt
	select {
	case prompt = <-prompts:
	case <-time.After(5 * time.Second):
		t.Fatal("no prompt sent")
	}
	assert.Equal(t, "main", prompt.ProfileLabel)

	wrong := post(t, ts.URL+"/v1/notify",
		`{"user_id":"user-2","token":"`+prompt.Token+`","passphrase":"correct horse"}`)
	var wrongBody map[string]any
	require.NoError(t, json.NewDecoder(wrong.Body).Decode(&wrongBody))
	_ = wrong.Body.Close()
	assert.Equal(t, false, wrongBody["accepted"], "another user's answer is ignored")

	right := post(t, ts.URL+"/v1/notify",
		`{"user_id":"user-1","token":"`+prompt.Token+`","passphrase":"correct horse","origin":"modal"}`)
	var rightBody map[string]any
	require.NoError(t, json.NewDecoder(right.Body).Decode(&rightBody))
	_ = right.Body.Close()
	assert.Equal(t, true, rightBody["accepted"])

	select {
	case got := <-done:
		require.Equal(t, http.StatusOK, got.status)
		assert.Equal(t, "success", got.body["status"])
		assert.Equal(t, "secret-token", got.body["credential"])
		assert.Equal(t, "modal", got.body["origin"])
	case <-time.After(5 * time.Second):
		t.Fatal("authenticate did not return")
	}

	again := post(t, ts.URL+"/v1/notify",
		`{"user_id":"user-1","token":"`+prompt.Token+`","passphrase":"correct horse"}`)
	var againBody map[string]any
	require.NoError(t, json.NewDecoder(again.Body).Decode(&againBody))
	_ = again.Body.Close()
	assert.Equal(t, false, againBody["accepted"], "a token resolves once")
}
