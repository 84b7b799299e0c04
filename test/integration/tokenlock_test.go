// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/tokenlock/tokenlock/internal/api"
	"github.com/tokenlock/tokenlock/internal/auth"
	"github.com/tokenlock/tokenlock/internal/auth/postgres"
	"github.com/tokenlock/tokenlock/internal/cache"
	"github.com/tokenlock/tokenlock/internal/vault"
)

const apiToken = "integration-token"

type channelPrompter chan auth.Prompt

func (c channelPrompter) SendPrompt(_ context.Context, prompt auth.Prompt) error {
	c <- prompt
	return nil
}

// stack is a running API server over the shared database.
type stack struct {
	baseURL string
	prompts channelPrompter
	server  *api.Server
	cache   cache.Cache[string]
}

func startStack(credentials cache.Cache[string], timeout time.Duration) *stack {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := postgres.NewProfileRepository(env.pool)
	v := vault.New()
	prompts := make(channelPrompter, 4)

	authSvc, err := auth.NewService(repo, v, credentials, prompts,
		auth.WithConfig(auth.Config{Timeout: timeout, CacheTTL: time.Minute}),
		auth.WithLogger(logger))
	Expect(err).NotTo(HaveOccurred())
	enrollSvc, err := auth.NewEnrollmentService(repo, v, credentials, auth.WithEnrollmentLogger(logger))
	Expect(err).NotTo(HaveOccurred())

	srv, err := api.NewServer(api.Config{Addr: "127.0.0.1:0", Token: apiToken}, authSvc, enrollSvc, api.WithLogger(logger))
	Expect(err).NotTo(HaveOccurred())
	_, err = srv.Start()
	Expect(err).NotTo(HaveOccurred())

	return &stack{baseURL: "http://" + srv.Addr(), prompts: prompts, server: srv, cache: credentials}
}

func (s *stack) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	Expect(s.server.Stop(ctx)).To(Succeed())
	Expect(s.cache.Close()).To(Succeed())
}

func (s *stack) call(method, path string, body any) (int, map[string]any) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.baseURL+path, reader)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Authorization", "Bearer "+apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		Expect(json.NewDecoder(resp.Body).Decode(&decoded)).To(Succeed())
	}
	return resp.StatusCode, decoded
}

func (s *stack) enroll(userID, accountID, label, credential, passphrase string) {
	status, body := s.call(http.MethodPost, "/v1/profiles", map[string]any{
		"user_id":    userID,
		"account_id": accountID,
		"label":      label,
		"credential": credential,
		"passphrase": passphrase,
	})
	Expect(status).To(Equal(http.StatusCreated), "enroll body: %v", body)
}

type authOutcome struct {
	status int
	body   map[string]any
}

// authenticateAsync issues a long-poll authenticate request.
func (s *stack) authenticateAsync(req map[string]any) <-chan authOutcome {
	done := make(chan authOutcome, 1)
	go func() {
		defer GinkgoRecover()
		status, body := s.call(http.MethodPost, "/v1/authenticate", req)
		done <- authOutcome{status: status, body: body}
	}()
	return done
}

func (s *stack) nextPrompt() auth.Prompt {
	var prompt auth.Prompt
	Eventually(s.prompts).WithTimeout(5 * time.Second).Should(Receive(&prompt))
	return prompt
}

func describeFlow(backend string, newCache func() cache.Cache[string]) {
	Describe("with the "+backend+" cache", Ordered, func() {
		var s *stack

		BeforeEach(func() {
			env.truncate()
			s = startStack(newCache(), 3*time.Second)
		})

		AfterEach(func() {
			s.stop()
		})

		It("prompts, decrypts and then serves the cached credential", func() {
			s.enroll("alice", "acct-main", "main", "ghp_main", "correct horse")

			pending := s.authenticateAsync(map[string]any{"user_id": "alice", "origin": map[string]any{"channel": "dm-1"}})
			prompt := s.nextPrompt()
			Expect(prompt.UserID).To(Equal("alice"))
			Expect(prompt.AccountID).To(Equal("acct-main"))
			Expect(prompt.ProfileLabel).To(Equal("main"))

			status, body := s.call(http.MethodPost, "/v1/notify", map[string]any{
				"user_id": "alice", "token": prompt.Token, "passphrase": "correct horse", "origin": "modal",
			})
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["accepted"]).To(BeTrue())

			var got authOutcome
			Eventually(pending).WithTimeout(5 * time.Second).Should(Receive(&got))
			Expect(got.status).To(Equal(http.StatusOK))
			Expect(got.body["status"]).To(Equal("success"))
			Expect(got.body["credential"]).To(Equal("ghp_main"))
			Expect(got.body["origin"]).To(Equal("modal"))

			status, body = s.call(http.MethodPost, "/v1/authenticate", map[string]any{"user_id": "alice", "origin": "second"})
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["status"]).To(Equal("success"))
			Expect(body["credential"]).To(Equal("ghp_main"))
			Expect(body["origin"]).To(Equal("second"))
			Consistently(s.prompts).WithTimeout(200 * time.Millisecond).ShouldNot(Receive())
		})

		It("reports an incorrect passphrase as a failure", func() {
			s.enroll("bob", "acct-1", "", "secret", "correct horse")

			pending := s.authenticateAsync(map[string]any{"user_id": "bob"})
			prompt := s.nextPrompt()

			status, body := s.call(http.MethodPost, "/v1/notify", map[string]any{
				"user_id": "bob", "token": prompt.Token, "passphrase": "battery staple",
			})
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["accepted"]).To(BeTrue())

			var got authOutcome
			Eventually(pending).WithTimeout(5 * time.Second).Should(Receive(&got))
			Expect(got.body["status"]).To(Equal("failure"))
			Expect(got.body["reason"]).To(Equal(auth.ReasonIncorrectPassphrase))
			Expect(got.body).NotTo(HaveKey("credential"))
		})

		It("times out when nobody answers", func() {
			s.enroll("carol", "acct-1", "", "secret", "correct horse")

			pending := s.authenticateAsync(map[string]any{"user_id": "carol"})
			prompt := s.nextPrompt()

			var got authOutcome
			Eventually(pending).WithTimeout(10 * time.Second).Should(Receive(&got))
			Expect(got.body["status"]).To(Equal("timeout"))

			status, body := s.call(http.MethodPost, "/v1/notify", map[string]any{
				"user_id": "carol", "token": prompt.Token, "passphrase": "correct horse",
			})
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["accepted"]).To(BeFalse())
		})

		It("fails fast for unknown users and positions", func() {
			status, body := s.call(http.MethodPost, "/v1/authenticate", map[string]any{"user_id": "nobody"})
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["status"]).To(Equal("failure"))
			Expect(body["reason"]).To(Equal(auth.ReasonUserNotFound))

			s.enroll("dave", "acct-1", "", "secret", "correct horse")
			status, body = s.call(http.MethodPost, "/v1/authenticate", map[string]any{"user_id": "dave", "profile": 4})
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["reason"]).To(Equal(auth.ReasonProfileNotFound))
		})

		It("selects profiles by position and renumbers after removal", func() {
			s.enroll("erin", "acct-a", "first", "cred-a", "correct horse")
			s.enroll("erin", "acct-b", "second", "cred-b", "correct horse")
			s.enroll("erin", "acct-c", "third", "cred-c", "correct horse")

			status, body := s.call(http.MethodGet, "/v1/profiles/erin", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["profiles"]).To(HaveLen(3))

			status, _ = s.call(http.MethodDelete, "/v1/profiles/erin/1", nil)
			Expect(status).To(Equal(http.StatusNoContent))

			status, body = s.call(http.MethodGet, "/v1/profiles/erin", nil)
			Expect(status).To(Equal(http.StatusOK))
			profiles := body["profiles"].([]any)
			Expect(profiles).To(HaveLen(2))
			Expect(profiles[0].(map[string]any)["label"]).To(Equal("second"))
			Expect(profiles[0].(map[string]any)["position"]).To(BeEquivalentTo(1))
			Expect(profiles[1].(map[string]any)["position"]).To(BeEquivalentTo(2))

			pending := s.authenticateAsync(map[string]any{"user_id": "erin", "profile": 2})
			prompt := s.nextPrompt()
			Expect(prompt.ProfileLabel).To(Equal("third"))
			s.call(http.MethodPost, "/v1/notify", map[string]any{
				"user_id": "erin", "token": prompt.Token, "passphrase": "correct horse",
			})

			var got authOutcome
			Eventually(pending).WithTimeout(5 * time.Second).Should(Receive(&got))
			Expect(got.body["credential"]).To(Equal("cred-c"))

			status, body = s.call(http.MethodDelete, "/v1/profiles/erin/9", nil)
			Expect(status).To(Equal(http.StatusNotFound))
			Expect(body["code"]).NotTo(BeEmpty())
		})

		It("rejects a duplicate account for the same user", func() {
			s.enroll("frank", "acct-1", "", "secret", "correct horse")
			status, _ := s.call(http.MethodPost, "/v1/profiles", map[string]any{
				"user_id": "frank", "account_id": "acct-1", "credential": "other", "passphrase": "correct horse",
			})
			Expect(status).To(Equal(http.StatusConflict))
		})

		It("requires the bearer token", func() {
			resp, err := http.Post(s.baseURL+"/v1/authenticate", "application/json",
				bytes.NewReader([]byte(`{"user_id":"alice"}`)))
			Expect(err).NotTo(HaveOccurred())
			_ = resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})
}

var _ = Describe("Authentication over HTTP", func() {
	describeFlow("memory", func() cache.Cache[string] {
		return cache.NewMemoryCache[string]()
	})

	describeFlow("redis", func() cache.Cache[string] {
		c, err := cache.NewRueidisCache[string](context.Background(), cache.RedisConfig{
			Addr:      env.redisAddr,
			KeyPrefix: "tokenlock-it:",
		})
		Expect(err).NotTo(HaveOccurred())
		return c
	})
})
