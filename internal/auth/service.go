// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokenlock/tokenlock/internal/cache"
	"github.com/tokenlock/tokenlock/internal/vault"
)

// Default timing configuration.
const (
	DefaultTimeout  = 3 * time.Minute
	DefaultCacheTTL = 10 * time.Minute
)

const tracerName = "github.com/tokenlock/tokenlock/internal/auth"

// Config holds the timing knobs of the authentication flow.
type Config struct {
	// Timeout bounds how long Authenticate waits for a prompt answer.
	Timeout time.Duration
	// CacheTTL is how long a decrypted credential stays cached.
	CacheTTL time.Duration
}

// DefaultConfig returns the default timing configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:  DefaultTimeout,
		CacheTTL: DefaultCacheTTL,
	}
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithConfig overrides the timing configuration. Zero fields keep their defaults.
func WithConfig(cfg Config) ServiceOption {
	return func(s *Service) {
		if cfg.Timeout > 0 {
			s.cfg.Timeout = cfg.Timeout
		}
		if cfg.CacheTTL > 0 {
			s.cfg.CacheTTL = cfg.CacheTTL
		}
	}
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTokenGenerator replaces GenerateToken, mainly for tests.
func WithTokenGenerator(fn func() (string, error)) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.newToken = fn
		}
	}
}

// WithRegistry shares a registry between services. By default every Service
// owns its own.
func WithRegistry(r *Registry) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.registry = r
		}
	}
}

// Service authenticates users against their stored credentials.
type Service struct {
	profiles  ProfileFinder
	decrypter Decrypter
	cache     CredentialCache
	prompter  Prompter
	registry  *Registry
	cfg       Config
	logger    *slog.Logger
	newToken  func() (string, error)
	tracer    trace.Tracer
}

// NewService creates a Service. All dependencies are required.
func NewService(profiles ProfileFinder, decrypter Decrypter, credentials CredentialCache, prompter Prompter, opts ...ServiceOption) (*Service, error) {
	if profiles == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("profile finder is required")
	}
	if decrypter == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("decrypter is required")
	}
	if credentials == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("credential cache is required")
	}
	if prompter == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("prompter is required")
	}

	s := &Service{
		profiles:  profiles,
		decrypter: decrypter,
		cache:     credentials,
		prompter:  prompter,
		registry:  NewRegistry(),
		cfg:       DefaultConfig(),
		logger:    slog.Default(),
		newToken:  GenerateToken,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Registry returns the service's pending request registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Config returns the effective timing configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Authenticate releases the user's decrypted credential.
//
// Lookup misses are reported as a Failure without prompting. A cached
// credential is returned without prompting. Otherwise a prompt is sent and the
// call blocks until the answer settles the request, the timeout elapses
// (Timeout) or ctx ends. Infrastructure failures are returned as errors.
func (s *Service) Authenticate(ctx context.Context, req Request) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Authenticate", trace.WithAttributes(
		attribute.String("user_id", req.UserID),
		attribute.Int("selector", req.Selector),
	))
	defer span.End()

	result, err := s.authenticate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authenticate failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("outcome", string(result.Kind())))
	return result, nil
}

func (s *Service) authenticate(ctx context.Context, req Request) (Result, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return nil, oops.Code(CodeInvalidRequest).Errorf("user ID cannot be empty")
	}
	if req.Selector < 0 {
		return nil, oops.Code(CodeInvalidRequest).
			With("selector", req.Selector).
			Errorf("profile selector cannot be negative")
	}

	profile, err := s.profiles.FindProfile(ctx, req.UserID, req.Selector)
	if err != nil {
		if reason, ok := lookupFailureReason(err); ok {
			recordAuthentication(OutcomeFailure)
			s.logger.Debug("authentication refused",
				"user_id", req.UserID,
				"selector", req.Selector,
				"reason", reason,
			)
			return Failure{Reason: reason, Origin: req.Origin}, nil
		}
		recordAuthentication(OutcomeError)
		return nil, oops.Code(CodeProfileLookupFailed).
			With("user_id", req.UserID).
			With("selector", req.Selector).
			Wrap(err)
	}

	key := CacheKey(req.UserID, profile.AccountID)
	value, err := s.cache.Get(ctx, key)
	cached, current := cachedCredential(profile, value)
	switch {
	case err == nil && !current:
		s.logger.Debug("cached credential belongs to a previous profile",
			"user_id", req.UserID,
			"account_id", profile.AccountID,
		)
	case err == nil:
		recordAuthentication(OutcomeCacheHit)
		s.logger.Debug("credential served from cache",
			"user_id", req.UserID,
			"account_id", profile.AccountID,
		)
		return Success{
			Credential: cached,
			AccountID:  profile.AccountID,
			Profile:    profile,
			Origin:     req.Origin,
		}, nil
	case !errors.Is(err, cache.ErrCacheMiss):
		recordAuthentication(OutcomeError)
		return nil, oops.Code(CodeCacheReadFailed).
			With("user_id", req.UserID).
			With("account_id", profile.AccountID).
			Wrap(err)
	}

	return s.awaitAnswer(ctx, req, profile)
}

// awaitAnswer registers a pending entry, prompts the user and waits for the
// entry to settle.
func (s *Service) awaitAnswer(ctx context.Context, req Request, profile *Profile) (Result, error) {
	token, err := s.newToken()
	if err != nil {
		recordAuthentication(OutcomeError)
		return nil, oops.Code(CodeTokenFailed).Wrap(err)
	}

	started := time.Now()
	entry := NewPendingEntry(token, req, profile, started)
	if err := s.registry.Insert(token, entry); err != nil {
		recordAuthentication(OutcomeError)
		return nil, err
	}
	PendingRequests.Inc()

	prompt := Prompt{
		Token:        token,
		UserID:       req.UserID,
		AccountID:    profile.AccountID,
		ProfileLabel: profile.Label,
		ExpiresAt:    started.Add(s.cfg.Timeout),
		Origin:       req.Origin,
	}
	if err := s.prompter.SendPrompt(ctx, prompt); err != nil {
		s.release(token)
		recordAuthentication(OutcomeError)
		return nil, oops.Code(CodePromptFailed).
			With("user_id", req.UserID).
			With("token", redactToken(token)).
			Wrap(err)
	}

	s.logger.Info("passphrase prompt sent",
		"user_id", req.UserID,
		"account_id", profile.AccountID,
		"token", redactToken(token),
		"timeout", s.cfg.Timeout,
	)

	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	select {
	case <-entry.Done():
		return s.finish(entry, started)
	case <-timer.C:
		if s.release(token) {
			entry.Settle(Timeout{}, nil)
			s.logger.Info("passphrase prompt timed out",
				"user_id", req.UserID,
				"token", redactToken(token),
			)
			return s.finish(entry, started)
		}
	case <-ctx.Done():
		if s.release(token) {
			entry.Settle(nil, ctx.Err())
			return nil, s.cancelled(ctx, token)
		}
	}

	// A notification claimed the entry first and is resolving it.
	select {
	case <-entry.Done():
		return s.finish(entry, started)
	case <-ctx.Done():
		return nil, s.cancelled(ctx, token)
	}
}

func (s *Service) finish(entry *PendingEntry, started time.Time) (Result, error) {
	result, err := entry.Outcome()
	if err != nil {
		recordAuthentication(OutcomeError)
		recordWait(OutcomeError, started)
		return nil, err
	}
	outcome := outcomeOf(result)
	recordAuthentication(outcome)
	recordWait(outcome, started)
	return result, nil
}

func (s *Service) cancelled(ctx context.Context, token string) error {
	recordAuthentication(OutcomeCancelled)
	s.logger.Debug("authentication cancelled", "token", redactToken(token))
	return oops.Code(CodeCancelled).
		With("token", redactToken(token)).
		Wrap(ctx.Err())
}

// release removes a pending entry on behalf of the waiting caller.
// Returns false if a notification already claimed it.
func (s *Service) release(token string) bool {
	_, ok := s.claim(token, nil)
	return ok
}

func (s *Service) claim(token string, match func(*PendingEntry) bool) (*PendingEntry, bool) {
	entry, ok := s.registry.TryClaimMatching(token, match)
	if ok {
		PendingRequests.Dec()
	}
	return entry, ok
}

// NotifyAuthenticate resolves the pending request for resp.Token.
//
// Returns false when the token is unknown, already resolved, expired, or was
// issued to a different user. Returns true once the request has been resolved,
// whether or not the passphrase was correct. resp.Passphrase is cleared before
// returning.
func (s *Service) NotifyAuthenticate(ctx context.Context, resp Response) (bool, error) {
	defer clear(resp.Passphrase)
	resp.UserID = strings.TrimSpace(resp.UserID)

	ctx, span := s.tracer.Start(ctx, "auth.NotifyAuthenticate", trace.WithAttributes(
		attribute.String("user_id", resp.UserID),
	))
	defer span.End()

	entry, ok := s.claim(resp.Token, func(e *PendingEntry) bool {
		return e.UserID == resp.UserID
	})
	if !ok {
		recordNotification(NotifyIgnored)
		if s.registry.Contains(resp.Token) {
			s.logger.Warn("prompt answer from another user ignored",
				"user_id", resp.UserID,
				"token", redactToken(resp.Token),
			)
		} else {
			s.logger.Debug("prompt answer for unknown token ignored",
				"user_id", resp.UserID,
				"token", redactToken(resp.Token),
			)
		}
		span.SetAttributes(attribute.Bool("accepted", false))
		return false, nil
	}
	span.SetAttributes(attribute.Bool("accepted", true))

	plaintext, err := s.decrypter.Decrypt(ctx, entry.Profile.EncryptedCredential, resp.Passphrase)
	clear(resp.Passphrase)
	if err != nil {
		if errors.Is(err, vault.ErrIncorrectPassphrase) {
			entry.Settle(Failure{Reason: ReasonIncorrectPassphrase, Origin: resp.Origin}, nil)
			recordNotification(NotifyRejected)
			s.logger.Info("incorrect passphrase",
				"user_id", resp.UserID,
				"token", redactToken(resp.Token),
			)
			return true, nil
		}
		wrapped := oops.Code(CodeDecryptFailed).
			With("user_id", resp.UserID).
			With("profile_id", entry.Profile.ID.String()).
			Wrap(err)
		entry.Settle(nil, wrapped)
		recordNotification(NotifyError)
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, "decrypt failed")
		return true, wrapped
	}

	credential := string(plaintext)
	clear(plaintext)

	// Write the cache before settling so a follow-up request sees it.
	key := CacheKey(entry.UserID, entry.Profile.AccountID)
	cacheErr := s.cache.Set(ctx, key, CacheValue(entry.Profile, credential), s.cfg.CacheTTL)

	entry.Settle(Success{
		Credential: credential,
		AccountID:  entry.Profile.AccountID,
		Profile:    entry.Profile,
		Origin:     resp.Origin,
	}, nil)
	recordNotification(NotifyAccepted)
	s.logger.Info("credential released",
		"user_id", resp.UserID,
		"account_id", entry.Profile.AccountID,
		"token", redactToken(resp.Token),
	)

	if cacheErr != nil {
		wrapped := oops.Code(CodeCacheWriteFailed).
			With("user_id", entry.UserID).
			With("account_id", entry.Profile.AccountID).
			Wrap(cacheErr)
		span.RecordError(wrapped)
		return true, wrapped
	}
	return true, nil
}

// lookupFailureReason maps profile lookup misses to user-facing reasons.
func lookupFailureReason(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		return ReasonUserNotFound, true
	case errors.Is(err, ErrNoProfiles):
		return ReasonNoProfiles, true
	case errors.Is(err, ErrProfileNotFound):
		return ReasonProfileNotFound, true
	default:
		return "", false
	}
}
