// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package auth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/samber/oops"
)

// MinPassphraseLength is the shortest passphrase accepted at enrollment.
const MinPassphraseLength = 8

// EnrollRequest stores a new credential for a user.
type EnrollRequest struct {
	UserID    string
	AccountID string
	Label     string
	// Credential and Passphrase are cleared once Enroll returns.
	Credential []byte
	Passphrase []byte
}

// EnrollmentService manages the profiles a user has registered.
type EnrollmentService struct {
	repo   ProfileRepository
	sealer Sealer
	cache  CredentialCache
	logger *slog.Logger
}

// EnrollmentOption configures an EnrollmentService.
type EnrollmentOption func(*EnrollmentService)

// WithEnrollmentLogger sets the logger.
func WithEnrollmentLogger(logger *slog.Logger) EnrollmentOption {
	return func(s *EnrollmentService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewEnrollmentService creates an EnrollmentService.
func NewEnrollmentService(repo ProfileRepository, sealer Sealer, credentials CredentialCache, opts ...EnrollmentOption) (*EnrollmentService, error) {
	if repo == nil {
		return nil, oops.Code("ENROLL_INVALID_DEPENDENCY").Errorf("profile repository is required")
	}
	if sealer == nil {
		return nil, oops.Code("ENROLL_INVALID_DEPENDENCY").Errorf("sealer is required")
	}
	if credentials == nil {
		return nil, oops.Code("ENROLL_INVALID_DEPENDENCY").Errorf("credential cache is required")
	}
	s := &EnrollmentService{
		repo:   repo,
		sealer: sealer,
		cache:  credentials,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Enroll seals the credential under the passphrase and stores it as the
// user's next profile. Any cached plaintext for the same account is dropped.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollRequest) (*Profile, error) {
	defer clear(req.Credential)
	defer clear(req.Passphrase)

	if len(req.Passphrase) < MinPassphraseLength {
		return nil, oops.Code("ENROLL_WEAK_PASSPHRASE").
			With("min_length", MinPassphraseLength).
			Errorf("passphrase must be at least %d characters", MinPassphraseLength)
	}

	// Validate before paying for the key derivation.
	if _, err := NewProfile(req.UserID, req.AccountID, req.Label, []byte{0}); err != nil {
		return nil, err
	}

	sealed, err := s.sealer.Encrypt(ctx, req.Credential, req.Passphrase)
	if err != nil {
		return nil, oops.Code("ENROLL_SEAL_FAILED").
			With("user_id", req.UserID).
			Wrap(err)
	}

	profile, err := NewProfile(req.UserID, req.AccountID, req.Label, sealed)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, profile); err != nil {
		return nil, oops.Code("ENROLL_CREATE_FAILED").
			With("user_id", profile.UserID).
			With("account_id", profile.AccountID).
			Wrap(err)
	}

	s.invalidate(ctx, profile)
	s.logger.Info("profile enrolled",
		"user_id", profile.UserID,
		"account_id", profile.AccountID,
		"position", profile.Position,
	)
	return profile, nil
}

// List returns the user's profiles ordered by position.
func (s *EnrollmentService) List(ctx context.Context, userID string) ([]*Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, oops.Code(CodeInvalidRequest).Errorf("user ID cannot be empty")
	}
	profiles, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, oops.Code("ENROLL_LIST_FAILED").With("user_id", userID).Wrap(err)
	}
	return profiles, nil
}

// Remove deletes the profile at the given position and its cached plaintext.
// Lookup misses are returned as ErrUserNotFound, ErrNoProfiles or
// ErrProfileNotFound.
func (s *EnrollmentService) Remove(ctx context.Context, userID string, selector int) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return oops.Code(CodeInvalidRequest).Errorf("user ID cannot be empty")
	}
	profile, err := s.repo.FindProfile(ctx, userID, selector)
	if err != nil {
		return oops.Code("ENROLL_REMOVE_FAILED").
			With("user_id", userID).
			With("selector", selector).
			Wrap(err)
	}
	if err := s.repo.Delete(ctx, profile.ID); err != nil {
		return oops.Code("ENROLL_REMOVE_FAILED").
			With("user_id", userID).
			With("profile_id", profile.ID.String()).
			Wrap(err)
	}

	s.invalidate(ctx, profile)
	s.logger.Info("profile removed",
		"user_id", profile.UserID,
		"account_id", profile.AccountID,
		"position", profile.Position,
	)
	return nil
}

// invalidate drops cached plaintext. Failures are logged; the cache entry
// expires on its own. An answer still in flight may write the key again after
// this, but that entry is tagged with the removed profile's ID and is never
// served for a later enrollment.
func (s *EnrollmentService) invalidate(ctx context.Context, profile *Profile) {
	if err := s.cache.Delete(ctx, CacheKey(profile.UserID, profile.AccountID)); err != nil {
		s.logger.Warn("failed to invalidate cached credential",
			"user_id", profile.UserID,
			"account_id", profile.AccountID,
			"error", err,
		)
	}
}
