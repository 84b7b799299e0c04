// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MaxLabelLength bounds the display label of a profile.
const MaxLabelLength = 64

// Profile is one stored credential belonging to a user.
// A user may hold several profiles, ordered by Position starting at 1.
type Profile struct {
	ID                  ulid.ULID
	UserID              string
	Position            int
	AccountID           string
	Label               string
	EncryptedCredential []byte
	CreatedAt           time.Time
}

// NewProfile creates a validated Profile. Position is assigned by the
// repository on insert.
func NewProfile(userID, accountID, label string, encrypted []byte) (*Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, oops.Code("PROFILE_INVALID_USER").Errorf("user ID cannot be empty")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, oops.Code("PROFILE_INVALID_ACCOUNT").Errorf("account ID cannot be empty")
	}
	label = strings.TrimSpace(label)
	if len(label) > MaxLabelLength {
		return nil, oops.Code("PROFILE_INVALID_LABEL").
			With("max_length", MaxLabelLength).
			Errorf("label must be at most %d characters", MaxLabelLength)
	}
	if label == "" {
		label = accountID
	}
	if len(encrypted) == 0 {
		return nil, oops.Code("PROFILE_INVALID_CREDENTIAL").Errorf("encrypted credential cannot be empty")
	}

	return &Profile{
		ID:                  ulid.Make(),
		UserID:              userID,
		AccountID:           accountID,
		Label:               label,
		EncryptedCredential: encrypted,
		CreatedAt:           time.Now(),
	}, nil
}

// ProfileFinder is the read contract the authentication flow depends on.
type ProfileFinder interface {
	// FindProfile returns the user's profile at the given 1-based position.
	// A selector of 0 selects the first profile.
	// Returns ErrUserNotFound, ErrNoProfiles or ErrProfileNotFound when
	// nothing matches.
	FindProfile(ctx context.Context, userID string, selector int) (*Profile, error)
}

// ProfileRepository manages profile persistence.
type ProfileRepository interface {
	ProfileFinder

	// Create stores a new profile and sets its Position.
	Create(ctx context.Context, profile *Profile) error

	// ListByUser returns the user's profiles ordered by position.
	ListByUser(ctx context.Context, userID string) ([]*Profile, error)

	// Delete removes a profile by ID.
	Delete(ctx context.Context, id ulid.ULID) error
}
