// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package auth

import "errors"

// Lookup errors returned by ProfileFinder implementations.
var (
	// ErrUserNotFound is returned when the user has never enrolled.
	ErrUserNotFound = errors.New("user not found")

	// ErrNoProfiles is returned when the user exists but has no profiles.
	ErrNoProfiles = errors.New("no profiles registered for user")

	// ErrProfileNotFound is returned when the selector matches none of the
	// user's profiles.
	ErrProfileNotFound = errors.New("selected profile not found")
)

// Error codes attached to errors returned by this package.
const (
	CodeProfileLookupFailed = "AUTH_PROFILE_LOOKUP_FAILED"
	CodeCacheReadFailed     = "AUTH_CACHE_READ_FAILED"
	CodeCacheWriteFailed    = "AUTH_CACHE_WRITE_FAILED"
	CodePromptFailed        = "AUTH_PROMPT_FAILED"
	CodeDecryptFailed       = "AUTH_DECRYPT_FAILED"
	CodeTokenFailed         = "AUTH_TOKEN_GENERATE_FAILED"
	CodeTokenDuplicate      = "AUTH_TOKEN_DUPLICATE"
	CodeCancelled           = "AUTH_CANCELLED"
	CodeInvalidRequest      = "AUTH_INVALID_REQUEST"
)
