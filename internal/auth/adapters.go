// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package auth

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Decrypter opens a stored credential with a user's passphrase.
type Decrypter interface {
	// Decrypt returns the plaintext credential. A wrong passphrase or tampered
	// ciphertext yields vault.ErrIncorrectPassphrase; any other error is
	// unexpected.
	Decrypt(ctx context.Context, ciphertext, passphrase []byte) ([]byte, error)
}

// Sealer encrypts a credential under a user's passphrase.
type Sealer interface {
	Encrypt(ctx context.Context, plaintext, passphrase []byte) ([]byte, error)
}

// CredentialCache holds recently decrypted credentials for a short time.
type CredentialCache interface {
	// Get returns cache.ErrCacheMiss when the key is absent or expired.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Prompter asks a user for their passphrase out of band.
type Prompter interface {
	// SendPrompt returns once the prompt has been dispatched. It does not wait
	// for the user's answer, which arrives through Service.NotifyAuthenticate.
	SendPrompt(ctx context.Context, prompt Prompt) error
}

// CacheKey builds the credential cache key for a user's account. The user ID
// is length-prefixed so no two (user, account) pairs share a key.
func CacheKey(userID, accountID string) string {
	return "credential:" + strconv.Itoa(len(userID)) + ":" + userID + ":" + accountID
}

// CacheValue tags a decrypted credential with the profile it came from.
func CacheValue(profile *Profile, credential string) string {
	return profile.ID.String() + ":" + credential
}

// cachedCredential returns the credential held in value when it was cached
// for this profile. Entries written for a removed or re-enrolled profile
// do not match.
func cachedCredential(profile *Profile, value string) (string, bool) {
	id, credential, ok := strings.Cut(value, ":")
	if !ok || id != profile.ID.String() {
		return "", false
	}
	return credential, true
}
