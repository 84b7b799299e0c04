// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package auth

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/samber/oops"
)

// TokenBytes is the amount of randomness in a correlation token.
const TokenBytes = 32 // 32 bytes = 64 hex chars

// tokenLogPrefix is how much of a token may appear in logs.
const tokenLogPrefix = 8

// GenerateToken creates a fresh, unguessable correlation token.
func GenerateToken() (string, error) {
	tokenBytes := make([]byte, TokenBytes)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", oops.Code(CodeTokenFailed).
			With("operation", "crypto/rand.Read").
			With("requested_bytes", TokenBytes).
			Wrap(err)
	}
	return hex.EncodeToString(tokenBytes), nil
}

// redactToken shortens a token for log output.
func redactToken(token string) string {
	if len(token) <= tokenLogPrefix {
		return token
	}
	return token[:tokenLogPrefix] + "…"
}
