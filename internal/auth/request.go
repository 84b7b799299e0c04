// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package auth

import "time"

// Origin identifies where a prompt or result should be delivered. It is
// forwarded untouched and never interpreted by this package.
type Origin any

// Request asks for a user's decrypted credential.
type Request struct {
	UserID string
	// Selector is the 1-based profile position. 0 selects the first profile.
	Selector int
	Origin   Origin
}

// Response carries a user's answer to a passphrase prompt.
type Response struct {
	UserID string
	Token  string
	// Passphrase is cleared once NotifyAuthenticate has used it.
	Passphrase []byte
	Origin     Origin
}

// Prompt is handed to the Prompter when a passphrase must be asked for.
type Prompt struct {
	Token        string
	UserID       string
	AccountID    string
	ProfileLabel string
	ExpiresAt    time.Time
	Origin       Origin
}
