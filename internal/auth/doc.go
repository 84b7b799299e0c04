// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

// Package auth gates stored, passphrase-encrypted credentials behind an
// out-of-band passphrase prompt.
//
// # Flow
//
// Service.Authenticate looks up the caller's profile, answers from the
// credential cache when it can, and otherwise registers a pending entry under a
// fresh correlation token, sends a prompt through the Prompter and parks until
// the entry is settled, the configured timeout elapses or the context ends.
//
// Service.NotifyAuthenticate is called when the prompt's answer arrives. It
// claims the pending entry for the token, decrypts the stored credential with
// the supplied passphrase and settles the entry. A token can be claimed once:
// late or repeated notifications report false and change nothing.
//
// # Domain Types
//
// Profile values should be created with NewProfile, which validates the
// owner, account and ciphertext. Repository implementations receive
// pre-validated profiles.
//
// # Services
//
//   - Service - authentication and notification handling
//   - EnrollmentService - sealing and storing credentials
//
// Services are created with New*Service constructors that validate dependencies.
package auth
