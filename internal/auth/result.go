// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package auth

// Failure reasons shown to users.
const (
	ReasonUserNotFound        = "User not found"
	ReasonNoProfiles          = "No profiles found"
	ReasonProfileNotFound     = "Selected profile not found"
	ReasonIncorrectPassphrase = "Incorrect passphrase"
)

// ResultKind names the variant of a Result.
type ResultKind string

// Result kinds.
const (
	KindSuccess ResultKind = "success"
	KindFailure ResultKind = "failure"
	KindTimeout ResultKind = "timeout"
)

// Result is the outcome of Authenticate. It is one of Success, Failure or
// Timeout; no other implementations exist.
type Result interface {
	Kind() ResultKind
	// OriginContext returns the origin the result is attributed to, or nil.
	OriginContext() Origin
	isResult()
}

// Success carries the decrypted credential. An empty Credential is a valid
// credential.
type Success struct {
	Credential string
	AccountID  string
	Profile    *Profile
	Origin     Origin
}

// Kind implements Result.
func (Success) Kind() ResultKind { return KindSuccess }

// OriginContext implements Result.
func (s Success) OriginContext() Origin { return s.Origin }

func (Success) isResult() {}

// Failure reports why a credential could not be released.
type Failure struct {
	Reason string
	Origin Origin
}

// Kind implements Result.
func (Failure) Kind() ResultKind { return KindFailure }

// OriginContext implements Result.
func (f Failure) OriginContext() Origin { return f.Origin }

func (Failure) isResult() {}

// Timeout reports that no answer arrived in time.
type Timeout struct{}

// Kind implements Result.
func (Timeout) Kind() ResultKind { return KindTimeout }

// OriginContext implements Result. A timeout is never attributed to an origin.
func (Timeout) OriginContext() Origin { return nil }

func (Timeout) isResult() {}
