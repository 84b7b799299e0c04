// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package auth

import (
	"sync"
	"time"

	"github.com/samber/oops"
)

// PendingEntry is an authentication request waiting for its prompt answer.
// Its completion slot can be settled once; later attempts are ignored.
type PendingEntry struct {
	Token     string
	UserID    string
	Origin    Origin
	Profile   *Profile
	CreatedAt time.Time

	once   sync.Once
	done   chan struct{}
	result Result
	err    error
}

// NewPendingEntry creates an entry with an empty completion slot.
func NewPendingEntry(token string, req Request, profile *Profile, createdAt time.Time) *PendingEntry {
	return &PendingEntry{
		Token:     token,
		UserID:    req.UserID,
		Origin:    req.Origin,
		Profile:   profile,
		CreatedAt: createdAt,
		done:      make(chan struct{}),
	}
}

// Settle fills the completion slot. Returns false if it was already settled.
func (e *PendingEntry) Settle(result Result, err error) bool {
	settled := false
	e.once.Do(func() {
		e.result = result
		e.err = err
		settled = true
		close(e.done)
	})
	return settled
}

// Done is closed once the entry has been settled.
func (e *PendingEntry) Done() <-chan struct{} {
	return e.done
}

// Outcome returns the settled result. It must only be called after Done is
// closed.
func (e *PendingEntry) Outcome() (Result, error) {
	<-e.done
	return e.result, e.err
}

// Registry maps correlation tokens to pending entries. It is safe for
// concurrent use. Claiming removes the entry in the same critical section that
// finds it, so a token is handed out at most once.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*PendingEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*PendingEntry),
	}
}

// Insert registers an entry under a fresh token.
func (r *Registry) Insert(token string, entry *PendingEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[token]; exists {
		return oops.Code(CodeTokenDuplicate).
			With("token", redactToken(token)).
			Errorf("token already registered")
	}
	r.entries[token] = entry
	return nil
}

// TryClaim removes and returns the entry for token.
// Returns false, with no side effect, if no entry is registered.
func (r *Registry) TryClaim(token string) (*PendingEntry, bool) {
	return r.TryClaimMatching(token, nil)
}

// TryClaimMatching behaves like TryClaim but only claims the entry when match
// reports true. A rejected entry stays registered.
func (r *Registry) TryClaimMatching(token string, match func(*PendingEntry) bool) (*PendingEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[token]
	if !exists {
		return nil, false
	}
	if match != nil && !match(entry) {
		return nil, false
	}
	delete(r.entries, token)
	return entry, true
}

// Contains reports whether token is registered.
func (r *Registry) Contains(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.entries[token]
	return exists
}

// Len returns the number of pending entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}
