// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

// Package mocks provides testify mocks for the auth package interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/tokenlock/tokenlock/internal/auth"
)

// testingT is what the constructors need from *testing.T.
type testingT interface {
	mock.TestingT
	Cleanup(func())
}

// MockProfileRepository is a mock auth.ProfileRepository.
type MockProfileRepository struct {
	mock.Mock
}

// NewMockProfileRepository creates a mock that asserts its expectations on cleanup.
func NewMockProfileRepository(t testingT) *MockProfileRepository {
	m := &MockProfileRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// FindProfile implements auth.ProfileFinder.
func (m *MockProfileRepository) FindProfile(ctx context.Context, userID string, selector int) (*auth.Profile, error) {
	ret := m.Called(ctx, userID, selector)
	if fn, ok := ret.Get(0).(func(context.Context, string, int) (*auth.Profile, error)); ok {
		return fn(ctx, userID, selector)
	}
	var profile *auth.Profile
	if v := ret.Get(0); v != nil {
		profile = v.(*auth.Profile)
	}
	return profile, ret.Error(1)
}

// Create implements auth.ProfileRepository.
func (m *MockProfileRepository) Create(ctx context.Context, profile *auth.Profile) error {
	ret := m.Called(ctx, profile)
	return ret.Error(0)
}

// ListByUser implements auth.ProfileRepository.
func (m *MockProfileRepository) ListByUser(ctx context.Context, userID string) ([]*auth.Profile, error) {
	ret := m.Called(ctx, userID)
	var profiles []*auth.Profile
	if v := ret.Get(0); v != nil {
		profiles = v.([]*auth.Profile)
	}
	return profiles, ret.Error(1)
}

// Delete implements auth.ProfileRepository.
func (m *MockProfileRepository) Delete(ctx context.Context, id ulid.ULID) error {
	ret := m.Called(ctx, id)
	return ret.Error(0)
}

// MockDecrypter is a mock auth.Decrypter.
type MockDecrypter struct {
	mock.Mock
}

// NewMockDecrypter creates a mock that asserts its expectations on cleanup.
func NewMockDecrypter(t testingT) *MockDecrypter {
	m := &MockDecrypter{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Decrypt implements auth.Decrypter.
func (m *MockDecrypter) Decrypt(ctx context.Context, ciphertext, passphrase []byte) ([]byte, error) {
	ret := m.Called(ctx, ciphertext, passphrase)
	if fn, ok := ret.Get(0).(func(context.Context, []byte, []byte) ([]byte, error)); ok {
		return fn(ctx, ciphertext, passphrase)
	}
	var plaintext []byte
	if v := ret.Get(0); v != nil {
		// Copy so callers that wipe the buffer leave the expectation intact.
		plaintext = append([]byte(nil), v.([]byte)...)
	}
	return plaintext, ret.Error(1)
}

// MockSealer is a mock auth.Sealer.
type MockSealer struct {
	mock.Mock
}

// NewMockSealer creates a mock that asserts its expectations on cleanup.
func NewMockSealer(t testingT) *MockSealer {
	m := &MockSealer{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Encrypt implements auth.Sealer.
func (m *MockSealer) Encrypt(ctx context.Context, plaintext, passphrase []byte) ([]byte, error) {
	ret := m.Called(ctx, plaintext, passphrase)
	var sealed []byte
	if v := ret.Get(0); v != nil {
		sealed = append([]byte(nil), v.([]byte)...)
	}
	return sealed, ret.Error(1)
}

// MockCredentialCache is a mock auth.CredentialCache.
type MockCredentialCache struct {
	mock.Mock
}

// NewMockCredentialCache creates a mock that asserts its expectations on cleanup.
func NewMockCredentialCache(t testingT) *MockCredentialCache {
	m := &MockCredentialCache{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Get implements auth.CredentialCache.
func (m *MockCredentialCache) Get(ctx context.Context, key string) (string, error) {
	ret := m.Called(ctx, key)
	return ret.String(0), ret.Error(1)
}

// Set implements auth.CredentialCache.
func (m *MockCredentialCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ret := m.Called(ctx, key, value, ttl)
	return ret.Error(0)
}

// Delete implements auth.CredentialCache.
func (m *MockCredentialCache) Delete(ctx context.Context, key string) error {
	ret := m.Called(ctx, key)
	return ret.Error(0)
}

// MockPrompter is a mock auth.Prompter.
type MockPrompter struct {
	mock.Mock
}

// NewMockPrompter creates a mock that asserts its expectations on cleanup.
func NewMockPrompter(t testingT) *MockPrompter {
	m := &MockPrompter{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// SendPrompt implements auth.Prompter.
func (m *MockPrompter) SendPrompt(ctx context.Context, prompt auth.Prompt) error {
	ret := m.Called(ctx, prompt)
	return ret.Error(0)
}
