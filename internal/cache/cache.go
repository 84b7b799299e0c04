// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

// Package cache provides short-lived key-value stores for decrypted
// credentials, backed by process memory or Redis.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss indicates the key was not found or has expired.
	ErrCacheMiss = errors.New("cache: key not found")

	// ErrCacheUnavailable indicates the cache backend could not be reached.
	ErrCacheUnavailable = errors.New("cache: backend unavailable")

	// ErrInvalidValue indicates a stored value could not be decoded.
	ErrInvalidValue = errors.New("cache: invalid value")
)

// Cache is a TTL key-value store. T is the stored value type.
type Cache[T any] interface {
	// Get returns ErrCacheMiss if the key does not exist or has expired.
	Get(ctx context.Context, key string) (T, error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value T, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error

	// Health reports whether the backend is reachable.
	Health(ctx context.Context) error
}
