// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMemoryCache(t *testing.T) (*MemoryCache[string], *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache[string]()
	c.now = clock.Now
	return c, clock
}

func TestMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestMemoryCache(t)

	require.NoError(t, c.Set(ctx, "credential:u1:acct", "secret-token", time.Minute))

	got, err := c.Get(ctx, "credential:u1:acct")
	require.NoError(t, err)
	assert.Equal(t, "secret-token", got)
}

func TestMemoryCache_EmptyValueIsAHit(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestMemoryCache(t)

	require.NoError(t, c.Set(ctx, "k", "", time.Minute))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryCache_GetMiss(t *testing.T) {
	c, _ := newTestMemoryCache(t)

	_, err := c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_Expiration(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestMemoryCache(t)

	require.NoError(t, c.Set(ctx, "k", "v", 10*time.Minute))

	clock.Advance(10*time.Minute - time.Second)
	_, err := c.Get(ctx, "k")
	require.NoError(t, err, "value should survive until its TTL")

	clock.Advance(time.Second)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss, "value should expire at its TTL")
}

func TestMemoryCache_NonPositiveTTLStoresNothing(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestMemoryCache(t)

	require.NoError(t, c.Set(ctx, "k", "old", time.Minute))
	require.NoError(t, c.Set(ctx, "k", "new", 0))

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_Delete(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestMemoryCache(t)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "never-set"))

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestMemoryCache(t)

	require.NoError(t, c.Set(ctx, "short", "v", time.Minute))
	require.NoError(t, c.Set(ctx, "long", "v", time.Hour))
	require.Equal(t, 2, c.Len())

	clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, c.PurgeExpired())
	assert.Equal(t, 1, c.Len())
	_, err := c.Get(ctx, "long")
	assert.NoError(t, err)
}

func TestMemoryCache_RunJanitorStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewMemoryCache[string]()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.RunJanitor(ctx, time.Millisecond)
		close(done)
	}()

	require.NoError(t, c.Set(ctx, "k", "v", time.Nanosecond))
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}

func TestMemoryCache_Close(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestMemoryCache(t)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, c.Close())
	assert.Equal(t, 0, c.Len())
	assert.NoError(t, c.Health(ctx))
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache[int]()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n%26))
			_ = c.Set(ctx, key, n, time.Minute)
			_, _ = c.Get(ctx, key)
			if n%5 == 0 {
				_ = c.Delete(ctx, key)
			}
		}(i)
	}
	wg.Wait()
}
