// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package errutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode asserts that err carries the given oops code.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	_, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	assert.Equal(t, code, Code(err), "error: %v", err)
}

// AssertErrorContext asserts that err is an oops error with the given context key/value.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T", err)
	ctx := oopsErr.Context()
	require.Contains(t, ctx, key)
	assert.Equal(t, value, ctx[key])
}

// AssertNoSecret asserts that neither the message nor the oops context of err
// mentions secret.
func AssertNoSecret(t *testing.T, err error, secret string) {
	t.Helper()
	require.NotEmpty(t, secret)
	if err == nil {
		return
	}
	assert.NotContains(t, err.Error(), secret)
	if oopsErr, ok := oops.AsOops(err); ok {
		for k, v := range oopsErr.Context() {
			assert.NotContains(t, fmt.Sprint(v), secret, "context key %q", k)
		}
		assert.False(t, strings.Contains(fmt.Sprint(oopsErr.Code()), secret))
	}
}
