// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer runs a server on a random port and stops it on cleanup.
func startServer(t *testing.T, ready ReadinessChecker) (*Server, <-chan error) {
	t.Helper()
	server := NewServer("127.0.0.1:0", ready)
	errCh, err := server.Start()
	require.NoError(t, err)
	require.NotEmpty(t, server.Addr())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})
	return server, errCh
}

func fetch(t *testing.T, server *Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get("http://" + server.Addr() + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_ExposesRuntimeAndTokenlockMetrics(t *testing.T) {
	server, _ := startServer(t, nil)
	server.Metrics().RequestsTotal.WithLabelValues("/v1/notify", http.MethodPost, "200").Inc()

	status, body := fetch(t, server, "/metrics")
	require.Equal(t, http.StatusOK, status)
	for _, want := range []string{
		"# HELP", "# TYPE", "go_goroutines", "process_",
		"tokenlock_http_requests_total", "tokenlock_pending_requests",
	} {
		assert.Contains(t, body, want)
	}
}

func TestServer_Liveness(t *testing.T) {
	server, _ := startServer(t, func(context.Context) error { return errors.New("never ready") })

	status, body := fetch(t, server, "/healthz/liveness")
	assert.Equal(t, http.StatusOK, status, "liveness ignores readiness")
	assert.Equal(t, "ok", strings.TrimSpace(body))
}

func TestServer_Readiness(t *testing.T) {
	tests := []struct {
		name       string
		ready      ReadinessChecker
		wantStatus int
		wantBody   string
	}{
		{name: "no checker", ready: nil, wantStatus: http.StatusOK, wantBody: "ok"},
		{name: "dependencies up", ready: func(context.Context) error { return nil }, wantStatus: http.StatusOK, wantBody: "ok"},
		{
			name:       "database down",
			ready:      func(context.Context) error { return errors.New("database unreachable") },
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "not ready",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer("127.0.0.1:0", tt.ready)
			rec := httptest.NewRecorder()
			server.handleReadiness(rec, httptest.NewRequest(http.MethodGet, "/healthz/readiness", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, strings.TrimSpace(rec.Body.String()))
		})
	}
}

func TestServer_ReadinessRunsWithDeadline(t *testing.T) {
	var hadDeadline bool
	server := NewServer("127.0.0.1:0", func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	})

	rec := httptest.NewRecorder()
	server.handleReadiness(rec, httptest.NewRequest(http.MethodGet, "/healthz/readiness", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, hadDeadline)
}

func TestServer_Lifecycle(t *testing.T) {
	t.Run("second start fails", func(t *testing.T) {
		server, _ := startServer(t, nil)
		_, err := server.Start()
		assert.Error(t, err)
	})

	t.Run("stop before start is a no-op", func(t *testing.T) {
		server := NewServer("127.0.0.1:0", nil)
		assert.NoError(t, server.Stop(context.Background()))
		assert.Empty(t, server.Addr())
	})

	t.Run("error channel closes on shutdown", func(t *testing.T) {
		server := NewServer("127.0.0.1:0", nil)
		errCh, err := server.Start()
		require.NoError(t, err)
		require.NoError(t, server.Stop(context.Background()))

		select {
		case err, ok := <-errCh:
			if ok {
				assert.NoError(t, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("error channel was not closed")
		}
	})

	t.Run("serve failures reach the error channel", func(t *testing.T) {
		server, errCh := startServer(t, nil)
		require.NotNil(t, server.listener)
		_ = server.listener.Close()

		select {
		case err := <-errCh:
			assert.Error(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("serve error was not reported")
		}
	})
}

func TestMetrics_MiddlewareLabelsByRoutePattern(t *testing.T) {
	server, _ := startServer(t, nil)

	r := chi.NewRouter()
	r.Use(server.Metrics().Middleware)
	r.Get("/v1/profiles/{userID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	for _, path := range []string{"/v1/profiles/user-1", "/v1/profiles/user-2", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	_, body := fetch(t, server, "/metrics")
	assert.Contains(t, body, `tokenlock_http_requests_total{method="GET",route="/v1/profiles/{userID}",status="200"} 2`)
	assert.Contains(t, body, `tokenlock_http_requests_total{method="GET",route="unmatched",status="404"} 1`)
	assert.Contains(t, body, `tokenlock_http_request_duration_seconds_count{method="GET",route="/v1/profiles/{userID}"`)
}
