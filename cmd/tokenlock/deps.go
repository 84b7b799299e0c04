// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tokenlock/tokenlock/internal/api"
	"github.com/tokenlock/tokenlock/internal/auth"
	"github.com/tokenlock/tokenlock/internal/auth/postgres"
	"github.com/tokenlock/tokenlock/internal/cache"
	"github.com/tokenlock/tokenlock/internal/observability"
	"github.com/tokenlock/tokenlock/internal/prompt"
	"github.com/tokenlock/tokenlock/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreFactory connects to the profile store.
	// Default: pgx pool wrapped in postgres.ProfileRepository
	StoreFactory func(ctx context.Context, cfg DatabaseConfig, logger *slog.Logger) (ProfileStore, error)

	// CacheFactory creates the credential cache.
	// Default: newCredentialCache
	CacheFactory func(ctx context.Context, cfg CacheConfig) (cache.Cache[string], error)

	// PrompterFactory creates the prompt delivery client.
	// Default: prompt.NewWebhookPrompter
	PrompterFactory func(cfg PromptConfig, logger *slog.Logger) (auth.Prompter, error)

	// MigratorFactory creates a migrator for auto-migration.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (AutoMigrator, error)

	// APIServerFactory creates the HTTP API server.
	// Default: api.NewServer
	APIServerFactory func(cfg api.Config, authenticator api.Authenticator, enroller api.Enroller, opts ...api.Option) (APIServer, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer
}

// ProfileStore is the persistence the serve and enroll commands need.
type ProfileStore interface {
	auth.ProfileRepository
	Ping(ctx context.Context) error
	Close()
}

// AutoMigrator wraps the migrator methods used on startup.
type AutoMigrator interface {
	Up() error
	Close() error
}

// APIServer wraps the methods used from api.Server.
type APIServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// pgProfileStore ties a profile repository to the pool it runs on.
type pgProfileStore struct {
	*postgres.ProfileRepository
	pool *pgxpool.Pool
}

func (s *pgProfileStore) Ping(ctx context.Context) error {
	//nolint:wrapcheck // readiness reports the driver error as is
	return s.pool.Ping(ctx)
}

func (s *pgProfileStore) Close() {
	s.pool.Close()
}

func openProfileStore(ctx context.Context, cfg DatabaseConfig, logger *slog.Logger) (ProfileStore, error) {
	pool, err := store.OpenPool(ctx, store.PoolConfig{
		URL:             cfg.URL,
		MaxConns:        cfg.MaxConns,
		ConnectAttempts: cfg.ConnectAttempts,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	return &pgProfileStore{ProfileRepository: postgres.NewProfileRepository(pool), pool: pool}, nil
}

// newCredentialCache builds the configured cache backend.
func newCredentialCache(ctx context.Context, cfg CacheConfig) (cache.Cache[string], error) {
	if cfg.Backend == cacheRedis {
		c, err := cache.NewRueidisCache[string](ctx, cache.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return cache.NewMemoryCache[string](), nil
}

func newWebhookPrompter(cfg PromptConfig, logger *slog.Logger) (auth.Prompter, error) {
	p, err := prompt.NewWebhookPrompter(prompt.WebhookConfig{
		URL:            cfg.WebhookURL,
		Secret:         cfg.Secret,
		RequestTimeout: cfg.Timeout,
		MaxRetries:     cfg.MaxRetries,
	}, prompt.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.StoreFactory == nil {
		out.StoreFactory = openProfileStore
	}
	if out.CacheFactory == nil {
		out.CacheFactory = newCredentialCache
	}
	if out.PrompterFactory == nil {
		out.PrompterFactory = newWebhookPrompter
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(databaseURL string) (AutoMigrator, error) {
			m, err := store.NewMigrator(databaseURL)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	if out.APIServerFactory == nil {
		out.APIServerFactory = func(cfg api.Config, a api.Authenticator, e api.Enroller, opts ...api.Option) (APIServer, error) {
			srv, err := api.NewServer(cfg, a, e, opts...)
			if err != nil {
				return nil, err
			}
			return srv, nil
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, ready)
		}
	}
	return &out
}
