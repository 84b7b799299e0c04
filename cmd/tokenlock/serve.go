// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/tokenlock/tokenlock/internal/api"
	"github.com/tokenlock/tokenlock/internal/auth"
	"github.com/tokenlock/tokenlock/internal/cache"
	"github.com/tokenlock/tokenlock/internal/logging"
	"github.com/tokenlock/tokenlock/internal/vault"
	"github.com/tokenlock/tokenlock/pkg/errutil"
)

const (
	// shutdownTimeout bounds graceful shutdown. Held authenticate requests
	// are cut off when it expires.
	shutdownTimeout = 10 * time.Second
	janitorInterval = time.Minute
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tokenlock API server",
		Long: `Start the HTTP API that releases credentials after passphrase prompts,
together with the metrics and health endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			autoMigrate, err := cmd.Flags().GetBool("auto-migrate")
			if err != nil {
				return oops.Code("CONFIG_INVALID").Wrap(err)
			}
			return runServeWithDeps(cmd.Context(), cfg, autoMigrate, cmd.ErrOrStderr(), nil)
		},
	}

	fs := cmd.Flags()
	registerDatabaseFlags(fs)
	registerCacheFlags(fs)
	fs.String("api-addr", defaultAPIAddr, "API listen address")
	fs.String("api-token", "", "bearer token API callers must present (default: $"+envAPIToken+")")
	fs.String("metrics-addr", defaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.Duration("auth-timeout", auth.DefaultTimeout, "how long to wait for a prompt answer")
	fs.Duration("cache-ttl", auth.DefaultCacheTTL, "how long decrypted credentials stay cached")
	fs.String("prompt-url", "", "bridge webhook URL that receives passphrase prompts")
	fs.Duration("prompt-timeout", defaultPromptTimeout, "timeout for a single prompt delivery")
	fs.Uint64("prompt-retries", defaultPromptRetries, "prompt delivery retries")
	fs.Bool("auto-migrate", true, "apply pending database migrations on startup")

	return cmd
}

// runServeWithDeps starts the server with injectable dependencies and blocks
// until ctx ends, a signal arrives or a server fails.
func runServeWithDeps(ctx context.Context, cfg *Config, autoMigrate bool, logOut io.Writer, deps *ServeDeps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.Setup(logging.Options{
		Service: "tokenlock",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
	}, logOut)
	slog.SetDefault(logger)

	logger.Info("starting tokenlock",
		"api_addr", cfg.API.Addr,
		"metrics_addr", cfg.Metrics.Addr,
		"cache_backend", cfg.Cache.Backend,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if autoMigrate {
		if err := runAutoMigrate(cfg.Database.URL, deps.MigratorFactory, logger); err != nil {
			return err
		}
	}

	profiles, err := deps.StoreFactory(ctx, cfg.Database, logger)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer profiles.Close()
	logger.Info("connected to database")

	credentials, err := deps.CacheFactory(ctx, cfg.Cache)
	if err != nil {
		return oops.Code("CACHE_CONNECT_FAILED").With("backend", cfg.Cache.Backend).Wrap(err)
	}
	defer func() {
		if closeErr := credentials.Close(); closeErr != nil {
			logger.Warn("error closing credential cache", "error", closeErr)
		}
	}()
	if mem, ok := credentials.(*cache.MemoryCache[string]); ok {
		go mem.RunJanitor(ctx, janitorInterval)
	}

	prompter, err := deps.PrompterFactory(cfg.Prompt, logger)
	if err != nil {
		return err
	}

	v := vault.New()
	authSvc, err := auth.NewService(profiles, v, credentials, prompter,
		auth.WithConfig(cfg.authConfig()),
		auth.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	enrollSvc, err := auth.NewEnrollmentService(profiles, v, credentials, auth.WithEnrollmentLogger(logger))
	if err != nil {
		return err
	}

	var apiOpts []api.Option
	apiOpts = append(apiOpts, api.WithLogger(logger))

	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, func(ctx context.Context) error {
			if err := profiles.Ping(ctx); err != nil {
				return oops.With("dependency", "database").Wrap(err)
			}
			if err := credentials.Health(ctx); err != nil {
				return oops.With("dependency", "cache").Wrap(err)
			}
			return nil
		})
		apiOpts = append(apiOpts, api.WithMiddleware(obsServer.Metrics().Middleware))

		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.Code("SERVER_START_FAILED").With("server", "observability").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	apiServer, err := deps.APIServerFactory(api.Config{Addr: cfg.API.Addr, Token: cfg.API.Token}, authSvc, enrollSvc, apiOpts...)
	if err != nil {
		stopServer(obsServer, "observability", logger)
		return err
	}
	apiErrCh, err := apiServer.Start()
	if err != nil {
		stopServer(obsServer, "observability", logger)
		return oops.Code("SERVER_START_FAILED").With("server", "api").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrCh, "api")

	logger.Info("tokenlock ready", "api_addr", apiServer.Addr())

	<-ctx.Done()
	logger.Info("shutting down")

	stopServer(apiServer, "api", logger)
	stopServer(obsServer, "observability", logger)

	logger.Info("shutdown complete")
	return nil
}

type stoppable interface {
	Stop(ctx context.Context) error
}

func stopServer(s stoppable, name string, logger *slog.Logger) {
	if s == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping server", append(errutil.Attrs(err), "server", name)...)
	}
}

// runAutoMigrate applies pending migrations before the server starts.
func runAutoMigrate(databaseURL string, factory func(string) (AutoMigrator, error), logger *slog.Logger) error {
	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("error closing migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "auto-migrate").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

// monitorServerErrors cancels ctx when a server reports an error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
