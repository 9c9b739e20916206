// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/petiverso/petiverso/internal/auth"
	"github.com/petiverso/petiverso/internal/auth/memory"
	"github.com/petiverso/petiverso/internal/auth/postgres"
	"github.com/petiverso/petiverso/internal/config"
	"github.com/petiverso/petiverso/internal/logging"
	"github.com/petiverso/petiverso/internal/observability"
	"github.com/petiverso/petiverso/internal/store"
	"github.com/petiverso/petiverso/internal/web"
	"github.com/petiverso/petiverso/pkg/errutil"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd(deps *ServeDeps) *cobra.Command {
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		Long: `Run the HTTP API and the metrics/health server until SIGINT or SIGTERM,
then drain in-flight requests and exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, deps)
		},
	}

	cmd.Flags().String("http-addr", defaults.Server.HTTPAddr, "API listen address")
	cmd.Flags().String("metrics-addr", defaults.Server.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", defaults.Log.Format, "log format (json or text)")
	cmd.Flags().String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")
	cmd.Flags().String("storage", defaults.Storage, "storage backend (postgres or memory)")
	cmd.Flags().String("database-url", "", "PostgreSQL URL (default: DATABASE_URL)")

	return cmd
}

// backend holds the repositories serve wires into the auth service.
type backend struct {
	users     auth.UserRepository
	sessions  auth.SessionRepository
	attempts  auth.AttemptRepository
	tx        auth.Transactor
	readiness observability.ReadinessChecker
	close     func()
}

func openBackend(ctx context.Context, cfg *config.Config, deps *ServeDeps) (*backend, error) {
	if cfg.Storage == config.StorageMemory {
		return &backend{
			users:    memory.NewUserRepository(),
			sessions: memory.NewSessionRepository(),
			attempts: memory.NewAttemptRepository(),
			close:    func() {},
		}, nil
	}

	pool, err := deps.PoolFactory(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return &backend{
		users:     postgres.NewUserRepository(pool),
		sessions:  postgres.NewSessionRepository(pool),
		attempts:  postgres.NewAttemptRepository(pool),
		tx:        postgres.NewTransactor(pool),
		readiness: store.Readiness(pool),
		close:     pool.Close,
	}, nil
}

// newAPIHandler builds the auth service, validator and HTTP handler over b.
func newAPIHandler(cfg *config.Config, b *backend, reg prometheus.Registerer, logger *slog.Logger) (http.Handler, *auth.AttemptRecorder, error) {
	authMetrics := auth.NewMetrics(reg)

	hasher, err := auth.NewPasswordHasher(cfg.Password.Algorithm, cfg.Password.BcryptCost)
	if err != nil {
		return nil, nil, err
	}

	recorderOpts := []auth.RecorderOption{
		auth.WithRecorderLogger(logger),
		auth.WithRecorderMetrics(authMetrics),
		auth.WithRetry(cfg.Audit.Retries, cfg.Audit.RetryBase, cfg.Audit.RetryCap),
	}
	if cfg.Audit.SpoolPath != "" {
		recorderOpts = append(recorderOpts, auth.WithSpool(cfg.Audit.SpoolPath))
	}
	recorder, err := auth.NewAttemptRecorder(b.attempts, recorderOpts...)
	if err != nil {
		return nil, nil, err
	}

	svc, err := auth.NewService(b.users, b.sessions, recorder, hasher,
		auth.WithLogger(logger),
		auth.WithSessionTTL(cfg.Session.TTL),
		auth.WithTransactor(b.tx),
		auth.WithMetrics(authMetrics),
	)
	if err != nil {
		return nil, nil, err
	}

	validator, err := auth.NewValidator(b.sessions,
		auth.WithValidatorTTL(cfg.Session.TTL),
		auth.WithRenewalThreshold(cfg.Session.EffectiveThreshold()),
		auth.WithValidatorLogger(logger),
		auth.WithValidatorMetrics(authMetrics),
	)
	if err != nil {
		return nil, nil, err
	}

	codec, err := web.NewCookieCodec(cfg.Cookie.Name, cfg.Cookie.Keys(), cfg.Cookie.Secure)
	if err != nil {
		return nil, nil, err
	}

	h, err := web.NewHandler(svc, validator, codec,
		web.WithLogger(logger),
		web.WithMetrics(observability.NewHTTPMetrics(reg)),
	)
	if err != nil {
		return nil, nil, err
	}
	return h.Routes(), recorder, nil
}

// runServeWithDeps runs the API until ctx is canceled or a signal arrives.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.SetDefault(serviceName, version, cfg.Log.Format, cfg.Log.Level)
	logger.Info("starting petiverso", "storage", cfg.Storage, "http_addr", cfg.Server.HTTPAddr)

	b, err := openBackend(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer b.close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		obsServer ObservabilityServer
		reg       prometheus.Registerer = prometheus.NewRegistry()
	)
	if cfg.Server.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Server.MetricsAddr, b.readiness)
		reg = obsServer.Registry()
	}

	handler, recorder, err := newAPIHandler(cfg, b, reg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := recorder.Close(); closeErr != nil {
			errutil.LogError(logger, "failed to close audit spool", closeErr)
		}
	}()

	listener, err := deps.ListenerFactory("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		return oops.Code("SERVE_LISTEN_FAILED").With("addr", cfg.Server.HTTPAddr).Wrap(err)
	}

	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			_ = listener.Close()
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	apiErrCh := make(chan error, 1)
	go func() {
		defer close(apiErrCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			apiErrCh <- serveErr
		}
	}()
	go monitorServerErrors(ctx, cancel, apiErrCh, "api", logger)

	cmd.Println("Petiverso started on", listener.Addr().String())
	logger.Info("api server listening", "addr", listener.Addr().String())

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		shutdownErr = oops.Code("SERVE_SHUTDOWN_FAILED").Wrap(err)
		errutil.LogError(logger, "error stopping api server", shutdownErr)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			errutil.LogError(logger, "error stopping observability server", err)
		}
	}

	logger.Info("shutdown complete")
	return shutdownErr
}

// monitorServerErrors cancels the process context when a server fails.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok || err == nil {
			return
		}
		logger.Error("server error, triggering shutdown", "server", serverName, "error", err)
		cancel()
	case <-ctx.Done():
	}
}
