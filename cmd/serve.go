package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailgrant/mailgrant/internal/calendar"
	"github.com/mailgrant/mailgrant/internal/config"
	"github.com/mailgrant/mailgrant/internal/credentials"
	"github.com/mailgrant/mailgrant/internal/crypt"
	"github.com/mailgrant/mailgrant/internal/gmail"
	"github.com/mailgrant/mailgrant/internal/googleauth"
	"github.com/mailgrant/mailgrant/internal/instrumentation"
	"github.com/mailgrant/mailgrant/internal/logging"
	"github.com/mailgrant/mailgrant/internal/server"
	"github.com/mailgrant/mailgrant/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		Long: `Start the HTTP service.

Required environment:
  FERNET_KEY            base64-encoded 32-byte encryption key (see "mailgrant keygen")
  GOOGLE_CLIENT_ID      Google OAuth client id
  GOOGLE_CLIENT_SECRET  Google OAuth client secret

Optional environment:
  DATABASE_URL          SQLite database path (default: mailgrant.db)
  GOOGLE_REDIRECT_URL   OAuth callback URL (default: http://localhost:8080/auth/callback)
  MAILGRANT_LISTEN_ADDR listen address (default: 127.0.0.1:8080)
  MAILGRANT_METRICS_ADDR metrics listener (default: :9090, empty disables)
  MAILGRANT_LOG_LEVEL   debug, info, warn, or error (default: info)
  MAILGRANT_LOG_FORMAT  json or text (default: json)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.Setup(os.Stderr, cfg.LogFormat, cfg.LogLevel)

	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("create instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Error("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := store.RunMigrations(db.Writer); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	codec, err := crypt.NewCodec(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("create codec: %w", err)
	}

	credStore := store.NewSQLiteStore(db)
	oauthConfig := googleauth.NewOAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)

	manager := credentials.NewManager(credStore, codec, oauthConfig,
		credentials.WithMetrics(provider.Metrics()),
		credentials.WithLogger(logger),
	)

	flow := googleauth.NewFlow(credStore, codec, oauthConfig,
		googleauth.WithFlowMetrics(provider.Metrics()),
		googleauth.WithFlowLogger(logger),
	)

	emailGateway := gmail.NewGateway(manager,
		gmail.WithMetrics(provider.Metrics()),
		gmail.WithLogger(logger),
	)

	calendarGateway := calendar.NewGateway(manager,
		calendar.WithMetrics(provider.Metrics()),
		calendar.WithLogger(logger),
	)

	srv := server.New(server.Config{
		Addr:     cfg.ListenAddr,
		Flow:     flow,
		Email:    emailGateway,
		Calendar: calendarGateway,
		Store:    credStore,
		Metrics:  provider.Metrics(),
		Logger:   logger,
	})

	var metricsServer *server.MetricsServer
	if cfg.MetricsAddr != "" && provider.Enabled() {
		metricsServer, err = server.NewMetricsServer(cfg.MetricsAddr, provider, logger)
		if err != nil {
			return fmt.Errorf("create metrics server: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", logging.Err(err))
			}
		}()
	}

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	srv.Health().SetReady(true)
	logger.Info("mailgrant ready",
		slog.String("addr", cfg.ListenAddr),
		slog.String("version", version),
	)

	select {
	case <-shutdownCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("http server stopped: %w", err)
		}
		return nil
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer drainCancel()

	if err := srv.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", logging.Err(err))
		}
	}

	logger.Info("mailgrant stopped")
	return nil
}
