// Command taskrails serves the conversational project-setup API.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"taskrails/internal/api"
	"taskrails/internal/config"
	"taskrails/internal/domain"
	"taskrails/internal/events"
	"taskrails/internal/observability"
	"taskrails/internal/planning/llm"
	"taskrails/internal/setup"
	"taskrails/internal/storage"
	"taskrails/internal/storage/objectstore"
)

func main() {
	logger := observability.NewLogger(observability.ConfigFromEnv())

	configPath := flag.String("config", os.Getenv("TASKRAILS_CONFIG"), "path to a YAML config file")
	dotenvPath := flag.String("env-file", ".env", "path to a .env file (ignored when missing)")
	addr := flag.String("addr", "", "listen address (overrides config)")
	migrate := flag.String("migrate", "", "run migrations: 'up' to apply, 'status' to show status")
	flag.Parse()

	cfg, err := config.Load(*configPath, *dotenvPath)
	if err != nil {
		logger.Error("load configuration", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	sentryEnabled := initSentry(logger)

	ctx := context.Background()
	if *migrate != "" {
		if err := runMigrationsCLI(ctx, logger, cfg.Storage, *migrate); err != nil {
			logger.Error("migrations failed", "command", *migrate, "error", err)
			os.Exit(1)
		}
		return
	}

	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("open store", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}
	docs, err := openDocuments(cfg.Documents, logger)
	if err != nil {
		logger.Error("open document store", "backend", cfg.Documents.Backend, "error", err)
		os.Exit(1)
	}

	metricsCfg := observability.MetricsConfigFromEnv()
	var metrics *observability.Metrics
	if metricsCfg.Enabled {
		metrics = observability.NewMetrics(metricsCfg)
		logger.Info("metrics enabled", "namespace", metricsCfg.Namespace, "version", metricsCfg.Version)
	} else {
		logger.Info("metrics disabled")
	}

	router := buildRouter(cfg, logger)
	hub := events.NewHub(logger)

	coordinator := setup.NewCoordinator(setup.CoordinatorOptions{
		Sinks: setup.Sinks{
			Spec:               store,
			Documents:          docs,
			Roster:             store,
			Tasks:              store,
			WorkspaceDocuments: workspaceDocuments(cfg.Documents),
		},
		Publisher: hub,
		Logger:    logger,
		Metrics:   metrics,
	})
	registry, err := setup.NewRegistry(setup.RegistryOptions{
		CacheSize:   cfg.SessionCacheSize,
		Completer:   router,
		Coordinator: coordinator,
		Projects:    store,
		Settings:    store,
		Publisher:   hub,
		DefaultModel: domain.ModelSelection{
			Provider: cfg.LLM.Provider,
			Model:    cfg.LLM.Model,
			Language: cfg.LLM.Language,
		},
		Workspace: cfg.Documents.Workspace,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		logger.Error("create session registry", "error", err)
		os.Exit(1)
	}

	rateCfg := api.DefaultRateLimitConfig()
	if rateCfg.Enabled() {
		logger.Info("rate limiting configured", "requests_per_second", rateCfg.RequestsPerSecond, "burst", rateCfg.Burst)
	} else {
		logger.Info("rate limiting disabled")
	}

	srv := api.NewServer(api.Options{
		Registry:  registry,
		Store:     store,
		Documents: docs,
		Hub:       hub,
		Providers: router,
		Logger:    logger,
		Metrics:   metrics,
		RateLimit: rateCfg,
	})

	// No WriteTimeout: chat turns wait on the completion provider and the
	// event stream is long-lived.
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("taskrails listening",
			"addr", cfg.Addr,
			"storage", cfg.Storage.Backend,
			"documents", cfg.Documents.Backend,
			"providers", router.Available(),
		)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	}

	logger.Info("shutting down server", "timeout", "15s")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	} else {
		logger.Info("server stopped gracefully")
	}

	if err := store.Close(); err != nil {
		logger.Error("error closing store", "error", err)
	}

	if sentryEnabled {
		logger.Info("flushing sentry events", "deadline", "2s")
		sentry.Flush(2 * time.Second)
	}
	logger.Info("shutdown complete")
}

// initSentry enables error reporting when SENTRY_DSN is set.
func initSentry(logger observability.Logger) bool {
	dsn := os.Getenv("SENTRY_DSN")
	if dsn == "" {
		return false
	}
	env := envOr("SENTRY_ENVIRONMENT", "production")
	release := envOr("APP_VERSION", "dev")
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      env,
		Release:          release,
		TracesSampleRate: 1.0,
		AttachStacktrace: true,
	})
	if err != nil {
		logger.Warn("sentry initialization failed", "error", err)
		return false
	}
	logger.Info("sentry initialized", "environment", env, "release", release)
	return true
}

// buildRouter registers every catalogue provider. Providers without
// credentials stay registered but report unavailable.
func buildRouter(cfg *config.Config, logger observability.Logger) *llm.Router {
	router := llm.NewRouter()
	for _, name := range llm.Providers() {
		p, err := llm.NewProvider(name, cfg.ProviderConfig(name))
		if err != nil {
			logger.Warn("skipping llm provider", "provider", name, "error", err)
			continue
		}
		router.Register(p)
	}
	if len(router.Available()) == 0 {
		logger.Warn("no llm provider configured; chat turns will fail until an API key is set")
	}
	return router
}

// workspaceDocuments opens a per-session memory bank for the file backend.
// Shared backends ignore the session workspace.
func workspaceDocuments(cfg config.DocumentsConfig) func(string) storage.DocumentStore {
	if cfg.Backend == "s3" || cfg.Backend == "memory" {
		return nil
	}
	return func(workspace string) storage.DocumentStore {
		return storage.NewFileDocumentStore(workspace)
	}
}

func openDocuments(cfg config.DocumentsConfig, logger observability.Logger) (storage.DocumentStore, error) {
	switch cfg.Backend {
	case "s3":
		docs, err := objectstore.New(objectstore.Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("using object storage for documents", "endpoint", cfg.S3.Endpoint, "bucket", cfg.S3.Bucket)
		return docs, nil
	case "memory":
		logger.Info("using in-memory document store")
		return storage.NewMemoryDocumentStore(), nil
	default:
		docs := storage.NewFileDocumentStore(cfg.Workspace)
		logger.Info("using memory bank directory for documents", "dir", docs.Dir())
		return docs, nil
	}
}

func runMigrationsCLI(ctx context.Context, logger observability.Logger, cfg config.StorageConfig, cmd string) error {
	switch cmd {
	case "up":
		st, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		_ = st.Close()
		return runMigrationsCLI(ctx, logger, cfg, "status")
	case "status":
		status, err := migrationStatus(ctx, cfg)
		if err != nil {
			return err
		}
		logger.Info("migrations status", "backend", cfg.Backend, "status", status)
		return nil
	default:
		return errors.New("unknown migrate command " + cmd + " (up, status)")
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
