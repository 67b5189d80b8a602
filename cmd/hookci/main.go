package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hookci/hookci/internal/api"
	"github.com/hookci/hookci/internal/config"
	"github.com/hookci/hookci/internal/controller"
	"github.com/hookci/hookci/internal/credentials"
	"github.com/hookci/hookci/internal/dispatch"
	"github.com/hookci/hookci/internal/jenkins"
	"github.com/hookci/hookci/internal/store"
	"github.com/spf13/pflag"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	configPath := pflag.String("config", os.Getenv("HOOKCI_CONFIG"), "path to a config file (yaml, toml or json)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dbStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize store", "type", cfg.Database.Type, "error", err)
		os.Exit(1)
	}
	defer dbStore.Close()

	credentialService, err := credentials.NewService(credentials.KeyConfig{
		Key:     cfg.Encryption.Key,
		KeyFile: cfg.Encryption.KeyFile,
	})
	if err != nil {
		logger.Error("Failed to initialize credential encryption", "error", err)
		os.Exit(1)
	}
	logger.Info("Credential encryption is enabled", "source", credentialService.KeySource())

	projects := controller.NewProjectRegistry(dbStore, credentials.NewVault(dbStore, credentialService))
	webhooks := controller.NewWebhookRegistry(dbStore)
	builds := controller.NewBuildLog(dbStore, cfg.Builds.LogLimit)

	jenkinsClient := jenkins.NewClient(jenkins.Config{
		BaseURL: cfg.Jenkins.URL,
		User:    cfg.Jenkins.User,
		Token:   cfg.Jenkins.Token,
		Timeout: cfg.Jenkins.Timeout,
	}, nil, logger)
	if !jenkinsClient.Configured() {
		logger.Warn("Jenkins credentials not configured, builds will be logged as failed")
	}

	pipeline := dispatch.NewPipeline(projects, webhooks, builds, jenkinsClient, cfg.Jenkins.Job, logger)

	watcher := controller.NewBranchWatcher(projects, pipeline, logger, cfg.PollInterval)
	go watcher.Start(ctx)

	janitor := controller.NewJanitor(builds, logger, controller.JanitorConfig{
		RetentionDays: cfg.Builds.RetentionDays,
		Schedule:      cfg.Builds.RetentionSchedule,
	})
	go func() {
		if err := janitor.Run(ctx); err != nil {
			logger.Error("Janitor failed", "error", err)
		}
	}()

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	apiHandler := controller.NewHandler(projects, webhooks, builds, logger)
	receiver := dispatch.NewReceiver(pipeline, cfg.GitHub.WebhookSecret, logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		controller.WriteJSON(w, http.StatusOK, api.APIResponse{Message: "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		apiHandler.Routes(r)
		receiver.Routes(r)
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", "error", err)
		}
	}()

	logger.Info("Starting hookci", "addr", cfg.Addr, "store", cfg.Database.Type, "jenkins", cfg.Jenkins.URL)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Database.Type {
	case config.DBTypePostgres:
		s, err := store.NewPostgresStore(ctx, cfg.Database.ConnectionString)
		if err != nil {
			return nil, err
		}
		logger.Info("Using PostgreSQL store")
		return s, nil
	case config.DBTypeFile:
		s, err := store.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		logger.Info("Using file store", "dir", cfg.DataDir)
		return s, nil
	default:
		dbPath := filepath.Join(cfg.DataDir, "hookci.db")
		s, err := store.NewSQLiteStore(dbPath)
		if err != nil {
			return nil, err
		}
		logger.Info("Using SQLite store", "path", dbPath)
		return s, nil
	}
}
