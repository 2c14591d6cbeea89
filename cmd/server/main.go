package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sashabaranov/go-openai"

	"github.com/JonMunkholm/colextract/internal/config"
	"github.com/JonMunkholm/colextract/internal/core"
	"github.com/JonMunkholm/colextract/internal/journal"
	"github.com/JonMunkholm/colextract/internal/logging"
	"github.com/JonMunkholm/colextract/internal/services"
	"github.com/JonMunkholm/colextract/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"journal", cfg.Journal.Backend,
		"max_concurrent_jobs", cfg.Extraction.MaxConcurrentJobs,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)
	slog.Debug("effective configuration", "config", cfg.String())

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open journal", "backend", cfg.Journal.Backend, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	manager := services.NewManager(cfg.Services.SettingsFile, serviceDeps(cfg))
	if err := manager.Load(); err != nil {
		slog.Error("failed to load service settings", "path", cfg.Services.SettingsFile, "error", err)
		os.Exit(1)
	}
	slog.Info("services loaded", "services", manager.Names(), "kinds", services.Kinds())

	service := core.NewService(store, manager, core.Options{
		MaxConcurrentJobs: cfg.Extraction.MaxConcurrentJobs,
		MaxWait:           cfg.Extraction.MaxWaitTime,
		JobTimeout:        cfg.Extraction.JobTimeout,
		ServiceTimeout:    cfg.Extraction.ServiceTimeout,
		MaxFileSize:       cfg.Upload.MaxFileSize,
	})

	restored, err := service.Restore(ctx)
	if err != nil {
		slog.Error("failed to restore projects", "error", err)
		os.Exit(1)
	}
	slog.Info("projects restored", "count", restored)

	server := web.NewServer(service, cfg)

	// Create cancellable context for background jobs
	bgCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	go service.StartJobSweeper(bgCtx, core.SweepConfig{
		Retention:     cfg.Extraction.JobRetention,
		CheckInterval: cfg.Extraction.SweepInterval,
	})
	if cfg.Services.Watch {
		go func() {
			if err := manager.Watch(bgCtx); err != nil {
				slog.Warn("service settings watcher stopped", "error", err)
			}
		}()
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelBackground()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}

		status := service.LimiterStatus()
		if status.Active > 0 {
			slog.Info("waiting for extraction jobs to complete", "active", status.Active)
		}
		if err := service.Shutdown(shutdownCtx); err != nil {
			slog.Warn("extraction jobs did not complete in time", "error", err)
		}
	}()

	if err := server.Start(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}

// openStore opens the configured journal backend.
func openStore(ctx context.Context, cfg *config.Config) (journal.Store, error) {
	switch cfg.Journal.Backend {
	case config.BackendMemory:
		slog.Warn("using in-memory journal; projects are lost on restart")
		return journal.NewMemoryStore(), nil
	case config.BackendBadger:
		return journal.OpenBadger(journal.BadgerConfig{
			Dir:            cfg.Journal.Dir,
			SyncWrites:     cfg.Journal.SyncWrites,
			GCInterval:     cfg.Journal.GCInterval,
			GCDiscardRatio: cfg.Journal.GCDiscardRatio,
			Logger:         slog.Default().With("component", "badger"),
		})
	case config.BackendPostgres:
		return journal.OpenPostgres(ctx, cfg.Database.URL, journal.PoolConfig{
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		})
	}
	return nil, fmt.Errorf("unknown journal backend %q", cfg.Journal.Backend)
}

// serviceDeps builds the shared clients extraction services use.
func serviceDeps(cfg *config.Config) services.Deps {
	sc := cfg.Services
	deps := services.Deps{
		HTTPClient:  &http.Client{Timeout: sc.HTTPTimeout},
		RateLimit:   sc.RateLimit,
		Burst:       sc.Burst,
		OpenAIModel: sc.OpenAIModel,
	}
	if sc.OpenAIKey != "" {
		oc := openai.DefaultConfig(sc.OpenAIKey)
		if sc.OpenAIBaseURL != "" {
			oc.BaseURL = sc.OpenAIBaseURL
		}
		deps.OpenAI = openai.NewClientWithConfig(oc)
	}
	return deps
}
