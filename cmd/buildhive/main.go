package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	bhhttp "github.com/buildhive/buildhive/internal/adapter/http"
	"github.com/buildhive/buildhive/internal/adapter/litellm"
	bhnats "github.com/buildhive/buildhive/internal/adapter/nats"
	bhotel "github.com/buildhive/buildhive/internal/adapter/otel"
	"github.com/buildhive/buildhive/internal/adapter/postgres"
	"github.com/buildhive/buildhive/internal/adapter/ristretto"
	"github.com/buildhive/buildhive/internal/adapter/ws"
	"github.com/buildhive/buildhive/internal/agent"
	"github.com/buildhive/buildhive/internal/config"
	"github.com/buildhive/buildhive/internal/logger"
	bhmw "github.com/buildhive/buildhive/internal/middleware"
	"github.com/buildhive/buildhive/internal/port/messagequeue"
	"github.com/buildhive/buildhive/internal/resilience"
	"github.com/buildhive/buildhive/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}

	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"llm_url", cfg.LLM.URL,
		"nats_enabled", cfg.NATS.URL != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	shutdownOtel, err := bhotel.Setup(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	// --- Infrastructure ---
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	var queue *bhnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = bhnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
	}

	settingsCache, err := ristretto.New(cfg.Cache.MaxCostBytes)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer settingsCache.Close()

	// --- LLM provider ---
	llmClient := litellm.NewClient(cfg.LLM)
	llmClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	// --- Services ---
	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	registry := agent.NewRegistry(cfg.LLM.MaxTokens)
	creditSvc := service.NewCreditService(store, settingsCache, cfg.Cache.SettingsTTL)

	// A nil *Queue must not become a non-nil interface value.
	var mq messagequeue.Queue
	if queue != nil {
		mq = queue
	}
	orchSvc := service.NewOrchestratorService(store, creditSvc, registry, llmClient, hub, mq, &cfg.Jobs)

	if cfg.Telemetry.Enabled {
		metrics, err := bhotel.NewMetrics()
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		orchSvc.SetMetrics(metrics)
	}

	// --- HTTP ---
	handlers := bhhttp.NewHandlers(orchSvc, creditSvc, store, hub)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(bhmw.RequestID)
	r.Use(bhhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(bhhttp.SecurityHeaders)
	r.Use(bhhttp.Logger)
	r.Use(chimw.Recoverer)
	if cfg.Telemetry.Enabled {
		r.Use(bhotel.HTTPMiddleware(cfg.Logging.Service))
	}

	bhhttp.MountRoutes(r, handlers, store)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Long WriteTimeout: job streams stay open for the whole run.
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
