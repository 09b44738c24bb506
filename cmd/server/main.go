package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Vovarama1992/pixode-support/internal/ai"
	"github.com/Vovarama1992/pixode-support/internal/chat"
	"github.com/Vovarama1992/pixode-support/internal/config"
	"github.com/Vovarama1992/pixode-support/internal/identity"
	"github.com/Vovarama1992/pixode-support/internal/realtime"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := config.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Storage ---
	var repo chat.Repo
	if cfg.DatabaseDriver == config.DriverMemory {
		logger.Warn("using in-memory store, sessions will not survive a restart")
		repo = chat.NewMemoryRepo()
	} else {
		dialect := chat.Dialect(cfg.DatabaseDriver)
		openCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		db, err := chat.OpenDB(openCtx, dialect, cfg.DatabaseURL)
		cancel()
		if err != nil {
			log.Fatalf("db open error: %v", err)
		}
		defer db.Close()

		if err := chat.Migrate(ctx, db, dialect); err != nil {
			log.Fatalf("db migrate error: %v", err)
		}
		repo = chat.NewRepo(db, dialect)
	}

	// --- Realtime ---
	hub := realtime.NewHub(logger)
	var bus chat.Bus = hub
	if cfg.RedisURL != "" {
		rdb, err := realtime.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis error: %v", err)
		}
		defer rdb.Close()

		bridge := realtime.NewRedisBridge(hub, rdb, logger)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				logger.Error("redis bridge stopped", "error", err)
			}
		}()
		bus = bridge
	}

	// --- AI ---
	aiClient, err := newAI(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("ai client error: %v", err)
	}

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// --- Chat module wiring ---
	chatService := chat.NewService(repo, bus, aiClient, chat.Options{
		Logger:       logger,
		Metrics:      chat.NewMetrics(reg),
		ReplyTimeout: cfg.AIReplyTimeout,
		ReplyDelay:   cfg.AIReplyDelay,
	})
	chatHandler := chat.NewHandler(chatService, logger)

	janitor, err := chat.NewJanitor(chatService, cfg.SweepSchedule, cfg.StaleSessionAfter, logger)
	if err != nil {
		log.Fatalf("janitor error: %v", err)
	}
	janitor.Start()

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))
	r.Use(identity.Middleware(identity.NewJWTResolver(cfg.JWTSecret, 0), logger))

	chat.RegisterRoutes(r, chatHandler)

	// --- health ---
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "port", cfg.Port, "store", cfg.DatabaseDriver, "ai", aiProviderName(cfg))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	janitor.Stop()
	chatService.Close()
}

func newAI(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ai.AI, error) {
	if !cfg.AIEnabled() {
		logger.Warn("automated replies disabled")
		return ai.Disabled(), nil
	}
	switch cfg.AIProvider {
	case config.ProviderGemini:
		return ai.NewGeminiClient(ctx, ai.GeminiConfig{
			APIKey:       cfg.GeminiAPIKey,
			Model:        cfg.GeminiModel,
			SystemPrompt: cfg.AISystemPrompt,
		})
	default:
		return ai.NewOpenAIClient(ai.OpenAIConfig{
			APIKey:       cfg.OpenAIAPIKey,
			BaseURL:      cfg.OpenAIBaseURL,
			Model:        cfg.OpenAIModel,
			SystemPrompt: cfg.AISystemPrompt,
		}, logger)
	}
}

func aiProviderName(cfg *config.Config) string {
	if !cfg.AIEnabled() {
		return string(config.ProviderNone)
	}
	return string(cfg.AIProvider)
}
