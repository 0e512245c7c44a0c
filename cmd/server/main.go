// Command server runs the conversation backend: REST + websocket transport
// over the conversation, message, and presence services.
//
// Startup order: env → config → logging → database → recovery sweeps →
// tracing → AI bridge → router → HTTP server with graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/exdrums/hbg-sub001/internal/ai"
	"github.com/exdrums/hbg-sub001/internal/cache"
	"github.com/exdrums/hbg-sub001/internal/config"
	httpapi "github.com/exdrums/hbg-sub001/internal/http"
	"github.com/exdrums/hbg-sub001/internal/observability"
	"github.com/exdrums/hbg-sub001/internal/realtime"
	"github.com/exdrums/hbg-sub001/internal/repo"
	"github.com/exdrums/hbg-sub001/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments use the process environment.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	log.Info().Str("version", version).Str("port", cfg.Port).Msg("starting server")

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}
	if err := repo.SeedMessageSeq(context.Background(), db); err != nil {
		log.Fatal().Err(err).Msg("seed message sequence")
	}

	// Tracing (no-op unless an OTLP endpoint is configured).
	shutdownOTel, err := observability.SetupOTel(context.Background(), cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("setup tracing")
	}

	// AI bridge: responder plus the per-user/operation limiter. The counter
	// backing the limiter is shared via Redis when configured, otherwise
	// in-process.
	var counter cache.Counter
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCounter(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		defer rc.Close()
		counter = rc
	} else {
		counter = cache.NewMemoryCounter()
	}
	limiter := ai.NewLimiter(counter, int64(cfg.AI.RateMax), cfg.AI.RateWindow)

	responder, err := ai.NewLLMResponder(ai.Config{
		Provider:     cfg.AI.Provider,
		Model:        cfg.AI.Model,
		APIKey:       cfg.AI.APIKey,
		OllamaHost:   cfg.AI.OllamaHost,
		SystemPrompt: cfg.AI.SystemPrompt,
	})
	if err != nil {
		// The rest of the API works without an AI backend; assistant
		// conversations will return Unavailable.
		log.Warn().Err(err).Msg("AI responder disabled")
	}

	// Release messages stuck in the regenerating state by a previous crash.
	cutoff := time.Now().UTC().Add(-cfg.Realtime.RegenTTL)
	if n, err := repo.RecoverStaleRegenerations(context.Background(), db, cutoff); err != nil {
		log.Warn().Err(err).Msg("stale regeneration sweep failed")
	} else if n > 0 {
		log.Info().Int64("released", n).Msg("released stale regenerations")
	}

	// Drop idempotency records past their replay window.
	if n, err := repo.PurgeExpiredIdempotency(context.Background(), db, time.Now().UTC()); err != nil {
		log.Warn().Err(err).Msg("idempotency purge failed")
	} else if n > 0 {
		log.Info().Int64("purged", n).Msg("purged expired idempotency records")
	}

	hub := realtime.NewHub()
	defer hub.Close()

	r := gin.New()
	deps := httpapi.Deps{
		Limiter:  limiter,
		Presence: realtime.NewPresence(),
		Typing:   realtime.NewTypingTracker(cfg.Realtime.TypingTTL),
		Hub:      hub,
	}
	if responder != nil {
		deps.Responder = responder
	}
	httpapi.RegisterRoutes(r, db, deps, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	if err := shutdownOTel(ctx); err != nil {
		log.Warn().Err(err).Msg("tracing shutdown")
	}
}
