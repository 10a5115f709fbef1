// Package main is the entry point for the hazard wager API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"hazard-wager/internal/auth"
	"hazard-wager/internal/config"
	"hazard-wager/internal/engine"
	"hazard-wager/internal/handler"
	"hazard-wager/internal/pkg/cache"
	"hazard-wager/internal/pkg/db"
	"hazard-wager/internal/pkg/lock"
	"hazard-wager/internal/repository"
	"hazard-wager/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.IsProduction() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		gin.SetMode(gin.ReleaseMode)
	}
	log.Info().Str("env", cfg.Server.Env).Msg("Configuration loaded successfully")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := db.Migrate(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	redisClient, err := cache.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	curve, err := cfg.Wager.Curve()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid hazard schedule")
	}

	store := repository.NewStore(dbPool.Pool)
	mirror := cache.NewSessionMirror(redisClient, cfg.Wager.MirrorTTL)
	limiter := cache.NewRateLimiter(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window)

	// Wagers and account moves for one user share a lock table.
	userLock := lock.New[int64]()

	wagerEngine := engine.New(curve, store, mirror, engine.ConfigFrom(cfg), engine.WithLocks(userLock))
	tickHub := engine.NewTickHub(wagerEngine)
	defer tickHub.Close()

	reaper := engine.NewReaper(wagerEngine, cfg.Reaper.Interval)
	go reaper.Run(ctx)

	accountService := service.NewAccountService(
		store,
		userLock,
		cfg.Accounts.InitialBalance,
		cfg.Wager.OpTimeout,
		cfg.Wager.LockTimeout,
	)

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create token service")
	}

	router := handler.NewRouter(handler.Deps{
		Engine:   wagerEngine,
		Ticks:    tickHub,
		Accounts: accountService,
		Tokens:   tokens,
		Limiter:  limiter,
		IsAdmin:  cfg.IsAdmin,
		Health: map[string]handler.HealthChecker{
			"postgres": dbPool,
			"redis":    mirror,
		},
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server is starting...")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown did not complete")
	}
	log.Info().Msg("Server stopped gracefully")
}
