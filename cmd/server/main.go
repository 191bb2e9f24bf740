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

	"github.com/diewo77/go-contracts/internal/automation"
	"github.com/diewo77/go-contracts/internal/cache"
	"github.com/diewo77/go-contracts/internal/config"
	"github.com/diewo77/go-contracts/internal/db"
	"github.com/diewo77/go-contracts/internal/logger"
	"github.com/diewo77/go-contracts/internal/middleware"
	"github.com/diewo77/go-contracts/internal/server"
	"github.com/diewo77/go-contracts/internal/services"
	"github.com/diewo77/go-contracts/internal/tasks"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	migrateOnlyFlag = flag.Bool("migrate-only", false, "Run DB migrations and exit")
	seedOnlyFlag    = flag.Bool("seed-only", false, "Run DB seed and exit")
)

func main() {
	flag.Parse()

	// Load environment variables from .env file
	_ = godotenv.Load()

	cfg := config.Load()
	if err := logger.Setup(cfg.Log); err != nil {
		log.Fatal().Err(err).Msg("invalid log configuration")
	}

	dbConn, err := db.Connect(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	if *migrateOnlyFlag {
		if err := db.ApplySchema(dbConn, cfg.Database); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
		log.Info().Msg("migrations completed successfully")
		return
	}
	if *seedOnlyFlag {
		if err := db.Seed(dbConn); err != nil {
			log.Fatal().Err(err).Msg("seeding failed")
		}
		log.Info().Msg("seeding completed successfully")
		return
	}

	// Run migrations on startup if enabled
	if cfg.App.Migrations {
		if err := db.ApplySchema(dbConn, cfg.Database); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
		log.Info().Msg("migrations completed")
	}
	if cfg.App.Seed {
		if err := db.Seed(dbConn); err != nil {
			log.Fatal().Err(err).Msg("seeding failed")
		}
	}

	loc := cfg.Billing.Location()
	entries := services.NewEntryService(dbConn, logger.WithComponent("entries"))
	processor := automation.NewProcessor(dbConn, entries, automation.Options{
		Concurrency:     cfg.Billing.Concurrency,
		MaxCyclesPerRun: cfg.Billing.MaxCyclesPerRun,
	}, logger.WithComponent("automation"))

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	limiter := middleware.NewRateLimiter(cfg.Billing.RunRatePerMin, cfg.Billing.RunBurst, logger.WithComponent("ratelimit"))
	limiter.StartCleanup(bgCtx, 10*time.Minute)

	deps := server.Deps{
		DB:        dbConn,
		Processor: processor,
		Limiter:   limiter,
		Location:  loc,
		Log:       logger.WithComponent("http"),
	}

	// Queue worker and daily scheduler
	var (
		rdb       *redis.Client
		worker    *asynq.Server
		scheduler *asynq.Scheduler
	)
	if cfg.App.Worker {
		rdb, err = cache.ConnectRedis(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		deps.Redis = rdb
		deps.Enqueuer = tasks.NewEnqueuer(tasks.NewClient(rdb), cfg.Billing.RunUniqueTTL)

		worker = tasks.NewServer(rdb, 1, logger.WithComponent("worker"))
		tenants := services.NewTenantService(dbConn, logger.WithComponent("tenants"))
		mux := tasks.NewServeMux(tasks.NewTaskProcessor(processor, tenants, loc, logger.WithComponent("worker")))
		if err := worker.Start(mux); err != nil {
			log.Fatal().Err(err).Msg("failed to start task worker")
		}

		scheduler, err = tasks.NewScheduler(rdb, cfg.Billing.Cron, loc, cfg.Billing.RunUniqueTTL, logger.WithComponent("scheduler"))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to configure scheduler")
		}
		if err := scheduler.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start scheduler")
		}
		log.Info().Str("cron", cfg.Billing.Cron).Str("timezone", loc.String()).Msg("billing scheduler started")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.New(deps),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Bool("dev", cfg.App.Dev).Bool("worker", cfg.App.Worker).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
	stopBackground()
	if scheduler != nil {
		scheduler.Shutdown()
	}
	if worker != nil {
		worker.Shutdown()
	}
	if err := cache.DisconnectRedis(rdb); err != nil {
		log.Error().Err(err).Msg("error closing redis")
	}
	if sqlDB, err := dbConn.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("server stopped gracefully")
}
