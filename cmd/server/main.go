package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nestpulse/presence-api/internal/cursor"
	"github.com/nestpulse/presence-api/internal/database"
	"github.com/nestpulse/presence-api/internal/eventcache"
	"github.com/nestpulse/presence-api/internal/health"
	"github.com/nestpulse/presence-api/internal/httpapi"
	"github.com/nestpulse/presence-api/internal/idempotency"
	"github.com/nestpulse/presence-api/internal/jobs"
	jobhandlers "github.com/nestpulse/presence-api/internal/jobs/handlers"
	"github.com/nestpulse/presence-api/internal/rankcache"
	"github.com/nestpulse/presence-api/internal/ratelimit"
	"github.com/nestpulse/presence-api/internal/resolver"
	"github.com/nestpulse/presence-api/internal/store"
	"github.com/nestpulse/presence-api/pkg/config"
	"github.com/nestpulse/presence-api/pkg/graceful"
	"github.com/nestpulse/presence-api/pkg/logger"
	appredis "github.com/nestpulse/presence-api/pkg/redis"
)

const defaultShutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "presence-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Sentry.Enabled {
		env := cfg.Sentry.Environment
		if env == "" {
			env = cfg.AppEnv
		}
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN, Environment: env}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	log := logger.New(*cfg)
	slog.SetDefault(log)

	log.Info("starting presence api",
		slog.String("env", cfg.AppEnv),
		slog.String("http_port", cfg.App.HTTPPort),
	)

	db, err := sql.Open("postgres", cfg.DB.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			log.Error("closing database", slog.Any("error", cerr))
		}
	}()

	if cfg.DB.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	}
	if cfg.DB.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	}

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	migrationsDir := cfg.App.MigrationsDir
	if migrationsDir == "" {
		migrationsDir = "migrations"
	}
	if err := database.NewMigrator(db, log).ApplyDir(ctx, migrationsDir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	redisClient, err := appredis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if cerr := redisClient.Close(); cerr != nil {
			log.Error("closing redis", slog.Any("error", cerr))
		}
	}()
	redisClient.InstrumentMetrics()

	codec, err := cursor.NewCodec(cfg.Cursor.Key)
	if err != nil {
		return fmt.Errorf("build cursor codec: %w", err)
	}

	st := store.New(db, log)
	events := eventcache.New(redisClient.Unwrap())
	ranks := rankcache.New(redisClient.Unwrap())
	res := resolver.New(st, events, ranks, codec, log, time.Now)

	idemManager := idempotency.NewManager(idempotency.NewRedisStore(redisClient.Unwrap(), log), log)
	limiter := ratelimit.NewRedisLimiter(redisClient.Unwrap(), log)

	api := httpapi.New(res, idemManager, limiter, httpapi.RateLimitConfig{
		Enabled: cfg.RateLimit.Enabled,
		Limit:   cfg.RateLimit.Limit,
		Window:  cfg.RateLimit.Window,
	}, log)

	checker := health.NewChecker(log)
	checker.AddCheck("postgres", health.NewDBChecker(db))
	checker.AddCheck("redis", health.NewRedisChecker(redisClient.Unwrap()))

	mux := http.NewServeMux()
	mux.Handle("/healthz", checker.Handler())
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", api.Handler())

	shutdownTimeout := cfg.App.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	httpServer := graceful.NewServer(log, &http.Server{
		Addr:              ":" + cfg.App.HTTPPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}, shutdownTimeout)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	worker := jobs.NewWorker(redisOpt, cfg.Jobs.Concurrency, log)
	worker.RegisterHandler(jobs.TaskTypeRankRebuild, jobhandlers.NewRankRebuild(st, ranks, log))
	worker.RegisterHandler(jobs.TaskTypeSearchCleanup, jobhandlers.NewSearchCleanup(st, log))

	scheduler := jobs.NewScheduler(redisOpt, log)
	if err := scheduler.RegisterTasks(cfg.Jobs.RankRebuildSpec, cfg.Jobs.SearchCleanupSpec); err != nil {
		return fmt.Errorf("register scheduled jobs: %w", err)
	}

	config.Watch(v, func(fresh *config.Config) {
		log.Info("configuration reloaded", slog.String("env", fresh.AppEnv))
	})

	serverErr := make(chan error, 1)
	workerErr := make(chan error, 1)

	go func() {
		if err := worker.Run(); err != nil {
			workerErr <- fmt.Errorf("job worker: %w", err)
		}
	}()
	go scheduler.Run()

	go func() {
		serverErr <- httpServer.ListenAndServe(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		runErr = <-serverErr
	case runErr = <-serverErr:
		stop()
	case runErr = <-workerErr:
		stop()
		if err := <-serverErr; runErr == nil {
			runErr = err
		}
	}

	scheduler.Shutdown()
	worker.Shutdown()

	if runErr != nil {
		return runErr
	}

	log.Info("presence api stopped")

	return nil
}
