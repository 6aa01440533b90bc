package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/chatrelay/internal/billing"
	"github.com/af-corp/chatrelay/internal/bus"
	"github.com/af-corp/chatrelay/internal/config"
	"github.com/af-corp/chatrelay/internal/creds"
	"github.com/af-corp/chatrelay/internal/identity"
	"github.com/af-corp/chatrelay/internal/policy"
	"github.com/af-corp/chatrelay/internal/ratelimit"
	"github.com/af-corp/chatrelay/internal/server"
	"github.com/af-corp/chatrelay/internal/telemetry"
	"github.com/af-corp/chatrelay/internal/upstream"
	"github.com/af-corp/chatrelay/internal/worker"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	// Load configuration
	loader := config.NewLoader(*configDir, slog.Default())
	if err := loader.Load(); err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Telemetry.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	// Connect to PostgreSQL; checkout sessions fall back to process memory
	// without it.
	var sessions billing.SessionStore
	var subs billing.StatusReader
	dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err == nil {
		if pingErr := dbPool.Ping(context.Background()); pingErr != nil {
			logger.Warn("database not reachable, checkout sessions held in memory", "error", pingErr)
			dbPool.Close()
			dbPool = nil
		}
	} else {
		logger.Warn("database config invalid, checkout sessions held in memory", "error", err)
		dbPool = nil
	}
	if dbPool != nil {
		defer dbPool.Close()
		pg := billing.NewPostgresStore(dbPool)
		sessions, subs = pg, pg
		logger.Info("database connected")
	} else {
		mem := billing.NewMemoryStore()
		sessions, subs = mem, mem
	}

	// Connect to Redis; captured headers fall back to process memory
	// without it.
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable, captured headers held in memory", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}
	var credStore creds.Store
	if rdb != nil {
		credStore = creds.NewRedis(rdb)
	} else {
		credStore = creds.NewMemory()
	}

	// Operation policy
	gate := policy.NewGate()
	if err := gate.Load(cfg.Policy.BundlePath); err != nil {
		logger.Warn("failed to load operation policies, gate disabled", "error", err)
	}
	loader.OnReload(func() {
		dir := loader.Config().Policy.BundlePath
		if err := gate.Load(dir); err != nil {
			logger.Warn("failed to reload operation policies, keeping previous", "error", err)
			return
		}
		logger.Info("operation policies reloaded", "dir", dir)
	})

	metrics := telemetry.NewMetrics()

	api := upstream.NewClient(cfg.Upstream.BaseURL, &http.Client{Timeout: cfg.Upstream.Timeout}, credStore).WithMetrics(metrics)
	checkout := billing.NewWatcher(sessions, cfg.Billing.Plans, cfg.Billing.SuccessURL, cfg.Billing.CancelURL, cfg.Billing.CheckoutTimeout)

	b := bus.NewLocalBus()
	w := worker.New(worker.Deps{
		Provider:     identity.NewMemory(),
		Creds:        credStore,
		API:          api,
		Checkout:     checkout,
		Subs:         subs,
		Gate:         gate,
		Metrics:      metrics,
		Broadcaster:  b,
		Quota:        ratelimit.NewQuotaTracker(rdb),
		DailyOpLimit: cfg.Limits.DailyMeteredOps,
	})
	w.Start(context.Background())
	defer w.Stop()
	b.Attach(w)

	handler := server.NewHandler(b, version)
	routes := handler.Routes(server.Options{
		Limiter: ratelimit.NewLimiter(rdb),
		BusRPM:  cfg.Limits.BusRPM,
		Metrics: true,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     routes,
		ReadTimeout: cfg.Server.ReadTimeout,
		// Broadcast streams outlive any sensible write timeout.
		WriteTimeout: 0,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("worker daemon starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	// Detach first so in-flight senders see the disconnect condition instead
	// of hanging on a dying worker.
	b.Detach()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("worker daemon stopped")
}

// logLevel maps the configured level name, defaulting to info.
func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
