package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bondai/universal-reporter/api"
	"github.com/bondai/universal-reporter/api/controllers"
	"github.com/bondai/universal-reporter/api/routes"
	"github.com/bondai/universal-reporter/internal/relay"
	"github.com/bondai/universal-reporter/pkg/config"
	"github.com/bondai/universal-reporter/pkg/db"
	"github.com/bondai/universal-reporter/pkg/logger"
	"github.com/bondai/universal-reporter/pkg/metrics"
	"github.com/bondai/universal-reporter/pkg/migrate"
	"github.com/bondai/universal-reporter/pkg/redis"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "relay"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "relay",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	relayMetrics := metrics.NewRelayMetrics(reg)

	var (
		store  relay.DeliveryStore
		dbPing controllers.Pinger
	)
	if cfg.DB.Enabled() {
		dbClient, err := db.New(ctx, cfg.DB, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap database", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing database", err)
			}
		}()
		if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
			logg.Error(ctx, "failed to run dev migrations", err)
			os.Exit(1)
		}
		store = relay.NewGormStore(dbClient.DB())
		dbPing = dbClient
	} else {
		logg.Info(ctx, "database not configured; delivery audit disabled")
	}

	var (
		limiter   *relay.Limiter
		redisPing controllers.Pinger
	)
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		limiter = relay.NewLimiter(redisClient, cfg.RateLimit, relayMetrics)
		redisPing = redisClient
	} else {
		logg.Info(ctx, "redis not configured; rate limiting disabled")
	}

	svc, err := relay.New(relay.Params{
		Config:  cfg.Relay,
		Store:   store,
		Logger:  logg,
		Metrics: relayMetrics,
	})
	if err != nil {
		logg.Error(ctx, "failed to create relay service", err)
		os.Exit(1)
	}
	if !svc.Configured() {
		logg.Warn(ctx, "upstream url or key missing; every redemption will be answered with a configuration error")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	handler := routes.NewRouter(cfg, logg, svc, limiter, dbPing, redisPing, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := api.NewServer(addr, handler, cfg.Relay.UpstreamTimeout)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "relay shutdown failed", err)
		}
	}()

	logg.Info(ctx, "starting relay server")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "relay server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "relay server stopped")
}
