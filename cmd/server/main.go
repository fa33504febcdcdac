package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tripledger/internal/app"
	"tripledger/internal/config"
	"tripledger/internal/handler"
	"tripledger/internal/metrics"
	internalRedis "tripledger/internal/redis"
	"tripledger/internal/repository"
	"tripledger/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := app.NewLogger("json", "info")
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := app.NewLogger(cfg.Log.Format, cfg.Log.Level)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Error().Err(err).Msg("failed to initialize New Relic")
		} else {
			logger.Info().Str("app", cfg.NewRelic.AppName).Msg("New Relic enabled")
		}
	}

	store, closeStore, err := app.NewStore(ctx, cfg.Database, nrApp, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("failed to open store")
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error().Err(err).Msg("failed to close store")
		}
	}()

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	logger.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")

	server := wireServer(store, redisClient, nrApp, cfg, logger)

	go func() {
		logger.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	logger.Info().Msg("server exited")
}

// wireServer wires all dependencies and returns the HTTP server.
func wireServer(store repository.Store, redisClient *redis.Client, nrApp *newrelic.Application, cfg *config.Config, logger zerolog.Logger) *http.Server {
	var (
		registry *prometheus.Registry
		m        *metrics.Ledger
	)
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(cfg.Metrics.Namespace, registry)
	}

	// Redis stores.
	lockStore := internalRedis.NewLockStore(redisClient, cfg.Lock.TTL, cfg.Lock.Retry).WithMaxWait(cfg.Lock.Wait)
	cacheStore := internalRedis.NewCacheStore(redisClient, cfg.Ledger.RatesCacheTTL)

	// Services.
	notificationService := service.NewNotificationService(logger)
	settingsService := service.NewSettingsService(store.Settings(), cacheStore, cfg.Ledger.Rates, logger)
	balances := service.NewBalanceResolver(cfg.Ledger.DefaultBalance)
	coordinator := service.NewCoordinator(store, lockStore, balances, m, logger)
	tripService := service.NewTripService(store, lockStore, settingsService, balances, coordinator,
		cacheStore, notificationService, m, logger)
	driverService := service.NewDriverService(store.Drivers(), cacheStore, logger)

	// Handlers.
	tripHandler := handler.NewTripHandler(tripService)
	driverHandler := handler.NewDriverHandler(driverService, tripService)
	transferHandler := handler.NewTransferHandler(tripService)
	settingsHandler := handler.NewSettingsHandler(settingsService)

	deps := app.RouterDeps{
		TripHandler:     tripHandler,
		DriverHandler:   driverHandler,
		TransferHandler: transferHandler,
		SettingsHandler: settingsHandler,
		RedisClient:     redisClient,
		NewRelicApp:     nrApp,
		Metrics:         m,
		Logger:          logger,
	}
	if registry != nil {
		deps.Gatherer = registry
	}
	router := app.NewRouter(deps)

	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}
