package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tripledger/internal/handler"
	"tripledger/internal/metrics"
	"tripledger/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	TripHandler     *handler.TripHandler
	DriverHandler   *handler.DriverHandler
	TransferHandler *handler.TransferHandler
	SettingsHandler *handler.SettingsHandler
	RedisClient     *redis.Client
	NewRelicApp     *newrelic.Application
	Metrics         *metrics.Ledger
	Gatherer        prometheus.Gatherer // nil disables /metrics
	Logger          zerolog.Logger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.MetricsMiddleware(deps.Metrics))

	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
		router.Use(middleware.LedgerAttributes())
	}

	router.Use(middleware.IdempotencyMiddleware(deps.RedisClient, deps.Logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1")
	{
		trips := v1.Group("/trips")
		{
			trips.POST("", deps.TripHandler.CreateTrip)
			trips.GET("", deps.TripHandler.GetAll)
			trips.GET("/:id", deps.TripHandler.GetTrip)
			trips.PATCH("/:id", deps.TripHandler.UpdateTrip)
			trips.DELETE("/:id", deps.TripHandler.DeleteTrip)
			trips.POST("/:id/reconcile", deps.TripHandler.Reconcile)
		}

		transfers := v1.Group("/transfers")
		{
			transfers.GET("/pending", deps.TransferHandler.GetPending)
		}

		drivers := v1.Group("/drivers")
		{
			drivers.POST("", deps.DriverHandler.Register)
			drivers.GET("", deps.DriverHandler.GetAll)
			drivers.GET("/:id", deps.DriverHandler.GetDriver)
			drivers.GET("/:id/trips", deps.DriverHandler.GetTrips)
		}

		settings := v1.Group("/settings")
		{
			settings.GET("/rates", deps.SettingsHandler.GetRates)
			settings.DELETE("/rates/cache", deps.SettingsHandler.InvalidateRates)
		}
	}

	return router
}
