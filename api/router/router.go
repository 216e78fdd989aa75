package router

import (
	"b2monitor/api/handlers"
	"b2monitor/api/middleware"
	"b2monitor/internal/buffer"
	"b2monitor/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers bundles everything the router wires up.
type Handlers struct {
	Webhook *handlers.WebhookHandler
	Events  *handlers.EventsHandler
	Stream  *handlers.StreamHandler
	Buckets *handlers.BucketsHandler
	Buffer  buffer.StatsReporter
}

func Setup(log *logger.Logger, h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	mw := middleware.NewMiddleware(log.Named("middleware"))
	router.Use(mw.CORS())

	// Health check endpoint (no authentication required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Metrics endpoint for Prometheus
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		// Inbound provider endpoint. GET answers the registration
		// probe; POST ingests deliveries.
		api.GET("/webhooks/:source", h.Webhook.HandleValidation)
		api.POST("/webhooks/:source", mw.RequireJSON(), h.Webhook.HandleWebhook)

		// Live feed for dashboard subscribers.
		api.GET("/stream", h.Stream.Stream)

		// Read-only query surface.
		api.GET("/webhook_events/list", h.Events.ListEvents)
		api.GET("/webhook_events/stats", h.Events.Stats)
		api.GET("/webhook_events/bucket/:bucket", h.Events.BucketEvents)

		// Retention admin.
		api.DELETE("/webhook_events/old", h.Events.DeleteOld)
		api.DELETE("/webhook_events/bucket/:bucket", h.Events.DeleteBucket)

		// Per-bucket webhook policy.
		api.GET("/buckets/:bucket/config", h.Buckets.GetConfig)
		api.PUT("/buckets/:bucket/config", mw.RequireJSON(), h.Buckets.PutConfig)

		if h.Buffer != nil {
			stats := handlers.NewBufferStatsHandler(h.Buffer)
			api.GET("/buffer/stats", stats.Stats)
		}
	}

	return router
}
