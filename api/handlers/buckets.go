package handlers

import (
	"context"
	"net/http"

	"b2monitor/internal/bucketcfg"
	"b2monitor/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BucketConfigStore is the read/write store surface behind the bucket
// configuration admin API.
type BucketConfigStore interface {
	GetBucketConfig(ctx context.Context, bucketName string) (*models.BucketWebhookConfig, error)
	SaveBucketConfig(ctx context.Context, cfg models.BucketWebhookConfig) error
}

type BucketsHandler struct {
	logger   *zap.Logger
	store    BucketConfigStore
	resolver *bucketcfg.Resolver
}

func NewBucketsHandler(logger *zap.Logger, store BucketConfigStore, resolver *bucketcfg.Resolver) *BucketsHandler {
	return &BucketsHandler{logger: logger, store: store, resolver: resolver}
}

// GetConfig serves GET /api/buckets/:bucket/config.
func (h *BucketsHandler) GetConfig(c *gin.Context) {
	bucketName := c.Param("bucket")
	cfg, err := h.store.GetBucketConfig(c.Request.Context(), bucketName)
	if err != nil {
		h.logger.Error("Failed to load bucket config",
			zap.Error(err),
			zap.String("bucket", bucketName))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to load configuration"})
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "No webhook configuration for bucket: " + bucketName})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "config": cfg})
}

// PutConfig serves PUT /api/buckets/:bucket/config. The path owns the
// bucket name; a conflicting name in the body is overridden. The
// ingest path's cached copy is invalidated so the change takes effect
// on the next delivery.
func (h *BucketsHandler) PutConfig(c *gin.Context) {
	bucketName := c.Param("bucket")

	var cfg models.BucketWebhookConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid configuration payload"})
		return
	}
	cfg.BucketName = bucketName
	if cfg.TrackedEventTypes == nil {
		cfg.TrackedEventTypes = []string{}
	}

	if err := h.store.SaveBucketConfig(c.Request.Context(), cfg); err != nil {
		h.logger.Error("Failed to save bucket config",
			zap.Error(err),
			zap.String("bucket", bucketName))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to save configuration"})
		return
	}
	h.resolver.Invalidate(c.Request.Context(), bucketName)

	h.logger.Info("Bucket webhook config updated",
		zap.String("bucket", bucketName),
		zap.Bool("enabled", cfg.Enabled),
		zap.Int("tracked_types", len(cfg.TrackedEventTypes)))
	c.JSON(http.StatusOK, gin.H{"success": true, "config": cfg})
}
