package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"b2monitor/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// EventReader is the read-only store surface the query API serves
// from.
type EventReader interface {
	QueryEvents(ctx context.Context, filter models.EventFilter) ([]models.WebhookEvent, error)
	CountEvents(ctx context.Context, filter models.EventFilter) (int64, error)
	GetStatistics(ctx context.Context, days int) ([]models.DailyStatistic, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteBucketEvents(ctx context.Context, bucketName string) (int64, error)
}

type EventsHandler struct {
	logger *zap.Logger
	store  EventReader
}

func NewEventsHandler(logger *zap.Logger, store EventReader) *EventsHandler {
	return &EventsHandler{logger: logger, store: store}
}

// ListEvents serves GET /api/webhook_events/list with bucket, event
// type, time range, and limit filters.
func (h *EventsHandler) ListEvents(c *gin.Context) {
	filter := models.EventFilter{
		BucketName: c.Query("bucket"),
		EventType:  c.Query("event_type"),
		Since:      sinceFromRange(c.DefaultQuery("time_range", "all")),
		Limit:      parseLimit(c.DefaultQuery("limit", "100")),
	}

	events, err := h.store.QueryEvents(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to query events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to query events"})
		return
	}
	if events == nil {
		events = []models.WebhookEvent{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"events":  events,
		"total":   len(events),
	})
}

// BucketEvents serves GET /api/webhook_events/bucket/:bucket.
func (h *EventsHandler) BucketEvents(c *gin.Context) {
	bucketName := c.Param("bucket")
	filter := models.EventFilter{
		BucketName: bucketName,
		Limit:      parseLimit(c.DefaultQuery("limit", "50")),
	}

	events, err := h.store.QueryEvents(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to query bucket events",
			zap.Error(err),
			zap.String("bucket", bucketName))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to query events"})
		return
	}
	if events == nil {
		events = []models.WebhookEvent{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"bucket_name": bucketName,
		"events":      events,
		"total":       len(events),
	})
}

// Stats serves GET /api/webhook_events/stats: created/deleted/total
// counts and unique buckets over a trailing period, computed from the
// daily rollup collection. stored_events counts rows actually present
// in the event log; rollups outlive retention deletes, so the two
// totals diverge after a cleanup.
func (h *EventsHandler) Stats(c *gin.Context) {
	timeRange := c.DefaultQuery("time_range", "24h")
	days := 1
	if timeRange == "7d" {
		days = 7
	}

	stats, err := h.store.GetStatistics(c.Request.Context(), days)
	if err != nil {
		h.logger.Error("Failed to load statistics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to load statistics"})
		return
	}

	var total, created, deleted int64
	buckets := make(map[string]struct{})
	for _, stat := range stats {
		total += stat.EventCount
		if strings.Contains(stat.EventType, "Created") {
			created += stat.EventCount
		}
		if strings.Contains(stat.EventType, "Deleted") {
			deleted += stat.EventCount
		}
		buckets[stat.BucketName] = struct{}{}
	}

	stored, err := h.store.CountEvents(c.Request.Context(), models.EventFilter{Since: sinceFromRange(timeRange)})
	if err != nil {
		h.logger.Warn("Failed to count stored events", zap.Error(err))
		stored = -1
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats": gin.H{
			"total_events":   total,
			"created_events": created,
			"deleted_events": deleted,
			"unique_buckets": len(buckets),
			"stored_events":  stored,
		},
	})
}

// DeleteOld serves DELETE /api/webhook_events/old with body
// {"days": N}.
func (h *EventsHandler) DeleteOld(c *gin.Context) {
	var req struct {
		Days int `json:"days"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Days <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Days must be a positive number"})
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -req.Days)
	deleted, err := h.store.DeleteEventsBefore(c.Request.Context(), cutoff)
	if err != nil {
		h.logger.Error("Failed to delete old events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to delete events"})
		return
	}

	h.logger.Info("Deleted old webhook events",
		zap.Int64("deleted", deleted),
		zap.Time("cutoff", cutoff))
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"deleted_count": deleted,
		"cutoff_date":   cutoff.Format(time.RFC3339),
	})
}

// DeleteBucket serves DELETE /api/webhook_events/bucket/:bucket.
func (h *EventsHandler) DeleteBucket(c *gin.Context) {
	bucketName := c.Param("bucket")
	deleted, err := h.store.DeleteBucketEvents(c.Request.Context(), bucketName)
	if err != nil {
		h.logger.Error("Failed to delete bucket events",
			zap.Error(err),
			zap.String("bucket", bucketName))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to delete events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"bucket_name":   bucketName,
		"deleted_count": deleted,
	})
}

func sinceFromRange(timeRange string) time.Time {
	now := time.Now().UTC()
	switch timeRange {
	case "1h":
		return now.Add(-time.Hour)
	case "24h":
		return now.Add(-24 * time.Hour)
	case "7d":
		return now.AddDate(0, 0, -7)
	default:
		return time.Time{}
	}
}

func parseLimit(raw string) int64 {
	limit, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
