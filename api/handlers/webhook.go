package handlers

import (
	"context"
	"net/http"
	"time"

	"b2monitor/internal/aggregate"
	"b2monitor/internal/bucketcfg"
	"b2monitor/internal/hub"
	"b2monitor/internal/ingest"
	"b2monitor/internal/normalize"
	"b2monitor/internal/signature"
	"b2monitor/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// signatureHeaders in lookup order: the official B2 header first, then
// the GitHub-style header some provider versions send.
var signatureHeaders = []string{
	"X-Bz-Event-Notification-Signature",
	"X-Hub-Signature-256",
}

// handlerTimeout bounds the synchronous part of ingestion; the
// provider treats slow responses as failures and redelivers.
const handlerTimeout = 5 * time.Second

type WebhookHandler struct {
	logger     *zap.Logger
	normalizer *normalize.Normalizer
	configs    *bucketcfg.Resolver
	writer     *ingest.Writer
	aggregator *aggregate.Aggregator
	publisher  hub.Publisher
}

func NewWebhookHandler(
	logger *zap.Logger,
	configs *bucketcfg.Resolver,
	writer *ingest.Writer,
	aggregator *aggregate.Aggregator,
	publisher hub.Publisher,
) *WebhookHandler {
	return &WebhookHandler{
		logger:     logger,
		normalizer: normalize.NewNormalizer(logger),
		configs:    configs,
		writer:     writer,
		aggregator: aggregator,
		publisher:  publisher,
	}
}

// HandleValidation answers the provider's GET probe when a webhook URL
// is registered.
func (h *WebhookHandler) HandleValidation(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Webhook endpoint is valid"})
}

// HandleWebhook ingests one delivery: verify, normalize, filter,
// durably enqueue, observe, broadcast. The 200 is sent as soon as
// every accepted event is durably captured; persistence to the store
// completes later on the flush interval.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), handlerTimeout)
	defer cancel()

	body, err := c.GetRawData()
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Empty or unreadable request body"})
		return
	}

	// A structural pre-parse gets the bucket name the signature secret
	// is keyed under, before any event is acted on.
	bucketName, emptyBatch, err := peekBucketName(body)
	if err != nil {
		metrics.EventsRejected.WithLabelValues("malformed").Inc()
		h.logger.Error("Failed to parse webhook payload",
			zap.Error(err),
			zap.String("source", c.Param("source")))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}
	if emptyBatch {
		// A valid delivery with zero events; acknowledge it so the
		// provider does not redeliver forever.
		c.JSON(http.StatusOK, gin.H{"message": "Events accepted", "accepted": 0})
		return
	}

	cfg, err := h.configs.Resolve(ctx, bucketName)
	if err != nil {
		h.logger.Error("Bucket config lookup failed",
			zap.Error(err),
			zap.String("bucket", bucketName))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Configuration lookup failed"})
		return
	}
	if cfg == nil || !cfg.Enabled {
		metrics.EventsRejected.WithLabelValues("bucket_disabled").Inc()
		h.logger.Info("Received webhook for unconfigured or disabled bucket",
			zap.String("bucket", bucketName))
		c.JSON(http.StatusForbidden, gin.H{"error": "Webhooks not enabled for bucket: " + bucketName})
		return
	}

	if cfg.SigningSecret == "" {
		// Accepting unsigned deliveries is a per-bucket policy choice,
		// surfaced in the log rather than silently applied.
		h.logger.Warn("Bucket has no signing secret, accepting unsigned delivery",
			zap.String("bucket", bucketName))
	} else {
		if err := signature.Verify(body, signatureHeader(c), cfg.SigningSecret); err != nil {
			metrics.EventsRejected.WithLabelValues("signature").Inc()
			h.logger.Warn("Webhook signature verification failed",
				zap.Error(err),
				zap.String("bucket", bucketName),
				zap.String("source_ip", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid webhook signature"})
			return
		}
	}

	meta := normalize.RequestMeta{
		SourceIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		RequestID: uuid.NewString(),
	}
	events, err := h.normalizer.Normalize(body, meta)
	if err != nil {
		metrics.EventsRejected.WithLabelValues("malformed").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}

	accepted := 0
	for _, ev := range events {
		if ev.BucketName != bucketName {
			// The provider scopes a delivery to one bucket; a mixed
			// batch would verify against the wrong secret.
			metrics.EventsRejected.WithLabelValues("bucket_mismatch").Inc()
			h.logger.Warn("Dropping event for different bucket in same delivery",
				zap.String("expected", bucketName),
				zap.String("got", ev.BucketName))
			continue
		}
		if !cfg.Tracks(ev.EventType.Raw) {
			metrics.EventsRejected.WithLabelValues("untracked").Inc()
			h.logger.Info("Received untracked event type",
				zap.String("bucket", bucketName),
				zap.String("event_type", ev.EventType.Raw))
			continue
		}

		if err := h.writer.Write(ctx, ev); err != nil {
			h.logger.Error("Failed to capture event, signalling provider to retry",
				zap.Error(err),
				zap.String("event_id", ev.EventID))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process event"})
			return
		}

		metrics.EventsReceived.WithLabelValues(ev.BucketName, ev.EventType.Raw).Inc()
		h.aggregator.Observe(ev)
		h.publisher.PublishEvent(ev)
		accepted++
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Events accepted",
		"accepted":   accepted,
		"request_id": meta.RequestID,
	})
}

func signatureHeader(c *gin.Context) string {
	for _, name := range signatureHeaders {
		if v := c.GetHeader(name); v != "" {
			return v
		}
	}
	return ""
}

// peekBucketName reads bucketName from the first event of a batch
// payload, or from the top level of a single-event payload. The second
// return distinguishes a batch whose events array is present but empty
// from a single-event shape.
func peekBucketName(body []byte) (string, bool, error) {
	var probe struct {
		BucketName string `json:"bucketName"`
		Events     *[]struct {
			BucketName string `json:"bucketName"`
		} `json:"events"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return "", false, err
	}
	if probe.Events != nil {
		if len(*probe.Events) == 0 {
			return "", true, nil
		}
		return (*probe.Events)[0].BucketName, false, nil
	}
	return probe.BucketName, false, nil
}
