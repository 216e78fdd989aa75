// Package ingest holds the write-side state machine between the
// durable buffer and the persistent store.
package ingest

import (
	"context"
	"errors"

	"b2monitor/internal/buffer"
	"b2monitor/internal/flush"
	"b2monitor/internal/models"
	"b2monitor/pkg/metrics"

	"go.uber.org/zap"
)

// Writer routes accepted events to the durable buffer and falls back
// to a synchronous direct upsert when the buffer is unavailable. The
// fallback covers the single failing event only; nothing accumulates
// in process memory during a sustained buffer outage.
type Writer struct {
	buf    buffer.EventBuffer
	store  flush.EventStore
	logger *zap.Logger
}

func NewWriter(buf buffer.EventBuffer, store flush.EventStore, logger *zap.Logger) *Writer {
	return &Writer{buf: buf, store: store, logger: logger}
}

// Write returns nil once the event is durably enqueued or, on the
// degraded path, durably stored. Any other error means the event was
// not captured anywhere and the caller must signal failure so the
// provider redelivers.
func (w *Writer) Write(ctx context.Context, ev models.WebhookEvent) error {
	err := w.buf.Enqueue(ctx, ev)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrBufferUnavailable) {
		return err
	}

	metrics.DegradedWrites.Inc()
	w.logger.Warn("Buffer unavailable, writing event directly to store",
		zap.Error(err),
		zap.String("event_id", ev.EventID),
		zap.String("bucket", ev.BucketName))

	if _, err := w.store.UpsertEvents(ctx, []models.WebhookEvent{ev}); err != nil {
		return err
	}
	if err := w.store.IncrementStatistics(ctx, flush.Rollup([]models.WebhookEvent{ev})); err != nil {
		w.logger.Warn("Failed to update statistics on degraded write", zap.Error(err))
	}
	return nil
}
