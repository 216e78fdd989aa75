// Package flush drains the durable buffer into the persistent store
// on a fixed interval.
package flush

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"b2monitor/internal/buffer"
	"b2monitor/internal/models"
	"b2monitor/pkg/metrics"

	"go.uber.org/zap"
)

// EventStore is the slice of the persistent store the flush worker
// needs. Writes are idempotent upserts keyed on event_id.
type EventStore interface {
	UpsertEvents(ctx context.Context, batch []models.WebhookEvent) (int64, error)
	IncrementStatistics(ctx context.Context, counts map[models.DailyStatistic]int64) error
}

type Worker struct {
	buf        buffer.EventBuffer
	store      EventStore
	logger     *zap.Logger
	interval   time.Duration
	maxRetries int
	baseDelay  time.Duration
}

func NewWorker(buf buffer.EventBuffer, store EventStore, interval time.Duration, logger *zap.Logger) *Worker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Worker{
		buf:        buf,
		store:      store,
		logger:     logger,
		interval:   interval,
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
	}
}

// Run flushes on the configured interval until ctx is cancelled, then
// performs one final flush so a clean shutdown leaves nothing behind
// in the buffer. Events parked by earlier failed flushes are recovered
// first.
func (w *Worker) Run(ctx context.Context) {
	if moved, err := w.buf.RecoverBackup(ctx); err != nil {
		w.logger.Error("Backup event recovery failed", zap.Error(err))
	} else if moved > 0 {
		w.logger.Info("Recovered backed-up events from previous run",
			zap.Int("count", moved))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("Flush worker started", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			w.FlushOnce(flushCtx)
			cancel()
			w.logger.Info("Flush worker stopped")
			return
		case <-ticker.C:
			w.FlushOnce(ctx)
			w.updateQueueGauge(ctx)
		}
	}
}

// FlushOnce drains the buffer and bulk-upserts the batch. A failed
// write is retried with backoff; a batch that exhausts its retries is
// requeued to the buffer's backup queue, never dropped.
func (w *Worker) FlushOnce(ctx context.Context) int {
	batch, err := w.buf.Drain(ctx)
	if err != nil {
		w.logger.Error("Failed to drain event buffer", zap.Error(err))
		return 0
	}
	if len(batch) == 0 {
		return 0
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		if _, err := w.store.UpsertEvents(ctx, batch); err == nil {
			lastErr = nil
			break
		} else {
			lastErr = err
			w.logger.Warn("Batch upsert failed",
				zap.Error(err),
				zap.Int("attempt", attempt),
				zap.Int("batch_size", len(batch)))
			if attempt < w.maxRetries {
				select {
				case <-time.After(w.backoff(attempt)):
				case <-ctx.Done():
				}
			}
		}
	}

	if lastErr != nil {
		metrics.FlushFailures.Inc()
		w.logger.Error("Flush exhausted retries, requeueing batch",
			zap.Error(lastErr),
			zap.Int("batch_size", len(batch)))
		if err := w.buf.Requeue(ctx, batch); err != nil {
			// Last line of defense: emit the batch into the log so the
			// events can be replayed by hand.
			for _, ev := range batch {
				w.logger.Error("UNRECOVERED EVENT",
					zap.String("event_id", ev.EventID),
					zap.String("bucket", ev.BucketName),
					zap.String("event_type", ev.EventType.Raw),
					zap.Int64("object_size", ev.ObjectSize))
			}
		}
		return 0
	}

	if err := w.store.IncrementStatistics(ctx, Rollup(batch)); err != nil {
		w.logger.Warn("Failed to update daily statistics", zap.Error(err))
	}

	duration := time.Since(start)
	metrics.FlushDuration.Observe(duration.Seconds())
	metrics.FlushBatchSize.Observe(float64(len(batch)))
	w.logger.Info("Flushed buffered events",
		zap.Int("batch_size", len(batch)),
		zap.Duration("duration", duration))
	return len(batch)
}

func (w *Worker) updateQueueGauge(ctx context.Context) {
	if depth, err := w.buf.Len(ctx); err == nil {
		metrics.BufferQueueDepth.Set(float64(depth))
	}
}

func (w *Worker) backoff(attempt int) time.Duration {
	delay := float64(w.baseDelay) * math.Pow(2, float64(attempt-1))
	jitter := rand.Float64()*0.5 + 0.5
	return time.Duration(delay * jitter)
}

// Rollup groups a batch into per-(date, bucket, type) counter deltas
// for the daily statistics collection.
func Rollup(batch []models.WebhookEvent) map[models.DailyStatistic]int64 {
	counts := make(map[models.DailyStatistic]int64)
	for _, ev := range batch {
		key := models.DailyStatistic{
			Date:       ev.ReceivedAt.UTC().Format("2006-01-02"),
			BucketName: ev.BucketName,
			EventType:  ev.EventType.Raw,
		}
		counts[key]++
	}
	return counts
}
