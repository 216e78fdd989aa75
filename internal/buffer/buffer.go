// Package buffer absorbs webhook write bursts ahead of the persistent
// store. The accumulating queue is shared by all request handlers;
// the flush worker drains it in batches on a fixed interval.
package buffer

import (
	"context"

	"b2monitor/internal/models"
)

// EventBuffer is the durable buffer contract. Enqueue must return
// quickly and never perform store I/O; Drain atomically takes
// ownership of everything buffered so far, so no event is lost or
// double-drained across the swap boundary. Requeue parks a batch
// whose flush failed so it can be recovered later rather than
// silently dropped.
type EventBuffer interface {
	Enqueue(ctx context.Context, event models.WebhookEvent) error
	Drain(ctx context.Context) ([]models.WebhookEvent, error)
	Requeue(ctx context.Context, events []models.WebhookEvent) error
	RecoverBackup(ctx context.Context) (int, error)
	Len(ctx context.Context) (int64, error)
}

// Stats is a point-in-time snapshot of buffer health, exposed on the
// monitoring endpoint.
type Stats struct {
	Backend       string `json:"backend"`
	Available     bool   `json:"available"`
	QueueDepth    int64  `json:"queue_depth"`
	BackupDepth   int64  `json:"backup_depth"`
	TotalBuffered int64  `json:"total_buffered"`
	TotalDrained  int64  `json:"total_drained"`
}

// StatsReporter is implemented by buffers that can report their state.
type StatsReporter interface {
	Stats(ctx context.Context) Stats
}
