package buffer

import (
	"context"
	"sync"

	"b2monitor/internal/models"
	"b2monitor/pkg/metrics"
)

// MemoryBuffer is a process-local buffer for single-instance
// deployments. Drain swaps the accumulating slice for a fresh one
// under the lock, so appends racing the swap land wholly on one side
// of it.
type MemoryBuffer struct {
	mu      sync.Mutex
	pending []models.WebhookEvent
	backup  []models.WebhookEvent

	buffered int64
	drained  int64
}

func NewMemoryBuffer() *MemoryBuffer {
	return &MemoryBuffer{}
}

func (b *MemoryBuffer) Enqueue(_ context.Context, event models.WebhookEvent) error {
	b.mu.Lock()
	b.pending = append(b.pending, event)
	b.buffered++
	b.mu.Unlock()
	metrics.EventsBuffered.Inc()
	return nil
}

func (b *MemoryBuffer) Drain(_ context.Context) ([]models.WebhookEvent, error) {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.drained += int64(len(batch))
	b.mu.Unlock()
	return batch, nil
}

func (b *MemoryBuffer) Requeue(_ context.Context, events []models.WebhookEvent) error {
	b.mu.Lock()
	b.backup = append(b.backup, events...)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBuffer) RecoverBackup(_ context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	moved := len(b.backup)
	b.pending = append(b.backup, b.pending...)
	b.backup = nil
	return moved, nil
}

func (b *MemoryBuffer) Len(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.pending)), nil
}

func (b *MemoryBuffer) Stats(_ context.Context) Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Backend:       "memory",
		Available:     true,
		QueueDepth:    int64(len(b.pending)),
		BackupDepth:   int64(len(b.backup)),
		TotalBuffered: b.buffered,
		TotalDrained:  b.drained,
	}
}
