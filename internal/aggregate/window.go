// Package aggregate accumulates per-window counters over the live
// event flow and emits immutable summaries on window boundaries.
package aggregate

import (
	"context"
	"sync"
	"time"

	"b2monitor/internal/models"
	"b2monitor/pkg/metrics"

	"go.uber.org/zap"
)

// accumulator holds one in-progress window. It is only ever touched
// under Aggregator.mu.
type accumulator struct {
	start            time.Time
	totalEvents      int64
	objectsAdded     int64
	objectsRemoved   int64
	dataAddedBytes   int64
	dataRemovedBytes int64
	bucketSeen       map[string]struct{}
	bucketList       []string
}

func newAccumulator(start time.Time) *accumulator {
	return &accumulator{
		start:      start,
		bucketSeen: make(map[string]struct{}),
	}
}

// Aggregator observes every accepted event regardless of which write
// path it took. A background ticker closes windows; the swap of the
// accumulator and the counter reset are one critical section, so no
// event is double-counted across summaries or lost between them.
type Aggregator struct {
	mu      sync.Mutex
	current *accumulator

	interval time.Duration
	emit     func(models.AggregationSummary)
	logger   *zap.Logger
	now      func() time.Time
}

func NewAggregator(interval time.Duration, emit func(models.AggregationSummary), logger *zap.Logger) *Aggregator {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	now := time.Now
	return &Aggregator{
		current:  newAccumulator(now().UTC()),
		interval: interval,
		emit:     emit,
		logger:   logger,
		now:      now,
	}
}

func (a *Aggregator) Observe(ev models.WebhookEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	acc := a.current
	acc.totalEvents++
	switch {
	case ev.EventType.IsCreated():
		acc.objectsAdded++
		acc.dataAddedBytes += ev.ObjectSize
	case ev.EventType.IsDeleted():
		acc.objectsRemoved++
		acc.dataRemovedBytes += ev.ObjectSize
	}

	if _, seen := acc.bucketSeen[ev.BucketName]; !seen {
		acc.bucketSeen[ev.BucketName] = struct{}{}
		acc.bucketList = append(acc.bucketList, ev.BucketName)
	}
}

// Run closes windows on the nominal interval until ctx is cancelled,
// then closes the final partial window.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("Aggregation window timer started",
		zap.Duration("interval", a.interval))

	for {
		select {
		case <-ctx.Done():
			a.CloseWindow()
			return
		case <-ticker.C:
			a.CloseWindow()
		}
	}
}

// CloseWindow swaps in a fresh accumulator and emits a summary for
// the finished one. Empty windows still emit so consecutive summaries
// partition time without gaps. PeriodSeconds records the wall clock
// actually covered; a stalled process stretches it past the nominal
// interval, and rate math downstream divides by the recorded value.
func (a *Aggregator) CloseWindow() {
	end := a.now().UTC()

	a.mu.Lock()
	done := a.current
	a.current = newAccumulator(end)
	a.mu.Unlock()

	summary := models.AggregationSummary{
		WindowStart:      done.start,
		WindowEnd:        end,
		PeriodSeconds:    end.Sub(done.start).Seconds(),
		WindowType:       models.WindowNonOverlapping,
		TotalEvents:      done.totalEvents,
		ObjectsAdded:     done.objectsAdded,
		ObjectsRemoved:   done.objectsRemoved,
		DataAddedBytes:   done.dataAddedBytes,
		DataRemovedBytes: done.dataRemovedBytes,
		UniqueBuckets:    len(done.bucketSeen),
		BucketList:       done.bucketList,
	}
	if summary.BucketList == nil {
		summary.BucketList = []string{}
	}

	metrics.SummariesEmitted.Inc()
	a.emit(summary)
}
