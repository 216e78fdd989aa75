package flush

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"b2monitor/internal/buffer"
	"b2monitor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu        sync.Mutex
	events    map[string]models.WebhookEvent
	stats     map[models.DailyStatistic]int64
	failTimes int
	calls     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events: make(map[string]models.WebhookEvent),
		stats:  make(map[models.DailyStatistic]int64),
	}
}

func (s *fakeStore) UpsertEvents(_ context.Context, batch []models.WebhookEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failTimes > 0 {
		s.failTimes--
		return 0, fmt.Errorf("%w: simulated outage", models.ErrPersistenceFailure)
	}
	var upserted int64
	for _, ev := range batch {
		if _, ok := s.events[ev.EventID]; !ok {
			upserted++
		}
		s.events[ev.EventID] = ev
	}
	return upserted, nil
}

func (s *fakeStore) IncrementStatistics(_ context.Context, counts map[models.DailyStatistic]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, count := range counts {
		s.stats[key] += count
	}
	return nil
}

func (s *fakeStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func quickWorker(buf buffer.EventBuffer, store EventStore) *Worker {
	w := NewWorker(buf, store, time.Second, zap.NewNop())
	w.baseDelay = time.Millisecond
	return w
}

func TestFlushOnceWritesBatch(t *testing.T) {
	ctx := context.Background()
	buf := buffer.NewMemoryBuffer()
	store := newFakeStore()
	w := quickWorker(buf, store)

	for i := 0; i < 4; i++ {
		require.NoError(t, buf.Enqueue(ctx, models.WebhookEvent{
			EventID:    fmt.Sprintf("e%d", i),
			BucketName: "photos",
			EventType:  models.ParseEventType("b2:ObjectCreated:Upload"),
			ReceivedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		}))
	}

	flushed := w.FlushOnce(ctx)
	assert.Equal(t, 4, flushed)
	assert.Equal(t, 4, store.eventCount())

	key := models.DailyStatistic{Date: "2026-08-01", BucketName: "photos", EventType: "b2:ObjectCreated:Upload"}
	assert.Equal(t, int64(4), store.stats[key])

	// Nothing left behind.
	assert.Equal(t, 0, w.FlushOnce(ctx))
}

func TestFlushIdempotentAcrossRedelivery(t *testing.T) {
	ctx := context.Background()
	buf := buffer.NewMemoryBuffer()
	store := newFakeStore()
	w := quickWorker(buf, store)

	// The provider delivered the same event three times.
	for i := 0; i < 3; i++ {
		require.NoError(t, buf.Enqueue(ctx, models.WebhookEvent{EventID: "e1", BucketName: "photos"}))
	}
	w.FlushOnce(ctx)

	// And once more in a later flush interval.
	require.NoError(t, buf.Enqueue(ctx, models.WebhookEvent{EventID: "e1", BucketName: "photos"}))
	w.FlushOnce(ctx)

	assert.Equal(t, 1, store.eventCount())
}

func TestFlushRetriesTransientFailure(t *testing.T) {
	ctx := context.Background()
	buf := buffer.NewMemoryBuffer()
	store := newFakeStore()
	store.failTimes = 2
	w := quickWorker(buf, store)

	require.NoError(t, buf.Enqueue(ctx, models.WebhookEvent{EventID: "e1"}))

	flushed := w.FlushOnce(ctx)
	assert.Equal(t, 1, flushed)
	assert.Equal(t, 3, store.calls)
	assert.Equal(t, 1, store.eventCount())
}

func TestFlushExhaustedRetriesRequeues(t *testing.T) {
	ctx := context.Background()
	buf := buffer.NewMemoryBuffer()
	store := newFakeStore()
	store.failTimes = 3
	w := quickWorker(buf, store)

	require.NoError(t, buf.Enqueue(ctx, models.WebhookEvent{EventID: "e1"}))

	assert.Equal(t, 0, w.FlushOnce(ctx))
	assert.Equal(t, 0, store.eventCount())

	// The batch went to backup, not the floor: recovery makes it
	// flushable once the store is healthy again.
	moved, err := buf.RecoverBackup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	assert.Equal(t, 1, w.FlushOnce(ctx))
	assert.Equal(t, 1, store.eventCount())
}

func TestRunFlushesOnIntervalAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	buf := buffer.NewMemoryBuffer()
	store := newFakeStore()
	w := NewWorker(buf, store, 20*time.Millisecond, zap.NewNop())

	require.NoError(t, buf.Enqueue(ctx, models.WebhookEvent{EventID: "interval"}))

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// Visible within one flush interval plus epsilon.
	assert.Eventually(t, func() bool {
		return store.eventCount() == 1
	}, time.Second, 5*time.Millisecond)

	// An event enqueued just before shutdown is caught by the final
	// drain.
	require.NoError(t, buf.Enqueue(ctx, models.WebhookEvent{EventID: "shutdown"}))
	cancel()
	<-done

	assert.Equal(t, 2, store.eventCount())
}

func TestRollupGroupsByDateBucketType(t *testing.T) {
	day := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	batch := []models.WebhookEvent{
		{EventID: "e1", BucketName: "photos", EventType: models.ParseEventType("b2:ObjectCreated:Upload"), ReceivedAt: day},
		{EventID: "e2", BucketName: "photos", EventType: models.ParseEventType("b2:ObjectCreated:Upload"), ReceivedAt: day.Add(time.Hour)},
		{EventID: "e3", BucketName: "docs", EventType: models.ParseEventType("b2:ObjectCreated:Upload"), ReceivedAt: day},
		{EventID: "e4", BucketName: "photos", EventType: models.ParseEventType("b2:ObjectDeleted:Delete"), ReceivedAt: day.AddDate(0, 0, 1)},
	}

	counts := Rollup(batch)
	assert.Len(t, counts, 3)
	assert.Equal(t, int64(2), counts[models.DailyStatistic{Date: "2026-08-01", BucketName: "photos", EventType: "b2:ObjectCreated:Upload"}])
	assert.Equal(t, int64(1), counts[models.DailyStatistic{Date: "2026-08-01", BucketName: "docs", EventType: "b2:ObjectCreated:Upload"}])
	assert.Equal(t, int64(1), counts[models.DailyStatistic{Date: "2026-08-02", BucketName: "photos", EventType: "b2:ObjectDeleted:Delete"}])
}
