package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_received_total",
		Help: "The total number of webhook events accepted for ingestion",
	}, []string{"bucket", "event_type"})

	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_rejected_total",
		Help: "The total number of webhook events rejected before buffering",
	}, []string{"reason"})

	EventsBuffered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_events_buffered_total",
		Help: "The total number of events enqueued into the durable buffer",
	})

	DegradedWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_degraded_writes_total",
		Help: "The total number of events written directly to the store because the buffer was unavailable",
	})

	FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_flush_duration_seconds",
		Help:    "Time taken to flush a buffered batch into the persistent store",
		Buckets: prometheus.DefBuckets,
	})

	FlushBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_flush_batch_size",
		Help:    "Number of events per flushed batch",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})

	FlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_flush_failures_total",
		Help: "The total number of flush attempts that exhausted their retries",
	})

	BufferQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webhook_buffer_queue_depth",
		Help: "Current number of events waiting in the durable buffer",
	})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webhook_live_subscribers",
		Help: "Current number of connected live-feed subscribers",
	})

	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_broadcast_dropped_total",
		Help: "Messages dropped because a subscriber's channel was full",
	}, []string{"kind"})

	SummariesEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_summaries_emitted_total",
		Help: "The total number of aggregation window summaries emitted",
	})
)
