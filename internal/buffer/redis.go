package buffer

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"b2monitor/internal/models"
	"b2monitor/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	queueKey  = "webhook_events:queue"
	backupKey = "webhook_events:backup"
	drainKey  = "webhook_events:draining"
)

// RedisBuffer buffers events in a Redis list. LPUSH keeps the enqueue
// path to a single round trip; Drain RENAMEs the queue to a private
// key before reading it, so concurrent enqueuers land on a fresh list
// and the swap is atomic.
type RedisBuffer struct {
	client *redis.Client
	logger *zap.Logger

	buffered atomic.Int64
	drained  atomic.Int64
}

func NewRedisBuffer(url string, logger *zap.Logger) (*RedisBuffer, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("Connected to Redis event buffer", zap.String("addr", opts.Addr))
	return &RedisBuffer{client: client, logger: logger}, nil
}

func (b *RedisBuffer) Enqueue(ctx context.Context, event models.WebhookEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := b.client.LPush(ctx, queueKey, body).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrBufferUnavailable, err)
	}
	b.buffered.Add(1)
	metrics.EventsBuffered.Inc()
	return nil
}

func (b *RedisBuffer) Drain(ctx context.Context) ([]models.WebhookEvent, error) {
	// A batch stranded at the drain key by a crash or a failed read
	// goes back onto the queue first; RENAME overwrites its destination
	// unconditionally, so draining over it would lose the batch.
	if moved, err := b.sweep(ctx, drainKey); err != nil {
		return nil, err
	} else if moved > 0 {
		b.logger.Warn("Recovered stranded drain batch onto queue",
			zap.Int("count", moved))
	}

	// RENAME fails with an error when the source key does not exist,
	// which is the empty-queue case.
	if err := b.client.Rename(ctx, queueKey, drainKey).Err(); err != nil {
		if err == redis.Nil || strings.Contains(err.Error(), "no such key") {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", models.ErrBufferUnavailable, err)
	}
	return b.takeList(ctx, drainKey)
}

func (b *RedisBuffer) takeList(ctx context.Context, key string) ([]models.WebhookEvent, error) {
	raws, err := b.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBufferUnavailable, err)
	}
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBufferUnavailable, err)
	}

	// LPUSH prepends, so walk backwards to recover enqueue order.
	events := make([]models.WebhookEvent, 0, len(raws))
	for i := len(raws) - 1; i >= 0; i-- {
		var ev models.WebhookEvent
		if err := json.Unmarshal([]byte(raws[i]), &ev); err != nil {
			b.logger.Error("Dropping undecodable buffered event",
				zap.Error(err),
				zap.String("raw", raws[i]))
			continue
		}
		events = append(events, ev)
	}
	b.drained.Add(int64(len(events)))
	return events, nil
}

// Requeue parks a failed batch on the backup key so a later flush, or
// the next process start, can retry it.
func (b *RedisBuffer) Requeue(ctx context.Context, events []models.WebhookEvent) error {
	pipe := b.client.Pipeline()
	for _, ev := range events {
		body, err := json.Marshal(ev)
		if err != nil {
			b.logger.Error("Failed to encode event for backup queue",
				zap.Error(err),
				zap.String("event_id", ev.EventID))
			continue
		}
		pipe.LPush(ctx, backupKey, body)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", models.ErrBufferUnavailable, err)
	}
	return nil
}

// RecoverBackup moves events parked by previous failed flushes back
// onto the main queue, along with any batch a crashed process left at
// the drain key. Called once on flush-worker start.
func (b *RedisBuffer) RecoverBackup(ctx context.Context) (int, error) {
	fromBackup, err := b.sweep(ctx, backupKey)
	if err != nil {
		return fromBackup, err
	}
	fromDrain, err := b.sweep(ctx, drainKey)
	return fromBackup + fromDrain, err
}

// sweep moves every element of a list back onto the main queue,
// one RPOPLPUSH per element so a failure mid-sweep loses nothing.
func (b *RedisBuffer) sweep(ctx context.Context, from string) (int, error) {
	moved := 0
	for {
		err := b.client.RPopLPush(ctx, from, queueKey).Err()
		if err == redis.Nil {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("%w: %v", models.ErrBufferUnavailable, err)
		}
		moved++
	}
}

func (b *RedisBuffer) Len(ctx context.Context) (int64, error) {
	n, err := b.client.LLen(ctx, queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrBufferUnavailable, err)
	}
	return n, nil
}

func (b *RedisBuffer) Stats(ctx context.Context) Stats {
	s := Stats{
		Backend:       "redis",
		TotalBuffered: b.buffered.Load(),
		TotalDrained:  b.drained.Load(),
	}
	depth, err := b.client.LLen(ctx, queueKey).Result()
	if err != nil {
		return s
	}
	s.Available = true
	s.QueueDepth = depth
	s.BackupDepth, _ = b.client.LLen(ctx, backupKey).Result()
	return s
}

func (b *RedisBuffer) Close() error {
	return b.client.Close()
}
