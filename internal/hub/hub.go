// Package hub fans normalized events and window summaries out to live
// dashboard subscribers.
package hub

import (
	"sync"

	"b2monitor/internal/models"
	"b2monitor/pkg/metrics"

	"go.uber.org/zap"
)

const (
	KindEvent   = "webhook_event"
	KindSummary = "webhook_summary"
)

// Message is one broadcast unit. Data is a WebhookEvent for KindEvent
// and an AggregationSummary for KindSummary.
type Message struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// Subscriber receives messages on C in publish order. A subscriber
// that falls behind loses messages rather than slowing anyone else
// down; this is a live-only feed with no replay.
type Subscriber struct {
	C  chan Message
	id uint64
}

type Hub struct {
	mu         sync.RWMutex
	subs       map[uint64]*Subscriber
	nextID     uint64
	bufferSize int
	logger     *zap.Logger
}

func NewHub(bufferSize int, logger *zap.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		subs:       make(map[uint64]*Subscriber),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub := &Subscriber{
		C:  make(chan Message, h.bufferSize),
		id: h.nextID,
	}
	h.nextID++
	h.subs[sub.id] = sub
	metrics.Subscribers.Set(float64(len(h.subs)))
	h.logger.Debug("Subscriber connected", zap.Uint64("subscriber_id", sub.id))
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.C)
	metrics.Subscribers.Set(float64(len(h.subs)))
	h.logger.Debug("Subscriber disconnected", zap.Uint64("subscriber_id", sub.id))
}

// Publish delivers msg to every connected subscriber without blocking.
// A full subscriber channel drops the message for that subscriber
// only.
func (h *Hub) Publish(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		select {
		case sub.C <- msg:
		default:
			metrics.MessagesDropped.WithLabelValues(msg.Kind).Inc()
		}
	}
}

func (h *Hub) PublishEvent(ev models.WebhookEvent) {
	h.Publish(Message{Kind: KindEvent, Data: ev})
}

func (h *Hub) PublishSummary(summary models.AggregationSummary) {
	h.Publish(Message{Kind: KindSummary, Data: summary})
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
