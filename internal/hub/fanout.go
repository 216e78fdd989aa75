package hub

import (
	"context"

	"b2monitor/internal/models"

	"go.uber.org/zap"
)

// Publisher is what the ingest path and the aggregator publish
// through. The plain Hub satisfies it for single-instance
// deployments.
type Publisher interface {
	PublishEvent(ev models.WebhookEvent)
	PublishSummary(summary models.AggregationSummary)
}

// Forwarder sends a message beyond this process, e.g. over AMQP.
type Forwarder interface {
	Publish(ctx context.Context, msg Message) error
}

// Relayed publishes locally and forwards to other replicas. Messages
// arriving FROM other replicas go straight into the Hub and are never
// re-forwarded, so no message loops the exchange.
type Relayed struct {
	hub     *Hub
	forward Forwarder
	logger  *zap.Logger
}

func NewRelayed(h *Hub, forward Forwarder, logger *zap.Logger) *Relayed {
	return &Relayed{hub: h, forward: forward, logger: logger}
}

func (r *Relayed) PublishEvent(ev models.WebhookEvent) {
	r.publish(Message{Kind: KindEvent, Data: ev})
}

func (r *Relayed) PublishSummary(summary models.AggregationSummary) {
	r.publish(Message{Kind: KindSummary, Data: summary})
}

func (r *Relayed) publish(msg Message) {
	r.hub.Publish(msg)
	if err := r.forward.Publish(context.Background(), msg); err != nil {
		// Best-effort: local subscribers got theirs, remote ones miss
		// this one message.
		r.logger.Warn("Failed to forward broadcast to relay",
			zap.Error(err),
			zap.String("kind", msg.Kind))
	}
}
