// Package relay bridges broadcast-hub traffic across replicas over an
// AMQP fanout exchange, so a dashboard subscribed to any instance
// sees events ingested on every instance.
package relay

import (
	"context"
	"fmt"

	"b2monitor/internal/hub"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const originHeader = "x-origin-instance"

type AMQPRelay struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	queueName  string
	instanceID string
	logger     *zap.Logger
}

// NewAMQPRelay connects and declares a fanout exchange plus an
// exclusive auto-delete queue for this instance. Every relay instance
// gets its own queue, so each published message reaches all replicas.
func NewAMQPRelay(url, exchange string, logger *zap.Logger) (*AMQPRelay, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %v", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %v", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"fanout",
		false, // durable: live feed only, no replay across restarts
		true,  // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %v", err)
	}

	q, err := ch.QueueDeclare(
		"",    // broker-assigned name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %v", err)
	}

	err = ch.QueueBind(
		q.Name,
		"", // routing key ignored for fanout
		exchange,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %v", err)
	}

	instanceID := uuid.NewString()
	logger.Info("AMQP broadcast relay connected",
		zap.String("exchange", exchange),
		zap.String("queue", q.Name),
		zap.String("instance_id", instanceID))

	return &AMQPRelay{
		conn:       conn,
		ch:         ch,
		exchange:   exchange,
		queueName:  q.Name,
		instanceID: instanceID,
		logger:     logger,
	}, nil
}

// Publish forwards a locally published hub message to the exchange.
// The origin header lets every consumer skip its own traffic.
func (r *AMQPRelay) Publish(ctx context.Context, msg hub.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %v", err)
	}

	headers := amqp.Table{originHeader: r.instanceID}

	err = r.ch.PublishWithContext(ctx,
		r.exchange,
		"",    // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Headers:     headers,
			Body:        body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %v", err)
	}
	return nil
}

// Consume injects messages published by other replicas into the local
// hub until ctx is cancelled.
func (r *AMQPRelay) Consume(ctx context.Context, h *hub.Hub) error {
	msgs, err := r.ch.Consume(
		r.queueName,
		"",    // consumer
		true,  // auto-ack: the live feed tolerates drops
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consumer: %v", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case delivery, ok := <-msgs:
				if !ok {
					r.logger.Warn("AMQP relay consumer channel closed")
					return
				}
				if origin, _ := delivery.Headers[originHeader].(string); origin == r.instanceID {
					continue
				}
				var msg hub.Message
				if err := json.Unmarshal(delivery.Body, &msg); err != nil {
					r.logger.Error("Failed to unmarshal relayed message",
						zap.Error(err),
						zap.String("body", string(delivery.Body)))
					continue
				}
				h.Publish(msg)
			}
		}
	}()
	return nil
}

func (r *AMQPRelay) Close() error {
	if err := r.ch.Close(); err != nil {
		r.logger.Error("Failed to close channel", zap.Error(err))
	}
	if err := r.conn.Close(); err != nil {
		r.logger.Error("Failed to close connection", zap.Error(err))
	}
	return nil
}
