package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"campaign-dispatch/internal/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultAMQPQueue = "campaign-dispatch.webhooks"

// AMQPQueue keeps received callbacks in a durable RabbitMQ queue so they
// survive a restart between acknowledgement and ingestion.
type AMQPQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	log   *slog.Logger
}

func NewAMQPQueue(url, queue string, log *slog.Logger) (*AMQPQueue, error) {
	if queue == "" {
		queue = defaultAMQPQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("error connecting to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("error creating channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("error declaring queue '%s': %w", queue, err)
	}
	return &AMQPQueue{conn: conn, ch: ch, queue: queue, log: logger.OrDefault(log).With("component", "webhook-amqp")}, nil
}

func (q *AMQPQueue) Publish(ctx context.Context, d Delivery) error {
	body, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Consume acks handled deliveries. A failed delivery is requeued once and
// dropped on its second failure.
func (q *AMQPQueue) Consume(ctx context.Context, fn func(ctx context.Context, d Delivery) error) error {
	if err := q.ch.Qos(16, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	msgs, err := q.ch.ConsumeWithContext(ctx, q.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume '%s': %w", q.queue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return fmt.Errorf("rabbitmq channel closed")
			}
			var d Delivery
			if err := json.Unmarshal(m.Body, &d); err != nil {
				q.log.Error("undecodable webhook delivery", "error", err)
				m.Nack(false, false)
				continue
			}
			if err := fn(ctx, d); err != nil {
				requeue := !m.Redelivered
				q.log.Warn("webhook ingestion failed", "event_id", d.EventID, "requeue", requeue, "error", err)
				m.Nack(false, requeue)
				continue
			}
			m.Ack(false)
		}
	}
}

func (q *AMQPQueue) Close() error {
	if q.ch != nil {
		if err := q.ch.Close(); err != nil {
			return err
		}
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
