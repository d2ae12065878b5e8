package webhook

import (
	"context"
	"log/slog"
	"net/url"
)

// Delivery is a received provider callback waiting for ingestion. EventID
// points at the stored WebhookEvent row.
type Delivery struct {
	EventID     uint       `json:"event_id"`
	ProviderID  uint       `json:"provider_id"`
	ContentType string     `json:"content_type"`
	Body        []byte     `json:"body"`
	Query       url.Values `json:"query,omitempty"`
}

// Queue decouples the HTTP acknowledgement from ingestion.
type Queue interface {
	Publish(ctx context.Context, d Delivery) error
	// Consume hands deliveries to fn until ctx is done. A non-nil error from
	// fn asks the queue to redeliver.
	Consume(ctx context.Context, fn func(ctx context.Context, d Delivery) error) error
}

type MemoryQueue struct {
	ch chan Delivery
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size < 1 {
		size = 1024
	}
	return &MemoryQueue{ch: make(chan Delivery, size)}
}

func (q *MemoryQueue) Publish(ctx context.Context, d Delivery) error {
	select {
	case q.ch <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume does not redeliver; the stored event keeps the failure.
func (q *MemoryQueue) Consume(ctx context.Context, fn func(ctx context.Context, d Delivery) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-q.ch:
			if err := fn(ctx, d); err != nil {
				slog.Warn("webhook ingestion failed, not redelivered", "event_id", d.EventID, "provider_id", d.ProviderID, "error", err)
			}
		}
	}
}
