package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"campaign-dispatch/internal/apperrors"
	"campaign-dispatch/internal/channel"
	"campaign-dispatch/internal/logger"
	"campaign-dispatch/internal/metrics"
	"campaign-dispatch/internal/models"
	"campaign-dispatch/internal/repository"
)

// AdapterSource loads a provider together with its adapter.
type AdapterSource interface {
	AdapterFor(ctx context.Context, id uint) (*models.ProviderConfig, channel.Adapter, error)
}

type Notifier interface {
	BroadcastEvent(eventType string, data any)
}

// Ingestor applies normalized provider events to dispatch logs. Writes are
// last-write-wins; events for unknown messages are discarded.
type Ingestor struct {
	Adapters AdapterSource
	Logs     repository.DispatchLogRepository
	Events   repository.WebhookEventRepository
	Notifier Notifier
	log      *slog.Logger

	Now func() time.Time
}

func NewIngestor(adapters AdapterSource, logs repository.DispatchLogRepository, events repository.WebhookEventRepository, notifier Notifier, log *slog.Logger) *Ingestor {
	return &Ingestor{
		Adapters: adapters,
		Logs:     logs,
		Events:   events,
		Notifier: notifier,
		log:      logger.OrDefault(log).With("component", "webhook-ingest"),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

var statusFor = map[channel.EventType]models.DispatchStatus{
	channel.EventDelivered: models.DispatchDelivered,
	channel.EventOpened:    models.DispatchOpened,
	channel.EventClicked:   models.DispatchClicked,
	channel.EventBounced:   models.DispatchFailed,
	channel.EventFailed:    models.DispatchFailed,
	channel.EventReplied:   models.DispatchReplied,
}

// Ingest normalizes one delivery through its provider's adapter and applies
// every event in it. Payload and provider problems are recorded on the
// stored event and swallowed; only storage failures are returned.
func (i *Ingestor) Ingest(ctx context.Context, d Delivery) error {
	log := i.log.With("event_id", d.EventID, "provider_id", d.ProviderID)

	_, adapter, err := i.Adapters.AdapterFor(ctx, d.ProviderID)
	if err != nil {
		log.Warn("webhook for unusable provider", "error", err)
		return i.markProcessed(ctx, d.EventID, 0, err)
	}

	events, err := adapter.HandleWebhook(channel.RawEvent{ContentType: d.ContentType, Body: d.Body, Query: d.Query})
	if err != nil {
		log.Warn("webhook payload rejected", "error", err)
		return i.markProcessed(ctx, d.EventID, 0, err)
	}

	var storeErr error
	for _, ev := range events {
		if err := i.apply(ctx, ev); err != nil {
			storeErr = errors.Join(storeErr, err)
		}
	}
	if storeErr != nil {
		if err := i.markProcessed(ctx, d.EventID, len(events), storeErr); err != nil {
			log.Error("mark webhook event", "error", err)
		}
		return storeErr
	}
	log.Debug("webhook ingested", "events", len(events))
	return i.markProcessed(ctx, d.EventID, len(events), nil)
}

func (i *Ingestor) apply(ctx context.Context, ev channel.Event) error {
	status, ok := statusFor[ev.Type]
	if !ok || ev.ProviderMessageID == "" {
		metrics.WebhookEventsTotal.WithLabelValues(string(ev.Type), "ignored").Inc()
		return nil
	}

	entry, err := i.Logs.FindByProviderMessageID(ctx, ev.ProviderMessageID)
	if errors.Is(err, apperrors.ErrNotFound) {
		metrics.WebhookEventsTotal.WithLabelValues(string(ev.Type), "false").Inc()
		i.log.Debug("no dispatch log for provider message, discarding", "provider_message_id", ev.ProviderMessageID, "event", ev.Type)
		return nil
	}
	if err != nil {
		return fmt.Errorf("find provider message %s: %w", ev.ProviderMessageID, err)
	}

	var (
		errMsg      string
		respondedAt *time.Time
	)
	switch status {
	case models.DispatchFailed:
		errMsg = ev.Reason
		if errMsg == "" {
			errMsg = string(ev.Type)
		}
	case models.DispatchReplied:
		at := ev.OccurredAt
		if at.IsZero() {
			at = i.Now()
		}
		respondedAt = &at
	}

	if err := i.Logs.UpdateStatus(ctx, entry.ID, status, errMsg, respondedAt); err != nil {
		return fmt.Errorf("update dispatch log %d: %w", entry.ID, err)
	}
	metrics.WebhookEventsTotal.WithLabelValues(string(ev.Type), "true").Inc()

	entry.Status = status
	if errMsg != "" {
		entry.ErrorMessage = errMsg
	}
	if respondedAt != nil {
		entry.ResponseReceivedAt = respondedAt
	}
	if i.Notifier != nil {
		i.Notifier.BroadcastEvent("dispatch_log_updated", entry)
	}
	return nil
}

func (i *Ingestor) markProcessed(ctx context.Context, id uint, count int, processingErr error) error {
	if id == 0 {
		return nil
	}
	return i.Events.MarkProcessed(ctx, id, count, processingErr)
}
