// Package channel holds one adapter per external messaging provider behind a
// single send/health/webhook contract.
package channel

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"campaign-dispatch/internal/models"
)

type Content struct {
	Subject string
	Body    string
}

// TemplateRef names a provider side template (Meta template name, Twilio
// ContentSid, SendGrid dynamic template id, Gupshup template id).
type TemplateRef struct {
	Name     string
	Language string
}

type SendResult struct {
	ProviderMessageID string
}

type HealthReport struct {
	Status  models.HealthStatus
	Details string
}

type EventType string

const (
	EventDelivered EventType = "delivered"
	EventOpened    EventType = "open"
	EventClicked   EventType = "click"
	EventBounced   EventType = "bounce"
	EventFailed    EventType = "failed"
	EventReplied   EventType = "reply"
)

// Event is a provider callback normalized to the fields ingestion needs.
type Event struct {
	ProviderMessageID string
	Type              EventType
	Reason            string
	OccurredAt        time.Time
}

type RawEvent struct {
	ContentType string
	Body        []byte
	Query       url.Values
}

type Adapter interface {
	SendText(ctx context.Context, to string, content Content) (SendResult, error)
	SendTemplate(ctx context.Context, to string, ref TemplateRef, params []string) (SendResult, error)
	HealthCheck(ctx context.Context) HealthReport
	// HandleWebhook normalizes one callback body. Payloads often batch several
	// statuses, so the result is a slice; events the engine does not track are dropped.
	HandleWebhook(raw RawEvent) ([]Event, error)
}

// Verifier is implemented by adapters whose provider performs a GET
// subscription handshake on the webhook URL.
type Verifier interface {
	VerifyToken() string
}

func unixTime(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
