package registry

import (
	"context"
	"fmt"
	"time"

	"campaign-dispatch/internal/apperrors"
	"campaign-dispatch/internal/channel"
	"campaign-dispatch/internal/metrics"
	"campaign-dispatch/internal/models"
	"campaign-dispatch/internal/templates"
)

type SendRequest struct {
	Channel    models.Channel
	ProviderID *uint // pinned provider, nil for the channel default
	To         string
	Message    templates.Message
}

type SendResult struct {
	ProviderID        uint
	ProviderType      string
	ProviderMessageID string
}

// Send resolves the provider, waits for its rate limiter, consumes one unit
// of the daily and monthly quota and hands the message to the adapter.
func (r *Registry) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	p, err := r.Resolve(ctx, req.Channel, req.ProviderID)
	if err != nil {
		return SendResult{}, err
	}
	res := SendResult{ProviderID: p.ID, ProviderType: p.ProviderType}

	adapter, err := r.Adapter(p)
	if err != nil {
		return res, fmt.Errorf("%w: %v", apperrors.ErrProviderNotConfigured, err)
	}

	if lim := r.limiter(p); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return res, fmt.Errorf("%w: rate limit of %d/min: %v", apperrors.ErrLimitExceeded, p.RateLimitPerMinute, err)
		}
	}

	now := r.now().UTC()
	ok, err := r.providers.ConsumeQuota(ctx, p.ID, now.Format("2006-01-02"), now.Format("2006-01"))
	if err != nil {
		return res, err
	}
	if !ok {
		return res, fmt.Errorf("%w: provider %d reached its daily or monthly limit", apperrors.ErrLimitExceeded, p.ID)
	}

	start := time.Now()
	var out channel.SendResult
	if req.Message.ProviderTemplate != "" {
		ref := channel.TemplateRef{Name: req.Message.ProviderTemplate, Language: req.Message.Language}
		out, err = adapter.SendTemplate(ctx, req.To, ref, req.Message.Params)
	} else {
		out, err = adapter.SendText(ctx, req.To, channel.Content{Subject: req.Message.Subject, Body: req.Message.Body})
	}
	metrics.ProviderSendDuration.WithLabelValues(p.ProviderType).Observe(time.Since(start).Seconds())

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ProviderSendsTotal.WithLabelValues(p.ProviderType, string(req.Channel), result).Inc()
	if err != nil {
		return res, err
	}
	res.ProviderMessageID = out.ProviderMessageID
	return res, nil
}
