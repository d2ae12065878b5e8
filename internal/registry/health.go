package registry

import (
	"context"

	"campaign-dispatch/internal/channel"
	"campaign-dispatch/internal/models"
)

// HealthCheck checks one provider and records the outcome on the provider
// and in its health log.
func (r *Registry) HealthCheck(ctx context.Context, id uint) (channel.HealthReport, error) {
	p, err := r.providers.Get(ctx, id, false)
	if err != nil {
		return channel.HealthReport{}, err
	}

	var report channel.HealthReport
	if a, err := r.Adapter(p); err != nil {
		report = channel.HealthReport{Status: models.HealthUnhealthy, Details: err.Error()}
	} else {
		report = a.HealthCheck(ctx)
	}

	if err := r.providers.RecordHealth(ctx, p.ID, report.Status, report.Details, r.now().UTC()); err != nil {
		return report, err
	}
	if report.Status != models.HealthHealthy {
		r.log.Warn("provider health degraded", "provider_id", p.ID, "provider_type", p.ProviderType, "status", report.Status, "details", report.Details)
	}
	return report, nil
}

// CheckAll checks every active provider. Failures are logged per provider.
func (r *Registry) CheckAll(ctx context.Context) {
	providers, err := r.providers.List(ctx, "", false)
	if err != nil {
		r.log.Error("list providers for health check", "error", err)
		return
	}
	for _, p := range providers {
		if !p.IsActive {
			continue
		}
		if _, err := r.HealthCheck(ctx, p.ID); err != nil {
			r.log.Error("health check", "provider_id", p.ID, "error", err)
		}
	}
}
