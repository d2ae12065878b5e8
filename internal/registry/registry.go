// Package registry resolves the provider serving a channel, builds its
// adapter from decrypted credentials and enforces usage and rate limits.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"campaign-dispatch/internal/apperrors"
	"campaign-dispatch/internal/channel"
	"campaign-dispatch/internal/logger"
	"campaign-dispatch/internal/models"
	"campaign-dispatch/internal/repository"
	"campaign-dispatch/internal/secrets"

	"golang.org/x/time/rate"
)

// AdapterFactory builds the adapter for a provider from its decrypted credentials.
type AdapterFactory func(p *models.ProviderConfig, creds channel.Credentials) (channel.Adapter, error)

func defaultFactory(p *models.ProviderConfig, creds channel.Credentials) (channel.Adapter, error) {
	return channel.New(creds, channel.Options{Channel: p.Channel})
}

type cachedAdapter struct {
	adapter   channel.Adapter
	updatedAt time.Time
}

type limiterEntry struct {
	perMinute int
	limiter   *rate.Limiter
}

type Registry struct {
	providers  repository.ProviderRepository
	box        *secrets.Box
	log        *slog.Logger
	newAdapter AdapterFactory
	now        func() time.Time

	mu       sync.Mutex
	adapters map[uint]cachedAdapter
	limiters map[uint]limiterEntry
}

type Option func(*Registry)

func WithAdapterFactory(f AdapterFactory) Option {
	return func(r *Registry) { r.newAdapter = f }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(providers repository.ProviderRepository, box *secrets.Box, log *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		providers:  providers,
		box:        box,
		log:        logger.OrDefault(log).With("component", "registry"),
		newAdapter: defaultFactory,
		now:        time.Now,
		adapters:   make(map[uint]cachedAdapter),
		limiters:   make(map[uint]limiterEntry),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the provider for ch: the explicit one when given, otherwise
// the single active default of the channel.
func (r *Registry) Resolve(ctx context.Context, ch models.Channel, explicit *uint) (*models.ProviderConfig, error) {
	if explicit != nil {
		p, err := r.providers.Get(ctx, *explicit, false)
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: provider %d does not exist", apperrors.ErrProviderNotConfigured, *explicit)
		}
		if err != nil {
			return nil, err
		}
		if !p.IsActive {
			return nil, fmt.Errorf("%w: provider %d is inactive", apperrors.ErrProviderNotConfigured, p.ID)
		}
		if p.Channel != ch {
			return nil, fmt.Errorf("%w: provider %d serves %s, not %s", apperrors.ErrProviderNotConfigured, p.ID, p.Channel, ch)
		}
		return p, nil
	}

	defaults, err := r.providers.Defaults(ctx, ch)
	if err != nil {
		return nil, err
	}
	switch len(defaults) {
	case 0:
		return nil, fmt.Errorf("%w: no default %s provider", apperrors.ErrProviderNotConfigured, ch)
	case 1:
		return &defaults[0], nil
	}
	return nil, fmt.Errorf("%w: %d default %s providers, expected one", apperrors.ErrProviderNotConfigured, len(defaults), ch)
}

// Credentials decrypts and parses the credential bag of p.
func (r *Registry) Credentials(p *models.ProviderConfig) (channel.Credentials, error) {
	plain, err := r.box.Open(p.Credentials)
	if err != nil {
		return nil, fmt.Errorf("provider %d: %w", p.ID, err)
	}
	return channel.DecodeCredentials(p.ProviderType, plain)
}

// SealCredentials validates raw against providerType and returns the sealed form.
func (r *Registry) SealCredentials(providerType string, raw json.RawMessage) (string, error) {
	if _, err := channel.DecodeCredentials(providerType, raw); err != nil {
		return "", err
	}
	return r.box.Seal(raw)
}

// Redact returns the provider's credentials with secrets masked.
func (r *Registry) Redact(p *models.ProviderConfig) map[string]string {
	creds, err := r.Credentials(p)
	if err != nil {
		return map[string]string{"error": "credentials unreadable"}
	}
	return creds.Redacted()
}

// Adapter returns the cached adapter of p, rebuilding it when the record changed.
func (r *Registry) Adapter(p *models.ProviderConfig) (channel.Adapter, error) {
	r.mu.Lock()
	cached, ok := r.adapters[p.ID]
	r.mu.Unlock()
	if ok && cached.updatedAt.Equal(p.UpdatedAt) {
		return cached.adapter, nil
	}

	creds, err := r.Credentials(p)
	if err != nil {
		return nil, err
	}
	a, err := r.newAdapter(p, creds)
	if err != nil {
		return nil, err
	}
	r.log.Debug("adapter built", "provider_id", p.ID, "provider_type", p.ProviderType, "credentials", creds.Redacted())

	r.mu.Lock()
	r.adapters[p.ID] = cachedAdapter{adapter: a, updatedAt: p.UpdatedAt}
	r.mu.Unlock()
	return a, nil
}

// AdapterFor loads a provider by id and returns it with its adapter.
func (r *Registry) AdapterFor(ctx context.Context, id uint) (*models.ProviderConfig, channel.Adapter, error) {
	p, err := r.providers.Get(ctx, id, false)
	if err != nil {
		return nil, nil, err
	}
	a, err := r.Adapter(p)
	if err != nil {
		return nil, nil, err
	}
	return p, a, nil
}

func (r *Registry) Invalidate(id uint) {
	r.mu.Lock()
	delete(r.adapters, id)
	delete(r.limiters, id)
	r.mu.Unlock()
}

func (r *Registry) limiter(p *models.ProviderConfig) *rate.Limiter {
	if p.RateLimitPerMinute <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.limiters[p.ID]
	if !ok || e.perMinute != p.RateLimitPerMinute {
		e = limiterEntry{
			perMinute: p.RateLimitPerMinute,
			limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(p.RateLimitPerMinute)), 1),
		}
		r.limiters[p.ID] = e
	}
	return e.limiter
}
