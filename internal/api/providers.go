package api

import (
	"encoding/json"
	"net/http"

	"campaign-dispatch/internal/apperrors"
	"campaign-dispatch/internal/channel"
	"campaign-dispatch/internal/models"
	"campaign-dispatch/internal/registry"
	"campaign-dispatch/internal/repository"

	"github.com/gin-gonic/gin"
)

type ProviderHandler struct {
	Providers repository.ProviderRepository
	Registry  *registry.Registry
}

func NewProviderHandler(providers repository.ProviderRepository, reg *registry.Registry) *ProviderHandler {
	return &ProviderHandler{Providers: providers, Registry: reg}
}

type ProviderRequest struct {
	Name               string          `json:"name" binding:"required"`
	Channel            models.Channel  `json:"channel" binding:"required"`
	ProviderType       string          `json:"provider_type" binding:"required"`
	Credentials        json.RawMessage `json:"credentials" binding:"required"`
	DailyLimit         int             `json:"daily_limit" binding:"min=0"`
	MonthlyLimit       int             `json:"monthly_limit" binding:"min=0"`
	RateLimitPerMinute int             `json:"rate_limit_per_minute" binding:"min=0"`
	IsDefault          bool            `json:"is_default"`
	IsActive           *bool           `json:"is_active"`
}

type ProviderUpdateRequest struct {
	Name               *string         `json:"name"`
	Credentials        json.RawMessage `json:"credentials"`
	DailyLimit         *int            `json:"daily_limit" binding:"omitempty,min=0"`
	MonthlyLimit       *int            `json:"monthly_limit" binding:"omitempty,min=0"`
	RateLimitPerMinute *int            `json:"rate_limit_per_minute" binding:"omitempty,min=0"`
	IsActive           *bool           `json:"is_active"`
}

// ProviderView is a provider with its credentials redacted.
type ProviderView struct {
	*models.ProviderConfig
	Credentials map[string]string `json:"credentials"`
}

func (h *ProviderHandler) view(p *models.ProviderConfig) ProviderView {
	return ProviderView{ProviderConfig: p, Credentials: h.Registry.Redact(p)}
}

func (h *ProviderHandler) CreateProvider(c *gin.Context) {
	var req ProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !channel.Supports(req.ProviderType, req.Channel) {
		respondError(c, apperrors.NewValidation("provider_type", "%s cannot serve channel %q", req.ProviderType, req.Channel))
		return
	}
	sealed, err := h.Registry.SealCredentials(req.ProviderType, req.Credentials)
	if err != nil {
		respondError(c, err)
		return
	}

	p := &models.ProviderConfig{
		Name:               req.Name,
		Channel:            req.Channel,
		ProviderType:       req.ProviderType,
		Credentials:        sealed,
		Status:             "active",
		HealthStatus:       models.HealthUnknown,
		DailyLimit:         req.DailyLimit,
		MonthlyLimit:       req.MonthlyLimit,
		RateLimitPerMinute: req.RateLimitPerMinute,
		IsActive:           req.IsActive == nil || *req.IsActive,
	}
	ctx := c.Request.Context()
	if err := h.Providers.Create(ctx, p); err != nil {
		respondError(c, err)
		return
	}
	if req.IsDefault {
		if err := h.Providers.SetDefault(ctx, p.ID); err != nil {
			respondError(c, err)
			return
		}
		p.IsDefault = true
	}
	c.JSON(http.StatusCreated, h.view(p))
}

func (h *ProviderHandler) ListProviders(c *gin.Context) {
	providers, err := h.Providers.List(c.Request.Context(), models.Channel(c.Query("channel")), false)
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]ProviderView, 0, len(providers))
	for i := range providers {
		views = append(views, h.view(&providers[i]))
	}
	c.JSON(http.StatusOK, views)
}

func (h *ProviderHandler) GetProvider(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	p, err := h.Providers.Get(c.Request.Context(), id, false)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(p))
}

func (h *ProviderHandler) UpdateProvider(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req ProviderUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	p, err := h.Providers.Get(ctx, id, false)
	if err != nil {
		respondError(c, err)
		return
	}

	if req.Name != nil {
		p.Name = *req.Name
	}
	if len(req.Credentials) > 0 {
		sealed, err := h.Registry.SealCredentials(p.ProviderType, req.Credentials)
		if err != nil {
			respondError(c, err)
			return
		}
		p.Credentials = sealed
	}
	if req.DailyLimit != nil {
		p.DailyLimit = *req.DailyLimit
	}
	if req.MonthlyLimit != nil {
		p.MonthlyLimit = *req.MonthlyLimit
	}
	if req.RateLimitPerMinute != nil {
		p.RateLimitPerMinute = *req.RateLimitPerMinute
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}

	if err := h.Providers.Update(ctx, p); err != nil {
		respondError(c, err)
		return
	}
	h.Registry.Invalidate(p.ID)
	c.JSON(http.StatusOK, h.view(p))
}

func (h *ProviderHandler) DeleteProvider(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.Providers.SoftDelete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	h.Registry.Invalidate(id)
	c.JSON(http.StatusOK, gin.H{"status": "Provider deleted"})
}

func (h *ProviderHandler) SetDefault(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.Providers.SetDefault(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	p, err := h.Providers.Get(ctx, id, false)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(p))
}

func (h *ProviderHandler) CheckHealth(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	report, err := h.Registry.HealthCheck(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider_id": id, "status": report.Status, "details": report.Details})
}
