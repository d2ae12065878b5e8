package api

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"campaign-dispatch/internal/apperrors"
	"campaign-dispatch/internal/campaign"
	"campaign-dispatch/internal/models"
	"campaign-dispatch/internal/repository"

	"github.com/gin-gonic/gin"
)

type CampaignHandler struct {
	Controller *campaign.Controller
}

func NewCampaignHandler(ctrl *campaign.Controller) *CampaignHandler {
	return &CampaignHandler{Controller: ctrl}
}

type StepRequest struct {
	StepOrder        int                     `json:"step_order" binding:"required,min=1"`
	Channel          models.Channel          `json:"channel" binding:"required"`
	TemplateID       uint                    `json:"template_id" binding:"required"`
	DelayMinutes     int                     `json:"delay_minutes" binding:"min=0"`
	DelayHours       int                     `json:"delay_hours" binding:"min=0"`
	DelayDays        int                     `json:"delay_days" binding:"min=0"`
	DelayWeeks       int                     `json:"delay_weeks" binding:"min=0"`
	TriggerCondition models.TriggerCondition `json:"trigger_condition"`
}

func (r StepRequest) model() models.SequenceStep {
	return models.SequenceStep{
		StepOrder:        r.StepOrder,
		Channel:          r.Channel,
		TemplateID:       r.TemplateID,
		DelayMinutes:     r.DelayMinutes,
		DelayHours:       r.DelayHours,
		DelayDays:        r.DelayDays,
		DelayWeeks:       r.DelayWeeks,
		TriggerCondition: r.TriggerCondition,
	}
}

type CampaignRequest struct {
	Name               string              `json:"name" binding:"required"`
	Description        string              `json:"description"`
	CampaignType       models.CampaignType `json:"campaign_type"`
	AudienceID         uint                `json:"audience_id" binding:"required"`
	EnableEmail        bool                `json:"enable_email"`
	EnableSMS          bool                `json:"enable_sms"`
	EnableWhatsApp     bool                `json:"enable_whatsapp"`
	EmailProviderID    *uint               `json:"email_provider_id"`
	SMSProviderID      *uint               `json:"sms_provider_id"`
	WhatsAppProviderID *uint               `json:"whatsapp_provider_id"`
	ScheduledAt        *time.Time          `json:"scheduled_at"`
	Draft              bool                `json:"draft"`
	Steps              []StepRequest       `json:"sequence_steps" binding:"dive"`
}

type StepsRequest struct {
	Steps []StepRequest `json:"sequence_steps" binding:"dive"`
}

func stepModels(reqs []StepRequest) []models.SequenceStep {
	steps := make([]models.SequenceStep, 0, len(reqs))
	for _, s := range reqs {
		steps = append(steps, s.model())
	}
	return steps
}

func (h *CampaignHandler) CreateCampaign(c *gin.Context) {
	var req CampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	def := &models.Campaign{
		Name:               req.Name,
		Description:        req.Description,
		Type:               req.CampaignType,
		AudienceID:         req.AudienceID,
		EnableEmail:        req.EnableEmail,
		EnableSMS:          req.EnableSMS,
		EnableWhatsApp:     req.EnableWhatsApp,
		EmailProviderID:    req.EmailProviderID,
		SMSProviderID:      req.SMSProviderID,
		WhatsAppProviderID: req.WhatsAppProviderID,
		Steps:              stepModels(req.Steps),
	}
	if req.ScheduledAt != nil {
		at := req.ScheduledAt.UTC()
		def.ScheduledAt = &at
	}

	created, err := h.Controller.Create(c.Request.Context(), def, req.Draft)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func campaignFilter(c *gin.Context) repository.CampaignFilter {
	return repository.CampaignFilter{
		Status: models.CampaignStatus(c.Query("status")),
		Type:   models.CampaignType(c.Query("campaign_type")),
		Search: c.Query("search"),
		Limit:  queryInt(c, "limit"),
		Offset: queryInt(c, "offset"),
	}
}

func (h *CampaignHandler) ListCampaigns(c *gin.Context) {
	campaigns, err := h.Controller.List(c.Request.Context(), campaignFilter(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaigns)
}

// ExportCampaigns writes the filtered campaign list as csv (default) or json.
func (h *CampaignHandler) ExportCampaigns(c *gin.Context) {
	format := strings.ToLower(c.DefaultQuery("format", "csv"))
	if format != "csv" && format != "json" {
		respondError(c, fmt.Errorf("%w: %q, use csv or json", apperrors.ErrUnsupportedExportFormat, format))
		return
	}

	campaigns, err := h.Controller.List(c.Request.Context(), campaignFilter(c))
	if err != nil {
		respondError(c, err)
		return
	}

	if format == "json" {
		c.Header("Content-Disposition", "attachment; filename=campaigns.json")
		c.JSON(http.StatusOK, campaigns)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=campaigns.csv")
	c.Status(http.StatusOK)
	w := csv.NewWriter(c.Writer)
	w.Write([]string{"ID", "Name", "Type", "Status", "Audience ID", "Channels", "Scheduled At", "Created At"})
	for _, camp := range campaigns {
		scheduled := ""
		if camp.ScheduledAt != nil {
			scheduled = camp.ScheduledAt.Format(time.RFC3339)
		}
		w.Write([]string{
			strconv.FormatUint(uint64(camp.ID), 10),
			camp.Name,
			string(camp.Type),
			string(camp.Status),
			strconv.FormatUint(uint64(camp.AudienceID), 10),
			strings.Join(enabledChannels(camp), ";"),
			scheduled,
			camp.CreatedAt.Format(time.RFC3339),
		})
	}
	w.Flush()
}

func enabledChannels(c models.Campaign) []string {
	var out []string
	for _, ch := range []models.Channel{models.ChannelEmail, models.ChannelSMS, models.ChannelWhatsApp} {
		if c.ChannelEnabled(ch) {
			out = append(out, string(ch))
		}
	}
	return out
}

func (h *CampaignHandler) GetCampaign(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	summary, err := h.Controller.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *CampaignHandler) UpdateSteps(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req StepsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := h.Controller.EditSteps(c.Request.Context(), id, stepModels(req.Steps))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *CampaignHandler) LaunchCampaign(c *gin.Context) {
	h.lifecycle(c, h.Controller.Launch)
}

func (h *CampaignHandler) PauseCampaign(c *gin.Context) {
	h.lifecycle(c, h.Controller.Pause)
}

func (h *CampaignHandler) ResumeCampaign(c *gin.Context) {
	h.lifecycle(c, h.Controller.Resume)
}

func (h *CampaignHandler) lifecycle(c *gin.Context, op func(ctx context.Context, id uint) (*models.Campaign, error)) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	camp, err := op(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, camp)
}

func (h *CampaignHandler) DeleteCampaign(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.Controller.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Campaign deleted"})
}

func (h *CampaignHandler) GetLogs(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	logs, err := h.Controller.ListLogs(c.Request.Context(), repository.LogFilter{
		CampaignID: id,
		ContactID:  queryUint(c, "contact_id"),
		StepID:     queryUint(c, "step_id"),
		Status:     models.DispatchStatus(c.Query("status")),
		Limit:      queryInt(c, "limit"),
		Offset:     queryInt(c, "offset"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (h *CampaignHandler) GetPendingTasks(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	tasks, err := h.Controller.PendingTasks(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}
