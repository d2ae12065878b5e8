package campaign

import (
	"cmp"
	"slices"
	"strings"

	"campaign-dispatch/internal/apperrors"
	"campaign-dispatch/internal/models"
)

// maxDelayMinutes caps a step delay at ten years, far below the range of
// time.Duration.
const maxDelayMinutes = 10 * 365 * 24 * 60

// delayWithinLimit checks every unit on its own before summing, so the sum
// cannot overflow either.
func delayWithinLimit(s *models.SequenceStep) bool {
	if s.DelayMinutes > maxDelayMinutes || s.DelayHours > maxDelayMinutes/60 ||
		s.DelayDays > maxDelayMinutes/(24*60) || s.DelayWeeks > maxDelayMinutes/(7*24*60) {
		return false
	}
	total := s.DelayMinutes + s.DelayHours*60 + s.DelayDays*24*60 + s.DelayWeeks*7*24*60
	return total <= maxDelayMinutes
}

func validateCampaign(c *models.Campaign) error {
	if strings.TrimSpace(c.Name) == "" {
		return apperrors.NewValidation("name", "is required")
	}
	switch c.Type {
	case models.CampaignPromotional, models.CampaignRenewal, models.CampaignWelcome:
	case "":
		c.Type = models.CampaignPromotional
	default:
		return apperrors.NewValidation("campaign_type", "unknown type %q", c.Type)
	}
	if c.AudienceID == 0 {
		return apperrors.NewValidation("audience_id", "is required")
	}
	return validateSteps(c, c.Steps)
}

// validateSteps checks that step_order is dense from 1 and every step uses a
// channel the campaign enables. Steps are sorted by order in place.
func validateSteps(c *models.Campaign, steps []models.SequenceStep) error {
	seen := make(map[int]bool, len(steps))
	for i := range steps {
		s := &steps[i]
		if s.StepOrder < 1 || s.StepOrder > len(steps) {
			return apperrors.NewValidation("step_order", "must be dense from 1, got %d among %d steps", s.StepOrder, len(steps))
		}
		if seen[s.StepOrder] {
			return apperrors.NewValidation("step_order", "duplicate step_order %d", s.StepOrder)
		}
		seen[s.StepOrder] = true

		if !s.Channel.Valid() {
			return apperrors.NewValidation("channel", "step %d: unknown channel %q", s.StepOrder, s.Channel)
		}
		if !c.ChannelEnabled(s.Channel) {
			return apperrors.NewValidation("channel", "step %d: channel %s is not enabled on the campaign", s.StepOrder, s.Channel)
		}
		if s.TemplateID == 0 {
			return apperrors.NewValidation("template_id", "step %d: template is required", s.StepOrder)
		}
		if s.DelayMinutes < 0 || s.DelayHours < 0 || s.DelayDays < 0 || s.DelayWeeks < 0 {
			return apperrors.NewValidation("delay", "step %d: delays cannot be negative", s.StepOrder)
		}
		if !delayWithinLimit(s) {
			return apperrors.NewValidation("delay", "step %d: delay cannot exceed %d days", s.StepOrder, maxDelayMinutes/(24*60))
		}
		switch s.TriggerCondition {
		case "":
			s.TriggerCondition = models.TriggerAlways
		case models.TriggerAlways, models.TriggerNoResponse, models.TriggerNoAction:
		default:
			return apperrors.NewValidation("trigger_condition", "step %d: unknown trigger %q", s.StepOrder, s.TriggerCondition)
		}
	}
	slices.SortFunc(steps, func(a, b models.SequenceStep) int { return cmp.Compare(a.StepOrder, b.StepOrder) })
	return nil
}
