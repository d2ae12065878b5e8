package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"campaign-dispatch/internal/apperrors"
	"campaign-dispatch/internal/jobqueue"
	"campaign-dispatch/internal/metrics"
	"campaign-dispatch/internal/models"
	"campaign-dispatch/internal/registry"
	"campaign-dispatch/internal/repository"

	"github.com/google/uuid"
)

// ExecuteStep runs one due step invocation. Deleting the pending record by
// handle is the claim: a task whose record is already gone was cancelled,
// re-scheduled or delivered twice, and is dropped.
func (s *Scheduler) ExecuteStep(ctx context.Context, h jobqueue.Handle, p jobqueue.Payload) error {
	log := s.log.With("campaign_id", p.CampaignID, "step_id", p.StepID, "contact_id", p.ContactID, "attempt", p.Attempt)

	claimed, err := s.Pending.DeleteByHandle(ctx, string(h))
	if err != nil {
		return fmt.Errorf("claim task %s: %w", h, err)
	}
	if !claimed {
		log.Warn("no pending record for task, dropping", "handle", h)
		return nil
	}

	campaign, err := s.Campaigns.Get(ctx, p.CampaignID, false)
	if errors.Is(err, apperrors.ErrNotFound) {
		log.Info("campaign gone, dropping task")
		return nil
	}
	if err != nil {
		return err
	}

	switch campaign.Status {
	case models.CampaignPaused:
		// Fired while a pause was being applied; park it for resume.
		return s.requeue(ctx, log, p)
	case models.CampaignActive:
	default:
		log.Info("campaign not active, dropping task", "status", campaign.Status)
		return nil
	}

	step, err := s.Campaigns.Step(ctx, p.StepID)
	if errors.Is(err, apperrors.ErrNotFound) {
		log.Info("step removed, dropping task")
		return nil
	}
	if err != nil {
		return err
	}
	s.touch(ctx, campaign.ID)

	if step.TriggerCondition.SkipsOnEngagement() {
		engaged, err := s.Logs.HasStatus(ctx, campaign.ID, p.ContactID, models.DispatchReplied, models.DispatchClicked)
		if err != nil {
			return err
		}
		if engaged {
			log.Info("contact engaged, skipping step", "trigger", step.TriggerCondition)
			metrics.StepsExecutedTotal.WithLabelValues(string(step.Channel), "skipped").Inc()
			return s.scheduleNext(ctx, campaign.ID, step, p.ContactID)
		}
	}

	entry, sendErr, err := s.dispatch(ctx, campaign, step, p)
	if errors.Is(err, repository.ErrDuplicateAttempt) {
		log.Warn("attempt already logged, dropping duplicate delivery")
		return nil
	}
	if err != nil {
		return err
	}
	s.touch(ctx, campaign.ID)
	s.notify("dispatch_log", entry)

	if sendErr != nil {
		metrics.StepsExecutedTotal.WithLabelValues(string(step.Channel), "failed").Inc()
		if delay, ok := s.cfg.Retry.Next(p.Attempt, sendErr); ok {
			log.Info("send failed, retrying", "error", sendErr, "retry_in", delay)
			metrics.StepsExecutedTotal.WithLabelValues(string(step.Channel), "retried").Inc()
			_, err := s.ScheduleStep(ctx, campaign.ID, step.ID, p.ContactID, p.Attempt+1, delay)
			return err
		}
		log.Info("send failed, sequence halted for contact", "error", sendErr)
		return nil
	}
	metrics.StepsExecutedTotal.WithLabelValues(string(step.Channel), "sent").Inc()
	return s.scheduleNext(ctx, campaign.ID, step, p.ContactID)
}

func (s *Scheduler) requeue(ctx context.Context, log *slog.Logger, p jobqueue.Payload) error {
	task := &models.PendingTask{
		TaskHandle:   "parked-" + uuid.NewString(),
		CampaignID:   p.CampaignID,
		ContactID:    p.ContactID,
		StepID:       p.StepID,
		Attempt:      p.Attempt,
		ScheduledFor: s.Now(),
	}
	if err := s.Pending.Create(ctx, task); err != nil {
		return fmt.Errorf("park task: %w", err)
	}
	metrics.StepsExecutedTotal.WithLabelValues("", "requeued").Inc()
	log.Info("campaign paused, task parked until resume")
	return nil
}

// dispatch sends the step and writes its log entry. sendErr is the step
// outcome; err is a storage failure.
func (s *Scheduler) dispatch(ctx context.Context, campaign *models.Campaign, step *models.SequenceStep, p jobqueue.Payload) (entry *models.DispatchLog, sendErr, err error) {
	res, sendErr := s.send(ctx, campaign, step, p.ContactID)

	entry = &models.DispatchLog{
		CampaignID: campaign.ID,
		StepID:     step.ID,
		ContactID:  p.ContactID,
		Attempt:    p.Attempt,
		StepOrder:  step.StepOrder,
		Channel:    step.Channel,
		Status:     models.DispatchSent,
		SentAt:     s.Now(),
	}
	if res.ProviderID != 0 {
		entry.ProviderID = &res.ProviderID
	}
	if sendErr != nil {
		entry.Status = models.DispatchFailed
		entry.ErrorMessage = sendErr.Error()
	} else if res.ProviderMessageID != "" {
		entry.ProviderMessageID = &res.ProviderMessageID
	}

	if err := s.Logs.Create(ctx, entry); err != nil {
		return nil, sendErr, err
	}
	return entry, sendErr, nil
}

func (s *Scheduler) send(ctx context.Context, campaign *models.Campaign, step *models.SequenceStep, contactID uint) (registry.SendResult, error) {
	contact, err := s.Contacts.Get(ctx, contactID, false)
	if errors.Is(err, apperrors.ErrNotFound) {
		return registry.SendResult{}, fmt.Errorf("%w: contact %d was removed", apperrors.ErrRecipientInvalid, contactID)
	}
	if err != nil {
		return registry.SendResult{}, err
	}

	address := contact.Address(step.Channel)
	if address == "" {
		return registry.SendResult{}, fmt.Errorf("%w: contact %d has no %s address", apperrors.ErrRecipientInvalid, contactID, step.Channel)
	}

	// Renewal notices are service content and bypass the do-not-contact list.
	if s.Compliance != nil && campaign.Type != models.CampaignRenewal {
		allowed, err := s.Compliance.IsAllowed(ctx, address)
		if err != nil {
			return registry.SendResult{}, err
		}
		if !allowed {
			return registry.SendResult{}, fmt.Errorf("%w: %s", apperrors.ErrRecipientSuppressed, address)
		}
	}

	msg, err := s.Renderer.Render(ctx, step.TemplateID, contact.Variables())
	if err != nil {
		return registry.SendResult{}, fmt.Errorf("render template %d: %w", step.TemplateID, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	return s.Sender.Send(sendCtx, registry.SendRequest{
		Channel:    step.Channel,
		ProviderID: campaign.ProviderFor(step.Channel),
		To:         address,
		Message:    msg,
	})
}

// scheduleNext enqueues step_order+1 for the contact, if it exists.
func (s *Scheduler) scheduleNext(ctx context.Context, campaignID uint, current *models.SequenceStep, contactID uint) error {
	next, err := s.Campaigns.StepByOrder(ctx, campaignID, current.StepOrder+1)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	// A contact that cannot receive the next channel halts here, before any
	// task or log exists for that step.
	contact, err := s.Contacts.Get(ctx, contactID, false)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if contact.Address(next.Channel) == "" {
		s.log.Info("contact has no address for next step, sequence halted",
			"campaign_id", campaignID, "contact_id", contactID, "step_order", next.StepOrder, "channel", next.Channel)
		metrics.StepsExecutedTotal.WithLabelValues(string(next.Channel), "halted").Inc()
		return nil
	}

	_, err = s.ScheduleStep(ctx, campaignID, next.ID, contactID, 1, next.Delay())
	return err
}

func (s *Scheduler) touch(ctx context.Context, campaignID uint) {
	if err := s.Campaigns.Touch(ctx, campaignID, s.Now()); err != nil {
		s.log.Warn("touch campaign", "campaign_id", campaignID, "error", err)
	}
}
