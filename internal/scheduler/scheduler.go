// Package scheduler drives one contact through the ordered steps of a
// campaign: it executes a due step, logs the outcome and schedules the next.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"campaign-dispatch/internal/jobqueue"
	"campaign-dispatch/internal/logger"
	"campaign-dispatch/internal/metrics"
	"campaign-dispatch/internal/models"
	"campaign-dispatch/internal/registry"
	"campaign-dispatch/internal/repository"
	"campaign-dispatch/internal/templates"
)

type Sender interface {
	Send(ctx context.Context, req registry.SendRequest) (registry.SendResult, error)
}

type Renderer interface {
	Render(ctx context.Context, templateID uint, vars map[string]string) (templates.Message, error)
}

// ComplianceChecker gates sends on a do-not-contact list.
type ComplianceChecker interface {
	IsAllowed(ctx context.Context, address string) (bool, error)
}

// Notifier receives dispatch events for live dashboards.
type Notifier interface {
	BroadcastEvent(eventType string, data any)
}

type Config struct {
	// MinStepDelay is the shortest delay any job is scheduled with, so a
	// follow-up never fires before the record of its scheduling is written.
	MinStepDelay time.Duration
	SendTimeout  time.Duration
	Retry        RetryPolicy
}

type Deps struct {
	Campaigns  repository.CampaignRepository
	Contacts   repository.ContactRepository
	Logs       repository.DispatchLogRepository
	Pending    repository.PendingTaskRepository
	Queue      jobqueue.Queue
	Sender     Sender
	Renderer   Renderer
	Compliance ComplianceChecker
	Notifier   Notifier
}

type Scheduler struct {
	Deps
	cfg Config
	log *slog.Logger

	// Now is the clock; tests replace it.
	Now func() time.Time
}

func New(deps Deps, cfg Config, log *slog.Logger) *Scheduler {
	if cfg.MinStepDelay <= 0 {
		cfg.MinStepDelay = time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &Scheduler{
		Deps: deps,
		cfg:  cfg,
		log:  logger.OrDefault(log).With("component", "scheduler"),
		Now:  func() time.Time { return time.Now().UTC() },
	}
}

// ScheduleStep enqueues a step for a contact and records the pending task.
// Delays below MinStepDelay are raised to it.
func (s *Scheduler) ScheduleStep(ctx context.Context, campaignID, stepID, contactID uint, attempt int, delay time.Duration) (*models.PendingTask, error) {
	if delay < s.cfg.MinStepDelay {
		delay = s.cfg.MinStepDelay
	}
	if attempt < 1 {
		attempt = 1
	}
	payload := jobqueue.Payload{CampaignID: campaignID, StepID: stepID, ContactID: contactID, Attempt: attempt}
	h, err := s.Queue.Schedule(ctx, payload, delay)
	if err != nil {
		return nil, fmt.Errorf("schedule step %d for contact %d: %w", stepID, contactID, err)
	}

	task := &models.PendingTask{
		TaskHandle:   string(h),
		CampaignID:   campaignID,
		ContactID:    contactID,
		StepID:       stepID,
		Attempt:      attempt,
		ScheduledFor: s.Now().Add(delay),
	}
	if err := s.Pending.Create(ctx, task); err != nil {
		if _, cerr := s.Queue.Cancel(ctx, h); cerr != nil {
			s.log.Warn("cancel orphaned job", "handle", h, "error", cerr)
		}
		return nil, fmt.Errorf("record pending task: %w", err)
	}
	metrics.JobsScheduledTotal.Inc()
	return task, nil
}

// Handle adapts ExecuteStep to the job queue's handler signature.
func (s *Scheduler) Handle(ctx context.Context, h jobqueue.Handle, p jobqueue.Payload) {
	if err := s.ExecuteStep(ctx, h, p); err != nil {
		s.log.Error("execute step", "handle", h, "campaign_id", p.CampaignID, "step_id", p.StepID, "contact_id", p.ContactID, "error", err)
	}
}

func (s *Scheduler) notify(eventType string, data any) {
	if s.Notifier != nil {
		s.Notifier.BroadcastEvent(eventType, data)
	}
}
