// Package campaign owns the campaign lifecycle: creation, launch, pause,
// resume, step edits and the periodic sweep.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"campaign-dispatch/internal/apperrors"
	"campaign-dispatch/internal/jobqueue"
	"campaign-dispatch/internal/logger"
	"campaign-dispatch/internal/metrics"
	"campaign-dispatch/internal/models"
	"campaign-dispatch/internal/repository"

	"golang.org/x/sync/errgroup"
)

// StepScheduler is the part of the sequence scheduler the controller drives.
type StepScheduler interface {
	ScheduleStep(ctx context.Context, campaignID, stepID, contactID uint, attempt int, delay time.Duration) (*models.PendingTask, error)
}

type Notifier interface {
	BroadcastEvent(eventType string, data any)
}

type Config struct {
	FanOutConcurrency int
	// CompletionGrace is how long an ACTIVE campaign with no pending tasks
	// must stay idle before the sweep completes it.
	CompletionGrace time.Duration
	// RecoveryGrace is how far past its scheduled_for a pending task of an
	// ACTIVE campaign may fall before the sweep assumes its job was lost
	// and schedules it again.
	RecoveryGrace time.Duration
}

const recoveryBatch = 500

type Deps struct {
	Campaigns repository.CampaignRepository
	Contacts  repository.ContactRepository
	Logs      repository.DispatchLogRepository
	Pending   repository.PendingTaskRepository
	Queue     jobqueue.Queue
	Scheduler StepScheduler
	Notifier  Notifier
}

type Controller struct {
	Deps
	cfg Config
	log *slog.Logger
	wg  sync.WaitGroup

	Now func() time.Time
}

func NewController(deps Deps, cfg Config, log *slog.Logger) *Controller {
	if cfg.FanOutConcurrency < 1 {
		cfg.FanOutConcurrency = 16
	}
	if cfg.CompletionGrace <= 0 {
		cfg.CompletionGrace = 2 * time.Minute
	}
	if cfg.RecoveryGrace <= 0 {
		cfg.RecoveryGrace = 10 * time.Minute
	}
	return &Controller{
		Deps: deps,
		cfg:  cfg,
		log:  logger.OrDefault(log).With("component", "campaign"),
		Now:  func() time.Time { return time.Now().UTC() },
	}
}

// Summary is a campaign with its per-channel log counts.
type Summary struct {
	*models.Campaign
	Counts  map[models.Channel]map[models.DispatchStatus]int64 `json:"counts"`
	Pending int64                                               `json:"pending_tasks"`
}

// Create stores a campaign with its steps. A future scheduled_at leaves it
// SCHEDULED for the sweep, draft leaves it DRAFT, anything else starts it.
func (c *Controller) Create(ctx context.Context, def *models.Campaign, draft bool) (*models.Campaign, error) {
	if err := validateCampaign(def); err != nil {
		return nil, err
	}
	def.ID = 0
	now := c.Now()
	switch {
	case def.ScheduledAt != nil && def.ScheduledAt.After(now):
		def.Status = models.CampaignScheduled
	case draft:
		def.Status = models.CampaignDraft
	default:
		def.Status = models.CampaignActive
		def.LastActivityAt = &now
	}
	if err := c.Campaigns.Create(ctx, def); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	c.log.Info("campaign created", "campaign_id", def.ID, "status", def.Status, "steps", len(def.Steps))

	if def.Status == models.CampaignActive {
		if err := c.start(ctx, def); err != nil {
			return nil, err
		}
	}
	return c.Campaigns.Get(ctx, def.ID, false)
}

// Launch starts a DRAFT campaign.
func (c *Controller) Launch(ctx context.Context, id uint) (*models.Campaign, error) {
	camp, err := c.Campaigns.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}
	switch camp.Status {
	case models.CampaignActive:
		return camp, nil
	case models.CampaignCompleted:
		return nil, fmt.Errorf("launch campaign %d: %w", id, apperrors.ErrCampaignTerminal)
	case models.CampaignDraft:
	default:
		return nil, apperrors.NewValidation("status", "only draft campaigns can be launched, campaign is %s", camp.Status)
	}
	if err := c.activate(ctx, camp, models.CampaignDraft); err != nil {
		return nil, err
	}
	return c.Campaigns.Get(ctx, id, false)
}

// activate moves camp from `from` to ACTIVE and fans out step 1. Losing the
// transition to a concurrent caller is not an error.
func (c *Controller) activate(ctx context.Context, camp *models.Campaign, from models.CampaignStatus) error {
	ok, err := c.transition(ctx, camp.ID, from, models.CampaignActive)
	if err != nil || !ok {
		return err
	}
	c.touch(ctx, camp.ID)
	return c.start(ctx, camp)
}

// start fans step 1 out to every contact of the audience in the background.
// A campaign without steps or contacts completes at once.
func (c *Controller) start(ctx context.Context, camp *models.Campaign) error {
	contacts, err := c.Contacts.ListByAudience(ctx, camp.AudienceID, false)
	if err != nil {
		return fmt.Errorf("list audience %d: %w", camp.AudienceID, err)
	}
	if len(camp.Steps) == 0 || len(contacts) == 0 {
		c.log.Info("nothing to send, completing campaign", "campaign_id", camp.ID, "steps", len(camp.Steps), "contacts", len(contacts))
		_, err := c.transition(ctx, camp.ID, models.CampaignActive, models.CampaignCompleted)
		return err
	}

	first := camp.Steps[0]
	for _, s := range camp.Steps {
		if s.StepOrder == 1 {
			first = s
		}
	}

	// Step 1 goes out immediately; only follow-ups wait for their delay.
	c.fanOut(ctx, camp.ID, len(contacts), func(ctx context.Context, i int) error {
		_, err := c.Scheduler.ScheduleStep(ctx, camp.ID, first.ID, contacts[i].ID, 1, 0)
		return err
	})
	return nil
}

// fanOut runs n calls of fn off the request path with bounded concurrency.
// Failures are per contact and only logged.
func (c *Controller) fanOut(ctx context.Context, campaignID uint, n int, fn func(ctx context.Context, i int) error) {
	ctx = context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		var g errgroup.Group
		g.SetLimit(c.cfg.FanOutConcurrency)
		for i := 0; i < n; i++ {
			g.Go(func() error {
				if err := fn(ctx, i); err != nil {
					c.log.Error("fan-out call failed", "campaign_id", campaignID, "error", err)
				}
				return nil
			})
		}
		g.Wait()
		c.touch(ctx, campaignID)
		c.log.Info("fan-out finished", "campaign_id", campaignID, "calls", n)
	}()
}

// Wait blocks until background fan-outs have finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Pause stops future steps. Queued jobs are cancelled best-effort and the
// pending records stay so Resume can re-schedule them.
func (c *Controller) Pause(ctx context.Context, id uint) (*models.Campaign, error) {
	camp, err := c.Campaigns.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}
	switch camp.Status {
	case models.CampaignPaused:
		return camp, nil
	case models.CampaignCompleted:
		return nil, fmt.Errorf("pause campaign %d: %w", id, apperrors.ErrCampaignTerminal)
	case models.CampaignActive:
	default:
		return nil, apperrors.NewValidation("status", "only active campaigns can be paused, campaign is %s", camp.Status)
	}

	ok, err := c.transition(ctx, id, models.CampaignActive, models.CampaignPaused)
	if err != nil {
		return nil, err
	}
	if ok {
		tasks, err := c.Pending.ListByCampaign(ctx, id)
		if err != nil {
			return nil, err
		}
		cancelled := 0
		for _, t := range tasks {
			if c.cancel(ctx, id, jobqueue.Handle(t.TaskHandle)) {
				cancelled++
			}
		}
		c.log.Info("campaign paused", "campaign_id", id, "pending", len(tasks), "cancelled", cancelled)
	}
	return c.Campaigns.Get(ctx, id, false)
}

// Resume re-schedules every pending task with the time it had left when
// the campaign was paused, or at once if that time has passed.
func (c *Controller) Resume(ctx context.Context, id uint) (*models.Campaign, error) {
	camp, err := c.Campaigns.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}
	switch camp.Status {
	case models.CampaignActive:
		return camp, nil
	case models.CampaignCompleted:
		return nil, fmt.Errorf("resume campaign %d: %w", id, apperrors.ErrCampaignTerminal)
	case models.CampaignPaused:
	default:
		return nil, apperrors.NewValidation("status", "only paused campaigns can be resumed, campaign is %s", camp.Status)
	}

	ok, err := c.transition(ctx, id, models.CampaignPaused, models.CampaignActive)
	if err != nil {
		return nil, err
	}
	if !ok {
		return c.Campaigns.Get(ctx, id, false)
	}
	c.touch(ctx, id)

	tasks, err := c.Pending.ListByCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	now := c.Now()
	c.fanOut(ctx, id, len(tasks), func(ctx context.Context, i int) error {
		return c.reschedule(ctx, tasks[i], max(0, tasks[i].ScheduledFor.Sub(now)))
	})
	c.log.Info("campaign resumed", "campaign_id", id, "pending", len(tasks))
	return c.Campaigns.Get(ctx, id, false)
}

// reschedule replaces task with a fresh job and record. If the old record
// was claimed meanwhile, its job already ran and the replacement is undone.
func (c *Controller) reschedule(ctx context.Context, task models.PendingTask, delay time.Duration) error {
	c.cancel(ctx, task.CampaignID, jobqueue.Handle(task.TaskHandle))

	next, err := c.Scheduler.ScheduleStep(ctx, task.CampaignID, task.StepID, task.ContactID, task.Attempt, delay)
	if err != nil {
		return err
	}
	claimed, err := c.Pending.DeleteByHandle(ctx, task.TaskHandle)
	if err != nil {
		return err
	}
	if !claimed {
		c.cancel(ctx, task.CampaignID, jobqueue.Handle(next.TaskHandle))
		_, err := c.Pending.DeleteByHandle(ctx, next.TaskHandle)
		return err
	}
	return nil
}

// EditSteps replaces the step set of a campaign that is not running.
func (c *Controller) EditSteps(ctx context.Context, id uint, steps []models.SequenceStep) (*models.Campaign, error) {
	camp, err := c.Campaigns.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}
	switch camp.Status {
	case models.CampaignActive:
		return nil, apperrors.NewValidation("status", "steps of an active campaign cannot be changed, pause it first")
	case models.CampaignCompleted:
		return nil, fmt.Errorf("edit campaign %d: %w", id, apperrors.ErrCampaignTerminal)
	}
	if err := validateSteps(camp, steps); err != nil {
		return nil, err
	}
	for i := range steps {
		steps[i].ID = 0
	}
	if err := c.Campaigns.ReplaceSteps(ctx, id, steps); err != nil {
		return nil, fmt.Errorf("replace steps: %w", err)
	}
	c.log.Info("campaign steps replaced", "campaign_id", id, "steps", len(steps))
	return c.Campaigns.Get(ctx, id, false)
}

// Delete soft-deletes a campaign that is not running and drops its pending tasks.
func (c *Controller) Delete(ctx context.Context, id uint) error {
	camp, err := c.Campaigns.Get(ctx, id, false)
	if err != nil {
		return err
	}
	if camp.Status == models.CampaignActive {
		return apperrors.NewValidation("status", "an active campaign cannot be deleted, pause it first")
	}
	tasks, err := c.Pending.ListByCampaign(ctx, id)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		c.cancel(ctx, id, jobqueue.Handle(t.TaskHandle))
		if err := c.Pending.Delete(ctx, t.ID); err != nil {
			return err
		}
	}
	if err := c.Campaigns.SoftDelete(ctx, id, c.Now()); err != nil {
		return err
	}
	c.log.Info("campaign deleted", "campaign_id", id, "dropped_tasks", len(tasks))
	c.notify("campaign_deleted", event{"id": id})
	return nil
}

func (c *Controller) Get(ctx context.Context, id uint) (*Summary, error) {
	camp, err := c.Campaigns.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}
	counts, err := c.Logs.ChannelCounts(ctx, id)
	if err != nil {
		return nil, err
	}
	pending, err := c.Pending.CountByCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Summary{Campaign: camp, Counts: counts, Pending: pending}, nil
}

func (c *Controller) List(ctx context.Context, f repository.CampaignFilter) ([]models.Campaign, error) {
	return c.Campaigns.List(ctx, f, false)
}

func (c *Controller) ListLogs(ctx context.Context, f repository.LogFilter) ([]models.DispatchLog, error) {
	if _, err := c.Campaigns.Get(ctx, f.CampaignID, false); err != nil {
		return nil, err
	}
	return c.Logs.List(ctx, f)
}

func (c *Controller) PendingTasks(ctx context.Context, id uint) ([]models.PendingTask, error) {
	if _, err := c.Campaigns.Get(ctx, id, false); err != nil {
		return nil, err
	}
	return c.Pending.ListByCampaign(ctx, id)
}

// Sweep promotes due SCHEDULED campaigns, requeues overdue tasks whose job
// never fired and completes idle ACTIVE ones.
func (c *Controller) Sweep(ctx context.Context) error {
	now := c.Now()
	due, err := c.Campaigns.DueScheduled(ctx, now)
	if err != nil {
		return fmt.Errorf("due scheduled campaigns: %w", err)
	}
	var errs []error
	for i := range due {
		camp, err := c.Campaigns.Get(ctx, due[i].ID, false)
		if err == nil {
			err = c.activate(ctx, camp, models.CampaignScheduled)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("start campaign %d: %w", due[i].ID, err))
		}
	}

	overdue, err := c.Pending.Overdue(ctx, now.Add(-c.cfg.RecoveryGrace), recoveryBatch)
	if err != nil {
		errs = append(errs, fmt.Errorf("overdue tasks: %w", err))
	}
	for _, task := range overdue {
		c.log.Warn("requeued overdue task", "campaign_id", task.CampaignID, "contact_id", task.ContactID,
			"step_id", task.StepID, "handle", task.TaskHandle, "scheduled_for", task.ScheduledFor)
		if err := c.reschedule(ctx, task, 0); err != nil {
			errs = append(errs, fmt.Errorf("requeue task %s: %w", task.TaskHandle, err))
		}
	}

	idle, err := c.Campaigns.IdleActive(ctx, now.Add(-c.cfg.CompletionGrace))
	if err != nil {
		return errors.Join(append(errs, fmt.Errorf("idle campaigns: %w", err))...)
	}
	for _, camp := range idle {
		if _, err := c.transition(ctx, camp.ID, models.CampaignActive, models.CampaignCompleted); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) transition(ctx context.Context, id uint, from, to models.CampaignStatus) (bool, error) {
	ok, err := c.Campaigns.Transition(ctx, id, []models.CampaignStatus{from}, to)
	if err != nil {
		return false, fmt.Errorf("campaign %d %s -> %s: %w", id, from, to, err)
	}
	if ok {
		metrics.CampaignTransitionsTotal.WithLabelValues(string(to)).Inc()
		c.log.Info("campaign status changed", "campaign_id", id, "from", from, "to", to)
		c.notify("campaign_status", event{"id": id, "status": to})
	}
	return ok, nil
}

// cancel removes a queued job. Failures are logged; the claim on the pending
// record keeps a job that still fires from running twice.
func (c *Controller) cancel(ctx context.Context, campaignID uint, h jobqueue.Handle) bool {
	done, err := c.Queue.Cancel(ctx, h)
	if err != nil {
		c.log.Warn("cancel scheduled job", "campaign_id", campaignID, "handle", h, "error", err)
		return false
	}
	return done
}

func (c *Controller) touch(ctx context.Context, id uint) {
	if err := c.Campaigns.Touch(ctx, id, c.Now()); err != nil {
		c.log.Warn("touch campaign", "campaign_id", id, "error", err)
	}
}

func (c *Controller) notify(eventType string, data any) {
	if c.Notifier != nil {
		c.Notifier.BroadcastEvent(eventType, data)
	}
}

type event = map[string]any
