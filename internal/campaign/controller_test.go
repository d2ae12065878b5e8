package campaign

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"campaign-dispatch/internal/apperrors"
	"campaign-dispatch/internal/database/dbtest"
	"campaign-dispatch/internal/jobqueue"
	"campaign-dispatch/internal/jobqueue/jobqueuetest"
	"campaign-dispatch/internal/models"
	"campaign-dispatch/internal/registry"
	"campaign-dispatch/internal/repository"
	"campaign-dispatch/internal/scheduler"
	"campaign-dispatch/internal/templates"

	"gorm.io/gorm"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type okSender struct{}

func (okSender) Send(_ context.Context, req registry.SendRequest) (registry.SendResult, error) {
	return registry.SendResult{ProviderMessageID: "pm-" + req.To}, nil
}

type fixture struct {
	db       *gorm.DB
	store    *repository.Store
	queue    *jobqueuetest.Queue
	clock    *clock
	sched    *scheduler.Scheduler
	ctrl     *Controller
	audience models.Audience
	template models.Template
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	f := &fixture{db: db, store: repository.NewStore(db), queue: jobqueuetest.New(), clock: &clock{now: t0}}

	f.audience = models.Audience{Name: "policy holders"}
	if err := db.Create(&f.audience).Error; err != nil {
		t.Fatal(err)
	}
	f.template = models.Template{Name: "renewal", Subject: "Renew", Body: "Hi {{name}}"}
	if err := db.Create(&f.template).Error; err != nil {
		t.Fatal(err)
	}

	f.sched = scheduler.New(scheduler.Deps{
		Campaigns: f.store.Campaigns,
		Contacts:  f.store.Contacts,
		Logs:      f.store.Logs,
		Pending:   f.store.Pending,
		Queue:     f.queue,
		Sender:    okSender{},
		Renderer:  templates.NewRenderer(f.store.Templates),
	}, scheduler.Config{MinStepDelay: time.Second}, nil)
	f.sched.Now = f.clock.Now

	f.ctrl = NewController(Deps{
		Campaigns: f.store.Campaigns,
		Contacts:  f.store.Contacts,
		Logs:      f.store.Logs,
		Pending:   f.store.Pending,
		Queue:     f.queue,
		Scheduler: f.sched,
	}, Config{FanOutConcurrency: 4, CompletionGrace: 2 * time.Minute}, nil)
	f.ctrl.Now = f.clock.Now
	return f
}

func (f *fixture) contact(t *testing.T, name, email, phone string) models.Contact {
	t.Helper()
	c := models.Contact{AudienceID: f.audience.ID, Name: name, Email: email, Phone: phone}
	if err := f.db.Create(&c).Error; err != nil {
		t.Fatal(err)
	}
	return c
}

func (f *fixture) definition(steps ...models.SequenceStep) *models.Campaign {
	for i := range steps {
		if steps[i].StepOrder == 0 {
			steps[i].StepOrder = i + 1
		}
		if steps[i].TemplateID == 0 {
			steps[i].TemplateID = f.template.ID
		}
	}
	return &models.Campaign{
		Name: "renewals", Type: models.CampaignRenewal, AudienceID: f.audience.ID,
		EnableEmail: true, EnableSMS: true, Steps: steps,
	}
}

func (f *fixture) create(t *testing.T, def *models.Campaign, draft bool) *models.Campaign {
	t.Helper()
	c, err := f.ctrl.Create(context.Background(), def, draft)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.ctrl.Wait()
	return c
}

func (f *fixture) fire(t *testing.T) {
	t.Helper()
	for _, j := range f.queue.Drain() {
		if err := f.sched.ExecuteStep(context.Background(), j.Handle, j.Payload); err != nil {
			t.Fatalf("ExecuteStep: %v", err)
		}
	}
}

func (f *fixture) status(t *testing.T, id uint) models.CampaignStatus {
	t.Helper()
	c, err := f.store.Campaigns.Get(context.Background(), id, true)
	if err != nil {
		t.Fatal(err)
	}
	return c.Status
}

func TestCreateRejectsInvalidDefinitions(t *testing.T) {
	f := newFixture(t)
	f.contact(t, "A", "a@example.com", "+1555")

	cases := []struct {
		name   string
		mutate func(*models.Campaign)
	}{
		{"gap in step order", func(c *models.Campaign) { c.Steps[1].StepOrder = 3 }},
		{"duplicate step order", func(c *models.Campaign) { c.Steps[1].StepOrder = 1 }},
		{"order starts at zero", func(c *models.Campaign) { c.Steps[0].StepOrder = 0; c.Steps[1].StepOrder = 1 }},
		{"channel not enabled", func(c *models.Campaign) { c.EnableSMS = false }},
		{"unknown channel", func(c *models.Campaign) { c.Steps[0].Channel = "fax" }},
		{"unknown trigger", func(c *models.Campaign) { c.Steps[1].TriggerCondition = "sometimes" }},
		{"negative delay", func(c *models.Campaign) { c.Steps[1].DelayHours = -1 }},
		{"delay past ten years", func(c *models.Campaign) { c.Steps[1].DelayWeeks = 20000 }},
		{"delay units add up past ten years", func(c *models.Campaign) {
			c.Steps[1].DelayWeeks = 500
			c.Steps[1].DelayDays = 3000
		}},
		{"missing name", func(c *models.Campaign) { c.Name = " " }},
		{"missing audience", func(c *models.Campaign) { c.AudienceID = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := f.definition(
				models.SequenceStep{Channel: models.ChannelEmail},
				models.SequenceStep{Channel: models.ChannelSMS},
			)
			tc.mutate(def)
			_, err := f.ctrl.Create(context.Background(), def, false)
			if !apperrors.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	campaigns, _ := f.store.Campaigns.List(context.Background(), repository.CampaignFilter{}, true)
	if len(campaigns) != 0 {
		t.Fatalf("invalid definitions must not be stored, found %d", len(campaigns))
	}
	if len(f.queue.Jobs()) != 0 {
		t.Fatal("invalid definitions must not schedule")
	}
}

func TestEmailThenSMSWithContactMissingPhone(t *testing.T) {
	f := newFixture(t)
	f.contact(t, "Asha", "asha@example.com", "+15550101")
	f.contact(t, "Ben", "ben@example.com", "+15550102")
	noPhone := f.contact(t, "Cleo", "cleo@example.com", "")

	camp := f.create(t, f.definition(
		models.SequenceStep{Channel: models.ChannelEmail},
		models.SequenceStep{Channel: models.ChannelSMS, DelayDays: 1},
	), false)
	if camp.Status != models.CampaignActive {
		t.Fatalf("status = %s", camp.Status)
	}
	if n := len(f.queue.Jobs()); n != 3 {
		t.Fatalf("expected step 1 for 3 contacts, got %d jobs", n)
	}
	f.fire(t)

	ctx := context.Background()
	sent, _ := f.store.Logs.List(ctx, repository.LogFilter{CampaignID: camp.ID, Status: models.DispatchSent})
	if len(sent) != 3 {
		t.Fatalf("expected 3 sent emails, got %d", len(sent))
	}
	for _, l := range sent {
		if l.Channel != models.ChannelEmail {
			t.Fatalf("unexpected channel %s", l.Channel)
		}
	}

	tasks, _ := f.store.Pending.ListByCampaign(ctx, camp.ID)
	if len(tasks) != 2 {
		t.Fatalf("expected 2 sms tasks, got %d", len(tasks))
	}
	for _, task := range tasks {
		if task.ContactID == noPhone.ID {
			t.Fatal("sms task created for contact without phone")
		}
		if task.StepID != camp.Steps[1].ID || !task.ScheduledFor.Equal(t0.Add(24*time.Hour)) {
			t.Fatalf("unexpected task %+v", task)
		}
	}
	all, _ := f.store.Logs.List(ctx, repository.LogFilter{CampaignID: camp.ID, ContactID: noPhone.ID})
	if len(all) != 1 {
		t.Fatalf("contact without phone should only have the email log, got %d", len(all))
	}

	summary, err := f.ctrl.Get(ctx, camp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Counts[models.ChannelEmail][models.DispatchSent] != 3 || summary.Pending != 2 {
		t.Fatalf("summary counts %+v pending %d", summary.Counts, summary.Pending)
	}
}

func TestResumeUsesRemainingDelay(t *testing.T) {
	f := newFixture(t)
	f.contact(t, "Asha", "asha@example.com", "+15550101")
	ctx := context.Background()

	camp := f.create(t, f.definition(
		models.SequenceStep{Channel: models.ChannelEmail},
		models.SequenceStep{Channel: models.ChannelSMS, DelayMinutes: 10},
	), false)
	f.fire(t)

	before, _ := f.store.Pending.ListByCampaign(ctx, camp.ID)
	if len(before) != 1 || !before[0].ScheduledFor.Equal(t0.Add(10*time.Minute)) {
		t.Fatalf("pending before pause %+v", before)
	}

	if _, err := f.ctrl.Pause(ctx, camp.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if n := len(f.queue.Jobs()); n != 0 {
		t.Fatalf("pause should cancel queued jobs, %d left", n)
	}
	kept, _ := f.store.Pending.ListByCampaign(ctx, camp.ID)
	if len(kept) != 1 || kept[0].TaskHandle != before[0].TaskHandle {
		t.Fatalf("pause must keep pending records, got %+v", kept)
	}

	f.clock.Set(t0.Add(3 * time.Minute))
	resumed, err := f.ctrl.Resume(ctx, camp.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	f.ctrl.Wait()
	if resumed.Status != models.CampaignActive {
		t.Fatalf("status = %s", resumed.Status)
	}

	jobs := f.queue.Jobs()
	if len(jobs) != 1 || jobs[0].Delay != 7*time.Minute {
		t.Fatalf("expected one job with 7m delay, got %+v", jobs)
	}
	after, _ := f.store.Pending.ListByCampaign(ctx, camp.ID)
	if len(after) != 1 {
		t.Fatalf("expected exactly one pending record, got %d", len(after))
	}
	if after[0].TaskHandle == before[0].TaskHandle || after[0].TaskHandle != string(jobs[0].Handle) {
		t.Fatalf("record should point at the new job: %+v", after[0])
	}
	if !after[0].ScheduledFor.Equal(t0.Add(10 * time.Minute)) {
		t.Fatalf("scheduled_for = %s", after[0].ScheduledFor)
	}
}

func TestPauseRightAfterLaunchShiftsFollowUp(t *testing.T) {
	f := newFixture(t)
	f.contact(t, "Asha", "asha@example.com", "+15550101")
	ctx := context.Background()

	camp := f.create(t, f.definition(
		models.SequenceStep{Channel: models.ChannelEmail},
		models.SequenceStep{Channel: models.ChannelSMS, DelayMinutes: 10},
	), false)

	f.clock.Set(t0.Add(500 * time.Millisecond))
	if _, err := f.ctrl.Pause(ctx, camp.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	f.clock.Set(t0.Add(5 * time.Minute))
	if _, err := f.ctrl.Resume(ctx, camp.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	f.ctrl.Wait()
	jobs := f.queue.Jobs()
	if len(jobs) != 1 || jobs[0].Delay != time.Second {
		t.Fatalf("overdue step should run right after resume, got %+v", jobs)
	}
	f.fire(t)

	tasks, _ := f.store.Pending.ListByCampaign(ctx, camp.ID)
	if len(tasks) != 1 {
		t.Fatalf("expected step 2 pending, got %d", len(tasks))
	}
	unpaused := t0.Add(time.Second + 10*time.Minute)
	if got := tasks[0].ScheduledFor.Sub(unpaused); got < 4*time.Minute || got > 6*time.Minute {
		t.Fatalf("step 2 shifted by %s, want about the 5m pause", got)
	}
}

func TestTransitionsAreIdempotent(t *testing.T) {
	f := newFixture(t)
	f.contact(t, "Asha", "asha@example.com", "")
	ctx := context.Background()
	camp := f.create(t, f.definition(models.SequenceStep{Channel: models.ChannelEmail, DelayHours: 1}), false)

	for i := 0; i < 2; i++ {
		c, err := f.ctrl.Pause(ctx, camp.ID)
		if err != nil || c.Status != models.CampaignPaused {
			t.Fatalf("Pause #%d: %v %v", i, c, err)
		}
	}
	for i := 0; i < 2; i++ {
		c, err := f.ctrl.Resume(ctx, camp.ID)
		if err != nil || c.Status != models.CampaignActive {
			t.Fatalf("Resume #%d: %v %v", i, c, err)
		}
		f.ctrl.Wait()
	}
	if n := len(f.queue.Jobs()); n != 1 {
		t.Fatalf("double resume must not duplicate jobs, got %d", n)
	}
	c, err := f.ctrl.Launch(ctx, camp.ID)
	if err != nil || c.Status != models.CampaignActive {
		t.Fatalf("Launch of active campaign: %v", err)
	}
}

func TestCompletedCampaignIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// No contacts: the campaign completes on start.
	camp := f.create(t, f.definition(models.SequenceStep{Channel: models.ChannelEmail}), false)
	if got := f.status(t, camp.ID); got != models.CampaignCompleted {
		t.Fatalf("status = %s", got)
	}

	ops := map[string]func() error{
		"pause":  func() error { _, err := f.ctrl.Pause(ctx, camp.ID); return err },
		"resume": func() error { _, err := f.ctrl.Resume(ctx, camp.ID); return err },
		"launch": func() error { _, err := f.ctrl.Launch(ctx, camp.ID); return err },
		"edit": func() error {
			_, err := f.ctrl.EditSteps(ctx, camp.ID, []models.SequenceStep{{StepOrder: 1, Channel: models.ChannelEmail, TemplateID: f.template.ID}})
			return err
		},
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, apperrors.ErrCampaignTerminal) {
			t.Errorf("%s: expected terminal error, got %v", name, err)
		}
	}
}

func TestEditStepsOnlyWhenNotRunning(t *testing.T) {
	f := newFixture(t)
	f.contact(t, "Asha", "asha@example.com", "+15550101")
	ctx := context.Background()
	camp := f.create(t, f.definition(
		models.SequenceStep{Channel: models.ChannelEmail},
		models.SequenceStep{Channel: models.ChannelSMS, DelayDays: 1},
	), false)

	steps := []models.SequenceStep{
		{StepOrder: 1, Channel: models.ChannelEmail, TemplateID: f.template.ID},
		{StepOrder: 2, Channel: models.ChannelSMS, TemplateID: f.template.ID, DelayDays: 2},
		{StepOrder: 3, Channel: models.ChannelEmail, TemplateID: f.template.ID, DelayWeeks: 1},
	}
	if _, err := f.ctrl.EditSteps(ctx, camp.ID, steps); !apperrors.IsValidation(err) {
		t.Fatalf("editing an active campaign: %v", err)
	}

	f.ctrl.Pause(ctx, camp.ID)
	updated, err := f.ctrl.EditSteps(ctx, camp.ID, steps)
	if err != nil {
		t.Fatalf("EditSteps: %v", err)
	}
	if len(updated.Steps) != 3 || updated.Steps[1].DelayDays != 2 {
		t.Fatalf("steps not replaced: %+v", updated.Steps)
	}
	if updated.Steps[0].ID != camp.Steps[0].ID {
		t.Fatal("step 1 should keep its id across edits")
	}
	tasks, _ := f.store.Pending.ListByCampaign(ctx, camp.ID)
	if len(tasks) != 1 {
		t.Fatalf("pending task of a kept step must survive, got %d", len(tasks))
	}

	bad := []models.SequenceStep{{StepOrder: 2, Channel: models.ChannelEmail, TemplateID: f.template.ID}}
	if _, err := f.ctrl.EditSteps(ctx, camp.ID, bad); !apperrors.IsValidation(err) {
		t.Fatalf("non-dense edit: %v", err)
	}
}

func TestDraftLaunch(t *testing.T) {
	f := newFixture(t)
	f.contact(t, "Asha", "asha@example.com", "+15550101")
	f.contact(t, "Ben", "ben@example.com", "+15550102")
	ctx := context.Background()

	camp := f.create(t, f.definition(models.SequenceStep{Channel: models.ChannelEmail}), true)
	if camp.Status != models.CampaignDraft || len(f.queue.Jobs()) != 0 {
		t.Fatalf("draft should not start: %s, %d jobs", camp.Status, len(f.queue.Jobs()))
	}
	if _, err := f.ctrl.Pause(ctx, camp.ID); !apperrors.IsValidation(err) {
		t.Fatalf("pausing a draft: %v", err)
	}

	launched, err := f.ctrl.Launch(ctx, camp.ID)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	f.ctrl.Wait()
	if launched.Status != models.CampaignActive || len(f.queue.Jobs()) != 2 {
		t.Fatalf("launch: %s, %d jobs", launched.Status, len(f.queue.Jobs()))
	}
}

func TestSweepStartsScheduledAndCompletesIdle(t *testing.T) {
	f := newFixture(t)
	f.contact(t, "Asha", "asha@example.com", "+15550101")
	ctx := context.Background()

	def := f.definition(models.SequenceStep{Channel: models.ChannelEmail})
	at := t0.Add(time.Hour)
	def.ScheduledAt = &at
	camp := f.create(t, def, false)
	if camp.Status != models.CampaignScheduled {
		t.Fatalf("status = %s", camp.Status)
	}

	if err := f.ctrl.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if got := f.status(t, camp.ID); got != models.CampaignScheduled {
		t.Fatalf("started early: %s", got)
	}

	f.clock.Set(at.Add(time.Second))
	if err := f.ctrl.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	f.ctrl.Wait()
	if got := f.status(t, camp.ID); got != models.CampaignActive {
		t.Fatalf("status after due sweep = %s", got)
	}
	f.fire(t)

	f.clock.Set(at.Add(time.Minute))
	f.ctrl.Sweep(ctx)
	if got := f.status(t, camp.ID); got != models.CampaignActive {
		t.Fatalf("completed inside the grace period: %s", got)
	}

	f.clock.Set(at.Add(10 * time.Minute))
	if err := f.ctrl.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if got := f.status(t, camp.ID); got != models.CampaignCompleted {
		t.Fatalf("status after idle sweep = %s", got)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	f.contact(t, "Asha", "asha@example.com", "+15550101")
	ctx := context.Background()
	camp := f.create(t, f.definition(models.SequenceStep{Channel: models.ChannelEmail, DelayDays: 1}), false)

	if err := f.ctrl.Delete(ctx, camp.ID); !apperrors.IsValidation(err) {
		t.Fatalf("deleting an active campaign: %v", err)
	}
	f.ctrl.Pause(ctx, camp.ID)
	if err := f.ctrl.Delete(ctx, camp.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.ctrl.Get(ctx, camp.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("deleted campaign still visible: %v", err)
	}
	if n, _ := f.store.Pending.CountByCampaign(ctx, camp.ID); n != 0 {
		t.Fatalf("pending tasks left after delete: %d", n)
	}
}

func TestLongestDelayIsAccepted(t *testing.T) {
	f := newFixture(t)
	def := f.definition(
		models.SequenceStep{Channel: models.ChannelEmail},
		models.SequenceStep{Channel: models.ChannelSMS, DelayDays: 3650},
	)
	if _, err := f.ctrl.Create(context.Background(), def, true); err != nil {
		t.Fatalf("a ten year delay should be valid: %v", err)
	}
}

func TestStepOneIgnoresItsDelay(t *testing.T) {
	f := newFixture(t)
	f.contact(t, "Asha", "asha@example.com", "+15550101")
	ctx := context.Background()

	camp := f.create(t, f.definition(
		models.SequenceStep{Channel: models.ChannelEmail, DelayDays: 2},
		models.SequenceStep{Channel: models.ChannelSMS, DelayHours: 1},
	), false)

	jobs := f.queue.Jobs()
	if len(jobs) != 1 || jobs[0].Delay != time.Second {
		t.Fatalf("step 1 should run after the minimum delay, got %+v", jobs)
	}
	tasks, _ := f.store.Pending.ListByCampaign(ctx, camp.ID)
	if len(tasks) != 1 || !tasks[0].ScheduledFor.Equal(t0.Add(time.Second)) {
		t.Fatalf("pending step 1 %+v", tasks)
	}
}

func TestSweepRequeuesLostJob(t *testing.T) {
	f := newFixture(t)
	f.contact(t, "Asha", "asha@example.com", "+15550101")
	ctx := context.Background()

	camp := f.create(t, f.definition(
		models.SequenceStep{Channel: models.ChannelEmail},
		models.SequenceStep{Channel: models.ChannelSMS, DelayDays: 1},
	), false)
	f.fire(t)

	lost := f.queue.Jobs()
	if len(lost) != 1 {
		t.Fatalf("expected the step 2 job, got %d", len(lost))
	}
	f.queue.Take(lost[0].Handle)

	f.clock.Set(t0.Add(72 * time.Hour))
	if err := f.ctrl.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if got := f.status(t, camp.ID); got != models.CampaignActive {
		t.Fatalf("campaign with an overdue task became %s", got)
	}
	jobs := f.queue.Jobs()
	if len(jobs) != 1 || jobs[0].Delay != time.Second || jobs[0].Payload.StepID != camp.Steps[1].ID {
		t.Fatalf("expected step 2 requeued at once, got %+v", jobs)
	}
	tasks, _ := f.store.Pending.ListByCampaign(ctx, camp.ID)
	if len(tasks) != 1 || tasks[0].TaskHandle != string(jobs[0].Handle) {
		t.Fatalf("pending record should point at the new job: %+v", tasks)
	}

	// A second sweep inside the grace period leaves the new job alone.
	if err := f.ctrl.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n := len(f.queue.Jobs()); n != 1 {
		t.Fatalf("requeued twice, %d jobs", n)
	}

	f.fire(t)
	sms, _ := f.store.Logs.List(ctx, repository.LogFilter{CampaignID: camp.ID, StepID: camp.Steps[1].ID, Status: models.DispatchSent})
	if len(sms) != 1 {
		t.Fatalf("expected the recovered sms to be sent, got %d", len(sms))
	}
	f.clock.Set(t0.Add(73 * time.Hour))
	f.ctrl.Sweep(ctx)
	if got := f.status(t, camp.ID); got != models.CampaignCompleted {
		t.Fatalf("status after recovery = %s", got)
	}
}

func TestSweepLeavesPausedTasksAlone(t *testing.T) {
	f := newFixture(t)
	f.contact(t, "Asha", "asha@example.com", "+15550101")
	ctx := context.Background()

	camp := f.create(t, f.definition(
		models.SequenceStep{Channel: models.ChannelEmail},
		models.SequenceStep{Channel: models.ChannelSMS, DelayDays: 1},
	), false)
	f.fire(t)
	f.ctrl.Pause(ctx, camp.ID)

	f.clock.Set(t0.Add(72 * time.Hour))
	if err := f.ctrl.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n := len(f.queue.Jobs()); n != 0 {
		t.Fatalf("sweep scheduled %d jobs for a paused campaign", n)
	}
}

type failingCancel struct {
	*jobqueuetest.Queue
}

func (failingCancel) Cancel(context.Context, jobqueue.Handle) (bool, error) {
	return false, errors.New("redis unavailable")
}

func TestPauseLogsFailedCancel(t *testing.T) {
	f := newFixture(t)
	f.contact(t, "Asha", "asha@example.com", "+15550101")
	ctx := context.Background()
	camp := f.create(t, f.definition(models.SequenceStep{Channel: models.ChannelEmail, DelayHours: 1}), false)

	var buf bytes.Buffer
	ctrl := NewController(Deps{
		Campaigns: f.store.Campaigns,
		Contacts:  f.store.Contacts,
		Logs:      f.store.Logs,
		Pending:   f.store.Pending,
		Queue:     failingCancel{f.queue},
		Scheduler: f.sched,
	}, Config{}, slog.New(slog.NewTextHandler(&buf, nil)))
	ctrl.Now = f.clock.Now

	paused, err := ctrl.Pause(ctx, camp.ID)
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if paused.Status != models.CampaignPaused {
		t.Fatalf("status = %s", paused.Status)
	}
	out := buf.String()
	if !strings.Contains(out, "cancel scheduled job") || !strings.Contains(out, "redis unavailable") {
		t.Fatalf("failed cancel not logged:\n%s", out)
	}
	if !strings.Contains(out, "cancelled=0") {
		t.Fatalf("failed cancel counted as cancelled:\n%s", out)
	}
}
