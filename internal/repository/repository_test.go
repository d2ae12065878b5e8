package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"campaign-dispatch/internal/apperrors"
	"campaign-dispatch/internal/database/dbtest"
	"campaign-dispatch/internal/models"
)

func seedCampaign(t *testing.T, store *Store, steps int) *models.Campaign {
	t.Helper()
	c := &models.Campaign{Name: "Renewals", Type: models.CampaignRenewal, Status: models.CampaignDraft, AudienceID: 1, EnableEmail: true}
	for i := 1; i <= steps; i++ {
		c.Steps = append(c.Steps, models.SequenceStep{StepOrder: i, Channel: models.ChannelEmail, TemplateID: 1, TriggerCondition: models.TriggerAlways})
	}
	if err := store.Campaigns.Create(context.Background(), c); err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return c
}

func TestTransitionIsConditional(t *testing.T) {
	store := NewStore(dbtest.Open(t))
	ctx := context.Background()
	c := seedCampaign(t, store, 1)

	ok, err := store.Campaigns.Transition(ctx, c.ID, []models.CampaignStatus{models.CampaignActive}, models.CampaignPaused)
	if err != nil || ok {
		t.Fatalf("pause from draft: ok=%v err=%v", ok, err)
	}
	ok, err = store.Campaigns.Transition(ctx, c.ID, []models.CampaignStatus{models.CampaignDraft}, models.CampaignActive)
	if err != nil || !ok {
		t.Fatalf("launch from draft: ok=%v err=%v", ok, err)
	}
	got, err := store.Campaigns.Get(ctx, c.ID, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.CampaignActive {
		t.Fatalf("status = %s, want active", got.Status)
	}
}

func TestSoftDeleteHidesCampaign(t *testing.T) {
	store := NewStore(dbtest.Open(t))
	ctx := context.Background()
	c := seedCampaign(t, store, 1)

	if err := store.Campaigns.SoftDelete(ctx, c.ID, time.Now()); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, err := store.Campaigns.Get(ctx, c.ID, false); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Campaigns.Get(ctx, c.ID, true); err != nil {
		t.Fatalf("get with includeDeleted: %v", err)
	}
}

func TestReplaceStepsKeepsIdentityByOrder(t *testing.T) {
	store := NewStore(dbtest.Open(t))
	ctx := context.Background()
	c := seedCampaign(t, store, 3)
	step1, step3 := c.Steps[0].ID, c.Steps[2].ID

	for _, stepID := range []uint{step1, step3} {
		err := store.Pending.Create(ctx, &models.PendingTask{
			TaskHandle: fmt.Sprintf("h-%d", stepID), CampaignID: c.ID, ContactID: 1, StepID: stepID, Attempt: 1, ScheduledFor: time.Now(),
		})
		if err != nil {
			t.Fatalf("create pending: %v", err)
		}
	}

	steps := []models.SequenceStep{
		{StepOrder: 1, Channel: models.ChannelSMS, TemplateID: 9, DelayHours: 2, TriggerCondition: models.TriggerAlways},
		{StepOrder: 2, Channel: models.ChannelEmail, TemplateID: 1, TriggerCondition: models.TriggerNoResponse},
	}
	if err := store.Campaigns.ReplaceSteps(ctx, c.ID, steps); err != nil {
		t.Fatalf("replace steps: %v", err)
	}
	if steps[0].ID != step1 {
		t.Fatalf("step 1 id changed: %d -> %d", step1, steps[0].ID)
	}

	got, err := store.Campaigns.Get(ctx, c.ID, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Steps) != 2 || got.Steps[0].Channel != models.ChannelSMS || got.Steps[1].TriggerCondition != models.TriggerNoResponse {
		t.Fatalf("unexpected steps %+v", got.Steps)
	}

	pending, err := store.Pending.ListByCampaign(ctx, c.ID)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].StepID != step1 {
		t.Fatalf("expected only the step 1 task to survive, got %+v", pending)
	}
}

func TestIdleActive(t *testing.T) {
	store := NewStore(dbtest.Open(t))
	ctx := context.Background()
	now := time.Now().UTC()

	idle := seedCampaign(t, store, 1)
	busy := seedCampaign(t, store, 1)
	recent := seedCampaign(t, store, 1)
	for _, c := range []*models.Campaign{idle, busy, recent} {
		if _, err := store.Campaigns.Transition(ctx, c.ID, []models.CampaignStatus{models.CampaignDraft}, models.CampaignActive); err != nil {
			t.Fatalf("activate: %v", err)
		}
	}
	store.Campaigns.Touch(ctx, idle.ID, now.Add(-10*time.Minute))
	store.Campaigns.Touch(ctx, busy.ID, now.Add(-10*time.Minute))
	store.Campaigns.Touch(ctx, recent.ID, now)
	store.Pending.Create(ctx, &models.PendingTask{TaskHandle: "busy", CampaignID: busy.ID, ContactID: 1, StepID: busy.Steps[0].ID, Attempt: 1, ScheduledFor: now})

	got, err := store.Campaigns.IdleActive(ctx, now.Add(-2*time.Minute))
	if err != nil {
		t.Fatalf("idle active: %v", err)
	}
	if len(got) != 1 || got[0].ID != idle.ID {
		t.Fatalf("expected only campaign %d, got %+v", idle.ID, got)
	}
}

func TestDeleteByHandleClaimsOnce(t *testing.T) {
	store := NewStore(dbtest.Open(t))
	ctx := context.Background()
	c := seedCampaign(t, store, 1)
	store.Pending.Create(ctx, &models.PendingTask{TaskHandle: "abc", CampaignID: c.ID, ContactID: 1, StepID: c.Steps[0].ID, Attempt: 1, ScheduledFor: time.Now()})

	first, err := store.Pending.DeleteByHandle(ctx, "abc")
	if err != nil || !first {
		t.Fatalf("first claim: %v %v", first, err)
	}
	second, err := store.Pending.DeleteByHandle(ctx, "abc")
	if err != nil || second {
		t.Fatalf("second claim should find nothing: %v %v", second, err)
	}
}

func TestOverdueSkipsPausedCampaigns(t *testing.T) {
	store := NewStore(dbtest.Open(t))
	ctx := context.Background()
	now := time.Now().UTC()

	running := seedCampaign(t, store, 1)
	paused := seedCampaign(t, store, 1)
	store.Campaigns.Transition(ctx, running.ID, []models.CampaignStatus{models.CampaignDraft}, models.CampaignActive)
	store.Campaigns.Transition(ctx, paused.ID, []models.CampaignStatus{models.CampaignDraft}, models.CampaignPaused)

	tasks := []models.PendingTask{
		{TaskHandle: "late", CampaignID: running.ID, ContactID: 1, StepID: running.Steps[0].ID, Attempt: 1, ScheduledFor: now.Add(-time.Hour)},
		{TaskHandle: "on-time", CampaignID: running.ID, ContactID: 2, StepID: running.Steps[0].ID, Attempt: 1, ScheduledFor: now.Add(time.Hour)},
		{TaskHandle: "parked", CampaignID: paused.ID, ContactID: 1, StepID: paused.Steps[0].ID, Attempt: 1, ScheduledFor: now.Add(-time.Hour)},
	}
	for i := range tasks {
		if err := store.Pending.Create(ctx, &tasks[i]); err != nil {
			t.Fatalf("create task: %v", err)
		}
	}

	got, err := store.Pending.Overdue(ctx, now.Add(-10*time.Minute), 100)
	if err != nil {
		t.Fatalf("overdue: %v", err)
	}
	if len(got) != 1 || got[0].TaskHandle != "late" {
		t.Fatalf("expected only the late task, got %+v", got)
	}
}

func TestDispatchLogDuplicateAttempt(t *testing.T) {
	store := NewStore(dbtest.Open(t))
	ctx := context.Background()
	entry := func() *models.DispatchLog {
		return &models.DispatchLog{CampaignID: 1, StepID: 1, ContactID: 1, Attempt: 1, Channel: models.ChannelEmail, Status: models.DispatchSent, SentAt: time.Now()}
	}
	if err := store.Logs.Create(ctx, entry()); err != nil {
		t.Fatalf("first log: %v", err)
	}
	if err := store.Logs.Create(ctx, entry()); !errors.Is(err, ErrDuplicateAttempt) {
		t.Fatalf("expected ErrDuplicateAttempt, got %v", err)
	}
}

func TestChannelCountsAndEngagement(t *testing.T) {
	store := NewStore(dbtest.Open(t))
	ctx := context.Background()
	msgID := "wamid.1"
	logs := []models.DispatchLog{
		{CampaignID: 1, StepID: 1, ContactID: 1, Attempt: 1, Channel: models.ChannelEmail, Status: models.DispatchSent},
		{CampaignID: 1, StepID: 1, ContactID: 2, Attempt: 1, Channel: models.ChannelEmail, Status: models.DispatchFailed},
		{CampaignID: 1, StepID: 2, ContactID: 1, Attempt: 1, Channel: models.ChannelWhatsApp, Status: models.DispatchSent, ProviderMessageID: &msgID},
	}
	for i := range logs {
		if err := store.Logs.Create(ctx, &logs[i]); err != nil {
			t.Fatalf("create log: %v", err)
		}
	}

	found, err := store.Logs.FindByProviderMessageID(ctx, msgID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	now := time.Now()
	if err := store.Logs.UpdateStatus(ctx, found.ID, models.DispatchReplied, "", &now); err != nil {
		t.Fatalf("update: %v", err)
	}

	engaged, err := store.Logs.HasStatus(ctx, 1, 1, models.DispatchReplied, models.DispatchClicked)
	if err != nil || !engaged {
		t.Fatalf("contact 1 should be engaged: %v %v", engaged, err)
	}
	engaged, _ = store.Logs.HasStatus(ctx, 1, 2, models.DispatchReplied, models.DispatchClicked)
	if engaged {
		t.Fatal("contact 2 should not be engaged")
	}

	counts, err := store.Logs.ChannelCounts(ctx, 1)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[models.ChannelEmail][models.DispatchSent] != 1 || counts[models.ChannelEmail][models.DispatchFailed] != 1 {
		t.Fatalf("email counts %v", counts[models.ChannelEmail])
	}
	if counts[models.ChannelWhatsApp][models.DispatchReplied] != 1 {
		t.Fatalf("whatsapp counts %v", counts[models.ChannelWhatsApp])
	}
}

func TestConsumeQuota(t *testing.T) {
	store := NewStore(dbtest.Open(t))
	ctx := context.Background()
	p := &models.ProviderConfig{Name: "meta", Channel: models.ChannelWhatsApp, ProviderType: "meta", DailyLimit: 2, MonthlyLimit: 3, IsActive: true}
	if err := store.Providers.Create(ctx, p); err != nil {
		t.Fatalf("create provider: %v", err)
	}

	steps := []struct {
		day, month string
		want       bool
	}{
		{"2024-05-01", "2024-05", true},
		{"2024-05-01", "2024-05", true},
		{"2024-05-01", "2024-05", false}, // daily cap
		{"2024-05-02", "2024-05", true},  // daily reset
		{"2024-05-02", "2024-05", false}, // monthly cap
		{"2024-06-01", "2024-06", true},  // both reset
	}
	for i, s := range steps {
		got, err := store.Providers.ConsumeQuota(ctx, p.ID, s.day, s.month)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got != s.want {
			t.Fatalf("step %d (%s): got %v want %v", i, s.day, got, s.want)
		}
	}

	got, _ := store.Providers.Get(ctx, p.ID, false)
	if got.SentToday != 1 || got.SentThisMonth != 1 || got.LastResetMonthly != "2024-06" {
		t.Fatalf("counters after reset: %+v", got)
	}
}

func TestUnlimitedQuota(t *testing.T) {
	store := NewStore(dbtest.Open(t))
	ctx := context.Background()
	p := &models.ProviderConfig{Name: "smtp", Channel: models.ChannelEmail, ProviderType: "smtp", IsActive: true}
	store.Providers.Create(ctx, p)
	for i := 0; i < 5; i++ {
		if ok, err := store.Providers.ConsumeQuota(ctx, p.ID, "2024-05-01", "2024-05"); err != nil || !ok {
			t.Fatalf("send %d rejected: %v %v", i, ok, err)
		}
	}
}

func TestSetDefaultIsExclusive(t *testing.T) {
	store := NewStore(dbtest.Open(t))
	ctx := context.Background()
	a := &models.ProviderConfig{Name: "a", Channel: models.ChannelSMS, ProviderType: "twilio", IsActive: true, IsDefault: true}
	b := &models.ProviderConfig{Name: "b", Channel: models.ChannelSMS, ProviderType: "twilio", IsActive: true}
	store.Providers.Create(ctx, a)
	store.Providers.Create(ctx, b)

	if err := store.Providers.SetDefault(ctx, b.ID); err != nil {
		t.Fatalf("set default: %v", err)
	}
	defaults, err := store.Providers.Defaults(ctx, models.ChannelSMS)
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if len(defaults) != 1 || defaults[0].ID != b.ID {
		t.Fatalf("expected only %d as default, got %+v", b.ID, defaults)
	}
}

func TestSuppression(t *testing.T) {
	store := NewStore(dbtest.Open(t))
	ctx := context.Background()
	if err := store.Suppression.Add(ctx, "+15550001", "opt-out"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.Suppression.Add(ctx, "+15550001", "again"); err != nil {
		t.Fatalf("duplicate add should be a no-op: %v", err)
	}
	if ok, _ := store.Suppression.IsAllowed(ctx, "+15550001"); ok {
		t.Fatal("suppressed address allowed")
	}
	if ok, _ := store.Suppression.IsAllowed(ctx, "+15550002"); !ok {
		t.Fatal("clean address rejected")
	}
}
