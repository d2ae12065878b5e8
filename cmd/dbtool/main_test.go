package main

import (
	"log/slog"
	"testing"

	"campaign-dispatch/internal/database/dbtest"
	"campaign-dispatch/internal/models"
)

func TestCopyTables(t *testing.T) {
	src := dbtest.Open(t)
	dst := dbtest.Open(t)

	aud := models.Audience{Name: "vip"}
	src.Create(&aud)
	src.Create(&models.Contact{AudienceID: aud.ID, Name: "Ravi", Phone: "+15550100"})
	tpl := models.Template{Name: "hello", Body: "Hi"}
	src.Create(&tpl)
	camp := models.Campaign{
		Name: "c", Type: models.CampaignPromotional, Status: models.CampaignDraft, AudienceID: aud.ID, EnableSMS: true,
		Steps: []models.SequenceStep{{StepOrder: 1, Channel: models.ChannelSMS, TemplateID: tpl.ID}},
	}
	src.Create(&camp)

	log := slog.New(slog.DiscardHandler)
	if err := copyTables(src, dst, log); err != nil {
		t.Fatal(err)
	}
	// Rows already present are left alone on a second run.
	if err := copyTables(src, dst, log); err != nil {
		t.Fatal(err)
	}

	var steps []models.SequenceStep
	dst.Find(&steps)
	if len(steps) != 1 || steps[0].CampaignID != camp.ID {
		t.Fatalf("steps = %+v", steps)
	}
	var contacts int64
	dst.Model(&models.Contact{}).Count(&contacts)
	if contacts != 1 {
		t.Fatalf("contacts = %d", contacts)
	}
	if err := syncSequences(dst, log); err != nil {
		t.Fatalf("sqlite sync should be a no-op: %v", err)
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	if err := run(nil, slog.New(slog.DiscardHandler), "drop-everything", nil); err == nil {
		t.Fatal("expected an error")
	}
}
