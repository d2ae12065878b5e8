package templates

import (
	"context"
	"testing"

	"campaign-dispatch/internal/database/dbtest"
	"campaign-dispatch/internal/models"
	"campaign-dispatch/internal/repository"
)

func TestSubstitute(t *testing.T) {
	vars := map[string]string{"name": "Ana", "policy_number": "POL-42"}
	cases := []struct {
		in, want string
	}{
		{"Hi {{name}}", "Hi Ana"},
		{"Policy {{ policy_number }} is due", "Policy POL-42 is due"},
		{"Plain text", "Plain text"},
		{"Premium {{premium}}", "Premium N/A"},
	}
	for _, c := range cases {
		if got := Substitute(c.in, vars); got != c.want {
			t.Errorf("Substitute(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestMissingNameFallsBack(t *testing.T) {
	tpl := &models.Template{
		Subject:              "Hello {{name}}",
		Body:                 "Dear {{name}}, your renewal is due.",
		ProviderTemplateName: "renewal_due",
		Params:               `["name","policy_number"]`,
	}
	msg := Render(tpl, map[string]string{"name": "   ", "policy_number": "P-1"})
	if msg.Subject != "Hello Valued Customer" || msg.Body != "Dear Valued Customer, your renewal is due." {
		t.Fatalf("unexpected render %+v", msg)
	}
	if len(msg.Params) != 2 || msg.Params[0] != FallbackName || msg.Params[1] != "P-1" {
		t.Fatalf("unexpected params %v", msg.Params)
	}
	for _, p := range msg.Params {
		if p == "" {
			t.Fatal("empty template parameter")
		}
	}
}

func TestRendererLoadsTemplate(t *testing.T) {
	db := dbtest.Open(t)
	tpl := models.Template{Name: "welcome", Channel: models.ChannelEmail, Subject: "Welcome {{name}}", Body: "Body"}
	if err := db.Create(&tpl).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	r := NewRenderer(repository.NewStore(db).Templates)
	msg, err := r.Render(context.Background(), tpl.ID, models.Contact{Name: "Bo"}.Variables())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if msg.Subject != "Welcome Bo" {
		t.Fatalf("subject %q", msg.Subject)
	}
}
