// Package templates renders stored message templates against contact variables.
package templates

import (
	"context"
	"regexp"
	"strings"

	"campaign-dispatch/internal/models"
	"campaign-dispatch/internal/repository"
)

// FallbackName replaces a missing recipient name. Providers reject template
// calls with blank parameters, so nothing renders empty.
const FallbackName = "Valued Customer"

const fallbackValue = "N/A"

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

var nameKeys = map[string]bool{
	"name":          true,
	"first_name":    true,
	"customer_name": true,
	"full_name":     true,
}

// Message is a template resolved for one contact. ProviderTemplate is set
// when the step sends a provider approved template instead of free text.
type Message struct {
	Subject          string
	Body             string
	ProviderTemplate string
	Language         string
	Params           []string
}

type Renderer struct {
	Templates repository.TemplateRepository
}

func NewRenderer(templates repository.TemplateRepository) *Renderer {
	return &Renderer{Templates: templates}
}

func (r *Renderer) Render(ctx context.Context, templateID uint, vars map[string]string) (Message, error) {
	t, err := r.Templates.Get(ctx, templateID)
	if err != nil {
		return Message{}, err
	}
	return Render(t, vars), nil
}

// Render fills {{var}} placeholders in subject and body and resolves the
// provider template parameters in their declared order.
func Render(t *models.Template, vars map[string]string) Message {
	msg := Message{
		Subject:          Substitute(t.Subject, vars),
		Body:             Substitute(t.Body, vars),
		ProviderTemplate: t.ProviderTemplateName,
		Language:         t.Language,
	}
	for _, name := range t.ParamNames() {
		msg.Params = append(msg.Params, Value(name, vars))
	}
	return msg
}

func Substitute(text string, vars map[string]string) string {
	if text == "" {
		return ""
	}
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		return Value(key, vars)
	})
}

// Value looks key up in vars and never returns an empty string.
func Value(key string, vars map[string]string) string {
	if v := strings.TrimSpace(vars[key]); v != "" {
		return v
	}
	if nameKeys[key] {
		return FallbackName
	}
	return fallbackValue
}
