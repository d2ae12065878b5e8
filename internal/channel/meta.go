package channel

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"campaign-dispatch/internal/models"
)

const metaGraphURL = "https://graph.facebook.com/v19.0"

// Meta sends WhatsApp messages through the Graph API of a Cloud API number.
type Meta struct {
	creds   MetaCredentials
	baseURL string
	api     *apiClient
}

func newMeta(creds MetaCredentials, opts Options) *Meta {
	base := metaGraphURL
	if opts.BaseURL != "" {
		base = strings.TrimRight(opts.BaseURL, "/")
	}
	return &Meta{
		creds:   creds,
		baseURL: base,
		api: &apiClient{
			provider: "meta",
			http:     opts.HTTPClient,
			auth: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+creds.AccessToken)
			},
		},
	}
}

func (m *Meta) messagesURL() string {
	return fmt.Sprintf("%s/%s/messages", m.baseURL, m.creds.PhoneNumberID)
}

func (m *Meta) SendText(ctx context.Context, to string, content Content) (SendResult, error) {
	return sendCloudMessage(ctx, m.api, m.messagesURL(), textMessage(normalizePhone(to), content.Body))
}

func (m *Meta) SendTemplate(ctx context.Context, to string, ref TemplateRef, params []string) (SendResult, error) {
	return sendCloudMessage(ctx, m.api, m.messagesURL(), templateMessage(normalizePhone(to), ref, params))
}

// HealthCheck reads the phone number's quality rating. A yellow or red rating
// still sends but risks throttling, so it is reported as a warning.
func (m *Meta) HealthCheck(ctx context.Context) HealthReport {
	url := fmt.Sprintf("%s/%s?fields=display_phone_number,quality_rating", m.baseURL, m.creds.PhoneNumberID)
	_, body, err := m.api.get(ctx, url)
	if err != nil {
		return unhealthy(err)
	}
	var out struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		QualityRating      string `json:"quality_rating"`
	}
	if err := decodeJSON(m.api.provider, body, &out); err != nil {
		return unhealthy(err)
	}
	details := fmt.Sprintf("number %s quality %s", out.DisplayPhoneNumber, out.QualityRating)
	switch strings.ToUpper(out.QualityRating) {
	case "YELLOW", "RED":
		return HealthReport{Status: models.HealthWarning, Details: details}
	}
	return HealthReport{Status: models.HealthHealthy, Details: details}
}

func (m *Meta) HandleWebhook(raw RawEvent) ([]Event, error) {
	return parseCloudWebhook(raw.Body)
}

func (m *Meta) VerifyToken() string {
	return m.creds.VerifyToken
}

// normalizePhone strips formatting; Cloud API numbers are digits with country code.
func normalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
}
