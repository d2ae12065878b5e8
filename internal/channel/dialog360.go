package channel

import (
	"context"
	"net/http"
	"strings"

	"campaign-dispatch/internal/models"
)

const dialog360URL = "https://waba-v2.360dialog.io"

// Dialog360 relays Cloud API messages through 360dialog, authenticated by
// the D360-API-KEY header.
type Dialog360 struct {
	creds   Dialog360Credentials
	baseURL string
	api     *apiClient
}

func newDialog360(creds Dialog360Credentials, opts Options) *Dialog360 {
	base := dialog360URL
	if opts.BaseURL != "" {
		base = strings.TrimRight(opts.BaseURL, "/")
	}
	return &Dialog360{
		creds:   creds,
		baseURL: base,
		api: &apiClient{
			provider: "dialog360",
			http:     opts.HTTPClient,
			auth: func(r *http.Request) {
				r.Header.Set("D360-API-KEY", creds.APIKey)
			},
		},
	}
}

func (d *Dialog360) SendText(ctx context.Context, to string, content Content) (SendResult, error) {
	return sendCloudMessage(ctx, d.api, d.baseURL+"/messages", textMessage(normalizePhone(to), content.Body))
}

func (d *Dialog360) SendTemplate(ctx context.Context, to string, ref TemplateRef, params []string) (SendResult, error) {
	return sendCloudMessage(ctx, d.api, d.baseURL+"/messages", templateMessage(normalizePhone(to), ref, params))
}

func (d *Dialog360) HealthCheck(ctx context.Context) HealthReport {
	_, body, err := d.api.get(ctx, d.baseURL+"/v1/configs/webhook")
	if err != nil {
		return unhealthy(err)
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(d.api.provider, body, &out); err != nil {
		return unhealthy(err)
	}
	if out.URL == "" {
		return HealthReport{Status: models.HealthWarning, Details: "no webhook url configured, delivery events will not arrive"}
	}
	return HealthReport{Status: models.HealthHealthy, Details: "webhook " + out.URL}
}

func (d *Dialog360) HandleWebhook(raw RawEvent) ([]Event, error) {
	return parseCloudWebhook(raw.Body)
}

func (d *Dialog360) VerifyToken() string {
	return d.creds.VerifyToken
}
