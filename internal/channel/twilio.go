package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"campaign-dispatch/internal/models"
)

const twilioURL = "https://api.twilio.com"

// Twilio sends SMS, or WhatsApp when built for that channel, through the
// Programmable Messaging API.
type Twilio struct {
	creds    TwilioCredentials
	baseURL  string
	whatsapp bool
	api      *apiClient
}

func newTwilio(creds TwilioCredentials, opts Options) *Twilio {
	base := twilioURL
	if opts.BaseURL != "" {
		base = strings.TrimRight(opts.BaseURL, "/")
	}
	return &Twilio{
		creds:    creds,
		baseURL:  base,
		whatsapp: opts.Channel == models.ChannelWhatsApp,
		api: &apiClient{
			provider: "twilio",
			http:     opts.HTTPClient,
			auth: func(r *http.Request) {
				r.SetBasicAuth(creds.AccountSID, creds.AuthToken)
			},
		},
	}
}

func (t *Twilio) address(a string) string {
	if t.whatsapp && !strings.HasPrefix(a, "whatsapp:") {
		return "whatsapp:" + a
	}
	return a
}

func (t *Twilio) baseForm(to string) url.Values {
	form := url.Values{}
	form.Set("To", t.address(to))
	if t.creds.MessagingServiceSID != "" {
		form.Set("MessagingServiceSid", t.creds.MessagingServiceSID)
	} else {
		form.Set("From", t.address(t.creds.FromNumber))
	}
	if t.creds.StatusCallbackURL != "" {
		form.Set("StatusCallback", t.creds.StatusCallbackURL)
	}
	return form
}

func (t *Twilio) SendText(ctx context.Context, to string, content Content) (SendResult, error) {
	form := t.baseForm(to)
	form.Set("Body", content.Body)
	return t.send(ctx, form)
}

// SendTemplate sends a Content API template; ref.Name is the ContentSid and
// params fill the numbered variables {{1}}, {{2}}, ...
func (t *Twilio) SendTemplate(ctx context.Context, to string, ref TemplateRef, params []string) (SendResult, error) {
	form := t.baseForm(to)
	form.Set("ContentSid", ref.Name)
	if len(params) > 0 {
		vars := make(map[string]string, len(params))
		for i, p := range params {
			vars[strconv.Itoa(i+1)] = p
		}
		encoded, err := json.Marshal(vars)
		if err != nil {
			return SendResult{}, err
		}
		form.Set("ContentVariables", string(encoded))
	}
	return t.send(ctx, form)
}

func (t *Twilio) send(ctx context.Context, form url.Values) (SendResult, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, t.creds.AccountSID)
	_, body, err := t.api.postForm(ctx, endpoint, form)
	if err != nil {
		return SendResult{}, err
	}
	var out struct {
		SID string `json:"sid"`
	}
	if err := decodeJSON(t.api.provider, body, &out); err != nil {
		return SendResult{}, err
	}
	return SendResult{ProviderMessageID: out.SID}, nil
}

func (t *Twilio) HealthCheck(ctx context.Context) HealthReport {
	_, body, err := t.api.get(ctx, fmt.Sprintf("%s/2010-04-01/Accounts/%s.json", t.baseURL, t.creds.AccountSID))
	if err != nil {
		return unhealthy(err)
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(t.api.provider, body, &out); err != nil {
		return unhealthy(err)
	}
	switch out.Status {
	case "active":
		return HealthReport{Status: models.HealthHealthy, Details: "account active"}
	case "suspended":
		return HealthReport{Status: models.HealthWarning, Details: "account suspended"}
	}
	return HealthReport{Status: models.HealthUnhealthy, Details: "account " + out.Status}
}

// HandleWebhook parses a form encoded status callback.
func (t *Twilio) HandleWebhook(raw RawEvent) ([]Event, error) {
	form, err := url.ParseQuery(string(raw.Body))
	if err != nil {
		return nil, fmt.Errorf("decode status callback: %w", err)
	}
	sid := form.Get("MessageSid")
	if sid == "" {
		sid = form.Get("SmsSid")
	}
	if sid == "" {
		return nil, nil
	}

	status := form.Get("MessageStatus")
	if status == "" {
		status = form.Get("SmsStatus")
	}
	ev := Event{ProviderMessageID: sid}
	switch status {
	case "delivered":
		ev.Type = EventDelivered
	case "read":
		ev.Type = EventOpened
	case "failed", "undelivered":
		ev.Type = EventFailed
		ev.Reason = form.Get("ErrorMessage")
		if ev.Reason == "" && form.Get("ErrorCode") != "" {
			ev.Reason = "error code " + form.Get("ErrorCode")
		}
		if ev.Reason == "" {
			ev.Reason = status
		}
	default:
		return nil, nil
	}
	return []Event{ev}, nil
}
