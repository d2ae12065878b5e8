package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"campaign-dispatch/internal/apperrors"
	"campaign-dispatch/internal/models"
)

const sendGridURL = "https://api.sendgrid.com"

type SendGrid struct {
	creds   SendGridCredentials
	baseURL string
	api     *apiClient
}

func newSendGrid(creds SendGridCredentials, opts Options) *SendGrid {
	base := sendGridURL
	if opts.BaseURL != "" {
		base = strings.TrimRight(opts.BaseURL, "/")
	}
	return &SendGrid{
		creds:   creds,
		baseURL: base,
		api: &apiClient{
			provider: "sendgrid",
			http:     opts.HTTPClient,
			auth: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+creds.APIKey)
			},
		},
	}
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgPersonalization struct {
	To                  []sgAddress       `json:"to"`
	DynamicTemplateData map[string]string `json:"dynamic_template_data,omitempty"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgMail struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	Subject          string              `json:"subject,omitempty"`
	Content          []sgContent         `json:"content,omitempty"`
	TemplateID       string              `json:"template_id,omitempty"`
}

func (s *SendGrid) SendText(ctx context.Context, to string, content Content) (SendResult, error) {
	contentType := "text/plain"
	if strings.Contains(content.Body, "</") {
		contentType = "text/html"
	}
	return s.send(ctx, sgMail{
		Personalizations: []sgPersonalization{{To: []sgAddress{{Email: to}}}},
		From:             sgAddress{Email: s.creds.FromEmail, Name: s.creds.FromName},
		Subject:          content.Subject,
		Content:          []sgContent{{Type: contentType, Value: content.Body}},
	})
}

// SendTemplate sends a dynamic template; params are exposed to it as "1", "2", ...
func (s *SendGrid) SendTemplate(ctx context.Context, to string, ref TemplateRef, params []string) (SendResult, error) {
	data := make(map[string]string, len(params))
	for i, p := range params {
		data[strconv.Itoa(i+1)] = p
	}
	return s.send(ctx, sgMail{
		Personalizations: []sgPersonalization{{To: []sgAddress{{Email: to}}, DynamicTemplateData: data}},
		From:             sgAddress{Email: s.creds.FromEmail, Name: s.creds.FromName},
		TemplateID:       ref.Name,
	})
}

func (s *SendGrid) send(ctx context.Context, mail sgMail) (SendResult, error) {
	resp, _, err := s.api.postJSON(ctx, s.baseURL+"/v3/mail/send", mail)
	if err != nil {
		return SendResult{}, err
	}
	id := resp.Header.Get("X-Message-Id")
	if id == "" {
		return SendResult{}, &apperrors.TransportError{Provider: s.api.provider, Err: errors.New("response carried no X-Message-Id")}
	}
	return SendResult{ProviderMessageID: id}, nil
}

func (s *SendGrid) HealthCheck(ctx context.Context) HealthReport {
	_, body, err := s.api.get(ctx, s.baseURL+"/v3/scopes")
	if err != nil {
		return unhealthy(err)
	}
	var out struct {
		Scopes []string `json:"scopes"`
	}
	if err := decodeJSON(s.api.provider, body, &out); err != nil {
		return unhealthy(err)
	}
	if !slices.Contains(out.Scopes, "mail.send") {
		return HealthReport{Status: models.HealthWarning, Details: "api key lacks the mail.send scope"}
	}
	return HealthReport{Status: models.HealthHealthy, Details: fmt.Sprintf("%d scopes granted", len(out.Scopes))}
}

type sgEvent struct {
	Email        string `json:"email"`
	Event        string `json:"event"`
	SGMessageID  string `json:"sg_message_id"`
	Reason       string `json:"reason"`
	Response     string `json:"response"`
	Timestamp    int64  `json:"timestamp"`
	BounceType   string `json:"type"`
	BounceStatus string `json:"status"`
}

// HandleWebhook parses the Event Webhook array. sg_message_id is the
// X-Message-Id followed by a routing suffix after the first dot.
func (s *SendGrid) HandleWebhook(raw RawEvent) ([]Event, error) {
	var batch []sgEvent
	if err := json.Unmarshal(raw.Body, &batch); err != nil {
		return nil, fmt.Errorf("decode event batch: %w", err)
	}

	var events []Event
	for _, e := range batch {
		id, _, _ := strings.Cut(e.SGMessageID, ".")
		if id == "" {
			continue
		}
		ev := Event{ProviderMessageID: id}
		if e.Timestamp > 0 {
			ev.OccurredAt = time.Unix(e.Timestamp, 0).UTC()
		}
		switch e.Event {
		case "delivered":
			ev.Type = EventDelivered
		case "open":
			ev.Type = EventOpened
		case "click":
			ev.Type = EventClicked
		case "bounce", "dropped":
			ev.Type = EventBounced
			ev.Reason = e.Reason
			if ev.Reason == "" {
				ev.Reason = e.Event
			}
		default:
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
