package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"campaign-dispatch/internal/apperrors"
	wire "campaign-dispatch/pkg/models"
)

// Message bodies of the WhatsApp Cloud API, spoken by Meta directly and by
// BSPs that proxy it (360dialog).

type cloudMessage struct {
	MessagingProduct string         `json:"messaging_product"`
	RecipientType    string         `json:"recipient_type,omitempty"`
	To               string         `json:"to"`
	Type             string         `json:"type"`
	Text             *cloudText     `json:"text,omitempty"`
	Template         *cloudTemplate `json:"template,omitempty"`
}

type cloudText struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

type cloudTemplate struct {
	Name       string           `json:"name"`
	Language   cloudLanguage    `json:"language"`
	Components []cloudComponent `json:"components,omitempty"`
}

type cloudLanguage struct {
	Code string `json:"code"`
}

type cloudComponent struct {
	Type       string           `json:"type"`
	Parameters []cloudParameter `json:"parameters"`
}

type cloudParameter struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type cloudSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func textMessage(to, body string) cloudMessage {
	return cloudMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &cloudText{Body: body},
	}
}

func templateMessage(to string, ref TemplateRef, params []string) cloudMessage {
	lang := ref.Language
	if lang == "" {
		lang = "en"
	}
	tpl := &cloudTemplate{Name: ref.Name, Language: cloudLanguage{Code: lang}}
	if len(params) > 0 {
		body := cloudComponent{Type: "body"}
		for _, p := range params {
			body.Parameters = append(body.Parameters, cloudParameter{Type: "text", Text: p})
		}
		tpl.Components = []cloudComponent{body}
	}
	return cloudMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "template",
		Template:         tpl,
	}
}

func sendCloudMessage(ctx context.Context, c *apiClient, url string, msg cloudMessage) (SendResult, error) {
	_, body, err := c.postJSON(ctx, url, msg)
	if err != nil {
		return SendResult{}, err
	}
	var out cloudSendResponse
	if err := decodeJSON(c.provider, body, &out); err != nil {
		return SendResult{}, err
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return SendResult{}, &apperrors.TransportError{Provider: c.provider, Err: errors.New("response carried no message id")}
	}
	return SendResult{ProviderMessageID: out.Messages[0].ID}, nil
}

// parseCloudWebhook maps statuses[] and quoted inbound messages[] of a Cloud
// API notification to events.
func parseCloudWebhook(body []byte) ([]Event, error) {
	var payload wire.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}

	var events []Event
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, st := range change.Value.Statuses {
				ev := Event{ProviderMessageID: st.ID, OccurredAt: unixTime(st.Timestamp)}
				switch st.Status {
				case "delivered":
					ev.Type = EventDelivered
				case "read":
					ev.Type = EventOpened
				case "failed":
					ev.Type = EventFailed
					ev.Reason = st.FailureReason()
				default:
					continue
				}
				events = append(events, ev)
			}
			for _, msg := range change.Value.Messages {
				if msg.Context == nil || msg.Context.ID == "" {
					continue
				}
				events = append(events, Event{
					ProviderMessageID: msg.Context.ID,
					Type:              EventReplied,
					OccurredAt:        unixTime(msg.Timestamp),
				})
			}
		}
	}
	return events, nil
}
