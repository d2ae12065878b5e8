package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"campaign-dispatch/internal/apperrors"
	"campaign-dispatch/internal/models"
)

const gupshupURL = "https://api.gupshup.io"

// Gupshup sends WhatsApp messages through the Gupshup self-serve API.
type Gupshup struct {
	creds   GupshupCredentials
	baseURL string
	api     *apiClient
}

func newGupshup(creds GupshupCredentials, opts Options) *Gupshup {
	base := gupshupURL
	if opts.BaseURL != "" {
		base = strings.TrimRight(opts.BaseURL, "/")
	}
	return &Gupshup{
		creds:   creds,
		baseURL: base,
		api: &apiClient{
			provider: "gupshup",
			http:     opts.HTTPClient,
			auth: func(r *http.Request) {
				r.Header.Set("apikey", creds.APIKey)
			},
		},
	}
}

func (g *Gupshup) form(to string) url.Values {
	form := url.Values{}
	form.Set("channel", "whatsapp")
	form.Set("source", g.creds.SourceNumber)
	form.Set("destination", normalizePhone(to))
	form.Set("src.name", g.creds.AppName)
	return form
}

func (g *Gupshup) SendText(ctx context.Context, to string, content Content) (SendResult, error) {
	msg, err := json.Marshal(map[string]string{"type": "text", "text": content.Body})
	if err != nil {
		return SendResult{}, err
	}
	form := g.form(to)
	form.Set("message", string(msg))
	return g.send(ctx, g.baseURL+"/wa/api/v1/msg", form)
}

func (g *Gupshup) SendTemplate(ctx context.Context, to string, ref TemplateRef, params []string) (SendResult, error) {
	if params == nil {
		params = []string{}
	}
	tpl, err := json.Marshal(map[string]any{"id": ref.Name, "params": params})
	if err != nil {
		return SendResult{}, err
	}
	form := g.form(to)
	form.Set("template", string(tpl))
	return g.send(ctx, g.baseURL+"/wa/api/v1/template/msg", form)
}

func (g *Gupshup) send(ctx context.Context, endpoint string, form url.Values) (SendResult, error) {
	_, body, err := g.api.postForm(ctx, endpoint, form)
	if err != nil {
		return SendResult{}, err
	}
	var out struct {
		Status    string `json:"status"`
		MessageID string `json:"messageId"`
		Message   string `json:"message"`
	}
	if err := decodeJSON(g.api.provider, body, &out); err != nil {
		return SendResult{}, err
	}
	if out.Status != "submitted" || out.MessageID == "" {
		return SendResult{}, &apperrors.TransportError{Provider: g.api.provider, Err: errors.New(strings.TrimSpace(out.Status + " " + out.Message))}
	}
	return SendResult{ProviderMessageID: out.MessageID}, nil
}

// HealthCheck reads the wallet balance; an empty wallet rejects every send.
func (g *Gupshup) HealthCheck(ctx context.Context) HealthReport {
	_, body, err := g.api.get(ctx, g.baseURL+"/sm/api/v2/wallet/balance")
	if err != nil {
		return unhealthy(err)
	}
	var out struct {
		Status     string `json:"status"`
		WalletResp struct {
			CurrentBalance float64 `json:"currentBalance"`
			Currency       string  `json:"currency"`
		} `json:"walletResponse"`
	}
	if err := decodeJSON(g.api.provider, body, &out); err != nil {
		return unhealthy(err)
	}
	details := fmt.Sprintf("balance %.2f %s", out.WalletResp.CurrentBalance, out.WalletResp.Currency)
	if out.WalletResp.CurrentBalance <= 0 {
		return HealthReport{Status: models.HealthWarning, Details: details}
	}
	return HealthReport{Status: models.HealthHealthy, Details: details}
}

type gupshupCallback struct {
	App       string `json:"app"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Payload   struct {
		ID      string `json:"id"`
		GsID    string `json:"gsId"`
		Type    string `json:"type"`
		Payload struct {
			Code   int    `json:"code"`
			Reason string `json:"reason"`
		} `json:"payload"`
		Context *struct {
			ID   string `json:"id"`
			GsID string `json:"gsId"`
		} `json:"context"`
	} `json:"payload"`
}

// HandleWebhook understands message-event callbacks and inbound messages
// that quote one of ours. Send responses carry the gsId, so it wins over id.
func (g *Gupshup) HandleWebhook(raw RawEvent) ([]Event, error) {
	var cb gupshupCallback
	if err := json.Unmarshal(raw.Body, &cb); err != nil {
		return nil, fmt.Errorf("decode callback: %w", err)
	}
	var at time.Time
	if cb.Timestamp > 0 {
		at = time.UnixMilli(cb.Timestamp).UTC()
	}

	switch cb.Type {
	case "message-event":
		id := cb.Payload.GsID
		if id == "" {
			id = cb.Payload.ID
		}
		ev := Event{ProviderMessageID: id, OccurredAt: at}
		switch cb.Payload.Type {
		case "delivered":
			ev.Type = EventDelivered
		case "read":
			ev.Type = EventOpened
		case "failed":
			ev.Type = EventFailed
			ev.Reason = cb.Payload.Payload.Reason
			if ev.Reason == "" {
				ev.Reason = fmt.Sprintf("failed with code %d", cb.Payload.Payload.Code)
			}
		default:
			return nil, nil
		}
		return []Event{ev}, nil
	case "message":
		if cb.Payload.Context == nil {
			return nil, nil
		}
		id := cb.Payload.Context.GsID
		if id == "" {
			id = cb.Payload.Context.ID
		}
		if id == "" {
			return nil, nil
		}
		return []Event{{ProviderMessageID: id, Type: EventReplied, OccurredAt: at}}, nil
	}
	return nil, nil
}
