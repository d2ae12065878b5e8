package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"campaign-dispatch/internal/apperrors"
	"campaign-dispatch/internal/models"
)

// apiClient wraps the request plumbing shared by the HTTP based adapters.
type apiClient struct {
	provider string
	http     *http.Client
	auth     func(*http.Request)
}

func (c *apiClient) postJSON(ctx context.Context, url string, body any) (*http.Response, []byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *apiClient) postForm(ctx context.Context, endpoint string, form url.Values) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *apiClient) get(ctx context.Context, url string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	return c.do(req)
}

// do sends req and turns network failures and non-2xx answers into a
// *apperrors.TransportError carrying the provider's body verbatim.
func (c *apiClient) do(req *http.Request) (*http.Response, []byte, error) {
	if c.auth != nil {
		c.auth(req)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, &apperrors.TransportError{Provider: c.provider, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, &apperrors.TransportError{Provider: c.provider, Err: err}
	}
	if resp.StatusCode >= 300 {
		return resp, respBody, &apperrors.TransportError{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}
	return resp, respBody, nil
}

func decodeJSON(provider string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &apperrors.TransportError{Provider: provider, Err: err}
	}
	return nil
}

func unhealthy(err error) HealthReport {
	return HealthReport{Status: models.HealthUnhealthy, Details: err.Error()}
}
