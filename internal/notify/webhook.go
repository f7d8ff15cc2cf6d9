package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// WebhookOption configures a WebhookAdapter.
type WebhookOption func(*WebhookAdapter)

// CheckHeader carries the check id so receivers can route without
// decoding the body.
const CheckHeader = "X-Data-Dash-Check"

// StatusError is returned by WebhookAdapter.Send when the receiver answers
// with a non-2xx status.
type StatusError struct {
	Adapter string
	Code    int
	// Body is at most the first 512 bytes of the response.
	Body string
	// RetryAfter is the receiver's Retry-After in seconds, if it sent one.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook %s: non-2xx response: %d: %s", e.Adapter, e.Code, e.Body)
}

// Temporary reports whether the receiver may accept the same request
// later. Other 4xx answers mean the request itself is wrong.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests
}

// WebhookAdapter delivers notifications via HTTP POST to a webhook URL.
type WebhookAdapter struct {
	name   string
	url    string
	token  string
	client *http.Client
}

// Compile-time interface check.
var _ Adapter = (*WebhookAdapter)(nil)

// NewWebhookAdapter creates a new webhook adapter.
func NewWebhookAdapter(name, url string, opts ...WebhookOption) *WebhookAdapter {
	w := &WebhookAdapter{
		name: name,
		url:  url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WithHTTPClient sets the HTTP client used by the webhook adapter.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *WebhookAdapter) {
		w.client = c
	}
}

// WithBearerToken sends token in the Authorization header.
func WithBearerToken(token string) WebhookOption {
	return func(w *WebhookAdapter) {
		w.token = token
	}
}

// Name returns the adapter name.
func (w *WebhookAdapter) Name() string { return w.name }

// Send POSTs the notification as JSON to the webhook URL.
func (w *WebhookAdapter) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("webhook %s: marshal: %w", w.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook %s: create request: %w", w.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(CheckHeader, n.CheckID)
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: send: %w", w.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := &StatusError{Adapter: w.name, Code: resp.StatusCode, Body: string(bytes.TrimSpace(excerpt))}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			statusErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return statusErr
	}

	return nil
}
