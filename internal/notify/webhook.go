package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout bounds a single webhook request.
const DefaultTimeout = 10 * time.Second

// Webhook posts maker-style JSON ({"value1": message}) to a configured URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook validates rawURL and returns a webhook sink.
// The URL usually embeds a secret key and must come from configuration.
func NewWebhook(rawURL string, timeout time.Duration) (*Webhook, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("notify: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("notify: unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("notify: url has no host")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Webhook{
		url:    u.String(),
		client: &http.Client{Timeout: timeout},
	}, nil
}

type webhookPayload struct {
	Value1 string `json:"value1"`
}

// Send implements Sink.Send.
func (w *Webhook) Send(ctx context.Context, message string) error {
	body, err := json.Marshal(webhookPayload{Value1: message})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		// Do's error includes the URL, which may carry a key.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrSend, resp.StatusCode)
	}
	return nil
}
