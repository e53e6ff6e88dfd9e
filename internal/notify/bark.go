package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// BarkNotifier pushes notifications to a Bark device URL
// (https://api.day.app/<key>).
type BarkNotifier struct {
	baseURL string
	group   string
	client  *http.Client
}

// NewBarkNotifier creates a new Bark notifier.
func NewBarkNotifier(baseURL string) (*BarkNotifier, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("bark url is empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("bark url: %w", err)
	}
	return &BarkNotifier{
		baseURL: baseURL,
		group:   "taskscheduler",
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Send pushes one message. Failures are time-sensitive so they break
// through focus modes on the device.
func (b *BarkNotifier) Send(ctx context.Context, title, body string) error {
	query := url.Values{
		"title": {title},
		"body":  {body},
		"group": {b.group},
		"level": {"timeSensitive"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("bark request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("bark push: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("bark push: status %d", resp.StatusCode)
	}
	return nil
}
