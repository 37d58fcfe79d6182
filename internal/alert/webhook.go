package alert

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"
)

// WebhookChannel posts an alert payload to a single HTTP endpoint, the
// shape shared by Discord and Telegram-style webhook integrations.
type WebhookChannel struct {
	name       string
	url        string
	headers    map[string]string
	httpClient *http.Client
}

// NewWebhookChannel builds a channel named name, posting to url with the
// given static headers.
func NewWebhookChannel(name, url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		name:       name,
		url:        url,
		headers:    headers,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookChannel) Name() string { return w.name }

// Send issues one POST attempt and reports status plus any server-specified
// retry_after, read from a Retry-After header in seconds.
func (w *WebhookChannel) Send(ctx context.Context, payload []byte) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	var retryAfter time.Duration
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			retryAfter = time.Duration(secs) * time.Second
		}
	}

	return resp.StatusCode, retryAfter, nil
}
