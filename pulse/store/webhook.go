package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/internal/httpclient"
)

// webhookTarget is the JSON payload form of a webhook job. A payload that
// is not a JSON object is taken as the URL alone.
type webhookTarget struct {
	URL    string `json:"url"`
	Method string `json:"method,omitempty"`
	Body   string `json:"body,omitempty"`
}

// webhookEvent is the request body sent for each execution.
type webhookEvent struct {
	JobID        string    `json:"job_id"`
	Tenant       string    `json:"tenant"`
	Name         string    `json:"name,omitempty"`
	ScheduledFor time.Time `json:"scheduled_for"`
	Payload      string    `json:"payload,omitempty"`
}

func parseWebhookTarget(payload string) (webhookTarget, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return webhookTarget{}, errors.Configurationf("webhook payload is empty")
	}
	if !strings.HasPrefix(payload, "{") {
		return webhookTarget{URL: payload, Method: http.MethodPost}, nil
	}
	var t webhookTarget
	if err := json.Unmarshal([]byte(payload), &t); err != nil {
		return webhookTarget{}, errors.Mark(errors.Wrap(err, "parse webhook payload"), errors.ErrInvalidConfiguration)
	}
	if t.URL == "" {
		return webhookTarget{}, errors.Configurationf("webhook payload has no url")
	}
	if t.Method == "" {
		t.Method = http.MethodPost
	}
	t.Method = strings.ToUpper(t.Method)
	return t, nil
}

// NewWebhookHandler returns a handler that sends one HTTP request per
// execution through client. Any non-2xx response fails the execution.
func NewWebhookHandler(client *httpclient.Client) Handler {
	return func(ctx context.Context, inv Invocation) (string, error) {
		target, err := parseWebhookTarget(inv.Payload)
		if err != nil {
			return "", err
		}

		body := target.Body
		if body == "" {
			raw, err := json.Marshal(webhookEvent{
				JobID:        inv.Key.ID,
				Tenant:       inv.Key.Tenant,
				Name:         inv.Name,
				ScheduledFor: inv.ScheduledFor.UTC(),
			})
			if err != nil {
				return "", errors.Wrap(err, "encode webhook event")
			}
			body = string(raw)
		}

		req, err := http.NewRequestWithContext(ctx, target.Method, target.URL, strings.NewReader(body))
		if err != nil {
			return "", errors.Mark(errors.Wrapf(err, "webhook request for %s", inv.Key), errors.ErrInvalidConfiguration)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Cadence-Job", inv.Key.String())

		resp, err := client.Do(req)
		if err != nil {
			if errors.Is(err, httpclient.ErrBlocked) {
				return "", errors.Mark(err, errors.ErrInvalidConfiguration)
			}
			return "", errors.Wrapf(err, "webhook %s", target.URL)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		result := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return result, errors.Newf("webhook %s returned %s", target.URL, resp.Status)
		}
		return result, nil
	}
}
