package store

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/internal/httpclient"
	"github.com/teranos/cadence/pulse/job"
)

func TestParseWebhookTarget(t *testing.T) {
	tgt, err := parseWebhookTarget(" https://hooks.example.com/a ")
	require.NoError(t, err)
	assert.Equal(t, webhookTarget{URL: "https://hooks.example.com/a", Method: http.MethodPost}, tgt)

	tgt, err = parseWebhookTarget(`{"url":"https://hooks.example.com/b","method":"put","body":"{}"}`)
	require.NoError(t, err)
	assert.Equal(t, webhookTarget{URL: "https://hooks.example.com/b", Method: http.MethodPut, Body: "{}"}, tgt)

	for _, bad := range []string{"", `{"method":"GET"}`, `{"url":`} {
		_, err = parseWebhookTarget(bad)
		assert.True(t, errors.IsConfiguration(err), "payload %q", bad)
	}
}

func TestWebhookHandler(t *testing.T) {
	var got webhookEvent
	var header string
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Cadence-Job")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	h := NewWebhookHandler(httpclient.New(httpclient.Options{AllowPrivate: true}))
	inv := Invocation{Key: job.Key{ID: "a", Tenant: "acme"}, Name: "ping", Payload: srv.URL, ScheduledFor: t0}

	out, err := h(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, "HTTP 200", out)
	assert.Equal(t, "a", got.JobID)
	assert.Equal(t, "acme", got.Tenant)
	assert.Equal(t, "ping", got.Name)
	assert.True(t, t0.Equal(got.ScheduledFor))
	assert.Equal(t, inv.Key.String(), header)

	status = http.StatusBadGateway
	out, err = h(context.Background(), inv)
	require.Error(t, err)
	assert.Equal(t, "HTTP 502", out)
	assert.False(t, errors.IsConfiguration(err))
}

func TestWebhookHandler_PrivateDestinationIsConfigurationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	h := NewWebhookHandler(httpclient.New(httpclient.Options{}))
	_, err := h(context.Background(), Invocation{Key: job.Key{ID: "a", Tenant: "acme"}, Payload: srv.URL})
	assert.True(t, errors.IsConfiguration(err), "got %v", err)
}
