package notificationservice_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-fanout-service/internal/api"
	"github.com/tinywideclouds/go-fanout-service/internal/fanout"
	"github.com/tinywideclouds/go-fanout-service/notificationservice"
	"github.com/tinywideclouds/go-fanout-service/notificationservice/config"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const testOrigin = "http://localhost:4200"

type stubNotifier struct {
	calls atomic.Int32
}

func (s *stubNotifier) Send(_ context.Context, req dispatch.Request) (*fanout.Result, error) {
	s.calls.Add(1)
	if req.Recipient == "nobody@example.com" {
		return nil, fanout.ErrRecipientNotFound
	}
	return &fanout.Result{Sent: 2}, nil
}

func newTestServer(t *testing.T, cfg *config.Config, notifier api.Notifier) *httptest.Server {
	t.Helper()
	if cfg.CorsConfig.AllowedOrigins == nil {
		cfg.CorsConfig = middleware.CorsConfig{AllowedOrigins: []string{testOrigin}, Role: middleware.CorsRoleEditor}
	}
	svc, err := notificationservice.New(cfg, notifier, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	srv := httptest.NewServer(svc.Mux())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/api/send-notification", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", testOrigin)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestService_SendRoute(t *testing.T) {
	notifier := &stubNotifier{}
	srv := newTestServer(t, &config.Config{ListenAddr: ":0"}, notifier)

	resp := postJSON(t, srv.URL, `{"title":"Hi","body":"Hello","recipient":"everyone"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body api.SendResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	require.NotNil(t, body.Details)
	assert.Equal(t, 2, body.Details.Sent)

	resp = postJSON(t, srv.URL, `{"title":"Hi","body":"Hello","recipient":"nobody@example.com"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(2), notifier.calls.Load())
}

func TestService_RateLimit(t *testing.T) {
	notifier := &stubNotifier{}
	srv := newTestServer(t, &config.Config{
		ListenAddr: ":0",
		RateLimit:  config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1},
	}, notifier)

	first := postJSON(t, srv.URL, `{"title":"Hi","body":"Hello","recipient":"everyone"}`)
	second := postJSON(t, srv.URL, `{"title":"Hi","body":"Hello","recipient":"everyone"}`)

	assert.Equal(t, http.StatusOK, first.StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, int32(1), notifier.calls.Load())
}
