package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lookback-cloud/calsync"
	"lookback-cloud/config"
)

func (e *testEnv) notify(channelID, resourceID, state string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/calendar/webhook/notification", nil)
	if channelID != "" {
		req.Header.Set("X-Goog-Channel-ID", channelID)
	}
	if resourceID != "" {
		req.Header.Set("X-Goog-Resource-ID", resourceID)
	}
	if state != "" {
		req.Header.Set("X-Goog-Resource-State", state)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) queued(t *testing.T) int64 {
	t.Helper()
	n, err := e.srv.redis.XLen(context.Background(), calsync.RequestStream).Result()
	require.NoError(t, err)
	return n
}

func TestWebhookRegisterNotifyUnregister(t *testing.T) {
	env := newTestEnv(t, nil)
	env.connect(t, testEmail)
	token := env.session(t, testEmail)

	req := httptest.NewRequest(http.MethodPost, "/calendar/webhook/register", strings.NewReader(`{"calendar_id":"work"}`))
	req.Host = "attacker.example.net"
	req.Header.Set("X-Forwarded-Proto", "http")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var reg WebhookRegistrationResponse
	decode(t, rec, &reg)
	assert.Equal(t, "registered", reg.Status)
	assert.Equal(t, "https://api.example.com/calendar/webhook/notification", reg.WebhookURL, "request headers do not pick the callback host")
	require.NotEmpty(t, reg.ChannelID)
	assert.Equal(t, "res-"+reg.ChannelID, reg.ResourceID)

	rec = env.do(t, http.MethodGet, "/calendar/webhook/status", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var status WebhookStatusResponse
	decode(t, rec, &status)
	assert.True(t, status.Active)
	require.Len(t, status.Channels, 1)
	assert.Equal(t, "work", status.Channels[0].CalendarID)

	assert.Equal(t, http.StatusOK, env.notify(reg.ChannelID, reg.ResourceID, "sync").Code)
	assert.Zero(t, env.queued(t), "handshake does not sync")

	assert.Equal(t, http.StatusOK, env.notify(reg.ChannelID, reg.ResourceID, "exists").Code)
	assert.EqualValues(t, 1, env.queued(t))

	assert.Equal(t, http.StatusOK, env.notify(reg.ChannelID, "other-resource", "exists").Code)
	assert.EqualValues(t, 1, env.queued(t), "mismatched resource is ignored")

	rec = env.do(t, http.MethodPost, "/calendar/webhook/unregister", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"removed":1`)

	assert.Equal(t, http.StatusOK, env.notify(reg.ChannelID, reg.ResourceID, "exists").Code)
	assert.EqualValues(t, 1, env.queued(t), "stopped channel no longer syncs")
}

func TestWebhookNotificationRequiresHeaders(t *testing.T) {
	env := newTestEnv(t, nil)

	assert.Equal(t, http.StatusBadRequest, env.notify("channel", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.notify("", "res", "exists").Code)
	assert.Equal(t, http.StatusOK, env.notify("unknown", "res", "exists").Code)
	assert.Zero(t, env.queued(t))
}

func TestWebhookRegisterWithoutGoogleToken(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.session(t, "stranger@example.com")

	req := httptest.NewRequest(http.MethodPost, "/calendar/webhook/register", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/calendar/webhook/status", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active":false`)
}

func TestWebhookRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t, nil)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/calendar/webhook/register", "").Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/calendar/webhook/status", "").Code)
}

func TestWebhookRegisterNeedsURLWithoutPublicURL(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Server.PublicURL = ""
	})
	env.connect(t, testEmail)
	token := env.session(t, testEmail)

	register := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/calendar/webhook/register", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusBadRequest, register(`{}`).Code)

	rec := register(`{"webhook_url":"https://hooks.example.com/notify"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var reg WebhookRegistrationResponse
	decode(t, rec, &reg)
	assert.Equal(t, "https://hooks.example.com/notify", reg.WebhookURL)
}
