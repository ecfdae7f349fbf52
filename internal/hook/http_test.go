package hook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/praytools/pray-bot/internal/channels"
	"github.com/stretchr/testify/require"
)

func TestHTTPHandlerAcceptsValidEvent(t *testing.T) {
	fm := newFakeMonitor()
	r := NewReceiver(fm, nil, nil)
	h := NewHTTPHandler(r, nil)

	body, _ := json.Marshal(Event{HookEventName: EventSessionStart, SessionID: "s1", Provider: "claude"})
	req := httptest.NewRequest(http.MethodPost, "/api/hook", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp successResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.OK)
}

func TestHTTPHandlerRejectsBadJSON(t *testing.T) {
	h := NewHTTPHandler(NewReceiver(newFakeMonitor(), nil, nil), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/hook", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPHandlerRejectsMissingFields(t *testing.T) {
	h := NewHTTPHandler(NewReceiver(newFakeMonitor(), nil, nil), nil)

	body, _ := json.Marshal(Event{})
	req := httptest.NewRequest(http.MethodPost, "/api/hook", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPHandlerRateLimits(t *testing.T) {
	limiter := channels.NewWebhookRateLimiter()
	h := NewHTTPHandler(NewReceiver(newFakeMonitor(), nil, nil), limiter)

	body, _ := json.Marshal(Event{HookEventName: EventSessionStart, SessionID: "s1"})
	var lastCode int
	for i := 0; i < 35; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/hook", bytes.NewReader(body))
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		lastCode = rec.Code
	}
	require.Equal(t, http.StatusTooManyRequests, lastCode)
}
