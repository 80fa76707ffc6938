package changelogbot

import (
	"encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newAPITestBot(t testing.TB) *Bot {
	t.Helper()
	cfg := DefaultConfig()
	cfg.API.Enabled = true
	b, _ := newTestBot(t, cfg)
	return b
}

func apiGet(b *Bot, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	b.api.engine.ServeHTTP(w, req)
	return w
}

func TestAPI_HealthCheck(t *testing.T) {
	b := newAPITestBot(t)
	w := apiGet(b, apiHealthCheck)
	require.Equal(t, http.StatusOK, w.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	requestID := w.Header().Get(xRequestIDHeader)
	assert.True(t, strings.HasPrefix(requestID, "req_"), requestID)
}

func TestAPI_Status(t *testing.T) {
	b := newAPITestBot(t)
	w := apiGet(b, apiPrefix+apiPathStatus)
	require.Equal(t, http.StatusOK, w.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.Discord.Connected)
	assert.False(t, status.AI.Configured)
	assert.True(t, status.Receive.Gateway)
	assert.False(t, status.Receive.Webhook)
	assert.Equal(t, DispatchStats{}, status.Dispatch)
	assert.ElementsMatch(t, []string{CommandAsk, CommandChangelog}, status.Commands)
}

func TestAPI_Commands(t *testing.T) {
	b := newAPITestBot(t)
	w := apiGet(b, apiPrefix+apiPathCommands)
	require.Equal(t, http.StatusOK, w.Code)

	var commands []CommandDescriptor
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &commands))
	assert.Equal(t, b.Registry().All(), commands)
}

func TestAPI_NotFound(t *testing.T) {
	b := newAPITestBot(t)
	w := apiGet(b, apiPrefix+"/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, w.Header().Get(xRequestIDHeader))
}

func TestAPI_CORS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.Enabled = true
	cfg.API.CORS.AllowOrigins = []string{"https://status.example.com"}
	b, _ := newTestBot(t, cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, apiHealthCheck, nil)
	req.Header.Set("Origin", "https://status.example.com")
	b.api.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://status.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, apiHealthCheck, nil)
	req.Header.Set("Origin", "https://evil.example.com")
	b.api.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
