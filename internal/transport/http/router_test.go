package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietroom/relay/internal/app"
	"github.com/quietroom/relay/internal/core"
	"github.com/quietroom/relay/internal/domain"
	"github.com/quietroom/relay/internal/metrics"
)

func newTestRouter(t *testing.T) (*app.Server, http.Handler) {
	t.Helper()
	reg := prometheus.NewRegistry()
	srv := app.NewServer(app.Options{
		HeartbeatTimeout: time.Second,
		OutboundQueueCap: 8,
		DrainGrace:       time.Second,
		ReapInterval:     time.Second,
	}, metrics.New(reg))
	return srv, SetupRouter("release", srv, reg)
}

func TestHealthz(t *testing.T) {
	_, r := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionsEndpoint(t *testing.T) {
	srv, r := newTestRouter(t)
	sid := domain.NewSessionID()
	addr := netip.MustParseAddrPort("127.0.0.1:4090")
	_, err := srv.Registry.Join(sid, domain.ClientID{}, addr)
	require.NoError(t, err)
	_, err = srv.Registry.Join(sid, domain.ClientID{}, addr)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Sessions []app.SessionInfo `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, sid.String(), body.Sessions[0].ID)
	assert.Equal(t, 2, body.Sessions[0].Clients)
}

func TestTeardownSessionEndpoint(t *testing.T) {
	srv, r := newTestRouter(t)
	sid := domain.NewSessionID()
	addr := netip.MustParseAddrPort("127.0.0.1:4090")
	h, err := srv.Registry.Join(sid, domain.ClientID{}, addr)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+sid.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)

	_, ok := srv.Registry.Lookup(sid)
	assert.False(t, ok)
	assert.Equal(t, core.StateClosed, h.State())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/sessions/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	_, r := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "relay_active_sessions")
}
