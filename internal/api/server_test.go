package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/bus"
	"github.com/talgya/colony/internal/config"
	"github.com/talgya/colony/internal/engine"
	"github.com/talgya/colony/internal/entropy"
	"github.com/talgya/colony/internal/mission"
	"github.com/talgya/colony/internal/persistence"
	"github.com/talgya/colony/internal/sim"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	cfg := config.Default()
	cfg.Settlements = []config.SettlementConfig{
		{Name: "Schiaparelli Point", Persons: 6, Robots: 1, Vehicles: 1},
		{Name: "Bradbury Base", Persons: 4, Robots: 1},
	}
	cfg.Mission.StartChancePerSol = 1

	clock := sim.NewPulseClock(0)
	b := bus.New(nil, 64)
	t.Cleanup(b.Shutdown)
	s := engine.NewSimulation(cfg, sim.NewContext(clock, entropy.Derive(cfg.Seed, 1), b, nil), clock,
		engine.Genesis(cfg, agents.NewSpawner(cfg.Seed)))
	t.Cleanup(s.Close)

	eng := engine.NewEngine(clock, 10)
	eng.OnPulse = s.Pulse
	eng.OnSol = s.Sol
	eng.AdvanceN(context.Background(), 110)

	srv := &Server{Sim: s, Eng: eng, AdminKey: "secret"}
	return srv, srv.Handler()
}

func get(t *testing.T, h http.Handler, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestStatus(t *testing.T) {
	_, h := newTestServer(t)

	var st statusResponse
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/status", &st))
	assert.Equal(t, uint64(110), st.Pulse)
	assert.Equal(t, 2, st.Sol)
	assert.Len(t, st.Settlements, 2)
	assert.Equal(t, 1.0, st.Speed)
	assert.False(t, st.Running)
}

func TestAgents(t *testing.T) {
	_, h := newTestServer(t)

	var all []engine.AgentView
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/agents", &all))
	assert.Len(t, all, 12)

	var bradbury []engine.AgentView
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/agents?settlement=2", &bradbury))
	assert.Len(t, bradbury, 5)
	for _, v := range bradbury {
		assert.Equal(t, "Bradbury Base", v.Settlement)
	}

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/agents?settlement=abc", nil))
}

func TestAgentDetail(t *testing.T) {
	_, h := newTestServer(t)

	var all []engine.AgentView
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/agents", &all))
	require.NotEmpty(t, all)

	var d engine.AgentDetail
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/agent/"+strconv.FormatUint(uint64(all[0].ID), 10), &d))
	assert.Equal(t, all[0].Name, d.Name)
	assert.NotEmpty(t, d.History)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/agent/9999", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/agent/x", nil))
}

func TestMissions(t *testing.T) {
	_, h := newTestServer(t)

	var list []missionSummary
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/missions", &list))
	require.NotEmpty(t, list)

	var v mission.View
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/mission/"+strconv.FormatUint(list[0].ID, 10), &v))
	assert.Equal(t, list[0].Name, v.Name)
	assert.NotEmpty(t, v.Log)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/mission/9999", nil))
}

func TestEvents(t *testing.T) {
	_, h := newTestServer(t)

	var events []bus.Event
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/events?limit=5", &events))
	assert.Len(t, events, 5)

	var started []bus.Event
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/events?limit=500&type=mission_started", &started))
	for _, e := range started {
		assert.Equal(t, bus.TypeMissionStarted, e.Type)
	}
}

func TestAdminEndpoints(t *testing.T) {
	srv, h := newTestServer(t)

	post := func(path, token, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, post("/api/v1/speed", "wrong", `{"speed":2}`).Code)
	assert.Equal(t, http.StatusBadRequest, post("/api/v1/speed", "secret", `{"speed":-1}`).Code)
	assert.Equal(t, http.StatusOK, post("/api/v1/speed", "secret", `{"speed":2.5}`).Code)
	assert.Equal(t, 2.5, srv.Eng.Speed())

	assert.Equal(t, http.StatusServiceUnavailable, post("/api/v1/snapshot", "secret", "").Code)

	db, err := persistence.Open(filepath.Join(t.TempDir(), "colony.db"))
	require.NoError(t, err)
	defer db.Close()
	srv.DB = db
	assert.Equal(t, http.StatusOK, post("/api/v1/snapshot", "secret", "").Code)
	assert.True(t, db.HasWorldState())
}

func TestPendingAdmin(t *testing.T) {
	srv, h := newTestServer(t)

	var all []engine.AgentView
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/agents", &all))
	var person engine.AgentView
	for _, v := range all {
		if v.Kind == agents.KindPerson {
			person = v
			break
		}
	}
	require.NotZero(t, person.ID)
	path := "/api/v1/agent/" + strconv.FormatUint(uint64(person.ID), 10) + "/pending"

	send := func(method, path, token, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, send(http.MethodPost, path, "wrong", `{"meta":"relax"}`).Code)
	assert.Equal(t, http.StatusBadRequest, send(http.MethodPost, path, "secret", `{"meta":"juggling"}`).Code)
	assert.Equal(t, http.StatusNotFound, send(http.MethodPost, "/api/v1/agent/9999/pending", "secret", `{"meta":"relax"}`).Code)

	rec := send(http.MethodPost, path, "secret", `{"meta":"relax"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Pending []string `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"relax"}, resp.Pending)

	m, ok := srv.Sim.Manager(person.ID)
	require.True(t, ok)
	started := m.SelectAndStartNext()
	require.NotNil(t, started)
	assert.Equal(t, "relax", started.Meta())
	assert.Empty(t, m.PendingNames())

	require.Equal(t, http.StatusOK, send(http.MethodPost, path, "secret", `{"meta":"sleep"}`).Code)
	require.Equal(t, http.StatusOK, send(http.MethodPost, path, "secret", `{"meta":"eat"}`).Code)
	assert.Equal(t, http.StatusNotFound, send(http.MethodDelete, path+"?meta=relax", "secret", "").Code)
	assert.Equal(t, http.StatusOK, send(http.MethodDelete, path+"?meta=sleep", "secret", "").Code)
	assert.Equal(t, []string{"eat"}, m.PendingNames())
	assert.Equal(t, http.StatusOK, send(http.MethodDelete, path, "secret", "").Code)
	assert.Empty(t, m.PendingNames())
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.AdminKey = ""
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/speed", strings.NewReader(`{"speed":1}`)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
	assert.Equal(t, 61, rl.RetryAfter("10.0.0.1"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("10.0.0.1"))

	now = now.Add(3 * time.Minute)
	rl.Allow("10.0.0.3")
	assert.NotContains(t, rl.buckets, "10.0.0.2")
}

func TestClientAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:4312"
	assert.Equal(t, "192.0.2.7", clientAddr(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientAddr(req))
}
