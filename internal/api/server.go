// Package api provides the HTTP API for observing the colony.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/bus"
	"github.com/talgya/colony/internal/engine"
	"github.com/talgya/colony/internal/meta"
	"github.com/talgya/colony/internal/mission"
	"github.com/talgya/colony/internal/persistence"
	"github.com/talgya/colony/internal/scheduler"
)

const (
	maxSSEConns   = 4
	defaultEvents = 50
	maxEvents     = 500
)

// Server serves colony snapshots over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine
	DB       *persistence.DB
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	sseConns atomic.Int32
	srv      *http.Server
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	snapshotLimiter := NewRateLimiter(6, time.Minute)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/settlements", s.handleSettlements)
	mux.HandleFunc("GET /api/v1/agents", s.handleAgents)
	mux.HandleFunc("GET /api/v1/agent/{id}", s.handleAgent)
	mux.HandleFunc("GET /api/v1/missions", s.handleMissions)
	mux.HandleFunc("GET /api/v1/mission/{id}", s.handleMission)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)

	mux.HandleFunc("POST /api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("POST /api/v1/snapshot", s.adminOnly(RateLimitMiddleware(snapshotLimiter, s.handleSnapshot)))
	mux.HandleFunc("POST /api/v1/agent/{id}/pending", s.adminOnly(s.handleAddPending))
	mux.HandleFunc("DELETE /api/v1/agent/{id}/pending", s.adminOnly(s.handleRemovePending))

	return mux
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the server, waiting for open requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no COLONYSIM_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

type statusResponse struct {
	engine.Status
	Speed         float64 `json:"speed"`
	Running       bool    `json:"running"`
	DroppedEvents uint64  `json:"dropped_events"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: s.Sim.Status()}
	if s.Eng != nil {
		resp.Speed = s.Eng.Speed()
		resp.Running = s.Eng.Running()
	}
	resp.DroppedEvents = s.Sim.Context().Bus.Dropped()
	writeJSON(w, resp)
}

func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Status().Settlements)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	settlement, err := queryUint(r, "settlement")
	if err != nil {
		http.Error(w, "invalid settlement id", http.StatusBadRequest)
		return
	}
	onMission := r.URL.Query().Get("on_mission") == "true"

	result := []engine.AgentView{}
	for _, v := range s.Sim.Agents() {
		if settlement != 0 && v.HomeSettlementID != settlement {
			continue
		}
		if onMission && !v.OnMission() {
			continue
		}
		result = append(result, v)
	}
	writeJSON(w, result)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}
	detail, ok := s.Sim.Agent(agents.AgentID(id))
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, detail)
}

// missionSummary leaves out the log and planning detail.
type missionSummary struct {
	ID           uint64           `json:"id"`
	Name         string           `json:"name"`
	Type         mission.Type     `json:"type"`
	SettlementID uint64           `json:"settlement_id"`
	Phase        string           `json:"phase"`
	Members      []agents.AgentID `json:"members"`
	Done         bool             `json:"done"`
	Stuck        bool             `json:"stuck,omitempty"`
}

func (s *Server) handleMissions(w http.ResponseWriter, r *http.Request) {
	settlement, err := queryUint(r, "settlement")
	if err != nil {
		http.Error(w, "invalid settlement id", http.StatusBadRequest)
		return
	}
	active := r.URL.Query().Get("active") == "true"

	result := []missionSummary{}
	for _, v := range s.Sim.MissionViews() {
		if settlement != 0 && v.SettlementID != settlement {
			continue
		}
		if active && v.Done {
			continue
		}
		result = append(result, missionSummary{
			ID:           v.ID,
			Name:         v.Name,
			Type:         v.Type,
			SettlementID: v.SettlementID,
			Phase:        v.Phase,
			Members:      v.Members,
			Done:         v.Done,
			Stuck:        v.Stuck,
		})
	}
	writeJSON(w, result)
}

func (s *Server) handleMission(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid mission id", http.StatusBadRequest)
		return
	}
	v, ok := s.Sim.Mission(id)
	if !ok {
		http.Error(w, "mission not found", http.StatusNotFound)
		return
	}
	writeJSON(w, v)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEvents
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= maxEvents {
			limit = n
		}
	}

	// source=db reads the stored history, which survives restarts.
	var events []bus.Event
	if s.DB != nil && r.URL.Query().Get("source") == "db" {
		stored, err := s.DB.RecentEvents(limit)
		if err != nil {
			slog.Error("load events failed", "error", err)
			http.Error(w, "events unavailable", http.StatusInternalServerError)
			return
		}
		events = stored
	} else {
		events = s.Sim.RecentEvents(limit)
	}

	if t := r.URL.Query().Get("type"); t != "" {
		filtered := []bus.Event{}
		for _, e := range events {
			if string(e.Type) == t {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	writeJSON(w, events)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not available", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		Speed float64 `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Speed < 0 || req.Speed > 1000 {
		http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
		return
	}
	s.Eng.SetSpeed(req.Speed)
	slog.Info("speed changed", "speed", req.Speed)

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	snap := s.Sim.Snapshot()
	if err := s.DB.SaveWorldState(snap); err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"pulse":   snap.Pulse,
		"message": "snapshot saved",
	})
}

// agentManager resolves the {id} path value to that agent's scheduler,
// writing the error response itself when it cannot.
func (s *Server) agentManager(w http.ResponseWriter, r *http.Request) (*scheduler.Manager, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return nil, false
	}
	m, ok := s.Sim.Manager(agents.AgentID(id))
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return nil, false
	}
	return m, true
}

// handleAddPending queues an activity for an agent. It starts ahead of the
// agent's own choice the next time the agent is free.
func (s *Server) handleAddPending(w http.ResponseWriter, r *http.Request) {
	m, ok := s.agentManager(w, r)
	if !ok {
		return
	}
	var req struct {
		Meta   string `json:"meta"`
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Meta == "" {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := m.AddPending(req.Meta, req.Target); err != nil {
		switch {
		case errors.Is(err, meta.ErrUnknownMetaTask):
			http.Error(w, "unknown activity", http.StatusBadRequest)
		case errors.Is(err, scheduler.ErrPendingFull):
			http.Error(w, "pending queue full", http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	slog.Info("activity queued", "agent_id", m.Agent().ID, "meta", req.Meta)
	writeJSON(w, map[string][]string{"pending": m.PendingNames()})
}

// handleRemovePending drops the first queued request named by ?meta=, or
// the whole queue when no name is given.
func (s *Server) handleRemovePending(w http.ResponseWriter, r *http.Request) {
	m, ok := s.agentManager(w, r)
	if !ok {
		return
	}
	if name := r.URL.Query().Get("meta"); name != "" {
		if !m.RemovePending(name) {
			http.Error(w, "not queued", http.StatusNotFound)
			return
		}
	} else {
		m.ClearPending()
	}
	writeJSON(w, map[string][]string{"pending": m.PendingNames()})
}

// handleStream provides an SSE endpoint for live bus events. Concurrent
// connections are limited.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.sseConns.Add(1) > maxSSEConns {
		s.sseConns.Add(-1)
		http.Error(w, "too many SSE connections", http.StatusServiceUnavailable)
		return
	}
	defer s.sseConns.Add(-1)

	b := s.Sim.Context().Bus
	if b == nil {
		http.Error(w, "event bus not available", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := b.Subscribe(bus.AllTypes()...)
	defer unsubscribe()

	for _, e := range s.Sim.RecentEvents(defaultEvents) {
		writeSSEEvent(w, e)
	}
	flusher.Flush()

	slog.Info("SSE client connected", "remote", r.RemoteAddr)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			writeSSEEvent(w, e)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			slog.Info("SSE client disconnected", "remote", r.RemoteAddr)
			return
		}
	}
}

// writeSSEEvent writes a single event in SSE format.
func writeSSEEvent(w http.ResponseWriter, e bus.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
}

func queryUint(r *http.Request, key string) (uint64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
