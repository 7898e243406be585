package engine

import (
	"sort"

	"golang.org/x/exp/maps"

	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/bus"
	"github.com/talgya/colony/internal/mission"
	"github.com/talgya/colony/internal/scheduler"
	"github.com/talgya/colony/internal/sim"
	"github.com/talgya/colony/internal/social"
)

// AgentView is a detached copy of an agent and what it is doing.
type AgentView struct {
	agents.Agent
	Settlement string             `json:"settlement,omitempty"`
	Activity   scheduler.Snapshot `json:"activity"`
}

// AgentDetail adds the activity history to an AgentView.
type AgentDetail struct {
	AgentView
	History []scheduler.Entry `json:"history"`
}

// SettlementView is a settlement with its garage.
type SettlementView struct {
	social.Settlement
	Vehicles []social.Vehicle `json:"vehicles"`
}

// Status summarizes the colony for the observation API.
type Status struct {
	Pulse       uint64           `json:"pulse"`
	Time        sim.Time         `json:"time"`
	Clock       string           `json:"clock"`
	Sol         int              `json:"sol"`
	Stats       Stats            `json:"stats"`
	Settlements []SettlementView `json:"settlements"`
}

func copyAgent(a *agents.Agent) agents.Agent {
	c := *a
	if a.Experience != nil {
		c.Experience = maps.Clone(a.Experience)
	}
	return c
}

func (s *Simulation) agentView(a *agents.Agent) AgentView {
	v := AgentView{Agent: copyAgent(a)}
	if st, ok := s.settlementIndex[a.HomeSettlementID]; ok {
		v.Settlement = st.Name
	}
	if m, ok := s.managers[a.ID]; ok {
		v.Activity = m.Snapshot()
	}
	return v
}

// Agents returns every agent, ordered by id.
func (s *Simulation) Agents() []AgentView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AgentView, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, s.agentView(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Agent returns one agent with its history.
func (s *Simulation) Agent(id agents.AgentID) (AgentDetail, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agentIndex[id]
	if !ok {
		return AgentDetail{}, false
	}
	d := AgentDetail{AgentView: s.agentView(a)}
	if m, ok := s.managers[id]; ok {
		d.History = m.HistoryAll()
	}
	return d, true
}

// MissionViews returns every archived and live mission.
func (s *Simulation) MissionViews() []mission.View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Missions.Views()
}

// Mission returns one mission, live or archived.
func (s *Simulation) Mission(id uint64) (mission.View, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.Missions.Get(id); ok {
		return m.View(), true
	}
	for _, v := range s.Missions.Archived() {
		if v.ID == id {
			return v, true
		}
	}
	return mission.View{}, false
}

// Status returns the clock position, statistics and settlements.
func (s *Simulation) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.clock.Now()
	st := Status{
		Pulse: s.lastPulse,
		Time:  now,
		Clock: now.String(),
		Sol:   now.Sol(),
		Stats: s.stats,
	}
	vehicles := s.Fleet.Snapshot()
	for _, set := range s.settlements {
		sv := SettlementView{Settlement: *set}
		for _, v := range vehicles {
			if v.SettlementID == set.ID {
				sv.Vehicles = append(sv.Vehicles, v)
			}
		}
		st.Settlements = append(st.Settlements, sv)
	}
	return st
}

// RecentEvents returns up to n of the latest bus events, newest last.
func (s *Simulation) RecentEvents(n int) []bus.Event {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if n <= 0 || n > len(s.events) {
		n = len(s.events)
	}
	out := make([]bus.Event, n)
	copy(out, s.events[len(s.events)-n:])
	return out
}
