package engine

import (
	"errors"

	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/mission"
	"github.com/talgya/colony/internal/scheduler"
	"github.com/talgya/colony/internal/sim"
	"github.com/talgya/colony/internal/social"
)

// PendingTask is a queued activity request stored by generator name.
type PendingTask struct {
	Meta   string `json:"meta"`
	Target string `json:"target,omitempty"`
}

// Snapshot is everything needed to save the colony and resume it later.
type Snapshot struct {
	Pulse       uint64
	Time        sim.Time
	Agents      []agents.Agent
	Settlements []social.Settlement
	Vehicles    []social.Vehicle
	Opinions    []social.Opinion
	History     map[agents.AgentID][]scheduler.Entry
	Pending     map[agents.AgentID][]PendingTask
	Missions    []mission.View
	Ordinals    []mission.Ordinal
}

// Snapshot copies the colony under the read lock.
func (s *Simulation) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Pulse:    s.lastPulse,
		Time:     s.clock.Now(),
		Agents:   make([]agents.Agent, 0, len(s.agents)),
		Vehicles: s.Fleet.Snapshot(),
		Opinions: s.Relations.Snapshot(),
		History:  make(map[agents.AgentID][]scheduler.Entry, len(s.agents)),
		Pending:  make(map[agents.AgentID][]PendingTask),
		Missions: s.Missions.Views(),
		Ordinals: s.Missions.Ordinals(),
	}
	for _, a := range s.agents {
		snap.Agents = append(snap.Agents, copyAgent(a))
		m := s.managers[a.ID]
		if h := m.HistoryAll(); len(h) > 0 {
			snap.History[a.ID] = h
		}
		for _, p := range m.Pending() {
			snap.Pending[a.ID] = append(snap.Pending[a.ID], PendingTask{Meta: p.Meta.Name(), Target: p.Target})
		}
	}
	for _, set := range s.settlements {
		snap.Settlements = append(snap.Settlements, *set)
	}
	return snap
}

// StateFromSnapshot rebuilds the colony aggregates from saved state. Saved
// missions are not resumed, so every vehicle comes back parked and refueled.
func StateFromSnapshot(snap Snapshot) State {
	st := State{Fleet: social.NewFleet(), Relations: social.NewRelations()}
	for i := range snap.Agents {
		a := copyAgent(&snap.Agents[i])
		st.Agents = append(st.Agents, &a)
	}
	for i := range snap.Settlements {
		set := snap.Settlements[i]
		st.Settlements = append(st.Settlements, &set)
	}
	for _, v := range snap.Vehicles {
		v.ReservedBy = 0
		v.Remaining = v.TripBudget
		st.Fleet.Add(v)
	}
	for _, o := range snap.Opinions {
		st.Relations.Set(o.From, o.To, o.Value)
	}
	return st
}

// ErrUnknownAgent is returned when saved state names an agent that was not
// loaded.
var ErrUnknownAgent = errors.New("engine: unknown agent")

// Restore replays the saved histories, queued requests and missions of snap
// onto a simulation built from the same agents. Stored generator names go
// through the registry; unknown names are logged and skipped. Saved missions
// are archived rather than resumed, so their members are released and
// everyone starts back indoors. It returns
// the number of skipped entries.
func (s *Simulation) Restore(snap Snapshot) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPulse = snap.Pulse
	skipped := 0

	for id, entries := range snap.History {
		m, ok := s.managers[id]
		if !ok {
			s.log.Error("history for unknown agent", "agent_id", id, "error", ErrUnknownAgent)
			skipped += len(entries)
			continue
		}
		kept := entries[:0:0]
		for _, e := range entries {
			if e.Meta != "" {
				if _, err := s.registry.Resolve(e.Meta); err != nil {
					s.log.Error("history entry names unknown activity", "agent_id", id, "meta", e.Meta, "error", err)
					skipped++
					continue
				}
			}
			kept = append(kept, e)
		}
		m.RestoreHistory(kept)
	}

	for id, queued := range snap.Pending {
		m, ok := s.managers[id]
		if !ok {
			s.log.Error("pending requests for unknown agent", "agent_id", id, "error", ErrUnknownAgent)
			skipped += len(queued)
			continue
		}
		for _, p := range queued {
			if err := m.AddPending(p.Meta, p.Target); err != nil {
				skipped++
			}
		}
	}

	s.Missions.Archive(snap.Missions...)
	for _, o := range snap.Ordinals {
		s.Missions.SetOrdinal(o.SettlementID, o.Type, o.Count)
	}
	for _, a := range s.agents {
		if a.OnMission() {
			a.MissionID = 0
			a.Shift = agents.ShiftOn
			if a.Location.VehicleID != 0 {
				a.Location = agents.Location{SettlementID: a.HomeSettlementID}
			}
		}
		// Running activities are not saved, so nobody is mid-EVA.
		a.Location.Outside = false
	}
	s.updateStats()
	return skipped
}
