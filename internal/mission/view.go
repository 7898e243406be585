package mission

import (
	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/sim"
)

// View is a detached copy of a mission for readers and persistence.
type View struct {
	ID               uint64           `json:"id"`
	Name             string           `json:"name"`
	Type             Type             `json:"type"`
	SettlementID     uint64           `json:"settlement_id"`
	Phase            string           `json:"phase"`
	PhaseDescription string           `json:"phase_description"`
	Stage            string           `json:"stage"`
	Visited          []string         `json:"visited"`
	Flags            []string         `json:"flags"`
	Capacity         int              `json:"capacity"`
	Priority         int              `json:"priority"`
	StarterID        agents.AgentID   `json:"starter_id"`
	Members          []agents.AgentID `json:"members"`
	SignedUp         []agents.AgentID `json:"signed_up"`
	VehicleID        uint64           `json:"vehicle_id,omitempty"`
	Done             bool             `json:"done"`
	Stuck            bool             `json:"stuck,omitempty"`
	Started          sim.Time         `json:"started"`
	Ended            sim.Time         `json:"ended,omitempty"`
	Planning         *PlanningView    `json:"planning,omitempty"`
	Log              []LogEntry       `json:"log,omitempty"`
}

// View copies the mission's state under a single read lock.
func (m *Mission) View() View {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v := View{
		ID:           m.id,
		Name:         m.name,
		Type:         m.behavior.Type(),
		SettlementID: m.settlementID,
		Capacity:     m.capacity,
		Priority:     m.priority,
		VehicleID:    m.vehicleID,
		Done:         m.done,
		Stuck:        m.stuck,
		Started:      m.started,
		Ended:        m.ended,
		Flags:        m.flags.Names(),
	}
	if m.designation != "" {
		v.Name = m.designation
	}
	if m.hasPhase {
		v.Phase = m.phase.Key
		v.PhaseDescription = m.phase.Describe(m.subject)
		v.Stage = m.phase.Stage.String()
	}
	if m.starter != nil {
		v.StarterID = m.starter.ID
	}
	for _, p := range m.visited {
		v.Visited = append(v.Visited, p.Key)
	}
	for _, a := range m.membersLocked() {
		v.Members = append(v.Members, a.ID)
	}
	for _, a := range m.signedUp {
		v.SignedUp = append(v.SignedUp, a.ID)
	}
	if m.planning != nil {
		pv := m.planning.view()
		v.Planning = &pv
	}
	v.Log = make([]LogEntry, len(m.entries))
	copy(v.Log, m.entries)
	return v
}
