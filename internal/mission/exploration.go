package mission

import (
	"fmt"
	"math/rand"

	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/mathx"
	"github.com/talgya/colony/internal/sim"
)

const (
	explorationTravel  sim.Duration = 60
	explorationPerSite sim.Duration = 40
	explorationCrew                 = 4
)

// Exploration drives a rover out to a handful of sites and back.
type Exploration struct {
	sites    int
	explored int

	phaseKey string
	elapsed  sim.Duration
	lastTick uint64
	ticked   bool
}

// NewExploration draws the number of sites from weights, where weights[i]
// is the relative chance of visiting i+1 sites.
func NewExploration(rng *rand.Rand, weights []float64) *Exploration {
	return &Exploration{sites: drawIndex(rng, weights) + 1}
}

// Sites returns how many sites the mission plans to visit.
func (e *Exploration) Sites() int { return e.sites }

// Explored returns how many sites have been explored so far.
func (e *Exploration) Explored() int { return e.explored }

func (e *Exploration) Type() Type                  { return TypeExploration }
func (e *Exploration) PreferredJobs() []agents.Job { return []agents.Job{agents.JobAreologist, agents.JobPilot} }
func (e *Exploration) AcceptsRobots() bool         { return false }
func (e *Exploration) IsVehicleMission() bool      { return true }

func (e *Exploration) Prepare(m *Mission) StatusFlag {
	fleet := m.Env().Fleet
	if fleet == nil {
		return StatusNoVehicle
	}
	v, ok := fleet.Reserve(m.SettlementID(), m.ID())
	if !ok {
		return StatusNoVehicle
	}
	if fleet.RemainingTripBudget(v.ID) < 2*explorationTravel {
		fleet.Release(v.ID)
		return StatusNoTripBudget
	}
	m.SetVehicle(v.ID)
	crew := v.Crew
	if crew <= 0 {
		crew = explorationCrew
	}
	m.SetCapacity(crew)
	m.AddLog(fmt.Sprintf("Reserved %s for %d site(s)", v.Name, e.sites))
	return 0
}

func (e *Exploration) DetermineNewPhase(m *Mission) (Phase, error) {
	p, _ := m.Phase()
	switch p.Key {
	case PhaseReviewing.Key:
		return PhaseEmbarking, nil
	case PhaseEmbarking.Key:
		return PhaseTravelling, nil
	case PhaseTravelling.Key:
		return PhaseExploring, nil
	case PhaseExploring.Key:
		return PhaseReturning, nil
	case PhaseReturning.Key:
		return PhaseDisembarking, nil
	case PhaseDisembarking.Key:
		return Phase{}, ErrMissionComplete
	}
	return Phase{}, fmt.Errorf("%w after %s", ErrNoNextPhase, p.Key)
}

func (e *Exploration) Subject(m *Mission, p Phase) string {
	switch p.Key {
	case PhaseEmbarking.Key:
		if f := m.Env().Fleet; f != nil {
			if v, ok := f.Get(m.VehicleID()); ok {
				return v.Name
			}
		}
		return "rover"
	case PhaseTravelling.Key:
		return "exploration site"
	case PhaseExploring.Key:
		return fmt.Sprintf("%d site(s)", e.sites)
	default:
		if r := m.Env().Roster; r != nil {
			return r.SettlementName(m.SettlementID())
		}
		return "settlement"
	}
}

func (e *Exploration) PerformPhase(m *Mission, member *agents.Agent) {
	p, _ := m.Phase()
	if p.Key != e.phaseKey {
		e.phaseKey = p.Key
		e.elapsed = 0
	}

	switch p.Key {
	case PhaseEmbarking.Key:
		member.Location.VehicleID = m.VehicleID()
		if e.allAboard(m, true) {
			m.EndPhase()
		}

	case PhaseTravelling.Key, PhaseReturning.Key:
		if p.Key == PhaseTravelling.Key && e.emergency(m) {
			return
		}
		d, ok := e.tick(m)
		if !ok {
			return
		}
		fleet := m.Env().Fleet
		if fleet.RemainingTripBudget(m.VehicleID()) < d {
			m.EndMission(StatusNoTripBudget)
			return
		}
		fleet.Consume(m.VehicleID(), d)
		e.elapsed += d
		if e.elapsed >= explorationTravel {
			m.EndPhase()
		}

	case PhaseExploring.Key:
		if e.emergency(m) {
			return
		}
		d, ok := e.tick(m)
		if !ok {
			return
		}
		e.elapsed += d
		for e.elapsed >= explorationPerSite && e.explored < e.sites {
			e.elapsed -= explorationPerSite
			e.explored++
			m.AddLog(fmt.Sprintf("Explored site %d of %d", e.explored, e.sites))
			for _, a := range m.Members() {
				a.Skills.Areology = mathx.Clamp01(a.Skills.Areology + 0.01)
			}
		}
		if e.explored >= e.sites {
			m.EndPhase()
		}

	case PhaseDisembarking.Key:
		member.Location.VehicleID = 0
		member.Location.SettlementID = member.HomeSettlementID
		member.Location.Outside = false
		if e.allAboard(m, false) {
			m.EndPhase()
		}
	}
}

func (e *Exploration) Finish(m *Mission) {
	if id := m.VehicleID(); id != 0 && m.Env().Fleet != nil {
		m.Env().Fleet.Release(id)
	}
}

// tick returns the elapsed time of the current pulse the first time it is
// called in that pulse, so travel counts once however many members act.
func (e *Exploration) tick(m *Mission) (sim.Duration, bool) {
	clock := m.Env().Ctx.Clock
	if clock == nil {
		return 0, false
	}
	id := clock.CurrentPulseID()
	if e.ticked && id == e.lastTick {
		return 0, false
	}
	e.ticked = true
	e.lastTick = id
	return clock.ElapsedTimeOfLastPulse(), true
}

// allAboard reports whether every member is (or, with want false, is no
// longer) in the mission vehicle.
func (e *Exploration) allAboard(m *Mission, want bool) bool {
	v := m.VehicleID()
	for _, a := range m.Members() {
		if (a.Location.VehicleID == v) != want {
			return false
		}
	}
	return true
}

// emergency turns the mission home when a member falls seriously ill.
func (e *Exploration) emergency(m *Mission) bool {
	for _, a := range m.Members() {
		if !a.HasSeriousMedicalProblem() {
			continue
		}
		m.AddFlag(StatusMedicalEmergency)
		if err := m.SetPhase(PhaseReturning, e.Subject(m, PhaseReturning)); err != nil {
			m.Logger().Warn("emergency return refused", "error", err)
		}
		return true
	}
	return false
}

// drawIndex picks an index with probability proportional to its weight.
func drawIndex(rng *rand.Rand, weights []float64) int {
	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 || rng == nil {
		return 0
	}
	x := rng.Float64() * total
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		x -= w
		if x < 0 {
			return i
		}
	}
	return len(weights) - 1
}
