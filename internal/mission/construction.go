package mission

import (
	"fmt"

	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/mathx"
	"github.com/talgya/colony/internal/sim"
)

const constructionCrew = 6

// constructionWork is the crew effort, in millisols at full performance,
// each phase needs.
var constructionWork = map[string]sim.Duration{
	PhasePrepareSite.Key: 40,
	PhaseConstruct.Key:   150,
	PhaseCleanup.Key:     20,
}

// Construction erects a building next to the settlement. Every member
// contributes work each pulse.
type Construction struct {
	site     string
	phaseKey string
	progress sim.Duration
}

// NewConstruction plans a building called site.
func NewConstruction(site string) *Construction {
	if site == "" {
		site = "greenhouse annex"
	}
	return &Construction{site: site}
}

// Site returns the name of the building under construction.
func (c *Construction) Site() string { return c.site }

// Progress returns the work done in the current phase.
func (c *Construction) Progress() sim.Duration { return c.progress }

func (c *Construction) Type() Type                  { return TypeConstruction }
func (c *Construction) PreferredJobs() []agents.Job { return []agents.Job{agents.JobConstructor, agents.JobEngineer} }
func (c *Construction) AcceptsRobots() bool         { return true }
func (c *Construction) IsVehicleMission() bool      { return false }

func (c *Construction) Prepare(m *Mission) StatusFlag {
	if m.Capacity() < constructionCrew {
		m.SetCapacity(constructionCrew)
	}
	return 0
}

func (c *Construction) DetermineNewPhase(m *Mission) (Phase, error) {
	p, _ := m.Phase()
	switch p.Key {
	case PhaseReviewing.Key:
		return PhasePrepareSite, nil
	case PhasePrepareSite.Key:
		return PhaseConstruct, nil
	case PhaseConstruct.Key:
		return PhaseCleanup, nil
	case PhaseCleanup.Key:
		return Phase{}, ErrMissionComplete
	}
	return Phase{}, fmt.Errorf("%w after %s", ErrNoNextPhase, p.Key)
}

func (c *Construction) Subject(*Mission, Phase) string { return c.site }

func (c *Construction) PerformPhase(m *Mission, member *agents.Agent) {
	p, _ := m.Phase()
	if p.Key != c.phaseKey {
		c.phaseKey = p.Key
		c.progress = 0
	}
	need, ok := constructionWork[p.Key]
	if !ok || m.PhaseEnded() {
		return
	}
	perf := member.Condition.Performance
	if perf <= 0 || member.HasSeriousMedicalProblem() {
		return
	}
	clock := m.Env().Ctx.Clock
	if clock == nil {
		return
	}
	d := clock.ElapsedTimeOfLastPulse()
	c.progress += d * sim.Duration(perf*(0.5+member.Skills.Construction))
	if !member.IsRobot() {
		agents.Strain(member, 0.1*float64(d), 0.05*float64(d))
	}
	member.Skills.Construction = mathx.Clamp01(member.Skills.Construction + 0.0005*float64(d))

	if c.progress >= need {
		m.AddLog(fmt.Sprintf("Finished %s", p.Describe(c.site)))
		m.EndPhase()
	}
}

func (c *Construction) Finish(*Mission) {}
