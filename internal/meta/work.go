// Effort-driven work generators. An agent with zero performance never draws
// these because their score scales with performance.

package meta

import (
	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/sim"
	"github.com/talgya/colony/internal/task"
)

// Maintenance inspects and repairs settlement systems.
type Maintenance struct{ base }

func NewMaintenance() *Maintenance {
	return &Maintenance{base{
		id: IDMaintenance, effort: true, persons: true, robots: true,
		jobs: map[agents.Job]float64{
			agents.JobEngineer:   2,
			agents.JobTechnician: 2,
			agents.JobMaker:      1.5,
		},
	}}
}

func (g *Maintenance) Candidates(c Context) []Candidate {
	if !c.Agent.InSettlement() {
		return nil
	}
	return single(g, 12)
}

func (g *Maintenance) NewTask(c Context, _ string) *task.Task {
	return g.newTask("Maintenance", "Maintaining life support",
		task.Step{Name: "Inspecting", Duration: 10},
		task.Step{
			Name:     "Repairing",
			Duration: 40,
			Tick: func(a *agents.Agent, d sim.Duration) {
				if !a.IsRobot() {
					agents.Strain(a, 0.2*float64(d), 0.1*float64(d))
				}
			},
		},
	)
}

// Research runs lab work, favoured by the scientific jobs.
type Research struct{ base }

func NewResearch() *Research {
	return &Research{base{
		id: IDResearch, effort: true, persons: true,
		jobs: map[agents.Job]float64{
			agents.JobAreologist: 2,
			agents.JobBotanist:   2,
			agents.JobDoctor:     2,
		},
	}}
}

func (g *Research) Candidates(c Context) []Candidate {
	if !c.Agent.InSettlement() {
		return nil
	}
	return single(g, 8)
}

func (g *Research) NewTask(c Context, _ string) *task.Task {
	return g.newTask("Research", "Doing lab research",
		task.Step{Name: "Walking to lab", Sub: walkTo("lab")},
		task.Step{
			Name:     "Researching",
			Duration: 60,
			Tick: func(a *agents.Agent, d sim.Duration) {
				agents.Strain(a, 0.1*float64(d), 0.05*float64(d))
			},
		},
	)
}

// TendGreenhouse keeps the crops alive.
type TendGreenhouse struct{ base }

func NewTendGreenhouse() *TendGreenhouse {
	return &TendGreenhouse{base{
		id: IDTendGreenhouse, effort: true, persons: true, robots: true,
		jobs: map[agents.Job]float64{agents.JobBotanist: 3},
	}}
}

func (g *TendGreenhouse) Candidates(c Context) []Candidate {
	if !c.Agent.InSettlement() {
		return nil
	}
	return single(g, 10)
}

func (g *TendGreenhouse) NewTask(c Context, _ string) *task.Task {
	return g.newTask("Tend greenhouse", "Tending the greenhouse",
		task.Step{Name: "Walking to greenhouse", Sub: walkTo("greenhouse")},
		task.Step{
			Name:     "Tending plants",
			Duration: 50,
			Tick: func(a *agents.Agent, d sim.Duration) {
				if !a.IsRobot() {
					agents.Relieve(a, 0, 0, 0.5*float64(d))
				}
			},
		},
	)
}

// WalkOutside is a short surface EVA. Getting out takes a walk to the
// airlock, which itself opens a suit-up, so the activity nests three deep.
type WalkOutside struct{ base }

func NewWalkOutside() *WalkOutside {
	return &WalkOutside{base{
		id: IDWalkOutside, effort: true, persons: true,
		jobs: map[agents.Job]float64{agents.JobAreologist: 2},
	}}
}

func (g *WalkOutside) Candidates(c Context) []Candidate {
	a := c.Agent
	if !a.InSettlement() || a.HasMedicalProblem() || a.Condition.Fatigue > 400 {
		return nil
	}
	return single(g, 3)
}

func (g *WalkOutside) NewTask(c Context, _ string) *task.Task {
	return g.newTask("Walk outside", "Walking outside",
		task.Step{Name: "Preparing EVA", Sub: toAirlock},
		task.Step{
			Name:     "Walking outside",
			Duration: 60,
			Tick: func(a *agents.Agent, d sim.Duration) {
				a.Location.Outside = true
				agents.Strain(a, 0.3*float64(d), 0)
			},
		},
		task.Step{
			Name:     "Ingressing",
			Duration: 8,
			Done:     func(a *agents.Agent) { a.Location.Outside = false },
		},
	).Mark(task.MarkerOutside)
}

func toAirlock(a *agents.Agent) *task.Task {
	return task.New("Walk", "Walking to airlock",
		task.Step{Name: "Walking", Duration: 4},
		task.Step{Name: "Donning suit", Sub: suitUp},
	)
}

func suitUp(a *agents.Agent) *task.Task {
	return task.New("Suit up", "Donning EVA suit",
		task.Step{Name: "Checking seals", Duration: 3},
		task.Step{Name: "Suiting up", Duration: 5},
	)
}
