// Self-care generators. Weights climb with the matching condition so a tired
// agent almost always sleeps.

package meta

import (
	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/sim"
	"github.com/talgya/colony/internal/task"
)

// Relax is the default activity. It always applies and always yields a
// candidate, so an agent is never left with nothing to do.
type Relax struct{ base }

func NewRelax() *Relax {
	return &Relax{base{id: IDRelax, persons: true, robots: true}}
}

func (g *Relax) Candidates(c Context) []Candidate {
	if c.Agent.IsRobot() {
		return single(g, 1)
	}
	return single(g, 5+c.Agent.Condition.Stress/50)
}

func (g *Relax) NewTask(c Context, _ string) *task.Task {
	if c.Agent.IsRobot() {
		return g.newTask("Standby", "Standing by", task.Step{Name: "Idling", Duration: 20})
	}
	return g.newTask("Relax", "Relaxing", task.Step{
		Name:     "Relaxing",
		Duration: 30,
		Tick: func(a *agents.Agent, d sim.Duration) {
			agents.Relieve(a, 0, 0, 1.5*float64(d))
		},
	})
}

// Sleep is weighted by fatigue and doubled during the night hours.
type Sleep struct{ base }

func NewSleep() *Sleep {
	return &Sleep{base{id: IDSleep, persons: true}}
}

func (g *Sleep) Candidates(c Context) []Candidate {
	f := c.Agent.Condition.Fatigue
	if f < 300 {
		return nil
	}
	w := (f - 300) / 5
	if ms := c.Now.Millisol(); ms > 900 || ms < 150 {
		w *= 2
	}
	return single(g, w)
}

func (g *Sleep) NewTask(c Context, _ string) *task.Task {
	return g.newTask("Sleep", "Sleeping",
		task.Step{Name: "Walking to quarters", Sub: walkTo("quarters")},
		task.Step{
			Name:     "Sleeping",
			Duration: 200,
			Tick: func(a *agents.Agent, d sim.Duration) {
				agents.Relieve(a, 2*float64(d), 0, 0.3*float64(d))
			},
		},
	).Mark(task.MarkerSleep)
}

// Eat is weighted by hunger and needs a settlement or vehicle galley.
type Eat struct{ base }

func NewEat() *Eat {
	return &Eat{base{id: IDEat, persons: true, jobs: map[agents.Job]float64{agents.JobChef: 1.2}}}
}

func (g *Eat) Candidates(c Context) []Candidate {
	a := c.Agent
	h := a.Condition.Hunger
	if h < 250 || (!a.InSettlement() && !a.InVehicle()) {
		return nil
	}
	return single(g, (h-250)/4)
}

func (g *Eat) NewTask(c Context, _ string) *task.Task {
	return g.newTask("Eat", "Eating a meal",
		task.Step{Name: "Looking for food", Sub: walkTo("dining hall")},
		task.Step{
			Name:     "Eating",
			Duration: 20,
			Done: func(a *agents.Agent) {
				agents.Relieve(a, 0, 600, 20)
			},
		},
	)
}

// Exercise keeps stress down for agents who are not already worn out.
type Exercise struct{ base }

func NewExercise() *Exercise {
	return &Exercise{base{id: IDExercise, persons: true}}
}

func (g *Exercise) Candidates(c Context) []Candidate {
	a := c.Agent
	if !a.InSettlement() || a.Condition.Fatigue > 500 || a.HasSeriousMedicalProblem() {
		return nil
	}
	return single(g, 3+a.Condition.Stress/100)
}

func (g *Exercise) NewTask(c Context, _ string) *task.Task {
	return g.newTask("Exercise", "Working out in the gym",
		task.Step{Name: "Walking to gym", Sub: walkTo("gym")},
		task.Step{
			Name:     "Exercising",
			Duration: 40,
			Tick: func(a *agents.Agent, d sim.Duration) {
				agents.Relieve(a, 0, 0, 2*float64(d))
				agents.Strain(a, 0.3*float64(d), 0)
			},
		},
	)
}

// Recharge sends a robot with a low battery to its station.
type Recharge struct{ base }

func NewRecharge() *Recharge {
	return &Recharge{base{id: IDRecharge, robots: true}}
}

func (g *Recharge) Candidates(c Context) []Candidate {
	b := c.Agent.Condition.Battery
	if b >= 0.5 {
		return nil
	}
	return single(g, (1-b)*60)
}

func (g *Recharge) NewTask(c Context, _ string) *task.Task {
	return g.newTask("Recharge", "Recharging at station", task.Step{
		Name:     "Recharging",
		Duration: 100,
		Tick: func(a *agents.Agent, d sim.Duration) {
			agents.Charge(a, 0.01*float64(d))
		},
	})
}

// walkTo opens a short walk inside the settlement as a sub-activity.
// Agents not inside a settlement skip it.
func walkTo(dest string) func(*agents.Agent) *task.Task {
	return func(a *agents.Agent) *task.Task {
		if !a.InSettlement() {
			return nil
		}
		return task.New("Walk", "Walking to "+dest, task.Step{Name: "Walking", Duration: 5})
	}
}
