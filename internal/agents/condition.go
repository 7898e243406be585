// Fatigue, hunger and stress accumulate over time and drive performance.
// Activities reduce them.

package agents

import (
	"github.com/talgya/colony/internal/mathx"
	"github.com/talgya/colony/internal/sim"
)

// Condition values range from 0 (fresh) to 1000 (exhausted, starving,
// breaking down). Robots only track Battery, as charge depletion.
type Condition struct {
	Fatigue float64 `json:"fatigue"`
	Hunger  float64 `json:"hunger"`
	Stress  float64 `json:"stress"`
	// Battery is 0–1 state of charge; unused for persons.
	Battery float64 `json:"battery"`
	// Performance is 0–1 work effectiveness derived from the other fields.
	Performance float64 `json:"performance"`
}

const conditionMax = 1000

// Per-millisol accumulation rates.
const (
	fatigueRate = 0.12
	hungerRate  = 0.15
	stressRate  = 0.02
	drainRate   = 0.0004
)

// DecayCondition advances an agent's condition by elapsed logical time.
func DecayCondition(a *Agent, elapsed sim.Duration) {
	c := &a.Condition
	d := float64(elapsed)
	if a.IsRobot() {
		c.Battery = mathx.Clamp01(c.Battery - drainRate*d)
	} else {
		c.Fatigue = mathx.Clamp(c.Fatigue+fatigueRate*d, 0, conditionMax)
		c.Hunger = mathx.Clamp(c.Hunger+hungerRate*d, 0, conditionMax)
		c.Stress = mathx.Clamp(c.Stress+stressRate*d, 0, conditionMax)
	}
	c.Performance = ComputePerformance(a)
}

// ComputePerformance derives work effectiveness. A robot with a flat battery
// and a person who is exhausted or seriously ill both drop to zero.
func ComputePerformance(a *Agent) float64 {
	c := a.Condition
	if a.IsRobot() {
		if c.Battery <= 0.05 {
			return 0
		}
		return mathx.Clamp01(0.5 + c.Battery/2)
	}
	if a.Medical.Serious {
		return 0
	}
	p := 1.0
	if c.Fatigue > 500 {
		p -= (c.Fatigue - 500) / 500
	}
	if c.Hunger > 600 {
		p -= (c.Hunger - 600) / 800
	}
	if c.Stress > 700 {
		p -= (c.Stress - 700) / 600
	}
	if a.Medical.Problem != "" {
		p *= 0.7
	}
	return mathx.Clamp01(p)
}

// Relieve lowers fatigue, hunger and stress by the given amounts and
// refreshes performance.
func Relieve(a *Agent, fatigue, hunger, stress float64) {
	c := &a.Condition
	c.Fatigue = mathx.Clamp(c.Fatigue-fatigue, 0, conditionMax)
	c.Hunger = mathx.Clamp(c.Hunger-hunger, 0, conditionMax)
	c.Stress = mathx.Clamp(c.Stress-stress, 0, conditionMax)
	c.Performance = ComputePerformance(a)
}

// Charge adds battery charge to a robot.
func Charge(a *Agent, amount float64) {
	a.Condition.Battery = mathx.Clamp01(a.Condition.Battery + amount)
	a.Condition.Performance = ComputePerformance(a)
}

// Strain adds stress and fatigue from demanding work.
func Strain(a *Agent, fatigue, stress float64) {
	c := &a.Condition
	c.Fatigue = mathx.Clamp(c.Fatigue+fatigue, 0, conditionMax)
	c.Stress = mathx.Clamp(c.Stress+stress, 0, conditionMax)
	c.Performance = ComputePerformance(a)
}
