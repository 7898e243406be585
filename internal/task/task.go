// Package task models a unit of agent work: an ordered list of timed steps,
// each optionally opening a nested sub-activity.
package task

import (
	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/sim"
)

// Marker flags describe the kind of state an activity puts an agent in.
type Marker uint8

const (
	MarkerSleep Marker = 1 << iota
	MarkerOutside
)

// Step is one phase of a task.
type Step struct {
	Name     string
	Duration sim.Duration
	// Sub, if set, runs as a sub-activity when the step begins. The step's
	// own duration only starts counting once the sub-activity has finished.
	Sub func(a *agents.Agent) *Task
	// Tick is applied for every slice of time spent in the step.
	Tick func(a *agents.Agent, d sim.Duration)
	// Done is applied once when the step's duration has elapsed.
	Done func(a *agents.Agent)
}

// Task is an activity owned by one agent's scheduler.
type Task struct {
	name        string
	description string
	meta        string
	target      string
	effort      bool
	markers     Marker

	steps      []Step
	step       int
	spent      sim.Duration
	subStarted bool
	done       bool
}

// New creates a task running steps in order.
func New(name, description string, steps ...Step) *Task {
	return &Task{name: name, description: description, steps: steps}
}

// WithMeta records the name of the generator that produced the task.
func (t *Task) WithMeta(name string) *Task { t.meta = name; return t }

// WithTarget records what the task is aimed at, such as a mission name.
func (t *Task) WithTarget(target string) *Task { t.target = target; return t }

// EffortDriven marks the task as one an agent with no performance cannot start.
func (t *Task) EffortDriven() *Task { t.effort = true; return t }

// Mark adds state markers.
func (t *Task) Mark(m Marker) *Task { t.markers |= m; return t }

func (t *Task) Name() string         { return t.name }
func (t *Task) Description() string  { return t.description }
func (t *Task) Meta() string         { return t.meta }
func (t *Task) Target() string       { return t.target }
func (t *Task) IsEffortDriven() bool { return t.effort }
func (t *Task) IsDone() bool         { return t.done }

// HasMarker reports whether any of m is set on the task.
func (t *Task) HasMarker(m Marker) bool { return t.markers&m != 0 }

// Phase returns the name of the current step, or "" once done.
func (t *Task) Phase() string {
	if t.done || t.step >= len(t.steps) {
		return ""
	}
	return t.steps[t.step].Name
}

// End marks the task done. It reports whether the call changed anything.
func (t *Task) End() bool {
	if t.done {
		return false
	}
	t.done = true
	return true
}

// Perform spends up to elapsed time on the task. It returns the unused time
// and, when a step opens one, the sub-activity that must run first.
func (t *Task) Perform(a *agents.Agent, elapsed sim.Duration) (sim.Duration, *Task) {
	for !t.done {
		if t.step >= len(t.steps) {
			t.done = true
			break
		}
		s := t.steps[t.step]
		if s.Sub != nil && !t.subStarted {
			t.subStarted = true
			if sub := s.Sub(a); sub != nil {
				return elapsed, sub
			}
		}
		if elapsed <= 0 && s.Duration > t.spent {
			break
		}
		use := s.Duration - t.spent
		if use > elapsed {
			use = elapsed
		}
		if use > 0 {
			if s.Tick != nil {
				s.Tick(a, use)
			}
			t.spent += use
			elapsed -= use
		}
		if t.spent >= s.Duration {
			if s.Done != nil {
				s.Done(a)
			}
			t.step++
			t.spent = 0
			t.subStarted = false
		}
	}
	return elapsed, nil
}
