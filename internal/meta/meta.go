// Package meta is the activity catalog: a fixed set of generators, one per
// kind of work, each producing scored candidate activities for an agent and
// materializing the chosen one into a task.
package meta

import (
	"errors"
	"fmt"

	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/sim"
	"github.com/talgya/colony/internal/social"
	"github.com/talgya/colony/internal/task"
)

// ErrUnknownMetaTask is returned when a stored generator name cannot be
// resolved against the registry.
var ErrUnknownMetaTask = errors.New("meta: unknown activity generator")

// ID is the stable identity of a generator. Values are persisted by name.
type ID uint8

const (
	IDRelax ID = iota + 1
	IDSleep
	IDEat
	IDExercise
	IDMaintenance
	IDResearch
	IDTendGreenhouse
	IDWalkOutside
	IDConverse
	IDReviewMission
	IDRecharge
)

var idNames = map[ID]string{
	IDRelax:          "relax",
	IDSleep:          "sleep",
	IDEat:            "eat",
	IDExercise:       "exercise",
	IDMaintenance:    "maintenance",
	IDResearch:       "research",
	IDTendGreenhouse: "tend_greenhouse",
	IDWalkOutside:    "walk_outside",
	IDConverse:       "converse",
	IDReviewMission:  "review_mission",
	IDRecharge:       "recharge",
}

func (id ID) String() string {
	if n, ok := idNames[id]; ok {
		return n
	}
	return fmt.Sprintf("meta(%d)", uint8(id))
}

// ParseID maps a persisted generator name back to its ID.
func ParseID(name string) (ID, error) {
	for id, n := range idNames {
		if n == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMetaTask, name)
}

// Reviewable is a mission plan awaiting review.
type Reviewable interface {
	ReviewTarget() string
	CanReview(reviewer *agents.Agent) bool
	Review(reviewer *agents.Agent) error
}

// ReviewBoard lists plans awaiting review.
type ReviewBoard interface {
	PendingReviews(settlementID uint64) []Reviewable
	FindReview(target string) (Reviewable, bool)
}

// Context is everything a generator may look at when scoring an agent.
type Context struct {
	Agent *agents.Agent
	// Settlement is nil when the agent is not inside one.
	Settlement *social.Settlement
	Now        sim.Time
	// Companions are other agents sharing the agent's location.
	Companions []*agents.Agent
	Reviews    ReviewBoard
	Relations  *social.Relations
}

// Candidate is one scored option produced by a generator.
type Candidate struct {
	Meta   MetaTask
	Target string
	Weight float64
}

// MetaTask is an activity generator.
type MetaTask interface {
	ID() ID
	Name() string
	// Applies reports whether the generator has anything for this kind of agent.
	Applies(a *agents.Agent) bool
	// Candidates returns zero or more candidates with base weights.
	Candidates(c Context) []Candidate
	// Score adjusts a candidate's base weight for the specific agent.
	Score(c Context, cand Candidate) float64
	// NewTask materializes the chosen candidate.
	NewTask(c Context, target string) *task.Task
}

// base carries the identity and scoring shared by every generator.
type base struct {
	id      ID
	effort  bool
	persons bool
	robots  bool
	// jobs multiplies the weight for agents holding a favoured job.
	jobs map[agents.Job]float64
}

func (b base) ID() ID       { return b.id }
func (b base) Name() string { return b.id.String() }

func (b base) Applies(a *agents.Agent) bool {
	if a.IsRobot() {
		return b.robots
	}
	return b.persons
}

func (b base) Score(c Context, cand Candidate) float64 {
	w := cand.Weight
	if b.effort {
		w *= c.Agent.Condition.Performance
	}
	if f, ok := b.jobs[c.Agent.Job]; ok {
		w *= f
	}
	return w
}

// newTask stamps the generator name and effort flag on a task.
func (b base) newTask(name, description string, steps ...task.Step) *task.Task {
	t := task.New(name, description, steps...).WithMeta(b.Name())
	if b.effort {
		t.EffortDriven()
	}
	return t
}

// single wraps a plain weight as the only candidate of a simple generator.
func single(m MetaTask, weight float64) []Candidate {
	if weight <= 0 {
		return nil
	}
	return []Candidate{{Meta: m, Weight: weight}}
}
