// Generators that target other agents or shared decisions. Each may produce
// several candidates, one per target.

package meta

import (
	"log/slog"
	"strconv"

	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/task"
)

// Converse chats with a companion. Liked companions are sought out more.
type Converse struct{ base }

func NewConverse() *Converse {
	return &Converse{base{id: IDConverse, persons: true}}
}

func (g *Converse) Candidates(c Context) []Candidate {
	if c.Relations == nil {
		return nil
	}
	var out []Candidate
	for _, o := range c.Companions {
		if o == nil || o.ID == c.Agent.ID || o.IsRobot() {
			continue
		}
		like := c.Relations.Likability(uint64(c.Agent.ID), uint64(o.ID))
		out = append(out, Candidate{
			Meta:   g,
			Target: strconv.FormatUint(uint64(o.ID), 10),
			Weight: like / 25,
		})
	}
	return out
}

func (g *Converse) NewTask(c Context, target string) *task.Task {
	other, err := strconv.ParseUint(target, 10, 64)
	if err != nil {
		slog.Debug("converse target unparseable", "target", target, "error", err)
		return nil
	}
	name := target
	for _, o := range c.Companions {
		if o != nil && uint64(o.ID) == other {
			name = o.Name
			break
		}
	}
	rel := c.Relations
	return g.newTask("Converse", "Chatting with "+name, task.Step{
		Name:     "Conversing",
		Duration: 15,
		Done: func(a *agents.Agent) {
			agents.Relieve(a, 0, 0, 15)
			if rel != nil {
				rel.Strengthen(uint64(a.ID), other, 2)
			}
		},
	}).WithTarget(target)
}

// ReviewMission reviews a mission plan awaiting approval. Senior staff are
// drawn to it more strongly.
type ReviewMission struct{ base }

func NewReviewMission() *ReviewMission {
	return &ReviewMission{base{id: IDReviewMission, effort: true, persons: true}}
}

func (g *ReviewMission) Candidates(c Context) []Candidate {
	a := c.Agent
	if c.Reviews == nil || !a.InSettlement() {
		return nil
	}
	var out []Candidate
	for _, r := range c.Reviews.PendingReviews(a.Location.SettlementID) {
		if !r.CanReview(a) {
			continue
		}
		out = append(out, Candidate{
			Meta:   g,
			Target: r.ReviewTarget(),
			Weight: 15 * float64(1+a.Role),
		})
	}
	return out
}

func (g *ReviewMission) NewTask(c Context, target string) *task.Task {
	board := c.Reviews
	return g.newTask("Review mission", "Reviewing "+target,
		task.Step{Name: "Reading plan", Duration: 10},
		task.Step{
			Name:     "Writing review",
			Duration: 15,
			Done: func(a *agents.Agent) {
				if board == nil {
					return
				}
				r, ok := board.FindReview(target)
				if !ok {
					return
				}
				if err := r.Review(a); err != nil {
					slog.Debug("review not recorded", "agent", a.Name, "mission", target, "error", err)
				}
			},
		},
	).WithTarget(target)
}
