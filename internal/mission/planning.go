package mission

import (
	"errors"
	"fmt"
	"sort"

	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/sim"
)

// PlanningStatus is the outcome of a plan review.
type PlanningStatus uint8

const (
	PlanningPending PlanningStatus = iota
	PlanningApproved
	PlanningNotApproved
)

func (s PlanningStatus) String() string {
	switch s {
	case PlanningApproved:
		return "approved"
	case PlanningNotApproved:
		return "not approved"
	default:
		return "pending"
	}
}

// MarshalText encodes the status by name.
func (s PlanningStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a status name.
func (s *PlanningStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "approved":
		*s = PlanningApproved
	case "not approved":
		*s = PlanningNotApproved
	default:
		*s = PlanningPending
	}
	return nil
}

var (
	// ErrReviewLimit is returned when a reviewer has used up their reviews.
	ErrReviewLimit = errors.New("mission: reviewer has reached the review limit")
	// ErrSelfReview is returned when the requester tries to review their own plan.
	ErrSelfReview = errors.New("mission: requester cannot review own plan")
	// ErrPlanningClosed is returned when the plan is no longer pending.
	ErrPlanningClosed = errors.New("mission: plan review is closed")
)

// Planning is the review record attached to a mission awaiting approval.
// It is guarded by the owning mission's lock.
type Planning struct {
	requester     agents.AgentID
	requesterRole agents.Role
	created       sim.Time
	reviewLimit   int
	reviewers     map[agents.AgentID]int
	reviews       int
	score         float64
	threshold     float64
	status        PlanningStatus
}

func newPlanning(requester *agents.Agent, created sim.Time, reviewLimit int, threshold float64) *Planning {
	if reviewLimit < 1 {
		reviewLimit = 1
	}
	return &Planning{
		requester:     requester.ID,
		requesterRole: requester.Role,
		created:       created,
		reviewLimit:   reviewLimit,
		reviewers:     make(map[agents.AgentID]int),
		threshold:     threshold,
	}
}

// canReview reports whether id may add another review.
func (p *Planning) canReview(id agents.AgentID) error {
	switch {
	case p.status != PlanningPending:
		return ErrPlanningClosed
	case id == p.requester:
		return ErrSelfReview
	case p.reviewers[id] >= p.reviewLimit:
		return fmt.Errorf("%w (%d)", ErrReviewLimit, p.reviewLimit)
	}
	return nil
}

// addReview records a score in [0, 100]; the plan score is the running mean.
func (p *Planning) addReview(id agents.AgentID, score float64) error {
	if err := p.canReview(id); err != nil {
		return err
	}
	p.reviewers[id]++
	p.reviews++
	p.score += (score - p.score) / float64(p.reviews)
	return nil
}

// PlanningView is a read-only copy of a Planning.
type PlanningView struct {
	Requester     agents.AgentID         `json:"requester"`
	RequesterRole string                 `json:"requester_role"`
	Created       sim.Time               `json:"created"`
	ReviewLimit   int                    `json:"review_limit"`
	Reviewers     map[agents.AgentID]int `json:"reviewers"`
	Reviews       int                    `json:"reviews"`
	Score         float64                `json:"score"`
	Threshold     float64                `json:"threshold"`
	Status        PlanningStatus         `json:"status"`
}

func (p *Planning) view() PlanningView {
	rv := make(map[agents.AgentID]int, len(p.reviewers))
	for k, v := range p.reviewers {
		rv[k] = v
	}
	return PlanningView{
		Requester:     p.requester,
		RequesterRole: p.requesterRole.String(),
		Created:       p.created,
		ReviewLimit:   p.reviewLimit,
		Reviewers:     rv,
		Reviews:       p.reviews,
		Score:         p.score,
		Threshold:     p.threshold,
		Status:        p.status,
	}
}

// ReviewerIDs returns the reviewers in id order.
func (v PlanningView) ReviewerIDs() []agents.AgentID {
	out := make([]agents.AgentID, 0, len(v.Reviewers))
	for id := range v.Reviewers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
