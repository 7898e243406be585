package mission

import "log/slog"

// Governance decides plan reviews. A plan is decided once enough reviews
// are in: approved when the mean score reaches the threshold, rejected
// otherwise. A settlement with nobody else to review approves its own plans.
type Governance struct {
	required int
	roster   Roster
	log      *slog.Logger
}

// NewGovernance creates the default review policy.
func NewGovernance(required int, roster Roster, log *slog.Logger) *Governance {
	if log == nil {
		log = slog.Default()
	}
	if required < 1 {
		required = 1
	}
	return &Governance{required: required, roster: roster, log: log.With("component", "governance")}
}

// Evaluate decides m's plan if it is ready and returns the resulting status.
func (g *Governance) Evaluate(m *Mission) PlanningStatus {
	view, ok := m.Planning()
	if !ok || m.IsDone() {
		return PlanningPending
	}
	if p, _ := m.Phase(); p.Key != PhaseReviewing.Key || view.Status != PlanningPending {
		return view.Status
	}

	eligible := 0
	if g.roster != nil {
		eligible = g.roster.Population(m.SettlementID()) - 1
	}
	needed := min(g.required, eligible*view.ReviewLimit)

	var decision PlanningStatus
	switch {
	case needed <= 0:
		decision = PlanningApproved
	case view.Reviews < needed:
		return PlanningPending
	case view.Score >= view.Threshold:
		decision = PlanningApproved
	default:
		decision = PlanningNotApproved
	}
	if m.decide(decision) {
		g.log.Info("plan decided", "mission", m.Name(), "status", decision.String(),
			"score", view.Score, "reviews", view.Reviews)
	}
	return decision
}
