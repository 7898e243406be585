package mission

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/bus"
	"github.com/talgya/colony/internal/config"
	"github.com/talgya/colony/internal/sim"
	"github.com/talgya/colony/internal/social"
)

type roster struct {
	all   []*agents.Agent
	names map[uint64]string
}

func (r *roster) Agents(settlementID uint64) []*agents.Agent {
	var out []*agents.Agent
	for _, a := range r.all {
		if settlementID == 0 || a.HomeSettlementID == settlementID {
			out = append(out, a)
		}
	}
	return out
}

func (r *roster) Population(settlementID uint64) int {
	n := 0
	for _, a := range r.Agents(settlementID) {
		if !a.IsRobot() {
			n++
		}
	}
	return n
}

func (r *roster) SettlementName(settlementID uint64) string { return r.names[settlementID] }

type harness struct {
	clock *sim.PulseClock
	env   *Env
	rel   *social.Relations
	fleet *social.Fleet
	crew  *roster
	dir   *Directory
}

func newHarness(t *testing.T, persons int, job agents.Job) *harness {
	t.Helper()
	clock := sim.NewPulseClock(0)
	h := &harness{
		clock: clock,
		rel:   social.NewRelations(),
		fleet: social.NewFleet(),
		crew:  &roster{names: map[uint64]string{1: "Schiaparelli Point"}},
	}
	for i := 1; i <= persons; i++ {
		a := &agents.Agent{
			ID:               agents.AgentID(i),
			Name:             fmt.Sprintf("crew-%02d", i),
			Job:              job,
			HomeSettlementID: 1,
			Location:         agents.Location{SettlementID: 1},
		}
		a.Condition.Performance = 1
		h.crew.all = append(h.crew.all, a)
	}
	h.env = &Env{
		Ctx:        sim.NewContext(clock, rand.New(rand.NewSource(3)), bus.New(nil, 64), nil),
		Config:     config.Default().Mission,
		Roster:     h.crew,
		Likability: h.rel,
		Fleet:      h.fleet,
	}
	h.dir = NewDirectory(h.env)
	return h
}

func (h *harness) agent(i int) *agents.Agent { return h.crew.all[i-1] }

// run advances the clock and lets every member act until the mission ends.
func (h *harness) run(t *testing.T, m *Mission, maxPulses int) {
	t.Helper()
	for i := 0; i < maxPulses && !m.IsDone(); i++ {
		h.clock.Advance(10)
		for _, a := range m.Members() {
			m.PerformMission(a)
		}
	}
	require.True(t, m.IsDone(), "mission still running at %s", m.PhaseDescription())
}

func visitedKeys(m *Mission) []string {
	var out []string
	for _, p := range m.Visited() {
		out = append(out, p.Key)
	}
	return out
}

func assertMonotonic(t *testing.T, m *Mission) {
	t.Helper()
	keys := visitedKeys(m)
	seen := make(map[string]bool)
	for _, k := range keys {
		assert.False(t, seen[k], "phase %s visited twice", k)
		seen[k] = true
	}
	require.NotEmpty(t, keys)
	last := keys[len(keys)-1]
	assert.True(t, last == PhaseCompleted.Key || last == PhaseAborted.Key)
	terminal := 0
	for _, k := range keys {
		if k == PhaseCompleted.Key || k == PhaseAborted.Key {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
}

func TestQualificationFloor(t *testing.T) {
	h := newHarness(t, 1, agents.JobBotanist)
	m := New(1, NewConstruction(""), h.agent(1), h.env, Options{Capacity: 4})
	a := &agents.Agent{ID: 9, Job: agents.JobBotanist}
	assert.Equal(t, 10.0, m.Qualification(a))

	a.Job = agents.JobConstructor
	assert.Equal(t, 15.0, m.Qualification(a))

	a.Job = agents.JobChef
	a.AddMissionExperience(string(TypeConstruction), 8)
	assert.Equal(t, 16.0, m.Qualification(a))

	bot := &agents.Agent{ID: 10, Kind: agents.KindRobot, Job: agents.JobMaker}
	assert.Equal(t, 10.0, m.Qualification(bot))
	explore := New(2, NewExploration(nil, nil), h.agent(1), h.env, Options{Capacity: 4})
	assert.Equal(t, 0.0, explore.Qualification(bot))
}

func TestEndMissionIsIdempotent(t *testing.T) {
	h := newHarness(t, 2, agents.JobConstructor)
	lead, crew := h.agent(1), h.agent(2)
	crew.Medical = agents.Medical{Problem: "sprained wrist"}
	m := New(1, NewConstruction(""), lead, h.env, Options{Capacity: 4})
	require.NoError(t, m.AddMember(lead))
	require.NoError(t, m.AddMember(crew))

	assert.True(t, m.EndMission(0))
	flags, logLen := m.Flags(), len(m.Log())
	assert.True(t, flags.Only(StatusAccomplished))
	p, _ := m.Phase()
	assert.Equal(t, PhaseCompleted, p)

	assert.False(t, m.EndMission(StatusNotApproved))
	assert.Equal(t, flags, m.Flags())
	assert.Len(t, m.Log(), logLen)
	assert.Equal(t, []string{PhaseCompleted.Key}, visitedKeys(m))

	assert.Empty(t, m.Members())
	assert.Len(t, m.SignedUp(), 2)
	assert.Equal(t, uint64(0), lead.MissionID)
	assert.Equal(t, agents.ShiftOn, crew.Shift)
	assert.Equal(t, 2.0, lead.MissionExperience(string(TypeConstruction)))
	assert.Equal(t, 0.5, crew.MissionExperience(string(TypeConstruction)))
}

func TestAbortSkipsReward(t *testing.T) {
	h := newHarness(t, 2, agents.JobConstructor)
	m := New(1, NewConstruction(""), h.agent(1), h.env, Options{Capacity: 4})
	require.NoError(t, m.AddMember(h.agent(1)))

	assert.True(t, m.Abort(0))
	assert.True(t, m.Flags().Has(StatusUserAborted))
	assert.False(t, m.Flags().Has(StatusAccomplished))
	p, _ := m.Phase()
	assert.Equal(t, PhaseAborted, p)
	assert.Zero(t, h.agent(1).MissionExperience(string(TypeConstruction)))
	assert.False(t, m.Abort(0))
}

func TestRecruitmentMinimum(t *testing.T) {
	h := newHarness(t, 1, agents.JobAreologist)
	h.crew.all = append(h.crew.all, &agents.Agent{ID: 2, Name: "RepairBot-002", Kind: agents.KindRobot, Job: agents.JobMaker, HomeSettlementID: 1})
	h.env.Config.MinMembers = 2

	m := New(1, NewExploration(nil, nil), h.agent(1), h.env, Options{Capacity: 4})
	require.NoError(t, m.AddMember(h.agent(1)))
	assert.False(t, m.RecruitMembers(true))

	assert.True(t, m.Flags().Has(StatusNotEnoughMembers))
	assert.True(t, m.IsDone())
	assert.Empty(t, m.Members())
	assert.Equal(t, uint64(0), h.agent(1).MissionID)
	p, _ := m.Phase()
	assert.Equal(t, PhaseAborted, p)
}

func TestRecruitmentMinimumCountsStarter(t *testing.T) {
	h := newHarness(t, 2, agents.JobAreologist)
	h.rel.Set(1, 2, 100)
	h.rel.Set(2, 1, 100)
	h.agent(2).AddMissionExperience(string(TypeExploration), 10)
	h.env.Config.MinMembers = 3
	h.env.Config.RecruitBands = []config.Band{{MaxPopulation: 0, Value: 4}}

	// The one qualified candidate always accepts; starter plus one is still
	// short of three.
	m := New(1, NewExploration(nil, nil), h.agent(1), h.env, Options{Capacity: 4})
	require.NoError(t, m.AddMember(h.agent(1)))
	assert.False(t, m.RecruitMembers(true))

	assert.True(t, m.Flags().Has(StatusNotEnoughMembers))
	assert.Empty(t, m.Members())
	assert.Zero(t, h.agent(1).MissionID)
	assert.Zero(t, h.agent(2).MissionID)
}

func TestRecruitmentFillsToCeiling(t *testing.T) {
	h := newHarness(t, 12, agents.JobConstructor)
	for i := 2; i <= 12; i++ {
		h.rel.Set(1, uint64(i), 100)
	}
	h.agent(5).Medical = agents.Medical{Problem: "fracture", Serious: true}
	h.agent(6).MissionID = 99

	m := New(1, NewConstruction(""), h.agent(1), h.env, Options{Capacity: 6})
	require.NoError(t, m.AddMember(h.agent(1)))
	require.True(t, m.RecruitMembers(true))

	assert.Equal(t, 4, m.MemberCount(), "population 12 caps the crew at 4")
	assert.False(t, m.IsMember(5))
	assert.False(t, m.IsMember(6))
	for _, a := range m.Members() {
		assert.Equal(t, m.ID(), a.MissionID)
	}
}

func TestRecruitmentRespectsCapacity(t *testing.T) {
	h := newHarness(t, 30, agents.JobConstructor)
	for i := 2; i <= 30; i++ {
		h.rel.Set(1, uint64(i), 100)
	}
	m := New(1, NewConstruction(""), h.agent(1), h.env, Options{Capacity: 3})
	require.NoError(t, m.AddMember(h.agent(1)))
	require.True(t, m.RecruitMembers(false))
	assert.LessOrEqual(t, m.MemberCount(), 3)
	assert.ErrorIs(t, m.AddMember(h.agent(30)), ErrCapacity)
}

func TestSetPhaseIsForwardOnly(t *testing.T) {
	h := newHarness(t, 1, agents.JobConstructor)
	m := New(1, NewConstruction(""), h.agent(1), h.env, Options{Capacity: 2})
	require.NoError(t, m.SetPhase(PhasePrepareSite, "dome"))
	require.NoError(t, m.SetPhase(PhaseConstruct, "dome"))
	assert.ErrorIs(t, m.SetPhase(PhasePrepareSite, "dome"), ErrPhaseRegression)
	assert.Equal(t, "Constructing dome", m.PhaseDescription())

	m.EndMission(StatusUserAborted)
	assert.ErrorIs(t, m.SetPhase(PhaseCleanup, "dome"), ErrMissionDone)
}

func TestPerformWithoutPhaseIsNoop(t *testing.T) {
	h := newHarness(t, 1, agents.JobConstructor)
	m := New(1, NewConstruction(""), h.agent(1), h.env, Options{Capacity: 2})
	m.PerformMission(h.agent(1))
	_, has := m.Phase()
	assert.False(t, has)
	assert.False(t, m.IsDone())
}

func TestConstructionRunsToCompletion(t *testing.T) {
	h := newHarness(t, 3, agents.JobConstructor)
	m := h.dir.Create(NewConstruction("dome"), h.agent(1), Options{Capacity: 6})
	require.NoError(t, m.AddMember(h.agent(1)))
	require.NoError(t, m.AddMember(h.agent(2)))
	require.NoError(t, m.StartReview())
	require.True(t, m.decide(PlanningApproved))

	h.clock.Advance(10)
	m.PerformMission(h.agent(1))
	assert.Equal(t, "Schiaparelli Point 1st Construction", m.Name())
	assert.Equal(t, agents.ShiftOnCall, h.agent(2).Shift)

	h.run(t, m, 500)
	assert.Equal(t, []string{"reviewing", "prepare_site", "construct", "cleanup", "completed"}, visitedKeys(m))
	assert.True(t, m.Flags().Only(StatusAccomplished))
	assertMonotonic(t, m)
	assert.Equal(t, agents.ShiftOn, h.agent(2).Shift)
}

func TestNotApprovedEndsMission(t *testing.T) {
	h := newHarness(t, 2, agents.JobConstructor)
	m := New(1, NewConstruction(""), h.agent(1), h.env, Options{Capacity: 2})
	require.NoError(t, m.AddMember(h.agent(1)))
	require.NoError(t, m.StartReview())
	require.True(t, m.decide(PlanningNotApproved))

	m.PerformMission(h.agent(1))
	assert.True(t, m.IsDone())
	assert.True(t, m.Flags().Has(StatusNotApproved))
	assert.Equal(t, []string{"reviewing", "aborted"}, visitedKeys(m))
}

func TestPlanningReviewLimits(t *testing.T) {
	h := newHarness(t, 12, agents.JobConstructor)
	m := New(1, NewConstruction(""), h.agent(1), h.env, Options{Capacity: 2})
	require.NoError(t, m.AddMember(h.agent(1)))
	require.NoError(t, m.StartReview())

	view, ok := m.Planning()
	require.True(t, ok)
	assert.Equal(t, 2, view.ReviewLimit, "population 12 allows two reviews each")

	assert.False(t, m.CanReview(h.agent(1)))
	assert.ErrorIs(t, m.Review(h.agent(1)), ErrSelfReview)

	reviewer := h.agent(3)
	require.NoError(t, m.Review(reviewer))
	require.NoError(t, m.Review(reviewer))
	assert.False(t, m.CanReview(reviewer))
	assert.ErrorIs(t, m.Review(reviewer), ErrReviewLimit)

	view, _ = m.Planning()
	assert.Equal(t, 2, view.Reviews)
	assert.Equal(t, 2, view.Reviewers[reviewer.ID])

	small := newHarness(t, 3, agents.JobConstructor)
	sm := New(1, NewConstruction(""), small.agent(1), small.env, Options{Capacity: 2})
	require.NoError(t, sm.StartReview())
	view, _ = sm.Planning()
	assert.Equal(t, 5, view.ReviewLimit)
}

func TestGovernanceDecides(t *testing.T) {
	h := newHarness(t, 12, agents.JobConstructor)
	h.rel.Set(3, 1, 100)
	h.rel.Set(4, 1, 100)
	m := h.dir.Create(NewConstruction(""), h.agent(1), Options{Capacity: 4})
	require.NoError(t, m.AddMember(h.agent(1)))
	require.NoError(t, m.StartReview())

	gov := NewGovernance(2, h.crew, nil)
	require.NoError(t, m.Review(h.agent(3)))
	assert.Equal(t, PlanningPending, gov.Evaluate(m))
	require.NoError(t, m.Review(h.agent(4)))
	assert.Equal(t, PlanningApproved, gov.Evaluate(m))

	view, _ := m.Planning()
	assert.GreaterOrEqual(t, view.Score, view.Threshold)
	assert.ErrorIs(t, m.Review(h.agent(5)), ErrPlanningClosed)
}

func TestGovernanceRejectsDisliked(t *testing.T) {
	h := newHarness(t, 12, agents.JobChef)
	h.rel.Set(3, 1, 0)
	h.rel.Set(4, 1, 0)
	m := New(1, NewConstruction(""), h.agent(1), h.env, Options{Capacity: 4})
	require.NoError(t, m.AddMember(h.agent(1)))
	require.NoError(t, m.StartReview())
	require.NoError(t, m.Review(h.agent(3)))
	require.NoError(t, m.Review(h.agent(4)))

	assert.Equal(t, PlanningNotApproved, NewGovernance(2, h.crew, nil).Evaluate(m))
}

func TestGovernanceApprovesLoneSettler(t *testing.T) {
	h := newHarness(t, 1, agents.JobConstructor)
	m := New(1, NewConstruction(""), h.agent(1), h.env, Options{Capacity: 4})
	require.NoError(t, m.StartReview())
	assert.Equal(t, PlanningApproved, NewGovernance(2, h.crew, nil).Evaluate(m))
}

func exploreHarness(t *testing.T) (*harness, *Mission) {
	t.Helper()
	h := newHarness(t, 4, agents.JobAreologist)
	h.fleet.Add(social.Vehicle{ID: 7, Name: "Rover Opportunity", SettlementID: 1, Crew: 4, TripBudget: 500})

	b := NewExploration(rand.New(rand.NewSource(1)), []float64{1})
	require.Equal(t, 1, b.Sites())
	m := h.dir.Create(b, h.agent(1), Options{Capacity: 2})
	require.Equal(t, StatusFlag(0), b.Prepare(m))
	require.NoError(t, m.AddMember(h.agent(1)))
	require.NoError(t, m.AddMember(h.agent(2)))
	require.NoError(t, m.StartReview())
	require.True(t, m.decide(PlanningApproved))
	return h, m
}

func TestExplorationRunsToCompletion(t *testing.T) {
	h, m := exploreHarness(t)
	v, _ := h.fleet.Get(7)
	assert.Equal(t, m.ID(), v.ReservedBy)
	assert.Equal(t, 4, m.Capacity())

	h.run(t, m, 500)
	assert.Equal(t, []string{"reviewing", "embarking", "travelling", "exploring", "returning", "disembarking", "completed"}, visitedKeys(m))
	assert.True(t, m.Flags().Only(StatusAccomplished))

	v, _ = h.fleet.Get(7)
	assert.Zero(t, v.ReservedBy)
	assert.Equal(t, v.TripBudget, v.Remaining)
	for _, a := range []*agents.Agent{h.agent(1), h.agent(2)} {
		assert.Zero(t, a.Location.VehicleID)
		assert.Zero(t, a.MissionID)
		assert.Greater(t, a.Skills.Areology, 0.0)
	}
}

func TestExplorationMedicalEmergency(t *testing.T) {
	h, m := exploreHarness(t)
	for i := 0; i < 50; i++ {
		h.clock.Advance(10)
		for _, a := range m.Members() {
			m.PerformMission(a)
		}
		if p, _ := m.Phase(); p.Key == PhaseTravelling.Key {
			break
		}
	}
	h.agent(2).Medical = agents.Medical{Problem: "decompression sickness", Serious: true}

	h.run(t, m, 500)
	assert.Equal(t, []string{"reviewing", "embarking", "travelling", "returning", "disembarking", "aborted"}, visitedKeys(m))
	assert.True(t, m.Flags().Has(StatusMedicalEmergency))
	assertMonotonic(t, m)
}

func TestExplorationWithoutVehicle(t *testing.T) {
	h := newHarness(t, 6, agents.JobAreologist)
	m, ok := h.dir.Launch(NewExploration(nil, nil), h.agent(1), Options{Capacity: 4}, true)
	assert.False(t, ok)
	assert.True(t, m.Flags().Has(StatusNoVehicle))
	assert.Equal(t, []string{"aborted"}, visitedKeys(m))
}

// stuckBehavior never knows what comes after review.
type stuckBehavior struct{ *Construction }

func (stuckBehavior) DetermineNewPhase(*Mission) (Phase, error) { return Phase{}, ErrNoNextPhase }

func TestStuckMissionIsSurfacedOnce(t *testing.T) {
	h := newHarness(t, 2, agents.JobConstructor)
	m := New(1, stuckBehavior{NewConstruction("")}, h.agent(1), h.env, Options{Capacity: 2})
	require.NoError(t, m.AddMember(h.agent(1)))
	require.NoError(t, m.StartReview())
	require.True(t, m.decide(PlanningApproved))

	for i := 0; i < 5; i++ {
		m.PerformMission(h.agent(1))
	}
	assert.True(t, m.IsStuck())
	assert.False(t, m.IsDone())
	stuck := 0
	for _, e := range m.Log() {
		if strings.HasPrefix(e.Entry, "Stuck") {
			stuck++
		}
	}
	assert.Equal(t, 1, stuck)
}

func TestDirectoryIndexes(t *testing.T) {
	h, m := exploreHarness(t)
	got, ok := h.dir.ByVehicle(7)
	require.True(t, ok)
	assert.Equal(t, m, got)
	assert.Len(t, h.dir.BySettlement(1), 1)

	other := h.dir.Create(NewConstruction(""), h.agent(3), Options{Capacity: 2})
	require.NoError(t, other.AddMember(h.agent(3)))
	require.NoError(t, other.StartReview())

	pending := h.dir.PendingReviews(1)
	require.Len(t, pending, 1)
	assert.Equal(t, other.Name(), pending[0].ReviewTarget())
	r, ok := h.dir.FindReview(other.Name())
	require.True(t, ok)
	assert.True(t, r.CanReview(h.agent(4)))

	assert.Equal(t, 1, h.dir.NextOrdinal(2, TypeConstruction))
	assert.Equal(t, 2, h.dir.NextOrdinal(2, TypeConstruction))
	assert.Equal(t, 1, h.dir.NextOrdinal(2, TypeExploration))
}

func TestLaunchFormsCrew(t *testing.T) {
	h := newHarness(t, 12, agents.JobConstructor)
	for i := 2; i <= 12; i++ {
		h.rel.Set(1, uint64(i), 100)
	}
	m, ok := h.dir.Launch(NewConstruction(""), h.agent(1), Options{Capacity: 6}, true)
	require.True(t, ok)
	assert.GreaterOrEqual(t, m.MemberCount(), 2)
	p, _ := m.Phase()
	assert.Equal(t, PhaseReviewing, p)
	assert.Len(t, h.dir.Active(), 1)
}

func TestEndMissionPublishes(t *testing.T) {
	h := newHarness(t, 1, agents.JobConstructor)
	events, unsub := h.env.Ctx.Bus.Subscribe(bus.TypeMissionEnded, bus.TypeMemberLeft)
	defer unsub()

	m := New(1, NewConstruction(""), h.agent(1), h.env, Options{Capacity: 2})
	require.NoError(t, m.AddMember(h.agent(1)))
	m.EndMission(0)

	e := <-events
	assert.Equal(t, bus.TypeMemberLeft, e.Type)
	e = <-events
	assert.Equal(t, bus.TypeMissionEnded, e.Type)
	assert.Equal(t, uint64(1), e.MissionID)
}
