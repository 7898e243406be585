package meta

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/social"
	"github.com/talgya/colony/internal/task"
)

func person(id agents.AgentID) *agents.Agent {
	a := &agents.Agent{
		ID:       id,
		Name:     "Ada",
		Kind:     agents.KindPerson,
		Job:      agents.JobEngineer,
		Location: agents.Location{SettlementID: 1},
	}
	a.Condition.Performance = 1
	return a
}

func names(cands []Candidate) map[string]bool {
	out := make(map[string]bool)
	for _, c := range cands {
		out[c.Meta.Name()] = true
	}
	return out
}

func TestParseIDRoundTrip(t *testing.T) {
	for id := IDRelax; id <= IDRecharge; id++ {
		got, err := ParseID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
}

func TestParseIDUnknown(t *testing.T) {
	_, err := ParseID("juggling")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownMetaTask))
}

func TestRegistryResolve(t *testing.T) {
	r := Standard(nil, nil)
	g, err := r.Resolve("sleep")
	require.NoError(t, err)
	assert.Equal(t, IDSleep, g.ID())

	_, err = r.Resolve("nope")
	assert.ErrorIs(t, err, ErrUnknownMetaTask)

	assert.Equal(t, IDRelax, r.Default().ID())
	all := r.All()
	require.Len(t, all, 11)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID(), all[i].ID())
	}
}

func TestRegistryAlwaysOffersDefault(t *testing.T) {
	r := Standard(nil, nil)
	a := person(1)
	a.Location = agents.Location{} // nowhere useful
	cands := r.Candidates(Context{Agent: a})
	assert.True(t, names(cands)["relax"])
}

func TestZeroPerformanceExcludesEffortDriven(t *testing.T) {
	r := Standard(nil, nil)
	a := person(1)
	a.Condition.Performance = 0
	cands := r.Candidates(Context{Agent: a})
	require.NotEmpty(t, cands)
	for _, c := range cands {
		tk := c.Meta.NewTask(Context{Agent: a}, c.Target)
		require.NotNil(t, tk)
		assert.False(t, tk.IsEffortDriven(), "%s should not be offered", c.Meta.Name())
		assert.Greater(t, c.Weight, 0.0)
	}
	assert.False(t, names(cands)["maintenance"])
}

func TestCandidatesFollowNeeds(t *testing.T) {
	r := Standard(nil, nil)
	a := person(1)
	assert.False(t, names(r.Candidates(Context{Agent: a}))["sleep"])

	a.Condition.Fatigue = 800
	a.Condition.Hunger = 700
	got := names(r.Candidates(Context{Agent: a}))
	assert.True(t, got["sleep"])
	assert.True(t, got["eat"])
}

func TestRobotsOnlyGetRobotWork(t *testing.T) {
	r := Standard(nil, nil)
	bot := person(2)
	bot.Kind = agents.KindRobot
	bot.Job = agents.JobMaker
	bot.Condition.Battery = 0.2
	got := names(r.Candidates(Context{Agent: bot}))
	assert.True(t, got["recharge"])
	assert.True(t, got["maintenance"])
	assert.False(t, got["sleep"])
	assert.False(t, got["research"])
}

func TestJobPreferenceRaisesScore(t *testing.T) {
	g := NewTendGreenhouse()
	a := person(1)
	base := g.Score(Context{Agent: a}, Candidate{Meta: g, Weight: 10})
	a.Job = agents.JobBotanist
	assert.InDelta(t, 3*base, g.Score(Context{Agent: a}, Candidate{Meta: g, Weight: 10}), 1e-9)
}

func TestConverseTargetsCompanions(t *testing.T) {
	rel := social.NewRelations()
	a, b, c := person(1), person(2), person(3)
	c.Name = "Cyd"
	rel.Set(1, 2, 100)
	rel.Set(1, 3, 25)
	g := NewConverse()
	cands := g.Candidates(Context{Agent: a, Companions: []*agents.Agent{a, b, c}, Relations: rel})
	require.Len(t, cands, 2)
	assert.Equal(t, "2", cands[0].Target)
	assert.Greater(t, cands[0].Weight, cands[1].Weight)

	tk := g.NewTask(Context{Agent: a, Companions: []*agents.Agent{b, c}, Relations: rel}, "3")
	require.NotNil(t, tk)
	assert.Equal(t, "Chatting with Cyd", tk.Description())
	left, sub := tk.Perform(a, 20)
	assert.Nil(t, sub)
	assert.InDelta(t, 5, float64(left), 1e-9)
	assert.InDelta(t, 27, rel.Likability(1, 3), 1e-9)
	assert.InDelta(t, 52, rel.Likability(3, 1), 1e-9)
}

type fakeReview struct {
	name     string
	reviewed []agents.AgentID
}

func (f *fakeReview) ReviewTarget() string { return f.name }

func (f *fakeReview) CanReview(a *agents.Agent) bool { return a.ID != 99 }

func (f *fakeReview) Review(a *agents.Agent) error {
	f.reviewed = append(f.reviewed, a.ID)
	return nil
}

func (f *fakeReview) PendingReviews(uint64) []Reviewable { return []Reviewable{f} }

func (f *fakeReview) FindReview(string) (Reviewable, bool) { return f, true }

func TestReviewMissionRecordsReview(t *testing.T) {
	board := &fakeReview{name: "Exploration #7"}
	g := NewReviewMission()
	a := person(5)
	c := Context{Agent: a, Reviews: board}

	cands := g.Candidates(c)
	require.Len(t, cands, 1)
	assert.Equal(t, "Exploration #7", cands[0].Target)

	requester := person(99)
	assert.Empty(t, g.Candidates(Context{Agent: requester, Reviews: board}))

	tk := g.NewTask(c, cands[0].Target)
	tk.Perform(a, 100)
	assert.True(t, tk.IsDone())
	assert.Equal(t, []agents.AgentID{5}, board.reviewed)
}

func TestWalkOutsideNestsThreeDeep(t *testing.T) {
	a := person(1)
	tk := NewWalkOutside().NewTask(Context{Agent: a}, "")
	assert.True(t, tk.HasMarker(task.MarkerOutside))

	var st task.Stack
	st.Reset(tk)
	_, sub := tk.Perform(a, 1)
	require.NotNil(t, sub)
	require.NoError(t, st.Push(sub))
	left, sub2 := sub.Perform(a, 10)
	require.NotNil(t, sub2)
	assert.InDelta(t, 6, float64(left), 1e-9)
	require.NoError(t, st.Push(sub2))
	assert.Equal(t, []string{"Walk outside", "Walk", "Suit up"}, st.Names())
	assert.ErrorIs(t, st.Push(task.New("x", "x")), task.ErrStackFull)
}

func TestWhimFactorBounds(t *testing.T) {
	w := NewWhim(7, 100)
	for i := 0; i < 500; i++ {
		f := w.Factor(uint64(i%13), ID(i%11+1), 0)
		assert.GreaterOrEqual(t, f, 0.75)
		assert.LessOrEqual(t, f, 1.25)
	}
	var nilWhim *Whim
	assert.Equal(t, 1.0, nilWhim.Factor(1, IDRelax, 0))
	assert.Equal(t, w.Factor(3, IDEat, 120), w.Factor(3, IDEat, 120))
}
