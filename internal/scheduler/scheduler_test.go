package scheduler

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/bus"
	"github.com/talgya/colony/internal/meta"
	"github.com/talgya/colony/internal/sim"
	"github.com/talgya/colony/internal/task"
)

// stubGen is a generator with a fixed weight that counts how often it is
// asked for candidates.
type stubGen struct {
	id     meta.ID
	weight float64
	effort bool
	calls  int
}

func (s *stubGen) ID() meta.ID                { return s.id }
func (s *stubGen) Name() string               { return s.id.String() }
func (s *stubGen) Applies(*agents.Agent) bool { return true }

func (s *stubGen) Score(_ meta.Context, c meta.Candidate) float64 { return c.Weight }

func (s *stubGen) Candidates(meta.Context) []meta.Candidate {
	s.calls++
	if s.weight <= 0 {
		return nil
	}
	return []meta.Candidate{{Meta: s, Weight: s.weight}}
}

func (s *stubGen) NewTask(_ meta.Context, _ string) *task.Task {
	t := task.New(s.id.String(), "Doing "+s.id.String(), task.Step{Name: "Working", Duration: 10}).WithMeta(s.Name())
	if s.effort {
		t.EffortDriven()
	}
	return t
}

type fixture struct {
	clock *sim.PulseClock
	ctx   *sim.Context
	agent *agents.Agent
}

func newFixture(seed int64) *fixture {
	clock := sim.NewPulseClock(0)
	a := &agents.Agent{ID: 1, Name: "Ada", Location: agents.Location{SettlementID: 1}}
	a.Condition.Performance = 1
	return &fixture{
		clock: clock,
		ctx:   sim.NewContext(clock, rand.New(rand.NewSource(seed)), bus.New(nil, 16), nil),
		agent: a,
	}
}

func (f *fixture) manager(reg *meta.Registry) *Manager {
	return NewManager(f.agent, f.ctx, reg, nil, Options{RebuildWindow: 5, HistorySols: 3, MaxPending: 2})
}

func TestCacheReusedWithinWindow(t *testing.T) {
	f := newFixture(1)
	relax := &stubGen{id: meta.IDRelax, weight: 1}
	reg := meta.NewRegistry(nil, nil, relax)
	m := f.manager(reg)

	m.SelectAndStartNext()
	assert.Equal(t, 1, relax.calls)

	f.clock.Advance(3)
	m.SelectAndStartNext()
	f.clock.Advance(2)
	m.SelectAndStartNext()
	assert.Equal(t, 1, relax.calls, "rebuilt inside the window")
	assert.Equal(t, 1, m.Cache().Rebuilds())

	f.clock.Advance(1)
	m.SelectAndStartNext()
	assert.Equal(t, 2, relax.calls)
}

func TestWeightedDrawConverges(t *testing.T) {
	a := &stubGen{id: meta.IDRelax}
	b := &stubGen{id: meta.IDSleep}
	c := NewCache(5)
	c.Freeze([]meta.Candidate{{Meta: a, Weight: 1}, {Meta: b, Weight: 3}}, 0)

	r := rand.New(rand.NewSource(42))
	const n = 20000
	hits := 0
	for i := 0; i < n; i++ {
		got, ok := c.Draw(r)
		require.True(t, ok)
		if got.Meta == b {
			hits++
		}
	}
	assert.InDelta(t, 0.75, float64(hits)/n, 0.015)
}

func TestDrawReproducible(t *testing.T) {
	gens := []*stubGen{{id: meta.IDRelax}, {id: meta.IDEat}, {id: meta.IDSleep}}
	c := NewCache(5)
	c.Freeze([]meta.Candidate{
		{Meta: gens[0], Weight: 2},
		{Meta: gens[1], Weight: 2},
		{Meta: gens[2], Weight: 5},
	}, 0)

	draw := func() []meta.ID {
		r := rand.New(rand.NewSource(9))
		var out []meta.ID
		for i := 0; i < 50; i++ {
			e, _ := c.Draw(r)
			out = append(out, e.Meta.ID())
		}
		return out
	}
	assert.Equal(t, draw(), draw())
}

func TestFreezeDropsNonPositive(t *testing.T) {
	c := NewCache(5)
	c.Freeze([]meta.Candidate{{Meta: &stubGen{id: meta.IDRelax}, Weight: 0}, {Meta: &stubGen{id: meta.IDEat}, Weight: -1}}, 0)
	assert.Equal(t, 0, c.Len())
	_, ok := c.Draw(rand.New(rand.NewSource(1)))
	assert.False(t, ok)
}

func TestEmptyCacheSubstitutesDefault(t *testing.T) {
	relax := &stubGen{id: meta.IDRelax}
	reg := meta.NewRegistry(nil, nil, relax, &stubGen{id: meta.IDEat})
	c := NewCache(5)
	ok := c.Rebuild(reg, meta.Context{Agent: &agents.Agent{ID: 1}})
	assert.False(t, ok)
	require.Equal(t, 1, c.Len())
	assert.Equal(t, 1.0, c.Total())
	assert.Equal(t, meta.IDRelax, c.Entries()[0].Meta.ID())

	f := newFixture(1)
	m := f.manager(reg)
	started := m.SelectAndStartNext()
	require.NotNil(t, started)
	assert.Equal(t, "relax", started.Meta())
}

func TestHistoryCoalesces(t *testing.T) {
	h := NewHistory(2)
	assert.True(t, h.Record(Entry{Time: 10, Description: "Eating", Phase: "Eating"}))
	assert.False(t, h.Record(Entry{Time: 11, Description: "Eating", Phase: "Eating"}))
	assert.Equal(t, 1, h.Len())

	assert.True(t, h.Record(Entry{Time: 12, Description: "Eating", Phase: "Cleaning up"}))
	assert.Equal(t, 2, h.Len())
}

func TestHistoryEvictsOldestSol(t *testing.T) {
	h := NewHistory(2)
	h.Record(Entry{Time: 100, Description: "a"})
	h.Record(Entry{Time: 1100, Description: "b"})
	h.Record(Entry{Time: 2100, Description: "c"})
	assert.Equal(t, []int{2, 3}, h.Sols())
	assert.Empty(t, h.Sol(1))
	require.Len(t, h.All(), 2)
	assert.Equal(t, "b", h.All()[0].Description)
}

func TestStartWorkEndsPrevious(t *testing.T) {
	f := newFixture(1)
	events, unsub := f.ctx.Bus.Subscribe(bus.TypeTaskChanged)
	defer unsub()

	m := f.manager(meta.NewRegistry(nil, nil, &stubGen{id: meta.IDRelax, weight: 1}))
	first := task.New("Relax", "Relaxing", task.Step{Name: "Relaxing", Duration: 10})
	second := task.New("Eat", "Eating", task.Step{Name: "Eating", Duration: 10})

	m.StartWork(first)
	assert.True(t, m.HasActiveWork())
	m.StartWork(second)
	assert.True(t, first.IsDone())
	assert.Equal(t, "Relax", m.LastTask())
	assert.Equal(t, "Eat", m.TaskName())

	e := <-events
	assert.Equal(t, "Relaxing", e.Detail)
	assert.Equal(t, uint64(1), e.AgentID)
	e = <-events
	assert.Equal(t, "Eating", e.Detail)
}

func TestTryAddWorkRejections(t *testing.T) {
	f := newFixture(1)
	m := f.manager(meta.NewRegistry(nil, nil, &stubGen{id: meta.IDRelax, weight: 1}))

	m.StartWork(task.New("Sleep", "Sleeping", task.Step{Name: "Sleeping", Duration: 100}).Mark(task.MarkerSleep))
	assert.False(t, m.TryAddWork(task.New("Sleep", "Sleeping")))
	assert.Equal(t, "Sleeping", m.Description())

	assert.True(t, m.TryAddWork(task.New("Eat", "Eating", task.Step{Name: "Eating", Duration: 5})))
	assert.Equal(t, "Eat", m.TaskName())

	f.agent.Condition.Performance = 0
	assert.False(t, m.TryAddWork(task.New("Repair", "Repairing").EffortDriven()))
	assert.True(t, m.TryAddWork(task.New("Relax", "Relaxing", task.Step{Name: "Relaxing", Duration: 5})))
}

func TestPendingPreferredOverDraw(t *testing.T) {
	f := newFixture(1)
	relax := &stubGen{id: meta.IDRelax, weight: 1000}
	eat := &stubGen{id: meta.IDEat}
	m := f.manager(meta.NewRegistry(nil, nil, relax, eat))

	require.NoError(t, m.AddPending("eat", ""))
	assert.Equal(t, []string{"eat"}, m.PendingNames())

	started := m.SelectAndStartNext()
	require.NotNil(t, started)
	assert.Equal(t, "eat", started.Name())
	assert.Empty(t, m.PendingNames())

	started = m.SelectAndStartNext()
	assert.Equal(t, "relax", started.Name())
}

func TestPendingQueueLimits(t *testing.T) {
	f := newFixture(1)
	m := f.manager(meta.NewRegistry(nil, nil, &stubGen{id: meta.IDRelax, weight: 1}, &stubGen{id: meta.IDEat}))

	assert.ErrorIs(t, m.AddPending("juggling", ""), meta.ErrUnknownMetaTask)
	require.NoError(t, m.AddPending("eat", ""))
	require.NoError(t, m.AddPending("relax", ""))
	assert.ErrorIs(t, m.AddPending("eat", ""), ErrPendingFull)

	assert.True(t, m.RemovePending("eat"))
	assert.False(t, m.RemovePending("eat"))
	assert.Equal(t, []string{"relax"}, m.PendingNames())
	m.ClearPending()
	assert.Empty(t, m.Pending())
}

func TestPendingEffortSkippedAtZeroPerformance(t *testing.T) {
	f := newFixture(1)
	relax := &stubGen{id: meta.IDRelax, weight: 1}
	work := &stubGen{id: meta.IDMaintenance, effort: true}
	m := f.manager(meta.NewRegistry(nil, nil, relax, work))
	f.agent.Condition.Performance = 0

	require.NoError(t, m.AddPending("maintenance", ""))
	started := m.SelectAndStartNext()
	require.NotNil(t, started)
	assert.Equal(t, "relax", started.Name())
}

func TestDrawnEffortFallsBackAtZeroPerformance(t *testing.T) {
	f := newFixture(1)
	relax := &stubGen{id: meta.IDRelax, weight: 1}
	work := &stubGen{id: meta.IDMaintenance, weight: 5, effort: true}
	m := f.manager(meta.NewRegistry(nil, nil, relax, work))

	// Scored while the agent was fit; performance drops inside the window.
	m.Cache().Freeze([]meta.Candidate{{Meta: work, Weight: 5}}, 0)
	f.agent.Condition.Performance = 0

	started := m.SelectAndStartNext()
	require.NotNil(t, started)
	assert.Equal(t, "relax", started.Name())
	assert.False(t, started.IsEffortDriven())
	assert.True(t, m.Cache().Stale(f.clock.Now()))
}

func TestPerformRunsSubActivities(t *testing.T) {
	f := newFixture(1)
	m := f.manager(meta.NewRegistry(nil, nil, &stubGen{id: meta.IDRelax, weight: 1}))

	walk := func(*agents.Agent) *task.Task {
		return task.New("Walk", "Walking to dining hall", task.Step{Name: "Walking", Duration: 5})
	}
	m.StartWork(task.New("Eat", "Eating a meal",
		task.Step{Name: "Looking for food", Sub: walk},
		task.Step{Name: "Eating", Duration: 10},
	))

	m.Perform(3)
	assert.Equal(t, []string{"Eat", "Walk"}, m.Frames())
	assert.Equal(t, "Walk", m.SubTaskName(1))
	assert.Equal(t, "Walking to dining hall", m.Description())
	assert.Equal(t, "Walking", m.Phase())

	m.Perform(4)
	assert.Equal(t, []string{"Eat"}, m.Frames())
	assert.Equal(t, "Eating", m.Phase())
	assert.True(t, m.HasActiveWork())

	m.Perform(8)
	assert.False(t, m.HasActiveWork())
	assert.Equal(t, "", m.Description())

	var phases []string
	for _, e := range m.HistoryAll() {
		phases = append(phases, e.Phase)
	}
	assert.Equal(t, []string{"Looking for food", "Walking", "Eating"}, phases)
}

func TestPerformStopsAtMaxDepth(t *testing.T) {
	f := newFixture(1)
	m := f.manager(meta.NewRegistry(nil, nil, &stubGen{id: meta.IDRelax, weight: 1}))

	var nest func(level int) func(*agents.Agent) *task.Task
	nest = func(level int) func(*agents.Agent) *task.Task {
		return func(*agents.Agent) *task.Task {
			return task.New("Level", "Nested", task.Step{Name: "Open", Sub: nest(level + 1)}, task.Step{Name: "Work", Duration: 1})
		}
	}
	m.StartWork(task.New("Root", "Root", task.Step{Name: "Open", Sub: nest(1)}, task.Step{Name: "Work", Duration: 1}))
	m.Perform(1)
	assert.LessOrEqual(t, len(m.Frames()), task.MaxDepth)
}

func TestSnapshot(t *testing.T) {
	f := newFixture(1)
	m := f.manager(meta.NewRegistry(nil, nil, &stubGen{id: meta.IDRelax, weight: 1}, &stubGen{id: meta.IDEat}))
	m.StartWork(task.New("Relax", "Relaxing", task.Step{Name: "Relaxing", Duration: 10}))
	require.NoError(t, m.AddPending("eat", ""))

	s := m.Snapshot()
	assert.Equal(t, agents.AgentID(1), s.AgentID)
	assert.Equal(t, "Relax", s.Task)
	assert.Equal(t, "Relaxing", s.Phase)
	assert.Equal(t, []string{"eat"}, s.Pending)
}
