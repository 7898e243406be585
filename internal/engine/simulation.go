// Simulation ties together agents, schedulers, settlements and missions and
// runs them each pulse.

package engine

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/bus"
	"github.com/talgya/colony/internal/config"
	"github.com/talgya/colony/internal/entropy"
	"github.com/talgya/colony/internal/meta"
	"github.com/talgya/colony/internal/mission"
	"github.com/talgya/colony/internal/scheduler"
	"github.com/talgya/colony/internal/sim"
	"github.com/talgya/colony/internal/social"
)

// maxMissionsPerSettlement caps concurrent missions started from one place.
const maxMissionsPerSettlement = 2

// recentEventCap bounds the in-memory event feed.
const recentEventCap = 200

// State is the colony a Simulation starts from, either freshly generated or
// loaded from storage.
type State struct {
	Agents      []*agents.Agent
	Settlements []*social.Settlement
	Fleet       *social.Fleet
	Relations   *social.Relations
}

// Simulation holds the complete colony state. Pulse and Sol run on the
// stepping goroutine under the write lock; the accessors copy under the read
// lock and are safe from any goroutine. Bus listeners run inside a pulse and
// must not call back into the accessors.
type Simulation struct {
	mu sync.RWMutex

	cfg      config.Config
	ctx      *sim.Context
	clock    *sim.PulseClock
	registry *meta.Registry
	log      *slog.Logger

	Relations *social.Relations
	Fleet     *social.Fleet
	Missions  *mission.Directory
	Spawner   *agents.Spawner

	agents          []*agents.Agent
	agentIndex      map[agents.AgentID]*agents.Agent
	managers        map[agents.AgentID]*scheduler.Manager
	settlements     []*social.Settlement
	settlementIndex map[uint64]*social.Settlement

	rng       *rand.Rand
	lastPulse uint64
	stats     Stats

	eventsMu sync.Mutex
	events   []bus.Event
	unlisten func()
}

// Stats tracks aggregate colony statistics, refreshed every sol.
type Stats struct {
	Population     int     `json:"population"`
	Robots         int     `json:"robots"`
	OnMission      int     `json:"on_mission"`
	ActiveMissions int     `json:"active_missions"`
	Accomplished   int     `json:"accomplished_missions"`
	Aborted        int     `json:"aborted_missions"`
	AvgPerformance float64 `json:"avg_performance"`
	AvgFatigue     float64 `json:"avg_fatigue"`
	AvgStress      float64 `json:"avg_stress"`
}

// NewSimulation wires st into a runnable colony. ctx.Clock must be clock.
func NewSimulation(cfg config.Config, ctx *sim.Context, clock *sim.PulseClock, st State) *Simulation {
	if st.Fleet == nil {
		st.Fleet = social.NewFleet()
	}
	if st.Relations == nil {
		st.Relations = social.NewRelations()
	}
	s := &Simulation{
		cfg:             cfg,
		ctx:             ctx,
		clock:           clock,
		log:             ctx.Log.With("component", "simulation"),
		Relations:       st.Relations,
		Fleet:           st.Fleet,
		agents:          st.Agents,
		agentIndex:      make(map[agents.AgentID]*agents.Agent, len(st.Agents)),
		managers:        make(map[agents.AgentID]*scheduler.Manager, len(st.Agents)),
		settlements:     st.Settlements,
		settlementIndex: make(map[uint64]*social.Settlement, len(st.Settlements)),
		rng:             entropy.Derive(cfg.Seed, 600),
	}
	s.registry = meta.Standard(ctx.Log, meta.NewWhim(cfg.Seed, cfg.Scheduler.WhimPeriod))
	s.Missions = mission.NewDirectory(&mission.Env{
		Ctx:        ctx,
		Config:     cfg.Mission,
		Roster:     roster{s},
		Likability: s.Relations,
		Fleet:      s.Fleet,
	})

	for _, set := range s.settlements {
		s.settlementIndex[set.ID] = set
	}
	opts := scheduler.Options{
		RebuildWindow: sim.Duration(cfg.Scheduler.RebuildWindow),
		HistorySols:   cfg.Scheduler.HistorySols,
		MaxPending:    cfg.Scheduler.MaxPending,
	}
	for _, a := range s.agents {
		s.agentIndex[a.ID] = a
		s.managers[a.ID] = scheduler.NewManager(a, ctx, s.registry, s, opts)
	}
	if ctx.Bus != nil {
		s.unlisten = ctx.Bus.AddListener(s.remember)
	}
	s.refreshPopulation()
	s.updateStats()
	return s
}

// Close detaches the simulation from the event bus.
func (s *Simulation) Close() {
	if s.unlisten != nil {
		s.unlisten()
	}
}

func (s *Simulation) Config() config.Config    { return s.cfg }
func (s *Simulation) Context() *sim.Context    { return s.ctx }
func (s *Simulation) Clock() *sim.PulseClock   { return s.clock }
func (s *Simulation) Registry() *meta.Registry { return s.registry }

// Settlements returns copies of every settlement.
func (s *Simulation) Settlements() []*social.Settlement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*social.Settlement, len(s.settlements))
	for i, st := range s.settlements {
		c := *st
		out[i] = &c
	}
	return out
}

// CurrentPulse returns the most recently processed pulse id.
func (s *Simulation) CurrentPulse() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPulse
}

// Manager returns the scheduler of agent id.
func (s *Simulation) Manager(id agents.AgentID) (*scheduler.Manager, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.managers[id]
	return m, ok
}

// Pulse processes one pulse: every agent first, then every mission.
func (s *Simulation) Pulse(p sim.Pulse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPulse = p.ID

	for _, a := range s.agents {
		agents.DecayCondition(a, p.Elapsed)
	}
	for _, a := range s.agents {
		m := s.managers[a.ID]
		if !m.HasActiveWork() {
			m.SelectAndStartNext()
		}
		m.Perform(p.Elapsed)
	}

	s.Missions.Govern()
	s.Missions.Perform()
}

// Sol runs once at the start of every sol: mission starts and the daily
// report.
func (s *Simulation) Sol(sol int, p sim.Pulse) {
	s.mu.Lock()
	s.startMissions()
	s.refreshPopulation()
	s.updateStats()
	st := s.stats
	s.mu.Unlock()

	dropped := uint64(0)
	if s.ctx.Bus != nil {
		dropped = s.ctx.Bus.Dropped()
	}
	s.log.Info("sol report",
		"sol", sol,
		"time", p.Time.String(),
		"pulse", humanize.Comma(int64(p.ID)),
		"population", st.Population,
		"robots", st.Robots,
		"on_mission", st.OnMission,
		"active_missions", st.ActiveMissions,
		"accomplished", st.Accomplished,
		"aborted", st.Aborted,
		"avg_performance", fmt.Sprintf("%.3f", st.AvgPerformance),
		"avg_stress", fmt.Sprintf("%.1f", st.AvgStress),
		"events_dropped", dropped,
	)
}

// MetaContext describes what a can see when choosing work. It is called by
// the schedulers during a pulse, with the write lock already held.
func (s *Simulation) MetaContext(a *agents.Agent) meta.Context {
	c := meta.Context{
		Agent:     a,
		Reviews:   s.Missions,
		Relations: s.Relations,
	}
	if a.InSettlement() {
		c.Settlement = s.settlementIndex[a.Location.SettlementID]
	}
	for _, o := range s.agents {
		if o.ID != a.ID && o.Location == a.Location {
			c.Companions = append(c.Companions, o)
		}
	}
	return c
}

// startMissions gives each settlement a chance to launch one mission.
func (s *Simulation) startMissions() {
	cfg := s.cfg.Mission
	for _, st := range s.settlements {
		if !entropy.Chance(s.rng, cfg.StartChancePerSol) {
			continue
		}
		if len(s.Missions.BySettlement(st.ID)) >= maxMissionsPerSettlement {
			continue
		}
		free := s.freePersons(st.ID)
		if len(free) < cfg.MinMembers {
			s.log.Debug("too few free crew for a mission", "settlement", st.Name, "free", len(free))
			continue
		}
		starter := s.pickStarter(free)

		var b mission.Behavior
		capacity := 4
		if s.Fleet.Available(st.ID) > 0 {
			b = mission.NewExploration(s.rng, cfg.SiteCountWeights)
		} else {
			b = mission.NewConstruction(constructionSites[s.rng.Intn(len(constructionSites))])
			capacity = 6
		}
		m, ok := s.Missions.Launch(b, starter, mission.Options{
			Capacity:     capacity,
			Priority:     1 + s.rng.Intn(5),
			SettlementID: st.ID,
		}, true)
		if ok {
			s.log.Info("mission launched", "mission", m.Name(), "settlement", st.Name,
				"starter", starter.Name, "members", m.MemberCount())
		} else {
			s.log.Info("mission did not launch", "mission", m.Name(), "settlement", st.Name,
				"status", m.Flags().String())
		}
	}
}

var constructionSites = []string{
	"greenhouse annex", "storage shed", "lander hab", "workshop", "astronomy dome",
}

// freePersons lists the residents of settlementID who could lead or join.
func (s *Simulation) freePersons(settlementID uint64) []*agents.Agent {
	var out []*agents.Agent
	for _, a := range s.agents {
		if a.HomeSettlementID != settlementID || a.IsRobot() || a.OnMission() ||
			a.HasSeriousMedicalProblem() || !a.InSettlement() {
			continue
		}
		out = append(out, a)
	}
	return out
}

// pickStarter prefers the most senior role and breaks ties at random.
func (s *Simulation) pickStarter(free []*agents.Agent) *agents.Agent {
	best := free[0].Role
	for _, a := range free {
		if a.Role > best {
			best = a.Role
		}
	}
	var top []*agents.Agent
	for _, a := range free {
		if a.Role == best {
			top = append(top, a)
		}
	}
	return top[s.rng.Intn(len(top))]
}

func (s *Simulation) refreshPopulation() {
	counts := make(map[uint64]int, len(s.settlements))
	for _, a := range s.agents {
		if !a.IsRobot() {
			counts[a.HomeSettlementID]++
		}
	}
	for _, st := range s.settlements {
		st.Population = counts[st.ID]
	}
}

func (s *Simulation) updateStats() {
	var st Stats
	var perf, fatigue, stress float64
	for _, a := range s.agents {
		if a.IsRobot() {
			st.Robots++
		} else {
			st.Population++
			fatigue += a.Condition.Fatigue
			stress += a.Condition.Stress
		}
		if a.OnMission() {
			st.OnMission++
		}
		perf += a.Condition.Performance
	}
	if n := len(s.agents); n > 0 {
		st.AvgPerformance = perf / float64(n)
	}
	if st.Population > 0 {
		st.AvgFatigue = fatigue / float64(st.Population)
		st.AvgStress = stress / float64(st.Population)
	}
	for _, v := range s.Missions.Views() {
		switch {
		case !v.Done:
			st.ActiveMissions++
		case v.Phase == mission.PhaseCompleted.Key:
			st.Accomplished++
		default:
			st.Aborted++
		}
	}
	s.stats = st
}

// remember keeps the most recent bus events for readers.
func (s *Simulation) remember(e bus.Event) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	s.events = append(s.events, e)
	if len(s.events) > recentEventCap {
		s.events = s.events[len(s.events)-recentEventCap:]
	}
}

// roster answers the missions' population questions. Missions only call it
// during a pulse, under the simulation's write lock.
type roster struct{ s *Simulation }

func (r roster) Agents(settlementID uint64) []*agents.Agent {
	if settlementID == 0 {
		out := make([]*agents.Agent, len(r.s.agents))
		copy(out, r.s.agents)
		return out
	}
	var out []*agents.Agent
	for _, a := range r.s.agents {
		if a.HomeSettlementID == settlementID {
			out = append(out, a)
		}
	}
	return out
}

func (r roster) Population(settlementID uint64) int {
	n := 0
	for _, a := range r.s.agents {
		if a.HomeSettlementID == settlementID && !a.IsRobot() {
			n++
		}
	}
	return n
}

func (r roster) SettlementName(settlementID uint64) string {
	if st, ok := r.s.settlementIndex[settlementID]; ok {
		return st.Name
	}
	return ""
}
