package mission

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/bus"
	"github.com/talgya/colony/internal/config"
	"github.com/talgya/colony/internal/entropy"
	"github.com/talgya/colony/internal/mathx"
	"github.com/talgya/colony/internal/sim"
	"github.com/talgya/colony/internal/social"
)

var (
	ErrPhaseRegression = errors.New("mission: phase already visited")
	ErrMissionDone     = errors.New("mission: mission has ended")
	ErrNoPhase         = errors.New("mission: mission has no phase")
	ErrCapacity        = errors.New("mission: mission is at capacity")

	// ErrNoNextPhase leaves a mission stuck in its current phase.
	ErrNoNextPhase = errors.New("mission: no next phase")
	// ErrMissionComplete ends a mission that has run all its phases.
	ErrMissionComplete = errors.New("mission: all phases complete")
)

// Type tags the kind of mission.
type Type string

const (
	TypeExploration  Type = "Exploration"
	TypeConstruction Type = "Construction"
)

// Behavior supplies what differs between kinds of mission.
type Behavior interface {
	Type() Type
	PreferredJobs() []agents.Job
	AcceptsRobots() bool
	IsVehicleMission() bool
	// Prepare claims resources before recruitment. A non-zero flag ends the
	// mission with that status.
	Prepare(m *Mission) StatusFlag
	// DetermineNewPhase picks the phase after the current one.
	// ErrNoNextPhase leaves the mission stuck; ErrMissionComplete ends it.
	DetermineNewPhase(m *Mission) (Phase, error)
	// Subject names what phase p is about, for its description.
	Subject(m *Mission, p Phase) string
	// PerformPhase executes the current operational phase for one member.
	PerformPhase(m *Mission, member *agents.Agent)
	// Finish releases resources once the mission has ended.
	Finish(m *Mission)
}

// Roster answers questions about who lives where.
type Roster interface {
	// Agents returns the agents homed at a settlement, or everyone for 0.
	Agents(settlementID uint64) []*agents.Agent
	Population(settlementID uint64) int
	SettlementName(settlementID uint64) string
}

// Designations numbers missions per settlement and type.
type Designations interface {
	NextOrdinal(settlementID uint64, t Type) int
}

// Env bundles a mission's collaborators.
type Env struct {
	Ctx          *sim.Context
	Config       config.MissionConfig
	Roster       Roster
	Likability   social.Likability
	Fleet        *social.Fleet
	Designations Designations
}

// LogEntry is one line of a mission's log.
type LogEntry struct {
	Time  sim.Time `json:"time"`
	Pulse uint64   `json:"pulse"`
	Phase string   `json:"phase"`
	Entry string   `json:"entry"`
}

// Options sizes a new mission.
type Options struct {
	Capacity     int
	Priority     int
	SettlementID uint64
}

// Mission is a multi-agent undertaking. The simulation goroutine mutates it;
// readers on other goroutines use the accessors, which copy.
type Mission struct {
	mu sync.RWMutex

	id          uint64
	name        string
	designation string
	behavior    Behavior
	env         *Env
	log         *slog.Logger

	settlementID uint64
	capacity     int
	priority     int
	starter      *agents.Agent
	vehicleID    uint64

	phase      Phase
	hasPhase   bool
	subject    string
	phaseEnded bool
	stuck      bool
	visited    []Phase

	flags   StatusSet
	aborted bool
	done    bool

	signedUp []*agents.Agent
	active   map[agents.AgentID]*agents.Agent
	planning *Planning
	entries  []LogEntry

	started sim.Time
	ended   sim.Time
}

// New creates a mission that has not started. starter becomes its lead but
// is not yet a member.
func New(id uint64, b Behavior, starter *agents.Agent, env *Env, opts Options) *Mission {
	if env.Ctx == nil {
		env.Ctx = sim.NewContext(nil, nil, nil, nil)
	}
	if opts.SettlementID == 0 && starter != nil {
		opts.SettlementID = starter.Location.SettlementID
	}
	if opts.Capacity < 1 {
		opts.Capacity = 1
	}
	name := fmt.Sprintf("%s #%d", b.Type(), id)
	log := env.Ctx.Log
	if log == nil {
		log = slog.Default()
	}
	return &Mission{
		id:           id,
		name:         name,
		behavior:     b,
		env:          env,
		log:          log.With("mission", name, "mission_id", id),
		settlementID: opts.SettlementID,
		capacity:     opts.Capacity,
		priority:     mathx.Clamp(opts.Priority, 1, 5),
		starter:      starter,
		active:       make(map[agents.AgentID]*agents.Agent),
		started:      env.now(),
	}
}

func (e *Env) now() sim.Time {
	if e.Ctx == nil || e.Ctx.Clock == nil {
		return 0
	}
	return e.Ctx.Clock.Now()
}

func (e *Env) pulse() uint64 {
	if e.Ctx == nil || e.Ctx.Clock == nil {
		return 0
	}
	return e.Ctx.Clock.CurrentPulseID()
}

func (e *Env) likability(a, b agents.AgentID) float64 {
	if e.Likability == nil {
		return social.DefaultLikability
	}
	return e.Likability.Likability(uint64(a), uint64(b))
}

func (m *Mission) ID() uint64             { return m.id }
func (m *Mission) Type() Type             { return m.behavior.Type() }
func (m *Mission) Behavior() Behavior     { return m.behavior }
func (m *Mission) SettlementID() uint64   { return m.settlementID }
func (m *Mission) Starter() *agents.Agent { return m.starter }
func (m *Mission) Env() *Env              { return m.env }
func (m *Mission) Logger() *slog.Logger   { return m.log }

// Name returns the designation once approved, the provisional name before.
func (m *Mission) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.designation != "" {
		return m.designation
	}
	return m.name
}

// Phase returns the current phase; ok is false before the mission starts.
func (m *Mission) Phase() (Phase, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase, m.hasPhase
}

// PhaseDescription renders the current phase, or "" before start.
func (m *Mission) PhaseDescription() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.hasPhase {
		return ""
	}
	return m.phase.Describe(m.subject)
}

// PhaseEnded reports whether the current phase has finished its work.
func (m *Mission) PhaseEnded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phaseEnded
}

// Visited returns the phases entered so far, in order.
func (m *Mission) Visited() []Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Phase, len(m.visited))
	copy(out, m.visited)
	return out
}

// Flags returns the mission's status flags.
func (m *Mission) Flags() StatusSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flags
}

// IsDone reports whether the mission has ended.
func (m *Mission) IsDone() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// Capacity is the most active members the mission may hold.
func (m *Mission) Capacity() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.capacity
}

// SetCapacity changes the capacity. It never drops below the current
// member count.
func (m *Mission) SetCapacity(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capacity = max(n, len(m.active), 1)
}

func (m *Mission) Priority() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.priority
}

// VehicleID is the vehicle the mission holds, 0 if none.
func (m *Mission) VehicleID() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vehicleID
}

// SetVehicle records the vehicle held by the mission.
func (m *Mission) SetVehicle(id uint64) {
	m.mu.Lock()
	m.vehicleID = id
	m.mu.Unlock()
}

// Members returns the active members in id order.
func (m *Mission) Members() []*agents.Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.membersLocked()
}

func (m *Mission) membersLocked() []*agents.Agent {
	out := make([]*agents.Agent, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MemberCount returns the number of active members.
func (m *Mission) MemberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// IsMember reports whether a is an active member.
func (m *Mission) IsMember(id agents.AgentID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.active[id]
	return ok
}

// SignedUp returns everyone who ever joined, in join order.
func (m *Mission) SignedUp() []*agents.Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*agents.Agent, len(m.signedUp))
	copy(out, m.signedUp)
	return out
}

// Log returns a copy of the mission log.
func (m *Mission) Log() []LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]LogEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Planning returns the review record, if the mission has one.
func (m *Mission) Planning() (PlanningView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.planning == nil {
		return PlanningView{}, false
	}
	return m.planning.view(), true
}

// AddLog appends a line to the mission log.
func (m *Mission) AddLog(entry string) {
	m.mu.Lock()
	m.addLogLocked(entry)
	m.mu.Unlock()
}

func (m *Mission) addLogLocked(entry string) {
	phase := ""
	if m.hasPhase {
		phase = m.phase.Key
	}
	m.entries = append(m.entries, LogEntry{
		Time:  m.env.now(),
		Pulse: m.env.pulse(),
		Phase: phase,
		Entry: entry,
	})
}

// AddFlag records a problem without ending the mission.
func (m *Mission) AddFlag(f StatusFlag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done || m.flags.Has(f) {
		return
	}
	m.flags = m.flags.With(f)
	m.addLogLocked("Status: " + f.String())
}

// SetPhase moves the mission forward to p. Phases are never re-entered.
func (m *Mission) SetPhase(p Phase, subject string) error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return ErrMissionDone
	}
	for _, v := range m.visited {
		if v.Key == p.Key {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrPhaseRegression, p.Key)
		}
	}
	m.visited = append(m.visited, p)
	m.phase = p
	m.hasPhase = true
	m.subject = subject
	m.phaseEnded = false
	m.stuck = false
	desc := p.Describe(subject)
	m.addLogLocked(desc)
	m.mu.Unlock()

	m.log.Debug("phase changed", "phase", p.Key)
	m.publish(bus.TypePhaseChanged, 0, desc)
	return nil
}

// EndPhase marks the current phase finished; the next PerformMission call
// advances.
func (m *Mission) EndPhase() {
	m.mu.Lock()
	m.phaseEnded = true
	m.mu.Unlock()
}

// StartReview attaches a fresh plan review and enters Reviewing.
func (m *Mission) StartReview() error {
	pop := 0
	if m.env.Roster != nil {
		pop = m.env.Roster.Population(m.settlementID)
	}
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return ErrMissionDone
	}
	m.planning = newPlanning(m.starter, m.env.now(),
		config.Lookup(m.env.Config.ReviewerBands, pop), m.env.Config.ReviewThreshold)
	m.mu.Unlock()
	return m.SetPhase(PhaseReviewing, "")
}

// PerformMission is called once per pulse by every active member.
func (m *Mission) PerformMission(member *agents.Agent) {
	m.mu.RLock()
	done, has, ended, phase := m.done, m.hasPhase, m.phaseEnded, m.phase
	m.mu.RUnlock()

	if done {
		return
	}
	if !has {
		m.log.Warn("mission has no phase", "member", member.Name, "error", ErrNoPhase)
		return
	}
	if ended {
		next, err := m.behavior.DetermineNewPhase(m)
		switch {
		case errors.Is(err, ErrMissionComplete):
			m.EndMission(0)
			return
		case err != nil:
			m.markStuck(err)
			return
		}
		if err := m.SetPhase(next, m.behavior.Subject(m, next)); err != nil {
			m.markStuck(err)
			return
		}
		phase = next
	}
	if phase.Key == PhaseReviewing.Key {
		m.performReviewing()
		return
	}
	m.behavior.PerformPhase(m, member)
}

// markStuck surfaces a phase that cannot advance, once per phase.
func (m *Mission) markStuck(err error) {
	m.mu.Lock()
	first := !m.stuck
	m.stuck = true
	if first {
		m.addLogLocked("Stuck: " + err.Error())
	}
	m.mu.Unlock()
	if first {
		m.log.Warn("mission cannot advance", "error", err)
	}
}

// IsStuck reports whether the mission failed to find its next phase.
func (m *Mission) IsStuck() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stuck
}

func (m *Mission) performReviewing() {
	m.mu.Lock()
	if m.planning == nil || m.phaseEnded {
		m.mu.Unlock()
		return
	}
	switch m.planning.status {
	case PlanningNotApproved:
		m.mu.Unlock()
		m.EndMission(StatusNotApproved)
	case PlanningApproved:
		m.designation = m.designate()
		if !m.behavior.IsVehicleMission() {
			for _, a := range m.active {
				a.Shift = agents.ShiftOnCall
			}
		}
		m.phaseEnded = true
		m.addLogLocked("Approved as " + m.designation)
		name := m.designation
		m.mu.Unlock()
		m.log.Info("mission approved", "designation", name)
		m.publish(bus.TypeMissionStarted, 0, name)
	default:
		m.mu.Unlock()
	}
}

// designate builds the human-readable name, such as
// "Bradbury Base 3rd Exploration".
func (m *Mission) designate() string {
	n := int(m.id)
	if m.env.Designations != nil {
		n = m.env.Designations.NextOrdinal(m.settlementID, m.behavior.Type())
	}
	place := ""
	if m.env.Roster != nil {
		place = m.env.Roster.SettlementName(m.settlementID)
	}
	if place == "" {
		return fmt.Sprintf("%s %s", humanize.Ordinal(n), m.behavior.Type())
	}
	return fmt.Sprintf("%s %s %s", place, humanize.Ordinal(n), m.behavior.Type())
}

// decide records the governance outcome for a pending plan.
func (m *Mission) decide(s PlanningStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done || m.planning == nil || m.planning.status != PlanningPending {
		return false
	}
	m.planning.status = s
	m.addLogLocked(fmt.Sprintf("Plan %s with score %.1f", s, m.planning.score))
	return true
}

// Abort ends the mission as aborted. A zero flag records a user abort.
func (m *Mission) Abort(f StatusFlag) bool {
	if f == 0 {
		f = StatusUserAborted
	}
	m.mu.Lock()
	if !m.done {
		m.aborted = true
	}
	m.mu.Unlock()
	return m.EndMission(f)
}

// EndMission finishes the mission, recording f if non-zero. It reports
// whether this call ended it; later calls only log a warning.
func (m *Mission) EndMission(f StatusFlag) bool {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		m.log.Warn("mission already ended", "status", f.String())
		return false
	}
	m.done = true
	if f != 0 {
		m.flags = m.flags.With(f)
	}
	reward := false
	if m.flags.Empty() && !m.aborted {
		m.flags = m.flags.With(StatusAccomplished)
		reward = true
	}
	final := PhaseAborted
	if m.flags.Only(StatusAccomplished) {
		final = PhaseCompleted
	}
	m.visited = append(m.visited, final)
	m.phase = final
	m.hasPhase = true
	m.subject = ""
	m.phaseEnded = true
	m.ended = m.env.now()
	flags := m.flags
	m.addLogLocked("Ended: " + flags.String())
	members := m.membersLocked()
	m.active = make(map[agents.AgentID]*agents.Agent)
	m.mu.Unlock()

	if reward {
		m.reward(members)
	}
	for _, a := range members {
		m.release(a)
		m.publish(bus.TypeMemberLeft, uint64(a.ID), a.Name)
	}
	m.behavior.Finish(m)
	m.log.Info("mission ended", "phase", final.Key, "status", flags.String(), "members", len(members))
	m.publish(bus.TypeMissionEnded, 0, final.Key+": "+flags.String())
	return true
}

func (m *Mission) reward(members []*agents.Agent) {
	cfg := m.env.Config.Reward
	kind := string(m.behavior.Type())
	for _, a := range members {
		amount := cfg.Member
		if m.starter != nil && a.ID == m.starter.ID {
			amount = cfg.Lead
		}
		if a.HasMedicalProblem() {
			amount *= cfg.IllFactor
		}
		a.AddMissionExperience(kind, amount)
	}
}

// release detaches a from the mission and puts it back on its normal shift.
func (m *Mission) release(a *agents.Agent) {
	if a.MissionID == m.id {
		a.MissionID = 0
	}
	a.Shift = agents.ShiftOn
	if v := m.VehicleID(); v != 0 && a.Location.VehicleID == v {
		a.Location.VehicleID = 0
		a.Location.SettlementID = a.HomeSettlementID
		a.Location.Outside = false
	}
}

// AddMember makes a an active member.
func (m *Mission) AddMember(a *agents.Agent) error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return ErrMissionDone
	}
	if _, ok := m.active[a.ID]; ok {
		m.mu.Unlock()
		return nil
	}
	if len(m.active) >= m.capacity {
		m.mu.Unlock()
		return fmt.Errorf("%w (%d)", ErrCapacity, m.capacity)
	}
	m.active[a.ID] = a
	signed := false
	for _, s := range m.signedUp {
		if s.ID == a.ID {
			signed = true
			break
		}
	}
	if !signed {
		m.signedUp = append(m.signedUp, a)
	}
	a.MissionID = m.id
	m.addLogLocked(a.Name + " joined")
	m.mu.Unlock()

	m.publish(bus.TypeMemberJoined, uint64(a.ID), a.Name)
	return nil
}

// RemoveMember drops a from the active members. It stays signed up.
func (m *Mission) RemoveMember(a *agents.Agent) {
	m.mu.Lock()
	if _, ok := m.active[a.ID]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.active, a.ID)
	m.addLogLocked(a.Name + " left")
	m.mu.Unlock()

	m.release(a)
	m.publish(bus.TypeMemberLeft, uint64(a.ID), a.Name)
}

// Qualification scores how fit a is for this mission. Zero means unfit.
func (m *Mission) Qualification(a *agents.Agent) float64 {
	if a.IsRobot() && !m.behavior.AcceptsRobots() {
		return 0
	}
	r := math.Max(5, a.MissionExperience(string(m.behavior.Type())))
	factor := 0.5
	for _, j := range m.behavior.PreferredJobs() {
		if a.Job == j {
			factor = 1
			break
		}
	}
	return r + 2*r*factor
}

type recruit struct {
	agent *agents.Agent
	qual  float64
	score float64
}

// RecruitMembers fills the mission from the starter's settlement, or from
// every settlement when sameSettlement is false. It reports false, after
// ending the mission, when the minimum crew could not be reached.
func (m *Mission) RecruitMembers(sameSettlement bool) bool {
	cfg := m.env.Config
	if m.env.Roster == nil {
		m.EndMission(StatusNotEnoughMembers)
		return false
	}
	from := m.settlementID
	if !sameSettlement {
		from = 0
	}

	var pool []recruit
	for _, a := range m.env.Roster.Agents(from) {
		if (m.starter != nil && a.ID == m.starter.ID) || a.OnMission() || a.HasSeriousMedicalProblem() {
			continue
		}
		q := m.Qualification(a)
		if q <= 0 {
			continue
		}
		like := social.DefaultLikability
		if m.starter != nil {
			like = m.env.likability(m.starter.ID, a.ID)
		}
		pool = append(pool, recruit{agent: a, qual: q, score: (q*100 + like) / 2})
	}
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].score != pool[j].score {
			return pool[i].score > pool[j].score
		}
		return pool[i].agent.ID < pool[j].agent.ID
	})

	rng := m.env.Ctx.Rand
	ceiling := config.Lookup(cfg.RecruitBands, m.env.Roster.Population(m.settlementID))
	if ceiling >= 5 && entropy.Chance(rng, cfg.CeilingDropChance) {
		ceiling--
	}
	ceiling = min(ceiling, m.Capacity())

	for _, c := range pool {
		if m.MemberCount() >= ceiling {
			break
		}
		p := m.acceptance(c.agent, c.qual)
		if rng.Float64()*100 >= p {
			m.log.Debug("candidate declined", "agent", c.agent.Name, "chance", p)
			continue
		}
		if err := m.AddMember(c.agent); err != nil {
			m.log.Debug("candidate not added", "agent", c.agent.Name, "error", err)
		}
	}

	if n := m.MemberCount(); n < cfg.MinMembers {
		m.log.Info("not enough members", "members", n, "minimum", cfg.MinMembers, "pool", len(pool))
		m.EndMission(StatusNotEnoughMembers)
		return false
	}
	return true
}

// acceptance is the percent chance that a agrees to join.
func (m *Mission) acceptance(a *agents.Agent, qual float64) float64 {
	recruiter := social.DefaultLikability
	if m.starter != nil {
		recruiter = m.env.likability(m.starter.ID, a.ID)
	}
	var ids []uint64
	for _, mem := range m.Members() {
		ids = append(ids, uint64(mem.ID))
	}
	crew := social.DefaultLikability
	if m.env.Likability != nil {
		crew = social.AverageLikability(m.env.Likability, uint64(a.ID), ids)
	}
	return mathx.Clamp((math.Min(100, qual*5)+recruiter+crew)/3, 0, 100)
}

// ReviewTarget names the plan for review tasks.
func (m *Mission) ReviewTarget() string { return m.Name() }

// CanReview reports whether a may review the plan now.
func (m *Mission) CanReview(a *agents.Agent) bool {
	if a.IsRobot() {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.done || m.planning == nil || m.phase.Key != PhaseReviewing.Key {
		return false
	}
	return m.planning.canReview(a.ID) == nil
}

// Review adds a's review of the plan. The score blends a's opinion of the
// requester with the crew's qualification.
func (m *Mission) Review(a *agents.Agent) error {
	members := m.Members()
	quality := 0.0
	for _, mem := range members {
		quality += m.Qualification(mem)
	}
	if len(members) > 0 {
		quality = math.Min(100, quality/float64(len(members))*5)
	}

	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return ErrMissionDone
	}
	if m.planning == nil || m.phase.Key != PhaseReviewing.Key {
		m.mu.Unlock()
		return ErrPlanningClosed
	}
	like := m.env.likability(a.ID, m.planning.requester)
	noise := m.env.Ctx.Rand.Float64()*20 - 10
	score := mathx.Clamp(0.5*like+0.5*quality+noise, 0, 100)
	if err := m.planning.addReview(a.ID, score); err != nil {
		m.mu.Unlock()
		return err
	}
	m.addLogLocked(fmt.Sprintf("%s reviewed the plan (%.0f)", a.Name, score))
	m.mu.Unlock()

	m.publish(bus.TypeReview, uint64(a.ID), fmt.Sprintf("%.0f", score))
	return nil
}

func (m *Mission) publish(t bus.Type, agentID uint64, detail string) {
	m.env.Ctx.Publish(bus.Event{Type: t, AgentID: agentID, MissionID: m.id, Detail: detail})
}
