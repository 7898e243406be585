package mission

import (
	"sort"
	"sync"

	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/meta"
	"github.com/talgya/colony/internal/sim"
)

type ordinalKey struct {
	settlement uint64
	kind       Type
}

// Directory allocates mission ids and indexes missions by settlement and
// vehicle. It also serves pending plans to the review activity.
type Directory struct {
	mu       sync.RWMutex
	env      *Env
	gov      *Governance
	nextID   uint64
	missions map[uint64]*Mission
	order    []uint64
	ordinals map[ordinalKey]int
	archive  []View
}

// NewDirectory creates an empty directory. It becomes env's designation
// source unless one is already set.
func NewDirectory(env *Env) *Directory {
	if env.Ctx == nil {
		env.Ctx = sim.NewContext(nil, nil, nil, nil)
	}
	d := &Directory{
		env:      env,
		nextID:   1,
		missions: make(map[uint64]*Mission),
		ordinals: make(map[ordinalKey]int),
	}
	if env.Designations == nil {
		env.Designations = d
	}
	d.gov = NewGovernance(env.Config.RequiredReviews, env.Roster, env.Ctx.Log)
	return d
}

// Env returns the collaborators handed to every mission.
func (d *Directory) Env() *Env { return d.env }

// SetNextID makes the next allocated id at least id.
func (d *Directory) SetNextID(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id > d.nextID {
		d.nextID = id
	}
}

// NextOrdinal numbers missions of type t per settlement, from 1.
func (d *Directory) NextOrdinal(settlementID uint64, t Type) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := ordinalKey{settlementID, t}
	d.ordinals[k]++
	return d.ordinals[k]
}

// SetOrdinal restores a counter saved earlier.
func (d *Directory) SetOrdinal(settlementID uint64, t Type, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ordinals[ordinalKey{settlementID, t}] = n
}

// Ordinal is a saved designation counter.
type Ordinal struct {
	SettlementID uint64 `db:"settlement_id"`
	Type         Type   `db:"type"`
	Count        int    `db:"count"`
}

// Ordinals returns every designation counter, ordered by settlement and type.
func (d *Directory) Ordinals() []Ordinal {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Ordinal, 0, len(d.ordinals))
	for k, n := range d.ordinals {
		out = append(out, Ordinal{SettlementID: k.settlement, Type: k.kind, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SettlementID != out[j].SettlementID {
			return out[i].SettlementID < out[j].SettlementID
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// Create registers a new, unstarted mission.
func (d *Directory) Create(b Behavior, starter *agents.Agent, opts Options) *Mission {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.mu.Unlock()

	m := New(id, b, starter, d.env, opts)

	d.mu.Lock()
	d.missions[id] = m
	d.order = append(d.order, id)
	d.mu.Unlock()
	return m
}

// Launch creates a mission, signs up its starter, claims resources,
// recruits a crew and opens the plan for review. It reports false when the
// mission ended before reaching review.
func (d *Directory) Launch(b Behavior, starter *agents.Agent, opts Options, sameSettlement bool) (*Mission, bool) {
	m := d.Create(b, starter, opts)
	if f := b.Prepare(m); f != 0 {
		m.EndMission(f)
		return m, false
	}
	if err := m.AddMember(starter); err != nil {
		m.log.Warn("starter could not join", "error", err)
		m.EndMission(StatusNotEnoughMembers)
		return m, false
	}
	if !m.RecruitMembers(sameSettlement) {
		return m, false
	}
	if err := m.StartReview(); err != nil {
		m.log.Warn("review not started", "error", err)
		return m, false
	}
	m.log.Info("mission planned", "members", m.MemberCount(), "capacity", m.Capacity())
	return m, true
}

// Get returns the mission with id.
func (d *Directory) Get(id uint64) (*Mission, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.missions[id]
	return m, ok
}

// All returns every mission in creation order.
func (d *Directory) All() []*Mission {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Mission, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.missions[id])
	}
	return out
}

// Active returns the missions that have not ended.
func (d *Directory) Active() []*Mission {
	var out []*Mission
	for _, m := range d.All() {
		if !m.IsDone() {
			out = append(out, m)
		}
	}
	return out
}

// BySettlement returns the active missions started from settlementID.
func (d *Directory) BySettlement(settlementID uint64) []*Mission {
	var out []*Mission
	for _, m := range d.Active() {
		if m.SettlementID() == settlementID {
			out = append(out, m)
		}
	}
	return out
}

// ByVehicle returns the active mission holding vehicleID.
func (d *Directory) ByVehicle(vehicleID uint64) (*Mission, bool) {
	if vehicleID == 0 {
		return nil, false
	}
	for _, m := range d.Active() {
		if m.VehicleID() == vehicleID {
			return m, true
		}
	}
	return nil, false
}

// PendingReviews lists the plans at settlementID still awaiting review.
func (d *Directory) PendingReviews(settlementID uint64) []meta.Reviewable {
	var out []meta.Reviewable
	for _, m := range d.BySettlement(settlementID) {
		if d.reviewable(m) {
			out = append(out, m)
		}
	}
	return out
}

// FindReview returns the pending plan named target.
func (d *Directory) FindReview(target string) (meta.Reviewable, bool) {
	for _, m := range d.Active() {
		if m.Name() == target && d.reviewable(m) {
			return m, true
		}
	}
	return nil, false
}

func (d *Directory) reviewable(m *Mission) bool {
	p, ok := m.Phase()
	if !ok || p.Key != PhaseReviewing.Key {
		return false
	}
	v, ok := m.Planning()
	return ok && v.Status == PlanningPending
}

// Govern asks the review policy to decide every plan that is ready.
func (d *Directory) Govern() {
	for _, m := range d.Active() {
		if d.reviewable(m) {
			d.gov.Evaluate(m)
		}
	}
}

// Perform lets every member of every active mission act once.
func (d *Directory) Perform() {
	for _, m := range d.Active() {
		for _, a := range m.Members() {
			m.PerformMission(a)
		}
	}
}

// Archive adds missions restored from storage. They are listed but never run.
func (d *Directory) Archive(views ...View) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.archive = append(d.archive, views...)
	for _, v := range views {
		if v.ID >= d.nextID {
			d.nextID = v.ID + 1
		}
	}
}

// Archived returns the restored missions.
func (d *Directory) Archived() []View {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]View, len(d.archive))
	copy(out, d.archive)
	return out
}

// Views returns every live and archived mission, live ones last.
func (d *Directory) Views() []View {
	out := d.Archived()
	for _, m := range d.All() {
		out = append(out, m.View())
	}
	return out
}
