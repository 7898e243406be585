package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/bus"
	"github.com/talgya/colony/internal/meta"
	"github.com/talgya/colony/internal/sim"
	"github.com/talgya/colony/internal/task"
)

// ErrPendingFull is returned when the pending queue is at capacity.
var ErrPendingFull = errors.New("scheduler: pending queue is full")

// maxPerformLoops bounds the frame push/pop iterations within one pulse.
const maxPerformLoops = 32

// Environment supplies what an agent can see when choosing work. Agent and
// Now are filled in by the Manager.
type Environment interface {
	MetaContext(a *agents.Agent) meta.Context
}

// EnvironmentFunc adapts a plain function to Environment.
type EnvironmentFunc func(a *agents.Agent) meta.Context

func (f EnvironmentFunc) MetaContext(a *agents.Agent) meta.Context { return f(a) }

// Options sizes a Manager.
type Options struct {
	RebuildWindow sim.Duration
	HistorySols   int
	MaxPending    int
}

// Pending is an explicitly requested activity waiting to be started.
type Pending struct {
	Meta   meta.MetaTask
	Target string
}

// Manager is one agent's scheduler. The simulation goroutine drives it; the
// accessors may be called from any goroutine.
type Manager struct {
	mu sync.RWMutex

	agent   *agents.Agent
	ctx     *sim.Context
	reg     *meta.Registry
	env     Environment
	rng     *rand.Rand
	cache   *Cache
	history *History
	stack   task.Stack
	last    *task.Task
	pending []Pending
	max     int
	log     *slog.Logger

	// events queued under the lock, published after it is released
	outbox []bus.Event
}

// NewManager creates a scheduler for a. A nil env gives generators an empty
// surroundings context.
func NewManager(a *agents.Agent, ctx *sim.Context, reg *meta.Registry, env Environment, opts Options) *Manager {
	if opts.MaxPending <= 0 {
		opts.MaxPending = 10
	}
	log := slog.Default()
	if ctx != nil && ctx.Log != nil {
		log = ctx.Log
	}
	var rng *rand.Rand
	if ctx != nil && ctx.Rand != nil {
		rng = ctx.Rand
	} else {
		rng = rand.New(rand.NewSource(int64(a.ID)))
	}
	return &Manager{
		agent:   a,
		ctx:     ctx,
		reg:     reg,
		env:     env,
		rng:     rng,
		cache:   NewCache(opts.RebuildWindow),
		history: NewHistory(opts.HistorySols),
		max:     opts.MaxPending,
		log:     log.With("agent", a.Name, "agent_id", a.ID),
	}
}

// Agent returns the agent this scheduler drives.
func (m *Manager) Agent() *agents.Agent { return m.agent }

// Cache exposes the candidate cache. Only the simulation goroutine may use it.
func (m *Manager) Cache() *Cache { return m.cache }

// HasActiveWork reports whether a current activity exists and is not done.
func (m *Manager) HasActiveWork() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	root := m.stack.Root()
	return root != nil && !root.IsDone()
}

// StartWork ends the current activity, if any, and installs t.
func (m *Manager) StartWork(t *task.Task) {
	m.mu.Lock()
	m.startLocked(t)
	m.unlockAndFlush()
}

// TryAddWork starts t unless the agent is asleep or outside and t repeats
// what it is already doing, or t needs effort the agent cannot give.
func (m *Manager) TryAddWork(t *task.Task) bool {
	if t == nil {
		return false
	}
	m.mu.Lock()
	if cur := m.stack.Root(); cur != nil && !cur.IsDone() &&
		cur.HasMarker(task.MarkerSleep|task.MarkerOutside) &&
		cur.Description() == t.Description() {
		m.mu.Unlock()
		return false
	}
	if t.IsEffortDriven() && m.agent.Condition.Performance <= 0 {
		m.mu.Unlock()
		return false
	}
	m.startLocked(t)
	m.unlockAndFlush()
	return true
}

// SelectAndStartNext chooses the agent's next activity and starts it. A
// queued request wins over the weighted draw. It returns the started task,
// or nil when nothing could be started.
func (m *Manager) SelectAndStartNext() *task.Task {
	m.mu.Lock()
	mc := m.metaContext()

	if m.cache.Stale(mc.Now) {
		if !m.cache.Rebuild(m.reg, mc) {
			m.log.Error("no activity candidates, substituting default", "default", m.reg.Default().Name())
		}
	}

	for len(m.pending) > 0 {
		p := m.pending[0]
		m.pending = m.pending[1:]
		t := p.Meta.NewTask(mc, p.Target)
		if t == nil || (t.IsEffortDriven() && m.agent.Condition.Performance <= 0) {
			m.log.Debug("pending request not startable", "meta", p.Meta.Name())
			continue
		}
		m.startLocked(t)
		m.unlockAndFlush()
		return t
	}

	cand, ok := m.cache.Draw(m.rng)
	if !ok {
		m.log.Error("task cache empty with zero total weight")
		m.mu.Unlock()
		return nil
	}
	t := cand.Meta.NewTask(mc, cand.Target)
	if t == nil {
		m.log.Debug("candidate produced no task, using default", "meta", cand.Meta.Name())
		t = m.reg.Default().NewTask(mc, "")
	} else if t.IsEffortDriven() && m.agent.Condition.Performance <= 0 {
		// Scores were taken while the agent could still work.
		m.log.Debug("candidate needs effort, using default", "meta", cand.Meta.Name())
		m.cache.Invalidate()
		t = m.reg.Default().NewTask(mc, "")
	}
	if t == nil {
		m.mu.Unlock()
		return nil
	}
	m.startLocked(t)
	m.unlockAndFlush()
	return t
}

// Perform spends elapsed time on the deepest running frame, opening and
// closing sub-activities as their steps require.
func (m *Manager) Perform(elapsed sim.Duration) {
	m.mu.Lock()
	for i := 0; i < maxPerformLoops; i++ {
		depth := m.stack.Len()
		if depth == 0 {
			break
		}
		cur := m.stack.At(depth - 1)
		if cur.IsDone() {
			if depth == 1 {
				break
			}
			m.stack.Pop()
			continue
		}
		left, sub := cur.Perform(m.agent, elapsed)
		elapsed = left
		if sub != nil {
			if err := m.stack.Push(sub); err != nil {
				m.log.Warn("sub-activity dropped", "task", sub.Name(), "depth", depth, "error", err)
			} else {
				m.queue(bus.TypeTaskChanged, sub.Description())
			}
			continue
		}
		if !cur.IsDone() {
			break
		}
	}
	m.recordLocked()
	m.unlockAndFlush()
}

// EndCurrent ends the current activity and every sub-activity under it.
func (m *Manager) EndCurrent() {
	m.mu.Lock()
	for i := m.stack.Len() - 1; i >= 0; i-- {
		m.stack.At(i).End()
	}
	m.unlockAndFlush()
}

// RecordHistory records the current visible state if it changed.
func (m *Manager) RecordHistory() {
	m.mu.Lock()
	m.recordLocked()
	m.mu.Unlock()
}

// AddPending queues the generator registered under name.
func (m *Manager) AddPending(name, target string) error {
	g, err := m.reg.Resolve(name)
	if err != nil {
		m.log.Error("pending request unresolved", "meta", name, "error", err)
		return err
	}
	return m.AddPendingMeta(g, target)
}

// AddPendingMeta queues g.
func (m *Manager) AddPendingMeta(g meta.MetaTask, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) >= m.max {
		return fmt.Errorf("%w: %d queued", ErrPendingFull, len(m.pending))
	}
	m.pending = append(m.pending, Pending{Meta: g, Target: target})
	return nil
}

// RemovePending drops the first queued request for name.
func (m *Manager) RemovePending(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.pending {
		if p.Meta.Name() == name {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return true
		}
	}
	return false
}

// ClearPending empties the queue.
func (m *Manager) ClearPending() {
	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()
}

// Pending returns the queued requests in order.
func (m *Manager) Pending() []Pending {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Pending, len(m.pending))
	copy(out, m.pending)
	return out
}

// PendingNames returns the generator names of the queued requests.
func (m *Manager) PendingNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, p.Meta.Name())
	}
	return out
}

// TaskName returns the name of the root activity.
func (m *Manager) TaskName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if root := m.stack.Root(); root != nil && !root.IsDone() {
		return root.Name()
	}
	return ""
}

// SubTaskName returns the name of the frame at depth (1 for the first
// sub-activity), or "".
func (m *Manager) SubTaskName(depth int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f := m.stack.At(depth); f != nil && !f.IsDone() {
		return f.Name()
	}
	return ""
}

// Description describes what the agent is doing right now.
func (m *Manager) Description() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b := m.stack.Bottom(); b != nil {
		return b.Description()
	}
	return ""
}

// Phase returns the current step of the deepest running frame.
func (m *Manager) Phase() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b := m.stack.Bottom(); b != nil {
		return b.Phase()
	}
	return ""
}

// Frames returns the running frame names, root first.
func (m *Manager) Frames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stack.Names()
}

// LastTask returns the name of the activity replaced most recently.
func (m *Manager) LastTask() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return ""
	}
	return m.last.Name()
}

// HistorySols returns the sols with recorded history.
func (m *Manager) HistorySols() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.Sols()
}

// HistoryFor returns the entries recorded during sol.
func (m *Manager) HistoryFor(sol int) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.Sol(sol)
}

// HistoryAll returns every retained history entry.
func (m *Manager) HistoryAll() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.All()
}

// RestoreHistory replays saved entries, typically after a load.
func (m *Manager) RestoreHistory(entries []Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.history.Record(e)
	}
}

// Snapshot is a consistent view of the scheduler for readers.
type Snapshot struct {
	AgentID     agents.AgentID `json:"agent_id"`
	Task        string         `json:"task"`
	Frames      []string       `json:"frames"`
	Description string         `json:"description"`
	Phase       string         `json:"phase"`
	LastTask    string         `json:"last_task,omitempty"`
	Pending     []string       `json:"pending,omitempty"`
}

// Snapshot returns the current state under a single read lock.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{AgentID: m.agent.ID, Frames: m.stack.Names()}
	if root := m.stack.Root(); root != nil && !root.IsDone() {
		s.Task = root.Name()
	}
	if b := m.stack.Bottom(); b != nil {
		s.Description = b.Description()
		s.Phase = b.Phase()
	}
	if m.last != nil {
		s.LastTask = m.last.Name()
	}
	for _, p := range m.pending {
		s.Pending = append(s.Pending, p.Meta.Name())
	}
	return s
}

func (m *Manager) startLocked(t *task.Task) {
	if root := m.stack.Root(); root != nil {
		for i := m.stack.Len() - 1; i >= 0; i-- {
			m.stack.At(i).End()
		}
		m.last = root
	}
	if t == nil {
		m.stack.Reset(nil)
		return
	}
	m.stack.Reset(t)
	m.log.Debug("activity started", "task", t.Name(), "description", t.Description())
	m.queue(bus.TypeTaskChanged, t.Description())
	m.recordLocked()
}

func (m *Manager) recordLocked() {
	b := m.stack.Bottom()
	if b == nil {
		return
	}
	m.history.Record(Entry{
		Time:        m.now(),
		Meta:        b.Meta(),
		Description: b.Description(),
		Phase:       b.Phase(),
	})
}

func (m *Manager) metaContext() meta.Context {
	var mc meta.Context
	if m.env != nil {
		mc = m.env.MetaContext(m.agent)
	}
	mc.Agent = m.agent
	mc.Now = m.now()
	return mc
}

func (m *Manager) now() sim.Time {
	if m.ctx == nil || m.ctx.Clock == nil {
		return 0
	}
	return m.ctx.Clock.Now()
}

func (m *Manager) queue(t bus.Type, detail string) {
	m.outbox = append(m.outbox, bus.Event{Type: t, AgentID: uint64(m.agent.ID), Detail: detail})
}

// unlockAndFlush releases the write lock and then publishes queued events,
// so listeners may call back into the Manager.
func (m *Manager) unlockAndFlush() {
	out := m.outbox
	m.outbox = nil
	m.mu.Unlock()
	for _, e := range out {
		m.ctx.Publish(e)
	}
}
