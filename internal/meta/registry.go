package meta

import (
	"fmt"
	"log/slog"
	"sort"
)

// Registry is the fixed activity catalog, keyed by ID.
type Registry struct {
	byID     map[ID]MetaTask
	order    []MetaTask
	fallback MetaTask
	whim     *Whim
	log      *slog.Logger
}

// NewRegistry builds a catalog. fallback is the always-doable default and is
// registered along with gens. A nil whim disables weight modulation.
func NewRegistry(log *slog.Logger, whim *Whim, fallback MetaTask, gens ...MetaTask) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		byID:     make(map[ID]MetaTask),
		fallback: fallback,
		whim:     whim,
		log:      log.With("component", "meta"),
	}
	for _, g := range append([]MetaTask{fallback}, gens...) {
		if g == nil {
			continue
		}
		if _, dup := r.byID[g.ID()]; dup {
			r.log.Warn("duplicate generator ignored", "meta", g.Name())
			continue
		}
		r.byID[g.ID()] = g
		r.order = append(r.order, g)
	}
	sort.Slice(r.order, func(i, j int) bool { return r.order[i].ID() < r.order[j].ID() })
	return r
}

// Standard returns the colony's full catalog with Relax as the default.
func Standard(log *slog.Logger, whim *Whim) *Registry {
	return NewRegistry(log, whim, NewRelax(),
		NewSleep(),
		NewEat(),
		NewExercise(),
		NewMaintenance(),
		NewResearch(),
		NewTendGreenhouse(),
		NewWalkOutside(),
		NewConverse(),
		NewReviewMission(),
		NewRecharge(),
	)
}

// Get returns the generator for id.
func (r *Registry) Get(id ID) (MetaTask, bool) {
	g, ok := r.byID[id]
	return g, ok
}

// Resolve maps a persisted generator name to its handle.
func (r *Registry) Resolve(name string) (MetaTask, error) {
	id, err := ParseID(name)
	if err != nil {
		return nil, err
	}
	g, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not registered", ErrUnknownMetaTask, name)
	}
	return g, nil
}

// Default returns the always-available generator.
func (r *Registry) Default() MetaTask { return r.fallback }

// All returns every generator in ID order.
func (r *Registry) All() []MetaTask {
	out := make([]MetaTask, len(r.order))
	copy(out, r.order)
	return out
}

// Candidates asks every applicable generator for candidates, scores them for
// the agent and drops any with a non-positive weight. Output order follows
// generator ID order so draws are reproducible.
func (r *Registry) Candidates(c Context) []Candidate {
	var out []Candidate
	for _, g := range r.order {
		if !g.Applies(c.Agent) {
			continue
		}
		for _, cand := range g.Candidates(c) {
			if cand.Meta == nil {
				cand.Meta = g
			}
			w := g.Score(c, cand) * r.whim.Factor(uint64(c.Agent.ID), g.ID(), c.Now)
			if w <= 0 {
				continue
			}
			cand.Weight = w
			out = append(out, cand)
		}
	}
	return out
}
