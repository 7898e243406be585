// Package scheduler decides what each agent does next. A Manager owns an
// agent's cached candidate scores, its activity stack, its rolling history
// and a queue of explicitly requested work.
package scheduler

import (
	"math/rand"

	"github.com/talgya/colony/internal/meta"
	"github.com/talgya/colony/internal/sim"
)

// Cache holds an agent's scored candidates between rebuilds. Entries keep
// registry order so a seeded draw over a frozen cache is reproducible.
type Cache struct {
	window   sim.Duration
	entries  []meta.Candidate
	total    float64
	built    sim.Time
	valid    bool
	rebuilds int
}

// NewCache creates an empty cache that is stale until first rebuilt.
func NewCache(window sim.Duration) *Cache {
	return &Cache{window: window}
}

// Stale reports whether the cache must be rebuilt at now.
func (c *Cache) Stale(now sim.Time) bool {
	return !c.valid || now.Sub(c.built) > c.window
}

// Invalidate forces the next selection to rebuild.
func (c *Cache) Invalidate() { c.valid = false }

// Rebuild asks every registered generator for candidates. When nothing
// positive comes back the registry default is substituted with weight 1 and
// Rebuild reports false.
func (c *Cache) Rebuild(reg *meta.Registry, mc meta.Context) bool {
	c.set(reg.Candidates(mc), mc.Now)
	c.rebuilds++
	if len(c.entries) == 0 {
		c.entries = []meta.Candidate{{Meta: reg.Default(), Weight: 1}}
		c.total = 1
		return false
	}
	return true
}

// Freeze replaces the cache contents with entries as of now. Entries with a
// non-positive weight are dropped.
func (c *Cache) Freeze(entries []meta.Candidate, now sim.Time) {
	c.set(entries, now)
}

func (c *Cache) set(entries []meta.Candidate, now sim.Time) {
	c.entries = c.entries[:0]
	c.total = 0
	for _, e := range entries {
		if e.Meta == nil || e.Weight <= 0 {
			continue
		}
		c.entries = append(c.entries, e)
		c.total += e.Weight
	}
	c.built = now
	c.valid = true
}

// Draw picks one entry with probability weight/total.
func (c *Cache) Draw(r *rand.Rand) (meta.Candidate, bool) {
	if len(c.entries) == 0 || c.total <= 0 {
		return meta.Candidate{}, false
	}
	x := r.Float64() * c.total
	for _, e := range c.entries {
		x -= e.Weight
		if x < 0 {
			return e, true
		}
	}
	return c.entries[len(c.entries)-1], true
}

// Entries returns a copy of the current candidates.
func (c *Cache) Entries() []meta.Candidate {
	out := make([]meta.Candidate, len(c.entries))
	copy(out, c.entries)
	return out
}

// Total returns the summed weight of the entries.
func (c *Cache) Total() float64 { return c.total }

// Len returns the number of entries.
func (c *Cache) Len() int { return len(c.entries) }

// BuiltAt returns when the entries were last scored.
func (c *Cache) BuiltAt() sim.Time { return c.built }

// Rebuilds counts the rebuilds so far.
func (c *Cache) Rebuilds() int { return c.rebuilds }
