package scheduler

import (
	"sort"

	"github.com/talgya/colony/internal/sim"
)

// Entry is one line of an agent's activity history.
type Entry struct {
	Time        sim.Time `json:"time"`
	Meta        string   `json:"meta,omitempty"`
	Description string   `json:"description"`
	Phase       string   `json:"phase"`
}

// History is a rolling log of activity changes grouped by sol. Only the most
// recent sols are kept; repeated identical states collapse into one entry.
type History struct {
	keep    int
	bySol   map[int][]Entry
	sols    []int
	last    Entry
	hasLast bool
}

// NewHistory keeps at most sols sols of entries.
func NewHistory(sols int) *History {
	if sols < 1 {
		sols = 1
	}
	return &History{keep: sols, bySol: make(map[int][]Entry)}
}

// Record appends an entry unless description and phase match the previous
// one. It reports whether an entry was added.
func (h *History) Record(e Entry) bool {
	if h.hasLast && h.last.Description == e.Description && h.last.Phase == e.Phase {
		return false
	}
	sol := e.Time.Sol()
	if _, ok := h.bySol[sol]; !ok {
		h.sols = append(h.sols, sol)
		sort.Ints(h.sols)
		for len(h.sols) > h.keep {
			delete(h.bySol, h.sols[0])
			h.sols = h.sols[1:]
		}
		if !containsInt(h.sols, sol) {
			// Older than everything retained.
			return false
		}
	}
	h.bySol[sol] = append(h.bySol[sol], e)
	h.last = e
	h.hasLast = true
	return true
}

// Last returns the most recently recorded entry.
func (h *History) Last() (Entry, bool) { return h.last, h.hasLast }

// Sols returns the retained sol numbers, oldest first.
func (h *History) Sols() []int {
	out := make([]int, len(h.sols))
	copy(out, h.sols)
	return out
}

// Sol returns the entries recorded during sol.
func (h *History) Sol(sol int) []Entry {
	out := make([]Entry, len(h.bySol[sol]))
	copy(out, h.bySol[sol])
	return out
}

// All returns every retained entry in order.
func (h *History) All() []Entry {
	var out []Entry
	for _, s := range h.sols {
		out = append(out, h.bySol[s]...)
	}
	return out
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	n := 0
	for _, s := range h.sols {
		n += len(h.bySol[s])
	}
	return n
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
