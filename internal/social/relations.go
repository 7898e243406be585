// Pairwise likability between agents. Bonds only strengthen or sour through
// interactions recorded by activities.

package social

import (
	"sync"

	"github.com/talgya/colony/internal/mathx"
)

// DefaultLikability is reported for pairs with no recorded history.
const DefaultLikability = 50.0

// Likability reports how much agent a likes agent b, in [0, 100].
type Likability interface {
	Likability(a, b uint64) float64
}

type pair struct{ from, to uint64 }

// Relations stores directed likability scores. Safe for concurrent use.
type Relations struct {
	mu     sync.RWMutex
	scores map[pair]float64
}

// NewRelations creates an empty relation store.
func NewRelations() *Relations {
	return &Relations{scores: make(map[pair]float64)}
}

// Likability returns a's opinion of b, or DefaultLikability if unknown.
func (r *Relations) Likability(a, b uint64) float64 {
	if a == b {
		return 100
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.scores[pair{a, b}]; ok {
		return v
	}
	return DefaultLikability
}

// Set records a's opinion of b.
func (r *Relations) Set(a, b uint64, v float64) {
	r.mu.Lock()
	r.scores[pair{a, b}] = mathx.Clamp(v, 0, 100)
	r.mu.Unlock()
}

// Adjust shifts a's opinion of b by delta.
func (r *Relations) Adjust(a, b uint64, delta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := pair{a, b}
	v, ok := r.scores[k]
	if !ok {
		v = DefaultLikability
	}
	r.scores[k] = mathx.Clamp(v+delta, 0, 100)
}

// Strengthen improves the bond in both directions after a pleasant
// interaction.
func (r *Relations) Strengthen(a, b uint64, delta float64) {
	r.Adjust(a, b, delta)
	r.Adjust(b, a, delta)
}

// Opinion is one directed likability entry.
type Opinion struct {
	From  uint64  `json:"from" db:"from_id"`
	To    uint64  `json:"to" db:"to_id"`
	Value float64 `json:"value" db:"value"`
}

// Snapshot copies every recorded opinion.
func (r *Relations) Snapshot() []Opinion {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Opinion, 0, len(r.scores))
	for k, v := range r.scores {
		out = append(out, Opinion{From: k.from, To: k.to, Value: v})
	}
	return out
}

// AverageLikability is the mean opinion of subject toward each of others.
// It returns DefaultLikability when others is empty.
func AverageLikability(l Likability, subject uint64, others []uint64) float64 {
	total, n := 0.0, 0
	for _, o := range others {
		if o == subject {
			continue
		}
		total += l.Likability(subject, o)
		n++
	}
	if n == 0 {
		return DefaultLikability
	}
	return total / float64(n)
}
