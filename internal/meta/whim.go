package meta

import (
	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/colony/internal/sim"
)

// Whim modulates generator weights with smooth noise over time, so an agent
// drifts between preferences instead of flipping every pulse. Two agents at
// the same instant sample different parts of the field.
type Whim struct {
	noise     opensimplex.Noise
	period    float64
	amplitude float64
}

// NewWhim creates a noise field. period is the number of millisols over which
// a preference drifts noticeably.
func NewWhim(seed int64, period float64) *Whim {
	if period <= 0 {
		period = 250
	}
	return &Whim{
		noise:     opensimplex.NewNormalized(seed + 500),
		period:    period,
		amplitude: 0.25,
	}
}

// Factor returns a multiplier in [1-amplitude, 1+amplitude]. A nil Whim
// always returns 1.
func (w *Whim) Factor(agentID uint64, id ID, now sim.Time) float64 {
	if w == nil {
		return 1
	}
	x := float64(now) / w.period
	y := float64(agentID)*3.7 + float64(id)*11.3
	n := w.noise.Eval2(x, y)
	return 1 - w.amplitude + 2*w.amplitude*n
}
