// Package engine provides the pulse-based simulation loop and the
// Simulation aggregate it drives.
package engine

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talgya/colony/internal/sim"
)

// Engine drives the simulation forward one pulse at a time.
type Engine struct {
	Clock *sim.PulseClock
	// Step is the logical time each pulse covers.
	Step sim.Duration
	// Interval is the wall-clock pause between pulses at speed 1.
	Interval time.Duration

	// Callbacks, populated during setup.
	OnPulse func(p sim.Pulse)          // every pulse
	OnSol   func(sol int, p sim.Pulse) // first pulse of each new sol

	speed   atomic.Uint64 // Float64bits of the multiplier; 0 pauses
	running atomic.Bool
	stopMu  sync.Mutex
	stop    context.CancelFunc
}

// NewEngine creates an engine on clock with default pacing.
func NewEngine(clock *sim.PulseClock, step sim.Duration) *Engine {
	if step <= 0 {
		step = 1
	}
	e := &Engine{
		Clock:    clock,
		Step:     step,
		Interval: 100 * time.Millisecond,
	}
	e.SetSpeed(1)
	return e
}

// Speed returns the wall-clock multiplier. 0 means paused.
func (e *Engine) Speed() float64 { return math.Float64frombits(e.speed.Load()) }

// SetSpeed changes the multiplier. Negative values pause.
func (e *Engine) SetSpeed(v float64) {
	if v < 0 {
		v = 0
	}
	e.speed.Store(math.Float64bits(v))
}

// Running reports whether Run is active.
func (e *Engine) Running() bool { return e.running.Load() }

// Run steps the simulation until ctx is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.stopMu.Lock()
	e.stop = cancel
	e.stopMu.Unlock()
	defer cancel()

	e.running.Store(true)
	defer e.running.Store(false)
	slog.Info("simulation engine started", "pulse", e.Clock.CurrentPulseID(), "speed", e.Speed())

	for {
		speed := e.Speed()
		if speed <= 0 {
			// Paused, check again shortly.
			if !sleepCtx(ctx, 100*time.Millisecond) {
				break
			}
			continue
		}

		start := time.Now()
		e.Advance()

		target := time.Duration(float64(e.Interval) / speed)
		if elapsed := time.Since(start); elapsed < target {
			if !sleepCtx(ctx, target-elapsed) {
				break
			}
		} else if ctx.Err() != nil {
			break
		}
	}

	slog.Info("simulation engine stopped", "pulse", e.Clock.CurrentPulseID())
}

// Stop halts a running loop.
func (e *Engine) Stop() {
	e.stopMu.Lock()
	defer e.stopMu.Unlock()
	if e.stop != nil {
		e.stop()
	}
}

// Advance emits one pulse and runs the callbacks it triggers.
func (e *Engine) Advance() sim.Pulse {
	before := e.Clock.Now().Sol()
	p := e.Clock.Advance(e.Step)

	if e.OnPulse != nil {
		e.OnPulse(p)
	}
	if sol := p.Time.Sol(); sol != before && e.OnSol != nil {
		e.OnSol(sol, p)
	}
	return p
}

// AdvanceN emits n pulses back to back, without pacing.
func (e *Engine) AdvanceN(ctx context.Context, n int) int {
	done := 0
	for ; done < n; done++ {
		if ctx.Err() != nil {
			break
		}
		e.Advance()
	}
	return done
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
