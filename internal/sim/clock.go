package sim

import "sync"

// Pulse is one discrete logical time step.
type Pulse struct {
	ID      uint64
	Elapsed Duration
	Time    Time
}

// Clock is the read side of the pulse source.
type Clock interface {
	CurrentPulseID() uint64
	ElapsedTimeOfLastPulse() Duration
	Now() Time
}

// PulseClock is a Clock advanced explicitly by its owner. Reads are safe from
// any goroutine; Advance must only be called by the stepping goroutine.
type PulseClock struct {
	mu   sync.RWMutex
	last Pulse
}

// NewPulseClock creates a clock positioned at start with no pulses emitted.
func NewPulseClock(start Time) *PulseClock {
	return &PulseClock{last: Pulse{Time: start}}
}

// Resume positions the clock at a previously reached pulse.
func (c *PulseClock) Resume(id uint64, at Time) {
	c.mu.Lock()
	c.last = Pulse{ID: id, Time: at}
	c.mu.Unlock()
}

// Advance emits the next pulse covering d millisols.
func (c *PulseClock) Advance(d Duration) Pulse {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = Pulse{
		ID:      c.last.ID + 1,
		Elapsed: d,
		Time:    c.last.Time.Add(d),
	}
	return c.last
}

// Last returns the most recently emitted pulse.
func (c *PulseClock) Last() Pulse {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *PulseClock) CurrentPulseID() uint64 { return c.Last().ID }

func (c *PulseClock) ElapsedTimeOfLastPulse() Duration { return c.Last().Elapsed }

func (c *PulseClock) Now() Time { return c.Last().Time }
