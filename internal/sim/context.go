package sim

import (
	"log/slog"
	"math/rand"

	"github.com/talgya/colony/internal/bus"
)

// Context bundles the collaborators every scheduler and mission needs. It is
// created once per simulation and passed by pointer; there are no package
// level singletons.
type Context struct {
	Clock Clock
	Rand  *rand.Rand
	Bus   *bus.Bus
	Log   *slog.Logger
}

// NewContext fills in defaults for any nil collaborator except the clock.
func NewContext(clock Clock, rng *rand.Rand, b *bus.Bus, log *slog.Logger) *Context {
	if log == nil {
		log = slog.Default()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Context{Clock: clock, Rand: rng, Bus: b, Log: log}
}

// Publish stamps an event with the current pulse and sends it on the bus.
func (c *Context) Publish(e bus.Event) {
	if c == nil || c.Bus == nil {
		return
	}
	if c.Clock != nil {
		e.Pulse = c.Clock.CurrentPulseID()
	}
	c.Bus.Publish(e)
}
