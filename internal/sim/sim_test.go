package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimeSol(t *testing.T) {
	assert.Equal(t, 1, Time(0).Sol())
	assert.Equal(t, 1, Time(999.5).Sol())
	assert.Equal(t, 2, Time(1000).Sol())
	assert.InDelta(t, 250, Time(3250).Millisol(), 1e-9)
	assert.Equal(t, "Sol 4 250.00", Time(3250).String())
}

func TestTimeArithmetic(t *testing.T) {
	assert.Equal(t, Time(150), Time(100).Add(50))
	assert.Equal(t, Time(0), Time(10).Add(-50))
	assert.Equal(t, Duration(-40), Time(60).Sub(100))
	assert.Equal(t, "1.50 msol", Duration(1.5).String())
}

func TestPulseClock(t *testing.T) {
	c := NewPulseClock(500)
	assert.Zero(t, c.CurrentPulseID())
	assert.Equal(t, Time(500), c.Now())

	p := c.Advance(25)
	assert.Equal(t, uint64(1), p.ID)
	assert.Equal(t, Time(525), p.Time)
	assert.Equal(t, Duration(25), c.ElapsedTimeOfLastPulse())

	c.Resume(90, 4000)
	p = c.Advance(10)
	assert.Equal(t, uint64(91), p.ID)
	assert.Equal(t, Time(4010), c.Now())
	assert.Equal(t, 5, c.Now().Sol())
}

func TestContextDefaults(t *testing.T) {
	c := NewPulseClock(0)
	ctx := NewContext(c, nil, nil, nil)
	assert.NotNil(t, ctx.Rand)
	assert.NotNil(t, ctx.Log)
	assert.Equal(t, Clock(c), ctx.Clock)
}
