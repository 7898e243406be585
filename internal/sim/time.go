// Package sim provides the logical time model and the explicit simulation
// context handed to schedulers and missions.
package sim

import "fmt"

// MillisolsPerSol is the length of one sol in millisols.
const MillisolsPerSol = 1000

// Time is a logical simulation instant, counted in millisols since landing.
type Time float64

// Duration is a span of logical time in millisols.
type Duration float64

// Sub returns t - o.
func (t Time) Sub(o Time) Duration { return Duration(t - o) }

// Add returns t advanced by d. The result never goes below zero.
func (t Time) Add(d Duration) Time {
	r := t + Time(d)
	if r < 0 {
		return 0
	}
	return r
}

// Sol returns the 1-based sol number t falls in.
func (t Time) Sol() int {
	return int(t/MillisolsPerSol) + 1
}

// Millisol returns the time of day within the current sol.
func (t Time) Millisol() float64 {
	return float64(t) - float64(t.Sol()-1)*MillisolsPerSol
}

func (t Time) String() string {
	return fmt.Sprintf("Sol %d %06.2f", t.Sol(), t.Millisol())
}

func (d Duration) String() string { return fmt.Sprintf("%.2f msol", float64(d)) }
