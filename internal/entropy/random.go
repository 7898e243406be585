// Package entropy supplies the random sources used by the simulation.
// Seeded sources make every draw reproducible; seed 0 asks for a fresh seed
// from crypto/rand.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	mrand "math/rand"
)

// ResolveSeed returns seed, or a crypto-random one when seed is zero. A
// generated seed is logged so the run can be replayed.
func ResolveSeed(seed int64) int64 {
	if seed == 0 {
		seed = CryptoSeed()
		slog.Info("generated random seed", "seed", seed)
	}
	return seed
}

// Derive returns an independent deterministic stream for a subsystem, so that
// adding draws in one subsystem does not shift another.
func Derive(seed int64, stream int64) *mrand.Rand {
	return mrand.New(mrand.NewSource(seed*7919 + stream))
}

// CryptoSeed reads a non-zero seed from crypto/rand.
func CryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// This should never happen; fall back to a fixed seed.
		return 42
	}
	seed := int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
	if seed == 0 {
		return 42
	}
	return seed
}

// Chance reports whether a draw from r falls under p, with p in [0, 1].
func Chance(r *mrand.Rand, p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return r.Float64() < p
}
