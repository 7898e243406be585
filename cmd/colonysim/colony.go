package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/bus"
	"github.com/talgya/colony/internal/config"
	"github.com/talgya/colony/internal/engine"
	"github.com/talgya/colony/internal/entropy"
	"github.com/talgya/colony/internal/persistence"
	"github.com/talgya/colony/internal/sim"
)

// colony is a loaded or freshly generated simulation with its store.
type colony struct {
	cfg config.Config
	db  *persistence.DB
	bus *bus.Bus
	sim *engine.Simulation
	eng *engine.Engine
}

// openColony restores the saved colony at cfg.DBPath or generates a new one.
func openColony(cfg config.Config) (*colony, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	slog.Info("database opened", "path", cfg.DBPath)

	spawner := agents.NewSpawner(cfg.Seed)
	clock := sim.NewPulseClock(0)

	var (
		st     engine.State
		snap   engine.Snapshot
		loaded = db.HasWorldState()
	)
	if loaded {
		slog.Info("found saved colony, loading...")
		snap, err = db.LoadWorldState()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("load colony: %w", err)
		}
		st = engine.StateFromSnapshot(snap)

		// Update spawner next ID to be above the highest existing agent ID.
		var maxID agents.AgentID
		for _, a := range st.Agents {
			if a.ID > maxID {
				maxID = a.ID
			}
		}
		spawner.SetNextID(maxID + 1)
		clock.Resume(snap.Pulse, snap.Time)
	} else {
		slog.Info("no saved colony found, generating...", "seed", cfg.Seed)
		st = engine.Genesis(cfg, spawner)
	}

	b := bus.New(slog.Default(), 256)
	ctx := sim.NewContext(clock, entropy.Derive(cfg.Seed, int64(snap.Pulse)+1), b, slog.Default())
	s := engine.NewSimulation(cfg, ctx, clock, st)
	s.Spawner = spawner

	if loaded {
		skipped := s.Restore(snap)
		slog.Info("colony restored",
			"agents", len(st.Agents),
			"settlements", len(st.Settlements),
			"missions", len(snap.Missions),
			"pulse", humanize.Comma(int64(snap.Pulse)),
			"clock", snap.Time.String(),
			"skipped", skipped,
		)
	}

	eng := engine.NewEngine(clock, sim.Duration(cfg.Pulse.MillisolsPerPulse))
	eng.Interval = time.Duration(cfg.Pulse.IntervalMillis) * time.Millisecond

	c := &colony{cfg: cfg, db: db, bus: b, sim: s, eng: eng}
	eng.OnPulse = s.Pulse
	eng.OnSol = func(sol int, p sim.Pulse) {
		s.Sol(sol, p)
		// Auto-save every sol.
		if err := c.save(); err != nil {
			slog.Error("sol save failed", "sol", sol, "error", err)
		}
	}

	// Save on fresh generation only (loaded colonies are already saved).
	if !loaded {
		if err := c.save(); err != nil {
			slog.Error("initial save failed", "error", err)
		}
	}
	return c, nil
}

func (c *colony) save() error {
	if err := c.db.SaveWorldState(c.sim.Snapshot()); err != nil {
		return err
	}
	if err := c.db.SaveEvents(c.sim.RecentEvents(0)); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	return c.db.SaveMeta(persistence.MetaSeed, strconv.FormatInt(c.cfg.Seed, 10))
}

func (c *colony) Close() {
	c.sim.Close()
	c.bus.Shutdown()
	if err := c.db.Close(); err != nil {
		slog.Error("close database", "error", err)
	}
}
