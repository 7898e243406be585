// Colony generation. Builds the founding settlements, crews and garages from
// configuration; deterministic for a given seed.

package engine

import (
	"fmt"
	"math"

	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/config"
	"github.com/talgya/colony/internal/entropy"
	"github.com/talgya/colony/internal/sim"
	"github.com/talgya/colony/internal/social"
)

const roverCrew = 4

var roverNames = []string{"Opportunity", "Sojourner", "Perseverance", "Curiosity", "Spirit", "Zhurong"}

// Genesis creates a fresh colony. spawner issues the agent ids.
func Genesis(cfg config.Config, spawner *agents.Spawner) State {
	rng := entropy.Derive(cfg.Seed, 400)
	st := State{Fleet: social.NewFleet(), Relations: social.NewRelations()}

	vehicleID := uint64(1)
	for i, sc := range cfg.Settlements {
		sid := uint64(i + 1)
		settlement := &social.Settlement{ID: sid, Name: sc.Name, Population: sc.Persons}

		crew := spawner.SpawnCrew(sc.Persons, sc.Robots, sid, 0)
		if sc.Persons > 0 {
			settlement.CommanderID = uint64(crew[0].ID)
		}

		// First impressions between crewmates.
		for _, a := range crew {
			if a.IsRobot() {
				continue
			}
			for _, b := range crew {
				if b.ID != a.ID && !b.IsRobot() {
					st.Relations.Set(uint64(a.ID), uint64(b.ID), 35+rng.Float64()*40)
				}
			}
		}

		for j := 0; j < sc.Vehicles; j++ {
			name := roverNames[int(vehicleID-1)%len(roverNames)]
			st.Fleet.Add(social.Vehicle{
				ID:           vehicleID,
				Name:         fmt.Sprintf("Rover %s", name),
				SettlementID: sid,
				Crew:         roverCrew,
				TripBudget:   sim.Duration(300 + math.Round(rng.Float64()*20)*10),
			})
			vehicleID++
		}

		st.Settlements = append(st.Settlements, settlement)
		st.Agents = append(st.Agents, crew...)
	}
	return st
}
