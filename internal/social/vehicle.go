// Settlement garages. Driving physics is not modelled; a vehicle only carries
// a remaining trip-time budget that missions consume.

package social

import (
	"sort"
	"sync"

	"github.com/talgya/colony/internal/sim"
)

// VehicleID is a unique identifier for a vehicle.
type VehicleID = uint64

// Vehicle is a rover parked at a settlement or out on a mission.
type Vehicle struct {
	ID           VehicleID    `json:"id"`
	Name         string       `json:"name"`
	SettlementID SettlementID `json:"settlement_id"`
	Crew         int          `json:"crew_capacity"`
	// TripBudget is the full trip-time a fueled vehicle supports.
	TripBudget sim.Duration `json:"trip_budget"`
	// Remaining is what is left of TripBudget on the current trip.
	Remaining sim.Duration `json:"remaining"`
	// ReservedBy is the mission holding the vehicle, 0 if free.
	ReservedBy uint64 `json:"reserved_by,omitempty"`
}

// Fleet tracks every vehicle. Safe for concurrent use.
type Fleet struct {
	mu       sync.RWMutex
	vehicles map[VehicleID]*Vehicle
}

// NewFleet creates an empty fleet.
func NewFleet() *Fleet {
	return &Fleet{vehicles: make(map[VehicleID]*Vehicle)}
}

// Add registers a vehicle with a full trip budget.
func (f *Fleet) Add(v Vehicle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v.Remaining == 0 {
		v.Remaining = v.TripBudget
	}
	f.vehicles[v.ID] = &v
}

// Reserve claims the free vehicle with the largest budget at a settlement.
func (f *Fleet) Reserve(settlement SettlementID, missionID uint64) (Vehicle, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *Vehicle
	for _, v := range f.vehicles {
		if v.SettlementID != settlement || v.ReservedBy != 0 {
			continue
		}
		if best == nil || v.Remaining > best.Remaining || (v.Remaining == best.Remaining && v.ID < best.ID) {
			best = v
		}
	}
	if best == nil {
		return Vehicle{}, false
	}
	best.ReservedBy = missionID
	return *best, true
}

// Get returns a copy of the vehicle with id.
func (f *Fleet) Get(id VehicleID) (Vehicle, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.vehicles[id]
	if !ok {
		return Vehicle{}, false
	}
	return *v, true
}

// Release frees a vehicle and refuels it.
func (f *Fleet) Release(id VehicleID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.vehicles[id]; ok {
		v.ReservedBy = 0
		v.Remaining = v.TripBudget
	}
}

// RemainingTripBudget reports how much trip time the vehicle has left.
func (f *Fleet) RemainingTripBudget(id VehicleID) sim.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if v, ok := f.vehicles[id]; ok {
		return v.Remaining
	}
	return 0
}

// Consume draws d from the vehicle's trip budget and returns what is left.
func (f *Fleet) Consume(id VehicleID, d sim.Duration) sim.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vehicles[id]
	if !ok {
		return 0
	}
	v.Remaining -= d
	if v.Remaining < 0 {
		v.Remaining = 0
	}
	return v.Remaining
}

// Available counts free vehicles at a settlement.
func (f *Fleet) Available(settlement SettlementID) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for _, v := range f.vehicles {
		if v.SettlementID == settlement && v.ReservedBy == 0 {
			n++
		}
	}
	return n
}

// Snapshot copies every vehicle, ordered by ID.
func (f *Fleet) Snapshot() []Vehicle {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Vehicle, 0, len(f.vehicles))
	for _, v := range f.vehicles {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
