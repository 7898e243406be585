// Package social provides settlements, vehicles and the likability model the
// mission recruiter and reviewers consult.
package social

// SettlementID is a unique identifier for a settlement.
type SettlementID = uint64

// Settlement is a habitat hosting a crew.
type Settlement struct {
	ID   SettlementID `json:"id" db:"id"`
	Name string       `json:"name" db:"name"`

	// Population is the number of resident persons, refreshed by the simulation.
	Population int `json:"population" db:"population"`

	// CommanderID is the agent with final say over missions, 0 if vacant.
	CommanderID uint64 `json:"commander_id,omitempty" db:"commander_id"`
}
