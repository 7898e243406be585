// Package agents provides the colonist data model: persons and robots, their
// jobs, skills, physical condition and mission experience.
package agents

import (
	"fmt"
)

// AgentID is a unique identifier for an agent.
type AgentID uint64

// Kind distinguishes persons from robots.
type Kind uint8

const (
	KindPerson Kind = iota
	KindRobot
)

func (k Kind) String() string {
	if k == KindRobot {
		return "robot"
	}
	return "person"
}

// Job is an agent's declared occupation.
type Job uint8

const (
	JobEngineer Job = iota
	JobBotanist
	JobAreologist
	JobDoctor
	JobChef
	JobPilot
	JobTechnician
	JobConstructor
	JobMaker // robots only
)

var jobNames = [...]string{
	JobEngineer:    "Engineer",
	JobBotanist:    "Botanist",
	JobAreologist:  "Areologist",
	JobDoctor:      "Doctor",
	JobChef:        "Chef",
	JobPilot:       "Pilot",
	JobTechnician:  "Technician",
	JobConstructor: "Constructor",
	JobMaker:       "Maker",
}

func (j Job) String() string {
	if int(j) < len(jobNames) {
		return jobNames[j]
	}
	return fmt.Sprintf("Job(%d)", uint8(j))
}

// Role is an agent's position in the settlement chain of command.
type Role uint8

const (
	RoleCrew Role = iota
	RoleChief
	RoleSubCommander
	RoleCommander
)

func (r Role) String() string {
	switch r {
	case RoleChief:
		return "Chief"
	case RoleSubCommander:
		return "Sub-Commander"
	case RoleCommander:
		return "Commander"
	default:
		return "Crew"
	}
}

// Shift is an agent's externally visible work-shift assignment.
type Shift uint8

const (
	ShiftOn Shift = iota
	ShiftOff
	ShiftOnCall
)

func (s Shift) String() string {
	switch s {
	case ShiftOff:
		return "off"
	case ShiftOnCall:
		return "on-call"
	default:
		return "on"
	}
}

// Location is where an agent currently is. A zero SettlementID means the
// agent is not inside a settlement; a zero VehicleID means not aboard.
type Location struct {
	SettlementID uint64 `json:"settlement_id,omitempty"`
	VehicleID    uint64 `json:"vehicle_id,omitempty"`
	Outside      bool   `json:"outside,omitempty"`
}

// SkillSet tracks an agent's capabilities, each 0.0–1.0.
type SkillSet struct {
	Piloting     float64 `json:"piloting"`
	Areology     float64 `json:"areology"`
	Botany       float64 `json:"botany"`
	Mechanics    float64 `json:"mechanics"`
	Construction float64 `json:"construction"`
	Cooking      float64 `json:"cooking"`
	Medicine     float64 `json:"medicine"`
}

// Medical is the agent's health problem, if any.
type Medical struct {
	Problem string `json:"problem,omitempty"`
	Serious bool   `json:"serious,omitempty"`
}

// Agent is a colonist. Fields are owned by the simulation goroutine; readers
// on other goroutines go through the simulation's snapshot accessors.
type Agent struct {
	ID   AgentID `json:"id"`
	Name string  `json:"name"`
	Kind Kind    `json:"kind"`
	Job  Job     `json:"job"`
	Role Role    `json:"role"`

	// Home settlement, fixed at arrival.
	HomeSettlementID uint64   `json:"home_settlement_id"`
	Location         Location `json:"location"`

	Skills    SkillSet  `json:"skills"`
	Condition Condition `json:"condition"`
	Medical   Medical   `json:"medical"`
	Shift     Shift     `json:"shift"`

	// MissionID is the mission the agent is an active member of, 0 if none.
	MissionID uint64 `json:"mission_id,omitempty"`
	// Experience accumulated per mission type name.
	Experience map[string]float64 `json:"experience,omitempty"`

	ArrivedPulse uint64 `json:"arrived_pulse"`
}

// IsRobot reports whether the agent is a robot.
func (a *Agent) IsRobot() bool { return a.Kind == KindRobot }

// HasSeriousMedicalProblem reports whether the agent is unfit for strenuous work.
func (a *Agent) HasSeriousMedicalProblem() bool { return a.Medical.Serious }

// HasMedicalProblem reports whether the agent has any ongoing health problem.
func (a *Agent) HasMedicalProblem() bool { return a.Medical.Problem != "" || a.Medical.Serious }

// OnMission reports whether the agent is an active member of a mission.
func (a *Agent) OnMission() bool { return a.MissionID != 0 }

// InSettlement reports whether the agent is inside a settlement.
func (a *Agent) InSettlement() bool {
	return a.Location.SettlementID != 0 && a.Location.VehicleID == 0 && !a.Location.Outside
}

// InVehicle reports whether the agent is aboard a vehicle.
func (a *Agent) InVehicle() bool { return a.Location.VehicleID != 0 }

// MissionExperience returns the experience recorded for a mission type.
func (a *Agent) MissionExperience(missionType string) float64 {
	return a.Experience[missionType]
}

// AddMissionExperience records experience for a mission type.
func (a *Agent) AddMissionExperience(missionType string, amount float64) {
	if amount <= 0 {
		return
	}
	if a.Experience == nil {
		a.Experience = make(map[string]float64)
	}
	a.Experience[missionType] += amount
}
