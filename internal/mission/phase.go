// Package mission runs multi-agent undertakings: recruitment, plan review,
// ordered phases and disbanding.
package mission

import (
	"fmt"
	"strings"
)

// Stage is the coarse classification of a phase.
type Stage uint8

const (
	StagePreparation Stage = iota
	StageOperational
	StageClosedown
)

func (s Stage) String() string {
	switch s {
	case StageOperational:
		return "Operational"
	case StageClosedown:
		return "Closedown"
	default:
		return "Preparation"
	}
}

// Phase is one named stage of a mission. Template may contain a single %s
// filled with the phase's subject, such as a site or vehicle name.
type Phase struct {
	Key      string
	Template string
	Stage    Stage
}

// Describe renders the phase for display.
func (p Phase) Describe(subject string) string {
	if strings.Contains(p.Template, "%s") {
		if subject == "" {
			subject = "site"
		}
		return fmt.Sprintf(p.Template, subject)
	}
	return p.Template
}

func (p Phase) String() string { return p.Key }

// IsTerminal reports whether p ends a mission.
func (p Phase) IsTerminal() bool {
	return p.Key == PhaseCompleted.Key || p.Key == PhaseAborted.Key
}

var (
	PhaseReviewing = Phase{Key: "reviewing", Template: "Reviewing mission plan", Stage: StagePreparation}
	PhaseCompleted = Phase{Key: "completed", Template: "Completed", Stage: StageClosedown}
	PhaseAborted   = Phase{Key: "aborted", Template: "Aborted", Stage: StageClosedown}

	PhaseEmbarking    = Phase{Key: "embarking", Template: "Embarking on %s", Stage: StagePreparation}
	PhaseTravelling   = Phase{Key: "travelling", Template: "Travelling to %s", Stage: StageOperational}
	PhaseExploring    = Phase{Key: "exploring", Template: "Exploring %s", Stage: StageOperational}
	PhaseReturning    = Phase{Key: "returning", Template: "Returning to %s", Stage: StageOperational}
	PhaseDisembarking = Phase{Key: "disembarking", Template: "Disembarking at %s", Stage: StageClosedown}

	PhasePrepareSite = Phase{Key: "prepare_site", Template: "Preparing %s", Stage: StagePreparation}
	PhaseConstruct   = Phase{Key: "construct", Template: "Constructing %s", Stage: StageOperational}
	PhaseCleanup     = Phase{Key: "cleanup", Template: "Cleaning up %s", Stage: StageClosedown}
)

var phasesByKey = map[string]Phase{}

func init() {
	for _, p := range []Phase{
		PhaseReviewing, PhaseCompleted, PhaseAborted,
		PhaseEmbarking, PhaseTravelling, PhaseExploring, PhaseReturning, PhaseDisembarking,
		PhasePrepareSite, PhaseConstruct, PhaseCleanup,
	} {
		phasesByKey[p.Key] = p
	}
}

// PhaseByKey resolves a stored phase key.
func PhaseByKey(key string) (Phase, bool) {
	p, ok := phasesByKey[key]
	return p, ok
}
