package mission

import "strings"

// StatusFlag is one reason recorded against a mission. A healthy running
// mission has none; Accomplished alone means success.
type StatusFlag uint16

const (
	StatusAccomplished StatusFlag = 1 << iota
	StatusNotApproved
	StatusNotEnoughMembers
	StatusNoVehicle
	StatusNoTripBudget
	StatusMedicalEmergency
	StatusNoPhase
	StatusUserAborted
)

var statusNames = []struct {
	flag StatusFlag
	name string
}{
	{StatusAccomplished, "accomplished"},
	{StatusNotApproved, "not approved"},
	{StatusNotEnoughMembers, "not enough members"},
	{StatusNoVehicle, "no vehicle available"},
	{StatusNoTripBudget, "trip budget exhausted"},
	{StatusMedicalEmergency, "medical emergency"},
	{StatusNoPhase, "no next phase"},
	{StatusUserAborted, "aborted by user"},
}

func (f StatusFlag) String() string {
	for _, s := range statusNames {
		if s.flag == f {
			return s.name
		}
	}
	return "unknown"
}

// StatusSet is a set of StatusFlag values.
type StatusSet uint16

func (s StatusSet) Has(f StatusFlag) bool       { return s&StatusSet(f) != 0 }
func (s StatusSet) With(f StatusFlag) StatusSet { return s | StatusSet(f) }
func (s StatusSet) Empty() bool                 { return s == 0 }

// Only reports whether f is the sole member of s.
func (s StatusSet) Only(f StatusFlag) bool { return s == StatusSet(f) }

// Flags lists the members of s in declaration order.
func (s StatusSet) Flags() []StatusFlag {
	var out []StatusFlag
	for _, n := range statusNames {
		if s.Has(n.flag) {
			out = append(out, n.flag)
		}
	}
	return out
}

// Names lists the members of s by name.
func (s StatusSet) Names() []string {
	var out []string
	for _, f := range s.Flags() {
		out = append(out, f.String())
	}
	return out
}

func (s StatusSet) String() string {
	if s == 0 {
		return "ok"
	}
	return strings.Join(s.Names(), ", ")
}
