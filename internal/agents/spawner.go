// Agent spawning. Creates the founding crew of each settlement with jobs,
// skills and a starting condition.

package agents

import (
	"fmt"
	"math/rand"
)

// Spawner creates agents for the simulation.
type Spawner struct {
	rng    *rand.Rand
	nextID AgentID
}

// NewSpawner creates an agent spawner with the given seed.
func NewSpawner(seed int64) *Spawner {
	return &Spawner{
		rng:    rand.New(rand.NewSource(seed + 300)),
		nextID: 1,
	}
}

// SetNextID sets the next agent ID to be issued (used when restoring from DB).
func (s *Spawner) SetNextID(id AgentID) {
	s.nextID = id
}

// SpawnCrew creates the persons and robots of one settlement. The first
// person is the commander and the second, if any, the sub-commander.
func (s *Spawner) SpawnCrew(persons, robots int, settlementID uint64, pulse uint64) []*Agent {
	crew := make([]*Agent, 0, persons+robots)
	for i := 0; i < persons; i++ {
		a := s.spawnPerson(settlementID, pulse, i)
		switch i {
		case 0:
			a.Role = RoleCommander
		case 1:
			a.Role = RoleSubCommander
		case 2, 3:
			a.Role = RoleChief
		}
		crew = append(crew, a)
	}
	for i := 0; i < robots; i++ {
		crew = append(crew, s.spawnRobot(settlementID, pulse))
	}
	return crew
}

func (s *Spawner) issueID() AgentID {
	id := s.nextID
	s.nextID++
	return id
}

func (s *Spawner) spawnPerson(settlementID uint64, pulse uint64, index int) *Agent {
	job := personJobs[index%len(personJobs)]
	if index >= len(personJobs) {
		job = personJobs[s.rng.Intn(len(personJobs))]
	}
	a := &Agent{
		ID:               s.issueID(),
		Name:             s.generateName(),
		Kind:             KindPerson,
		Job:              job,
		HomeSettlementID: settlementID,
		Location:         Location{SettlementID: settlementID},
		Skills:           s.skillsForJob(job),
		Condition: Condition{
			Fatigue: s.rng.Float64() * 300,
			Hunger:  s.rng.Float64() * 300,
			Stress:  s.rng.Float64() * 200,
		},
		ArrivedPulse: pulse,
	}
	a.Condition.Performance = ComputePerformance(a)
	return a
}

func (s *Spawner) spawnRobot(settlementID uint64, pulse uint64) *Agent {
	id := s.issueID()
	a := &Agent{
		ID:               id,
		Name:             fmt.Sprintf("%s-%03d", robotModels[s.rng.Intn(len(robotModels))], id),
		Kind:             KindRobot,
		Job:              JobMaker,
		HomeSettlementID: settlementID,
		Location:         Location{SettlementID: settlementID},
		Skills: SkillSet{
			Mechanics:    0.4 + s.rng.Float64()*0.3,
			Construction: 0.4 + s.rng.Float64()*0.3,
		},
		Condition:    Condition{Battery: 0.6 + s.rng.Float64()*0.4},
		ArrivedPulse: pulse,
	}
	a.Condition.Performance = ComputePerformance(a)
	return a
}

// skillsForJob gives a strong primary skill and weak secondary ones.
func (s *Spawner) skillsForJob(job Job) SkillSet {
	low := func() float64 { return s.rng.Float64() * 0.25 }
	high := func() float64 { return 0.5 + s.rng.Float64()*0.4 }
	sk := SkillSet{
		Piloting:     low(),
		Areology:     low(),
		Botany:       low(),
		Mechanics:    low(),
		Construction: low(),
		Cooking:      low(),
		Medicine:     low(),
	}
	switch job {
	case JobEngineer, JobTechnician:
		sk.Mechanics = high()
	case JobBotanist:
		sk.Botany = high()
	case JobAreologist:
		sk.Areology = high()
	case JobDoctor:
		sk.Medicine = high()
	case JobChef:
		sk.Cooking = high()
	case JobPilot:
		sk.Piloting = high()
	case JobConstructor:
		sk.Construction = high()
	}
	return sk
}

func (s *Spawner) generateName() string {
	first := firstNames[s.rng.Intn(len(firstNames))]
	last := lastNames[s.rng.Intn(len(lastNames))]
	return first + " " + last
}

var personJobs = []Job{
	JobEngineer, JobBotanist, JobAreologist, JobDoctor,
	JobPilot, JobChef, JobTechnician, JobConstructor,
}

var robotModels = []string{"ChefBot", "ConstructionBot", "RepairBot", "GardenBot", "DeliveryBot"}

// Name pools for procedural generation.
var firstNames = []string{
	"Astrid", "Bram", "Calla", "Doran", "Elara", "Finn", "Greta",
	"Halvard", "Iris", "Jasper", "Kira", "Leif", "Mira", "Nils",
	"Olwen", "Petra", "Quinn", "Rowan", "Senna", "Theron", "Una",
	"Varen", "Willa", "Yara", "Zander", "Arlen", "Birgit", "Cade",
}

var lastNames = []string{
	"Voss", "Ashford", "Dunmore", "Greenvale", "Frostborn", "Hearthstone",
	"Millward", "Copperfield", "Silverdale", "Stoneheart", "Deepwell",
	"Brightwater", "Redforge", "Windholm", "Goldhaven", "Riverstone",
	"Holloway", "Dawnridge", "Farrow", "Wyatt", "Caldwell", "Harper", "Mercer",
}
