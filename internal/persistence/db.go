// Package persistence provides SQLite-based colony state storage.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/colony/internal/agents"
	"github.com/talgya/colony/internal/bus"
	"github.com/talgya/colony/internal/engine"
	"github.com/talgya/colony/internal/mission"
	"github.com/talgya/colony/internal/scheduler"
	"github.com/talgya/colony/internal/sim"
	"github.com/talgya/colony/internal/social"
)

// Metadata keys.
const (
	MetaLastPulse = "last_pulse"
	MetaSimTime   = "sim_time"
	MetaSeed      = "seed"
)

// DB wraps a SQLite connection for colony state persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		kind INTEGER NOT NULL,
		job INTEGER NOT NULL,
		role INTEGER NOT NULL,
		home_settlement_id INTEGER NOT NULL,
		settlement_id INTEGER NOT NULL,
		vehicle_id INTEGER NOT NULL,
		outside INTEGER NOT NULL,
		shift INTEGER NOT NULL,
		mission_id INTEGER NOT NULL,
		arrived_pulse INTEGER NOT NULL,
		skills_json TEXT NOT NULL,
		condition_json TEXT NOT NULL,
		medical_json TEXT NOT NULL,
		experience_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settlements (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		population INTEGER NOT NULL,
		commander_id INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS vehicles (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		settlement_id INTEGER NOT NULL,
		crew INTEGER NOT NULL,
		trip_budget REAL NOT NULL,
		remaining REAL NOT NULL,
		reserved_by INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS relations (
		from_id INTEGER NOT NULL,
		to_id INTEGER NOT NULL,
		value REAL NOT NULL,
		PRIMARY KEY (from_id, to_id)
	);

	CREATE TABLE IF NOT EXISTS task_history (
		agent_id INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		time REAL NOT NULL,
		meta TEXT NOT NULL,
		description TEXT NOT NULL,
		phase TEXT NOT NULL,
		PRIMARY KEY (agent_id, seq)
	);

	CREATE TABLE IF NOT EXISTS pending_tasks (
		agent_id INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		meta TEXT NOT NULL,
		target TEXT NOT NULL,
		PRIMARY KEY (agent_id, seq)
	);

	CREATE TABLE IF NOT EXISTS missions (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		settlement_id INTEGER NOT NULL,
		phase TEXT NOT NULL,
		done INTEGER NOT NULL,
		started REAL NOT NULL,
		ended REAL NOT NULL,
		view_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS mission_log (
		mission_id INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		time REAL NOT NULL,
		pulse INTEGER NOT NULL,
		phase TEXT NOT NULL,
		entry TEXT NOT NULL,
		PRIMARY KEY (mission_id, seq)
	);

	CREATE TABLE IF NOT EXISTS mission_ordinals (
		settlement_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		count INTEGER NOT NULL,
		PRIMARY KEY (settlement_id, type)
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		pulse INTEGER NOT NULL,
		type TEXT NOT NULL,
		agent_id INTEGER NOT NULL,
		mission_id INTEGER NOT NULL,
		detail TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_pulse ON events(pulse);
	CREATE INDEX IF NOT EXISTS idx_agents_settlement ON agents(home_settlement_id);
	CREATE INDEX IF NOT EXISTS idx_missions_settlement ON missions(settlement_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type agentRow struct {
	ID               uint64 `db:"id"`
	Name             string `db:"name"`
	Kind             uint8  `db:"kind"`
	Job              uint8  `db:"job"`
	Role             uint8  `db:"role"`
	HomeSettlementID uint64 `db:"home_settlement_id"`
	SettlementID     uint64 `db:"settlement_id"`
	VehicleID        uint64 `db:"vehicle_id"`
	Outside          bool   `db:"outside"`
	Shift            uint8  `db:"shift"`
	MissionID        uint64 `db:"mission_id"`
	ArrivedPulse     uint64 `db:"arrived_pulse"`
	Skills           string `db:"skills_json"`
	Condition        string `db:"condition_json"`
	Medical          string `db:"medical_json"`
	Experience       string `db:"experience_json"`
}

type historyRow struct {
	AgentID     uint64   `db:"agent_id"`
	Seq         int      `db:"seq"`
	Time        sim.Time `db:"time"`
	Meta        string   `db:"meta"`
	Description string   `db:"description"`
	Phase       string   `db:"phase"`
}

type pendingRow struct {
	AgentID uint64 `db:"agent_id"`
	Seq     int    `db:"seq"`
	Meta    string `db:"meta"`
	Target  string `db:"target"`
}

type missionRow struct {
	ID           uint64   `db:"id"`
	Name         string   `db:"name"`
	Type         string   `db:"type"`
	SettlementID uint64   `db:"settlement_id"`
	Phase        string   `db:"phase"`
	Done         bool     `db:"done"`
	Started      sim.Time `db:"started"`
	Ended        sim.Time `db:"ended"`
	View         string   `db:"view_json"`
}

type logRow struct {
	MissionID uint64   `db:"mission_id"`
	Seq       int      `db:"seq"`
	Time      sim.Time `db:"time"`
	Pulse     uint64   `db:"pulse"`
	Phase     string   `db:"phase"`
	Entry     string   `db:"entry"`
}

type eventRow struct {
	ID        string `db:"id"`
	Pulse     uint64 `db:"pulse"`
	Type      string `db:"type"`
	AgentID   uint64 `db:"agent_id"`
	MissionID uint64 `db:"mission_id"`
	Detail    string `db:"detail"`
}

// SaveWorldState performs a full save of snap in one transaction.
func (db *DB) SaveWorldState(snap engine.Snapshot) error {
	slog.Info("saving colony state", "agents", len(snap.Agents), "missions", len(snap.Missions), "pulse", snap.Pulse)

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{
		"agents", "settlements", "vehicles", "relations", "task_history",
		"pending_tasks", "missions", "mission_log", "mission_ordinals",
	} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if err := saveAgents(tx, snap.Agents); err != nil {
		return fmt.Errorf("save agents: %w", err)
	}
	for _, s := range snap.Settlements {
		if _, err := tx.Exec(`INSERT INTO settlements (id, name, population, commander_id) VALUES (?, ?, ?, ?)`,
			s.ID, s.Name, s.Population, s.CommanderID); err != nil {
			return fmt.Errorf("insert settlement %d: %w", s.ID, err)
		}
	}
	for _, v := range snap.Vehicles {
		if _, err := tx.NamedExec(`INSERT INTO vehicles
			(id, name, settlement_id, crew, trip_budget, remaining, reserved_by)
			VALUES (:id, :name, :settlement_id, :crew, :trip_budget, :remaining, :reserved_by)`,
			vehicleToRow(v)); err != nil {
			return fmt.Errorf("insert vehicle %d: %w", v.ID, err)
		}
	}
	for _, o := range snap.Opinions {
		if _, err := tx.Exec(`INSERT INTO relations (from_id, to_id, value) VALUES (?, ?, ?)`,
			o.From, o.To, o.Value); err != nil {
			return fmt.Errorf("insert relation %d->%d: %w", o.From, o.To, err)
		}
	}
	if err := saveHistory(tx, snap.History); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	if err := savePending(tx, snap.Pending); err != nil {
		return fmt.Errorf("save pending: %w", err)
	}
	if err := saveMissions(tx, snap.Missions); err != nil {
		return fmt.Errorf("save missions: %w", err)
	}
	for _, o := range snap.Ordinals {
		if _, err := tx.NamedExec(`INSERT INTO mission_ordinals (settlement_id, type, count)
			VALUES (:settlement_id, :type, :count)`, o); err != nil {
			return fmt.Errorf("insert ordinal: %w", err)
		}
	}

	meta := map[string]string{
		MetaLastPulse: strconv.FormatUint(snap.Pulse, 10),
		MetaSimTime:   strconv.FormatFloat(float64(snap.Time), 'f', -1, 64),
	}
	for k, v := range meta {
		if _, err := tx.Exec("INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("save meta %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("colony state saved")
	return nil
}

func saveAgents(tx *sqlx.Tx, list []agents.Agent) error {
	stmt, err := tx.PrepareNamed(`INSERT INTO agents
		(id, name, kind, job, role, home_settlement_id, settlement_id, vehicle_id,
		 outside, shift, mission_id, arrived_pulse,
		 skills_json, condition_json, medical_json, experience_json)
		VALUES (:id, :name, :kind, :job, :role, :home_settlement_id, :settlement_id, :vehicle_id,
		 :outside, :shift, :mission_id, :arrived_pulse,
		 :skills_json, :condition_json, :medical_json, :experience_json)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range list {
		row, err := agentToRow(&list[i])
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(row); err != nil {
			return fmt.Errorf("insert agent %d: %w", row.ID, err)
		}
	}
	return nil
}

func saveHistory(tx *sqlx.Tx, history map[agents.AgentID][]scheduler.Entry) error {
	stmt, err := tx.PrepareNamed(`INSERT INTO task_history (agent_id, seq, time, meta, description, phase)
		VALUES (:agent_id, :seq, :time, :meta, :description, :phase)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for id, entries := range history {
		for i, e := range entries {
			row := historyRow{AgentID: uint64(id), Seq: i, Time: e.Time, Meta: e.Meta, Description: e.Description, Phase: e.Phase}
			if _, err := stmt.Exec(row); err != nil {
				return fmt.Errorf("insert history %d/%d: %w", id, i, err)
			}
		}
	}
	return nil
}

func savePending(tx *sqlx.Tx, pending map[agents.AgentID][]engine.PendingTask) error {
	for id, queued := range pending {
		for i, p := range queued {
			row := pendingRow{AgentID: uint64(id), Seq: i, Meta: p.Meta, Target: p.Target}
			if _, err := tx.NamedExec(`INSERT INTO pending_tasks (agent_id, seq, meta, target)
				VALUES (:agent_id, :seq, :meta, :target)`, row); err != nil {
				return fmt.Errorf("insert pending %d/%d: %w", id, i, err)
			}
		}
	}
	return nil
}

func saveMissions(tx *sqlx.Tx, views []mission.View) error {
	for _, v := range views {
		entries := v.Log
		v.Log = nil
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode mission %d: %w", v.ID, err)
		}
		row := missionRow{
			ID:           v.ID,
			Name:         v.Name,
			Type:         string(v.Type),
			SettlementID: v.SettlementID,
			Phase:        v.Phase,
			Done:         v.Done,
			Started:      v.Started,
			Ended:        v.Ended,
			View:         string(data),
		}
		if _, err := tx.NamedExec(`INSERT INTO missions
			(id, name, type, settlement_id, phase, done, started, ended, view_json)
			VALUES (:id, :name, :type, :settlement_id, :phase, :done, :started, :ended, :view_json)`, row); err != nil {
			return fmt.Errorf("insert mission %d: %w", v.ID, err)
		}
		for i, e := range entries {
			lr := logRow{MissionID: v.ID, Seq: i, Time: e.Time, Pulse: e.Pulse, Phase: e.Phase, Entry: e.Entry}
			if _, err := tx.NamedExec(`INSERT INTO mission_log (mission_id, seq, time, pulse, phase, entry)
				VALUES (:mission_id, :seq, :time, :pulse, :phase, :entry)`, lr); err != nil {
				return fmt.Errorf("insert mission log %d/%d: %w", v.ID, i, err)
			}
		}
	}
	return nil
}

// HasWorldState reports whether a saved colony exists.
func (db *DB) HasWorldState() bool {
	var n int
	if err := db.conn.Get(&n, "SELECT COUNT(*) FROM agents"); err != nil {
		return false
	}
	return n > 0
}

// LoadWorldState reads the saved colony. Stored activity names are returned
// as strings; resolving them is the caller's job.
func (db *DB) LoadWorldState() (engine.Snapshot, error) {
	var snap engine.Snapshot

	if v, err := db.GetMeta(MetaLastPulse); err == nil {
		if p, err := strconv.ParseUint(v, 10, 64); err == nil {
			snap.Pulse = p
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return snap, fmt.Errorf("load meta: %w", err)
	}
	if v, err := db.GetMeta(MetaSimTime); err == nil {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			snap.Time = sim.Time(t)
		}
	}

	var rows []agentRow
	if err := db.conn.Select(&rows, "SELECT * FROM agents ORDER BY id"); err != nil {
		return snap, fmt.Errorf("load agents: %w", err)
	}
	for _, r := range rows {
		a, err := rowToAgent(r)
		if err != nil {
			return snap, fmt.Errorf("load agent %d: %w", r.ID, err)
		}
		snap.Agents = append(snap.Agents, a)
	}

	if err := db.conn.Select(&snap.Settlements,
		"SELECT id, name, population, commander_id FROM settlements ORDER BY id"); err != nil {
		return snap, fmt.Errorf("load settlements: %w", err)
	}

	var vehicles []vehicleRow
	if err := db.conn.Select(&vehicles, "SELECT * FROM vehicles ORDER BY id"); err != nil {
		return snap, fmt.Errorf("load vehicles: %w", err)
	}
	for _, v := range vehicles {
		snap.Vehicles = append(snap.Vehicles, v.vehicle())
	}

	if err := db.conn.Select(&snap.Opinions,
		"SELECT from_id, to_id, value FROM relations ORDER BY from_id, to_id"); err != nil {
		return snap, fmt.Errorf("load relations: %w", err)
	}

	var history []historyRow
	if err := db.conn.Select(&history, "SELECT * FROM task_history ORDER BY agent_id, seq"); err != nil {
		return snap, fmt.Errorf("load history: %w", err)
	}
	snap.History = make(map[agents.AgentID][]scheduler.Entry)
	for _, h := range history {
		id := agents.AgentID(h.AgentID)
		snap.History[id] = append(snap.History[id], scheduler.Entry{
			Time: h.Time, Meta: h.Meta, Description: h.Description, Phase: h.Phase,
		})
	}

	var pending []pendingRow
	if err := db.conn.Select(&pending, "SELECT * FROM pending_tasks ORDER BY agent_id, seq"); err != nil {
		return snap, fmt.Errorf("load pending: %w", err)
	}
	snap.Pending = make(map[agents.AgentID][]engine.PendingTask)
	for _, p := range pending {
		id := agents.AgentID(p.AgentID)
		snap.Pending[id] = append(snap.Pending[id], engine.PendingTask{Meta: p.Meta, Target: p.Target})
	}

	missions, err := db.loadMissions()
	if err != nil {
		return snap, err
	}
	snap.Missions = missions

	if err := db.conn.Select(&snap.Ordinals,
		"SELECT settlement_id, type, count FROM mission_ordinals ORDER BY settlement_id, type"); err != nil {
		return snap, fmt.Errorf("load ordinals: %w", err)
	}

	slog.Info("colony state loaded", "agents", len(snap.Agents), "missions", len(snap.Missions), "pulse", snap.Pulse)
	return snap, nil
}

func (db *DB) loadMissions() ([]mission.View, error) {
	var rows []missionRow
	if err := db.conn.Select(&rows, "SELECT * FROM missions ORDER BY id"); err != nil {
		return nil, fmt.Errorf("load missions: %w", err)
	}
	var logs []logRow
	if err := db.conn.Select(&logs, "SELECT * FROM mission_log ORDER BY mission_id, seq"); err != nil {
		return nil, fmt.Errorf("load mission log: %w", err)
	}
	byMission := make(map[uint64][]mission.LogEntry)
	for _, l := range logs {
		byMission[l.MissionID] = append(byMission[l.MissionID], mission.LogEntry{
			Time: l.Time, Pulse: l.Pulse, Phase: l.Phase, Entry: l.Entry,
		})
	}

	views := make([]mission.View, 0, len(rows))
	for _, r := range rows {
		var v mission.View
		if err := json.Unmarshal([]byte(r.View), &v); err != nil {
			return nil, fmt.Errorf("decode mission %d: %w", r.ID, err)
		}
		v.Log = byMission[r.ID]
		views = append(views, v)
	}
	return views, nil
}

// SaveEvents appends bus events. Events already stored are ignored.
func (db *DB) SaveEvents(events []bus.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		row := eventRow{ID: e.ID, Pulse: e.Pulse, Type: string(e.Type), AgentID: e.AgentID, MissionID: e.MissionID, Detail: e.Detail}
		if _, err := tx.NamedExec(`INSERT OR IGNORE INTO events (id, pulse, type, agent_id, mission_id, detail)
			VALUES (:id, :pulse, :type, :agent_id, :mission_id, :detail)`, row); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecentEvents returns the most recent N events, newest first.
func (db *DB) RecentEvents(limit int) ([]bus.Event, error) {
	var rows []eventRow
	if err := db.conn.Select(&rows,
		"SELECT * FROM events ORDER BY pulse DESC, rowid DESC LIMIT ?", limit); err != nil {
		return nil, err
	}
	out := make([]bus.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, bus.Event{
			ID: r.ID, Pulse: r.Pulse, Type: bus.Type(r.Type),
			AgentID: r.AgentID, MissionID: r.MissionID, Detail: r.Detail,
		})
	}
	return out, nil
}

// SaveMeta stores a key-value pair in colony metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

func agentToRow(a *agents.Agent) (agentRow, error) {
	skills, err := json.Marshal(a.Skills)
	if err != nil {
		return agentRow{}, err
	}
	cond, err := json.Marshal(a.Condition)
	if err != nil {
		return agentRow{}, err
	}
	med, err := json.Marshal(a.Medical)
	if err != nil {
		return agentRow{}, err
	}
	exp, err := json.Marshal(a.Experience)
	if err != nil {
		return agentRow{}, err
	}
	return agentRow{
		ID:               uint64(a.ID),
		Name:             a.Name,
		Kind:             uint8(a.Kind),
		Job:              uint8(a.Job),
		Role:             uint8(a.Role),
		HomeSettlementID: a.HomeSettlementID,
		SettlementID:     a.Location.SettlementID,
		VehicleID:        a.Location.VehicleID,
		Outside:          a.Location.Outside,
		Shift:            uint8(a.Shift),
		MissionID:        a.MissionID,
		ArrivedPulse:     a.ArrivedPulse,
		Skills:           string(skills),
		Condition:        string(cond),
		Medical:          string(med),
		Experience:       string(exp),
	}, nil
}

func rowToAgent(r agentRow) (agents.Agent, error) {
	a := agents.Agent{
		ID:               agents.AgentID(r.ID),
		Name:             r.Name,
		Kind:             agents.Kind(r.Kind),
		Job:              agents.Job(r.Job),
		Role:             agents.Role(r.Role),
		HomeSettlementID: r.HomeSettlementID,
		Location: agents.Location{
			SettlementID: r.SettlementID,
			VehicleID:    r.VehicleID,
			Outside:      r.Outside,
		},
		Shift:        agents.Shift(r.Shift),
		MissionID:    r.MissionID,
		ArrivedPulse: r.ArrivedPulse,
	}
	if err := json.Unmarshal([]byte(r.Skills), &a.Skills); err != nil {
		return a, fmt.Errorf("skills: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Condition), &a.Condition); err != nil {
		return a, fmt.Errorf("condition: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Medical), &a.Medical); err != nil {
		return a, fmt.Errorf("medical: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Experience), &a.Experience); err != nil {
		return a, fmt.Errorf("experience: %w", err)
	}
	return a, nil
}

type vehicleRow struct {
	ID           uint64       `db:"id"`
	Name         string       `db:"name"`
	SettlementID uint64       `db:"settlement_id"`
	Crew         int          `db:"crew"`
	TripBudget   sim.Duration `db:"trip_budget"`
	Remaining    sim.Duration `db:"remaining"`
	ReservedBy   uint64       `db:"reserved_by"`
}

func vehicleToRow(v social.Vehicle) vehicleRow {
	return vehicleRow{
		ID:           v.ID,
		Name:         v.Name,
		SettlementID: v.SettlementID,
		Crew:         v.Crew,
		TripBudget:   v.TripBudget,
		Remaining:    v.Remaining,
		ReservedBy:   v.ReservedBy,
	}
}

func (r vehicleRow) vehicle() social.Vehicle {
	return social.Vehicle{
		ID:           r.ID,
		Name:         r.Name,
		SettlementID: r.SettlementID,
		Crew:         r.Crew,
		TripBudget:   r.TripBudget,
		Remaining:    r.Remaining,
		ReservedBy:   r.ReservedBy,
	}
}
