package eventlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Store provides SQLite-backed persistence for mission event logs.
// It implements Recorder. A single Store serves all missions; per-mission
// sequence allocation happens inside a transaction so concurrent missions
// never interleave or gap each other's sequences.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the event database at path and runs
// migrations. Callers own Close.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL", // Appends must survive power loss
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("eventlog: set pragma %s: %w", pragma, err)
		}
	}

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("eventlog: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStore returns a Store bound to an existing database handle. The
// schema must already be migrated.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("eventlog: db is nil")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RegisterMission creates the mission row. Registering an existing ID is
// an error.
func (s *Store) RegisterMission(missionID, vehicleID, planName string) error {
	if missionID == "" || vehicleID == "" {
		return fmt.Errorf("eventlog: register mission: missing mission or vehicle ID")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(
		`INSERT INTO missions (id, vehicle_id, plan_name, created_at) VALUES (?, ?, ?, ?)`,
		missionID, vehicleID, planName, now,
	)
	if err != nil {
		return persistErr("register mission", err)
	}
	return nil
}

// Append durably records an event. The next per-mission sequence number is
// allocated and the insert committed in one transaction; the assigned Seq
// is written back into ev before return. When ev carries an idempotency
// key that already exists for the mission, ErrDuplicateCommand is returned
// and nothing is written.
func (s *Store) Append(ev *Event) error {
	if ev == nil || ev.MissionID == "" {
		return fmt.Errorf("eventlog: append: missing mission ID")
	}
	if ev.Kind == "" {
		return fmt.Errorf("eventlog: append: missing event kind")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Severity == 0 {
		ev.Severity = DefaultSeverity(ev.Kind)
	}

	var payload sql.NullString
	if len(ev.Payload) > 0 {
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("eventlog: append: marshal payload: %w", err)
		}
		payload = sql.NullString{String: string(data), Valid: true}
	}
	var idemKey sql.NullString
	if ev.IdemKey != "" {
		idemKey = sql.NullString{String: ev.IdemKey, Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return persistErr("append: begin", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var registered int
	err = tx.QueryRow(`SELECT COUNT(1) FROM missions WHERE id = ?`, ev.MissionID).Scan(&registered)
	if err != nil {
		return persistErr("append: check mission", err)
	}
	if registered == 0 {
		return fmt.Errorf("eventlog: append: %w: %s", ErrMissionNotFound, ev.MissionID)
	}

	if idemKey.Valid {
		var dup int
		err = tx.QueryRow(
			`SELECT COUNT(1) FROM events WHERE mission_id = ? AND idem_key = ?`,
			ev.MissionID, idemKey.String,
		).Scan(&dup)
		if err != nil {
			return persistErr("append: check idem key", err)
		}
		if dup > 0 {
			return fmt.Errorf("eventlog: append: %w: %s", ErrDuplicateCommand, idemKey.String)
		}
	}

	var seq int64
	err = tx.QueryRow(
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE mission_id = ?`,
		ev.MissionID,
	).Scan(&seq)
	if err != nil {
		return persistErr("append: allocate seq", err)
	}

	_, err = tx.Exec(
		`INSERT INTO events (mission_id, seq, at, kind, severity, idem_key, payload) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.MissionID, seq, ev.Timestamp.UTC().Format(time.RFC3339Nano),
		string(ev.Kind), int(ev.Severity), idemKey, payload,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") && idemKey.Valid {
			return fmt.Errorf("eventlog: append: %w: %s", ErrDuplicateCommand, idemKey.String)
		}
		return persistErr("append: insert", err)
	}

	if err := tx.Commit(); err != nil {
		return persistErr("append: commit", err)
	}

	ev.Seq = seq
	return nil
}

// MissionInfo returns the vehicle and plan name a mission was registered
// with.
func (s *Store) MissionInfo(missionID string) (string, string, error) {
	var vehicleID, planName string
	err := s.db.QueryRow(
		`SELECT vehicle_id, plan_name FROM missions WHERE id = ?`, missionID,
	).Scan(&vehicleID, &planName)
	if err == sql.ErrNoRows {
		return "", "", fmt.Errorf("eventlog: mission info: %w: %s", ErrMissionNotFound, missionID)
	}
	if err != nil {
		return "", "", persistErr("mission info", err)
	}
	return vehicleID, planName, nil
}

// Replay returns all events for a mission in sequence order.
func (s *Store) Replay(missionID string) ([]Event, error) {
	var registered int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM missions WHERE id = ?`, missionID).Scan(&registered)
	if err != nil {
		return nil, persistErr("replay: check mission", err)
	}
	if registered == 0 {
		return nil, fmt.Errorf("eventlog: replay: %w: %s", ErrMissionNotFound, missionID)
	}

	rows, err := s.db.Query(
		`SELECT seq, at, kind, severity, idem_key, payload FROM events WHERE mission_id = ? ORDER BY seq ASC`,
		missionID,
	)
	if err != nil {
		return nil, persistErr("replay: query", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev       Event
			at       string
			kind     string
			severity int
			idemKey  sql.NullString
			payload  sql.NullString
		)
		if err := rows.Scan(&ev.Seq, &at, &kind, &severity, &idemKey, &payload); err != nil {
			return nil, persistErr("replay: scan", err)
		}
		ev.MissionID = missionID
		ev.Kind = Kind(kind)
		ev.Severity = Severity(severity)
		if idemKey.Valid {
			ev.IdemKey = idemKey.String
		}
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			ev.Timestamp = ts
		}
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &ev.Payload); err != nil {
				return nil, fmt.Errorf("eventlog: replay: unmarshal payload seq %d: %w", ev.Seq, err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("replay: rows", err)
	}
	return events, nil
}

// HasCommand reports whether an event with the given idempotency key exists
// for the mission.
func (s *Store) HasCommand(missionID, idemKey string) (bool, error) {
	if idemKey == "" {
		return false, nil
	}
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM events WHERE mission_id = ? AND idem_key = ?`,
		missionID, idemKey,
	).Scan(&count)
	if err != nil {
		return false, persistErr("has command", err)
	}
	return count > 0, nil
}

// ActiveMissionForVehicle returns the ID of the vehicle's mission that has
// no terminal event yet, or "" when the vehicle is free.
func (s *Store) ActiveMissionForVehicle(vehicleID string) (string, error) {
	rows, err := s.db.Query(
		`SELECT m.id FROM missions m
		 WHERE m.vehicle_id = ?
		 AND NOT EXISTS (
			SELECT 1 FROM events e
			WHERE e.mission_id = m.id AND e.kind IN (?, ?, ?)
		 )`,
		vehicleID, string(KindAborted), string(KindCompleted), string(KindFailed),
	)
	if err != nil {
		return "", persistErr("active mission: query", err)
	}
	defer rows.Close()

	if rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", persistErr("active mission: scan", err)
		}
		return id, nil
	}
	if err := rows.Err(); err != nil {
		return "", persistErr("active mission: rows", err)
	}
	return "", nil
}

// Missions returns the IDs of all registered missions, oldest first.
func (s *Store) Missions() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM missions ORDER BY created_at ASC`)
	if err != nil {
		return nil, persistErr("missions: query", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, persistErr("missions: scan", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("missions: rows", err)
	}
	return ids, nil
}

func persistErr(op string, err error) error {
	return fmt.Errorf("eventlog: %s: %w: %v", op, ErrPersistenceUnavailable, err)
}
