// Package eventlog provides the durable, append-only mission event log.
// Every state change a mission makes is recorded as an event with a
// strictly increasing, gap-free per-mission sequence number. Crash
// recovery rebuilds mission state by replaying the log; in-memory state
// elsewhere is a cache of this log.
package eventlog

import (
	"errors"
	"time"
)

// Kind identifies the type of a mission event.
type Kind string

const (
	KindMissionStarted     Kind = "MissionStarted"
	KindPhaseEntered       Kind = "PhaseEntered"
	KindPhaseExited        Kind = "PhaseExited"
	KindCommandIssued      Kind = "CommandIssued"
	KindCommandAcked       Kind = "CommandAcked"
	KindConditionTriggered Kind = "ConditionTriggered"
	KindAborted            Kind = "Aborted"
	KindCompleted          Kind = "Completed"
	KindFailed             Kind = "Failed"
)

// Severity grades events for display filtering. Operators typically watch
// only Important events during a live sequence.
type Severity int

const (
	SeverityInfo      Severity = 0
	SeverityNormal    Severity = 1
	SeverityImportant Severity = 2
)

// defaultSeverity maps event kinds to their severity when the writer does
// not override it.
var defaultSeverity = map[Kind]Severity{
	KindMissionStarted:     SeverityImportant,
	KindPhaseEntered:       SeverityImportant,
	KindPhaseExited:        SeverityNormal,
	KindCommandIssued:      SeverityNormal,
	KindCommandAcked:       SeverityInfo,
	KindConditionTriggered: SeverityNormal,
	KindAborted:            SeverityImportant,
	KindCompleted:          SeverityImportant,
	KindFailed:             SeverityImportant,
}

// DefaultSeverity returns the severity conventionally assigned to a kind.
func DefaultSeverity(k Kind) Severity {
	if s, ok := defaultSeverity[k]; ok {
		return s
	}
	return SeverityNormal
}

// Event is one record in a mission's log. Seq is assigned by the store at
// append time and is strictly increasing and gap-free within a mission.
type Event struct {
	MissionID string                 `json:"missionId"`
	Seq       int64                  `json:"seq"`
	Timestamp time.Time              `json:"timestamp"`
	Kind      Kind                   `json:"kind"`
	Severity  Severity               `json:"severity"`
	IdemKey   string                 `json:"idemKey,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Terminal reports whether this event ends a mission.
func (e *Event) Terminal() bool {
	switch e.Kind {
	case KindAborted, KindCompleted, KindFailed:
		return true
	}
	return false
}

// Normalized persistence errors.
var (
	// ErrPersistenceUnavailable indicates the event store cannot currently
	// accept appends. Missions halt rather than proceed unrecorded.
	ErrPersistenceUnavailable = errors.New("PERSISTENCE_UNAVAILABLE")

	// ErrMissionNotFound indicates the mission ID has no registered log.
	ErrMissionNotFound = errors.New("MISSION_NOT_FOUND")

	// ErrDuplicateCommand indicates an append carrying an idempotency key
	// that has already been recorded for the mission.
	ErrDuplicateCommand = errors.New("DUPLICATE_COMMAND")
)

// Recorder is the persistence port missions write through. Append is
// synchronous: when it returns nil the event is durable.
type Recorder interface {
	// RegisterMission creates the mission's log entry. The vehicle ID is
	// indexed so active-mission lookups can enforce one mission per vehicle.
	RegisterMission(missionID, vehicleID, planName string) error

	// Append durably records an event, assigning the next sequence number.
	// The assigned Seq is written back into ev. Appends with a non-empty
	// IdemKey already present for the mission return ErrDuplicateCommand.
	Append(ev *Event) error

	// Replay returns all events for a mission in sequence order.
	Replay(missionID string) ([]Event, error)

	// MissionInfo returns the vehicle and plan name a mission was
	// registered with.
	MissionInfo(missionID string) (vehicleID, planName string, err error)

	// HasCommand reports whether a CommandIssued event with the given
	// idempotency key exists for the mission.
	HasCommand(missionID, idemKey string) (bool, error)

	// ActiveMissionForVehicle returns the ID of a mission on the vehicle
	// that has not reached a terminal event, or "" if none.
	ActiveMissionForVehicle(vehicleID string) (string, error)
}
