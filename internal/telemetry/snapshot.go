package telemetry

import (
	"time"

	"github.com/launch-control/lcc/internal/adapter"
)

// Snapshot is one normalized telemetry reading. Immutable once created;
// only the latest value is retained in memory, history lives in the event
// log when a transition was caused by it.
type Snapshot struct {
	// Seq increases monotonically per sampler.
	Seq uint64 `json:"seq"`

	// Timestamp is when the sampler accepted the reading.
	Timestamp time.Time `json:"timestamp"`

	adapter.VehicleReadings `json:",inline"`
}

// Field resolves a condition field name to its numeric value. Boolean
// readings resolve to 1 (true) or 0 (false) so flag conditions share the
// same lookup path as thresholds. The second return is false for names no
// vehicle reading maps to.
func (s *Snapshot) Field(name string) (float64, bool) {
	switch name {
	case "altitude":
		return s.AltitudeM, true
	case "velocity":
		return s.VelocityMS, true
	case "fuelFraction":
		return s.FuelFraction, true
	case "dynamicPressure":
		return s.DynamicPressureKPa, true
	case "mach":
		return s.Mach, true
	case "throttle":
		return s.Throttle, true
	case "engineActive":
		return boolField(s.EngineActive), true
	case "stageAttached":
		return boolField(s.StageAttached), true
	case "fairingAttached":
		return boolField(s.FairingAttached), true
	case "checklistOk":
		return boolField(s.ChecklistComplete), true
	default:
		return 0, false
	}
}

func boolField(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Frame is what the sampler hands to the mission pipeline: either a
// snapshot or a loss-of-telemetry signal, never both.
type Frame struct {
	Snapshot *Snapshot

	// TelemetryLost is set once consecutive sampling failures reach the
	// configured threshold. Flying blind is unsafe, so the state machine
	// treats it as an abort-triggering condition.
	TelemetryLost bool

	// Err carries the last sampling error when TelemetryLost is set.
	Err error
}
