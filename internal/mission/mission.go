// Package mission holds the per-mission phase state machine and the engine
// that drives it from telemetry frames. All state here is a cache of the
// mission's event log: it is rebuilt by folding the log on recovery and is
// never the source of truth.
package mission

import (
	"fmt"
	"time"

	"github.com/launch-control/lcc/internal/eventlog"
	"github.com/launch-control/lcc/internal/plan"
)

// Status is the lifecycle state of a mission.
type Status string

const (
	// StatusPending means the mission is registered but no frame has been
	// processed yet.
	StatusPending Status = "Pending"
	// StatusActive means the sequence is running.
	StatusActive Status = "Active"
	// StatusAborted, StatusCompleted and StatusFailed are terminal.
	StatusAborted   Status = "Aborted"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusAborted, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Mission is the in-memory state of one launch sequence.
type Mission struct {
	ID        string
	VehicleID string
	Plan      *plan.LaunchPlan

	Status Status

	// PhaseIdx indexes Plan.Phases. The phase is current but not yet
	// entered until PhaseEntered is true.
	PhaseIdx     int
	PhaseEntered bool

	// PhaseEnteredAt carries the snapshot timestamp at phase entry. Phase
	// time-boxing compares snapshot timestamps, not wall clock reads, so
	// replay and live execution agree.
	PhaseEnteredAt time.Time

	// IgnitionAt starts the mission clock: elapsed time counts from the
	// ignition command, zero before it.
	IgnitionAt time.Time

	// AbortReason is set when Status is StatusAborted.
	AbortReason string

	// FailReason is set when Status is StatusFailed.
	FailReason string

	// LastSeq is the sequence number of the last event folded or appended.
	LastSeq int64

	// SnapshotSeqHint is the highest snapshot sequence number the log
	// mentions. A resumed sampler continues numbering from here.
	SnapshotSeqHint uint64

	// acked tracks command kinds confirmed by the vehicle, keyed by
	// idempotency key.
	acked map[string]bool
}

// New returns a mission in StatusPending positioned before the first phase.
func New(id, vehicleID string, p *plan.LaunchPlan) *Mission {
	return &Mission{
		ID:        id,
		VehicleID: vehicleID,
		Plan:      p,
		Status:    StatusPending,
		PhaseIdx:  0,
		acked:     make(map[string]bool),
	}
}

// Clock returns the mission clock: elapsed time since ignition, zero
// before the ignition command was recorded.
func (m *Mission) Clock(now time.Time) time.Duration {
	if m.IgnitionAt.IsZero() {
		return 0
	}
	return now.Sub(m.IgnitionAt)
}

// CurrentPhase returns the current phase definition, or nil once terminal
// or past the last phase.
func (m *Mission) CurrentPhase() *plan.Phase {
	if m.Status.Terminal() {
		return nil
	}
	if m.PhaseIdx < 0 || m.PhaseIdx >= len(m.Plan.Phases) {
		return nil
	}
	return &m.Plan.Phases[m.PhaseIdx]
}

// PhaseName returns the current phase name, or "" when none is current.
func (m *Mission) PhaseName() string {
	if p := m.CurrentPhase(); p != nil {
		return p.Name
	}
	return ""
}

// Rebuild reconstructs mission state by folding its event log in sequence
// order. The resulting state is identical to what live execution held when
// the last event was appended.
func Rebuild(id, vehicleID string, p *plan.LaunchPlan, events []eventlog.Event) (*Mission, error) {
	m := New(id, vehicleID, p)
	for i := range events {
		if err := m.fold(&events[i]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// fold applies one event to the state. Events come from the store in
// sequence order; out-of-order or gapped sequences are rejected.
func (m *Mission) fold(ev *eventlog.Event) error {
	if ev.Seq != m.LastSeq+1 {
		return fmt.Errorf("mission %s: event sequence gap: have %d, got %d", m.ID, m.LastSeq, ev.Seq)
	}
	m.LastSeq = ev.Seq

	switch ev.Kind {
	case eventlog.KindMissionStarted:
		m.Status = StatusActive

	case eventlog.KindPhaseEntered:
		phase, _ := ev.Payload["phase"].(string)
		idx := m.Plan.PhaseIndex(phase)
		if idx < 0 {
			return fmt.Errorf("mission %s: event seq %d names unknown phase %q", m.ID, ev.Seq, phase)
		}
		m.PhaseIdx = idx
		m.PhaseEntered = true
		m.PhaseEnteredAt = ev.Timestamp

	case eventlog.KindPhaseExited:
		m.PhaseEntered = false
		m.PhaseIdx++

	case eventlog.KindCommandIssued:
		// Idempotency is checked against the durable log, not folded state;
		// only the ignition timestamp matters for the mission clock.
		if kind, _ := ev.Payload["kind"].(string); kind == "Ignite" && m.IgnitionAt.IsZero() {
			m.IgnitionAt = ev.Timestamp
		}

	case eventlog.KindCommandAcked:
		if kind, ok := ev.Payload["kind"].(string); ok {
			phase, _ := ev.Payload["phase"].(string)
			m.acked[phase+"/"+kind] = true
		}

	case eventlog.KindConditionTriggered:
		// Informational; the transition it caused follows as its own event.
		switch seq := ev.Payload["snapshotSeq"].(type) {
		case float64: // JSON round-trip through the store
			if uint64(seq) > m.SnapshotSeqHint {
				m.SnapshotSeqHint = uint64(seq)
			}
		case uint64:
			if seq > m.SnapshotSeqHint {
				m.SnapshotSeqHint = seq
			}
		}

	case eventlog.KindAborted:
		m.Status = StatusAborted
		m.AbortReason, _ = ev.Payload["reason"].(string)

	case eventlog.KindCompleted:
		m.Status = StatusCompleted

	case eventlog.KindFailed:
		m.Status = StatusFailed
		m.FailReason, _ = ev.Payload["reason"].(string)

	default:
		return fmt.Errorf("mission %s: event seq %d has unknown kind %q", m.ID, ev.Seq, ev.Kind)
	}
	return nil
}
