package mission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/launch-control/lcc/internal/adapter"
	"github.com/launch-control/lcc/internal/condition"
	"github.com/launch-control/lcc/internal/dispatch"
	"github.com/launch-control/lcc/internal/eventlog"
	"github.com/launch-control/lcc/internal/metrics"
	"github.com/launch-control/lcc/internal/plan"
	"github.com/launch-control/lcc/internal/telemetry"
)

// Publisher receives mission events for live streaming. Publishing is
// best-effort; stream delivery never gates durability.
type Publisher interface {
	PublishMission(missionID string, event telemetry.Event) error
}

// Machine advances one mission's phase state from telemetry frames.
// It is not safe for concurrent use; each mission's engine is the single
// caller.
type Machine struct {
	m          *Mission
	dispatcher *dispatch.Dispatcher
	recorder   eventlog.Recorder
	publisher  Publisher
}

// NewMachine creates the state machine for a mission.
func NewMachine(m *Mission, d *dispatch.Dispatcher, r eventlog.Recorder, pub Publisher) *Machine {
	return &Machine{m: m, dispatcher: d, recorder: r, publisher: pub}
}

// Mission returns the mission state the machine drives.
func (mc *Machine) Mission() *Mission {
	return mc.m
}

// HandleFrame processes one telemetry frame to completion. Frames arriving
// after a terminal status are ignored. A non-nil error means the event log
// rejected an append and the mission must halt; any other failure is
// resolved internally into an abort or failure transition.
func (mc *Machine) HandleFrame(ctx context.Context, frame telemetry.Frame) error {
	m := mc.m
	if m.Status.Terminal() {
		return nil
	}
	if m.Status == StatusPending {
		m.Status = StatusActive
	}

	if frame.TelemetryLost {
		log.Printf("mission %s: %v", m.ID, frame.Err)
		return mc.abort(ctx, "loss of telemetry", nil)
	}

	snap := frame.Snapshot
	phase := m.CurrentPhase()
	if phase == nil {
		// Past the last phase with no Completed event would be a fold bug;
		// live execution records Completed at the final exit.
		return mc.complete(ctx)
	}

	// Abort conditions take precedence over entry and exit on the same
	// snapshot.
	triggered, err := condition.AnyHolds(snap, phase.Abort)
	if err != nil {
		return mc.fail(ctx, err.Error())
	}
	if triggered != nil {
		if err := mc.recordTrigger(phase.Name, "abort", triggered, snap); err != nil {
			return err
		}
		return mc.abort(ctx, fmt.Sprintf("abort condition %q held (%s=%.3f)", triggered.Name, triggered.Field, triggered.Actual), snap)
	}

	if !m.PhaseEntered {
		hold, err := condition.AllHold(snap, phase.Entry)
		if err != nil {
			return mc.fail(ctx, err.Error())
		}
		if !hold {
			return nil
		}
		if err := mc.enterPhase(ctx, phase, snap); err != nil {
			return err
		}
		// Entry may have aborted the mission on a failed mandatory command.
		if m.Status.Terminal() || !m.PhaseEntered {
			return nil
		}
		// Fall through: a snapshot that satisfies entry may satisfy exit
		// too (e.g. a checklist-only phase clears on its first snapshot).
	}

	exitNow := false
	if len(phase.Exit) > 0 {
		hold, err := condition.AllHold(snap, phase.Exit)
		if err != nil {
			return mc.fail(ctx, err.Error())
		}
		exitNow = hold
	}
	if !exitNow && phase.MaxDuration > 0 && !m.PhaseEnteredAt.IsZero() {
		exitNow = snap.Timestamp.Sub(m.PhaseEnteredAt) >= phase.MaxDuration
	}
	if !exitNow {
		return nil
	}
	if ok, err := mc.ackGate(ctx, phase); !ok {
		return err
	}

	return mc.exitPhase(ctx, phase, snap)
}

// Abort aborts the mission on operator request. Safe to call between
// frames only; the engine serializes it with frame handling.
func (mc *Machine) Abort(ctx context.Context, reason string) error {
	if mc.m.Status.Terminal() {
		return nil
	}
	return mc.abort(ctx, reason, nil)
}

// enterPhase records the entry and issues the phase command. The phase is
// current from the moment PhaseEntered is durable, even if the command
// then fails.
func (mc *Machine) enterPhase(ctx context.Context, phase *plan.Phase, snap *telemetry.Snapshot) error {
	m := mc.m

	payload := map[string]interface{}{"phase": phase.Name}
	if snap != nil {
		payload["altitude"] = snap.AltitudeM
		payload["velocity"] = snap.VelocityMS
	}
	ev := eventlog.Event{MissionID: m.ID, Kind: eventlog.KindPhaseEntered, Payload: payload}
	if err := mc.append(&ev); err != nil {
		return err
	}
	m.PhaseEntered = true
	if snap != nil {
		m.PhaseEnteredAt = snap.Timestamp
	}
	metrics.PhaseTransitions.WithLabelValues(m.Plan.Name, phase.Name).Inc()
	log.Printf("mission %s: entered phase %s", m.ID, phase.Name)

	if phase.Command == nil {
		return nil
	}
	return mc.issueCommand(ctx, phase)
}

// issueCommand dispatches the phase command and applies its failure policy.
func (mc *Machine) issueCommand(ctx context.Context, phase *plan.Phase) error {
	m := mc.m
	spec := *phase.Command

	outcome, err := mc.dispatcher.Dispatch(ctx, m.ID, phase.Name, spec)
	metrics.CommandsDispatched.WithLabelValues(string(spec.Kind), string(outcome)).Inc()

	if err != nil {
		if errors.Is(err, eventlog.ErrPersistenceUnavailable) {
			return err
		}
		log.Printf("mission %s: command %s in phase %s failed: %v", m.ID, spec.Kind, phase.Name, err)
		if spec.Mandatory {
			return mc.abort(ctx, fmt.Sprintf("mandatory command %s failed: %v", spec.Kind, err), nil)
		}
		// Optional command: degrade and continue.
		return nil
	}

	if spec.Kind == adapter.CommandIgnite && m.IgnitionAt.IsZero() {
		m.IgnitionAt = time.Now().UTC()
	}
	mc.syncLastSeq()
	mc.publish(eventlog.Event{
		MissionID: m.ID,
		Kind:      eventlog.KindCommandIssued,
		Payload:   map[string]interface{}{"kind": string(spec.Kind), "phase": phase.Name, "outcome": string(outcome)},
	})

	_, err = mc.ackGate(ctx, phase)
	return err
}

// ackGate holds an ack-gated phase until its command is acknowledged. The
// gate is checked at entry and again before exit: a mission resumed between
// CommandIssued and CommandAcked re-enters with PhaseEntered set and never
// passes through issueCommand, so exit must re-arm the wait. ok reports
// whether the phase may advance.
func (mc *Machine) ackGate(ctx context.Context, phase *plan.Phase) (bool, error) {
	m := mc.m
	spec := phase.Command
	if spec == nil || spec.AdvanceOn != plan.AdvanceOnAcked {
		return true, nil
	}
	if m.acked[phase.Name+"/"+string(spec.Kind)] {
		return true, nil
	}
	if err := mc.dispatcher.WaitAck(ctx, m.ID, phase.Name, spec.Kind); err != nil {
		if errors.Is(err, eventlog.ErrPersistenceUnavailable) {
			return false, err
		}
		log.Printf("mission %s: command %s in phase %s not acknowledged: %v", m.ID, spec.Kind, phase.Name, err)
		if spec.Mandatory {
			return false, mc.abort(ctx, fmt.Sprintf("mandatory command %s not acknowledged", spec.Kind), nil)
		}
		// Optional command: degrade and let the phase advance.
		return true, nil
	}
	m.acked[phase.Name+"/"+string(spec.Kind)] = true
	mc.syncLastSeq()
	return true, nil
}

// exitPhase records the exit and either completes the mission or moves to
// the next phase, trying its entry against the same snapshot so a snapshot
// satisfying both boundaries crosses them in one step.
func (mc *Machine) exitPhase(ctx context.Context, phase *plan.Phase, snap *telemetry.Snapshot) error {
	m := mc.m

	ev := eventlog.Event{
		MissionID: m.ID,
		Kind:      eventlog.KindPhaseExited,
		Payload:   map[string]interface{}{"phase": phase.Name},
	}
	if err := mc.append(&ev); err != nil {
		return err
	}
	m.PhaseEntered = false
	m.PhaseIdx++
	log.Printf("mission %s: exited phase %s", m.ID, phase.Name)

	if m.PhaseIdx >= len(m.Plan.Phases) {
		return mc.complete(ctx)
	}

	next := m.CurrentPhase()
	hold, err := condition.AllHold(snap, next.Entry)
	if err != nil {
		return mc.fail(ctx, err.Error())
	}
	if hold {
		return mc.enterPhase(ctx, next, snap)
	}
	return nil
}

// abort closes the mission: best-effort abort command to the vehicle, then
// the durable Aborted event. The vehicle command not landing never blocks
// the log from closing.
func (mc *Machine) abort(ctx context.Context, reason string, snap *telemetry.Snapshot) error {
	m := mc.m

	spec := plan.CommandSpec{Kind: adapter.CommandAbort, Mandatory: true}
	if _, err := mc.dispatcher.Dispatch(ctx, m.ID, "abort", spec); err != nil {
		if errors.Is(err, eventlog.ErrPersistenceUnavailable) {
			return err
		}
		log.Printf("mission %s: abort command delivery failed: %v", m.ID, err)
	}
	mc.syncLastSeq()

	payload := map[string]interface{}{"reason": reason, "phase": m.PhaseName()}
	if snap != nil {
		payload["altitude"] = snap.AltitudeM
		payload["dynamicPressure"] = snap.DynamicPressureKPa
	}
	ev := eventlog.Event{MissionID: m.ID, Kind: eventlog.KindAborted, Payload: payload}
	if err := mc.append(&ev); err != nil {
		return err
	}
	m.Status = StatusAborted
	m.AbortReason = reason
	metrics.Aborts.WithLabelValues(m.Plan.Name).Inc()
	log.Printf("mission %s: aborted: %s", m.ID, reason)
	return nil
}

// fail closes the mission on an internal defect. No commands are issued;
// the vehicle state is whatever it was, and the operator takes over.
func (mc *Machine) fail(ctx context.Context, reason string) error {
	m := mc.m
	_ = ctx

	ev := eventlog.Event{
		MissionID: m.ID,
		Kind:      eventlog.KindFailed,
		Payload:   map[string]interface{}{"reason": reason, "phase": m.PhaseName()},
	}
	if err := mc.append(&ev); err != nil {
		return err
	}
	m.Status = StatusFailed
	m.FailReason = reason
	log.Printf("mission %s: failed: %s", m.ID, reason)
	return nil
}

func (mc *Machine) complete(ctx context.Context) error {
	m := mc.m
	_ = ctx

	ev := eventlog.Event{MissionID: m.ID, Kind: eventlog.KindCompleted, Payload: map[string]interface{}{}}
	if err := mc.append(&ev); err != nil {
		return err
	}
	m.Status = StatusCompleted
	log.Printf("mission %s: completed", m.ID)
	return nil
}

// recordTrigger appends a ConditionTriggered event for an observed
// condition crossing.
func (mc *Machine) recordTrigger(phaseName, role string, r *condition.Result, snap *telemetry.Snapshot) error {
	payload := map[string]interface{}{
		"condition": r.Name,
		"role":      role,
		"phase":     phaseName,
		"field":     r.Field,
		"actual":    r.Actual,
	}
	if snap != nil {
		payload["snapshotSeq"] = snap.Seq
	}
	ev := eventlog.Event{MissionID: mc.m.ID, Kind: eventlog.KindConditionTriggered, Payload: payload}
	return mc.append(&ev)
}

// append writes the event durably. An append failure is the one error
// HandleFrame surfaces: proceeding past an unrecorded transition would
// desynchronize state and log.
func (mc *Machine) append(ev *eventlog.Event) error {
	start := time.Now()
	if err := mc.recorder.Append(ev); err != nil {
		return err
	}
	metrics.EventAppendSeconds.Observe(time.Since(start).Seconds())
	mc.m.LastSeq = ev.Seq
	mc.publish(*ev)
	return nil
}

// syncLastSeq refreshes LastSeq after the dispatcher appended events the
// machine did not see.
func (mc *Machine) syncLastSeq() {
	// The dispatcher appends CommandIssued/CommandAcked through the same
	// recorder; LastSeq catches up on the next machine append. Tracking it
	// eagerly would require threading seq back through dispatch results.
}

func (mc *Machine) publish(ev eventlog.Event) {
	if mc.publisher == nil {
		return
	}
	data := map[string]interface{}{
		"seq":      ev.Seq,
		"kind":     string(ev.Kind),
		"severity": int(ev.Severity),
	}
	for k, v := range ev.Payload {
		data[k] = v
	}
	_ = mc.publisher.PublishMission(mc.m.ID, telemetry.Event{
		Type:     string(ev.Kind),
		Data:     data,
		Severity: int(ev.Severity),
	})
}
