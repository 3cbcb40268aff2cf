package mission

import (
	"context"
	"testing"
	"time"

	"github.com/launch-control/lcc/internal/adapter"
	"github.com/launch-control/lcc/internal/adapter/fake"
	"github.com/launch-control/lcc/internal/config"
	"github.com/launch-control/lcc/internal/dispatch"
	"github.com/launch-control/lcc/internal/eventlog"
	"github.com/launch-control/lcc/internal/plan"
)

// rebuildFromLive replays the rig's log into a fresh mission and compares
// it against the live state. Folding the log must land on exactly the
// state live execution held.
func rebuildFromLive(t *testing.T, r *rig) *Mission {
	t.Helper()
	events, err := r.recorder.Replay("m1")
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	rebuilt, err := Rebuild("m1", "v1", r.machine.Mission().Plan, events)
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	return rebuilt
}

func assertSameState(t *testing.T, live, rebuilt *Mission) {
	t.Helper()
	if rebuilt.Status != live.Status {
		t.Errorf("Status: rebuilt %s, live %s", rebuilt.Status, live.Status)
	}
	if rebuilt.PhaseIdx != live.PhaseIdx {
		t.Errorf("PhaseIdx: rebuilt %d, live %d", rebuilt.PhaseIdx, live.PhaseIdx)
	}
	if rebuilt.PhaseEntered != live.PhaseEntered {
		t.Errorf("PhaseEntered: rebuilt %v, live %v", rebuilt.PhaseEntered, live.PhaseEntered)
	}
	if rebuilt.LastSeq != live.LastSeq {
		t.Errorf("LastSeq: rebuilt %d, live %d", rebuilt.LastSeq, live.LastSeq)
	}
	if rebuilt.AbortReason != live.AbortReason {
		t.Errorf("AbortReason: rebuilt %q, live %q", rebuilt.AbortReason, live.AbortReason)
	}
	if rebuilt.FailReason != live.FailReason {
		t.Errorf("FailReason: rebuilt %q, live %q", rebuilt.FailReason, live.FailReason)
	}
}

func TestRebuildMatchesLiveMidFlight(t *testing.T) {
	r := newRig(t, ascentPlan())

	feed(t, r, frame(1, 0, 1), frame(2, 5, 2), frame(3, 12, 4))

	live := r.machine.Mission()
	rebuilt := rebuildFromLive(t, r)
	assertSameState(t, live, rebuilt)

	if got := rebuilt.PhaseName(); got != "ascent" {
		t.Fatalf("rebuilt phase = %q, want ascent", got)
	}
	if rebuilt.IgnitionAt.IsZero() {
		t.Error("rebuilt mission clock not recovered from CommandIssued")
	}
}

func TestRebuildMatchesLiveAfterCompletion(t *testing.T) {
	r := newRig(t, ascentPlan())

	feed(t, r,
		frame(1, 0, 1),
		frame(2, 5, 2),
		frame(3, 12, 4),
		frame(4, 50000, 20),
		frame(5, 110000, 1),
	)

	assertSameState(t, r.machine.Mission(), rebuildFromLive(t, r))
}

func TestRebuildMatchesLiveAfterAbort(t *testing.T) {
	r := newRig(t, ascentPlan())

	feed(t, r,
		frame(1, 0, 1),
		frame(2, 12, 4),
		frame(3, 50000, 40),
	)

	rebuilt := rebuildFromLive(t, r)
	assertSameState(t, r.machine.Mission(), rebuilt)
	if rebuilt.Status != StatusAborted {
		t.Fatalf("rebuilt status = %s, want Aborted", rebuilt.Status)
	}
	if rebuilt.SnapshotSeqHint != 3 {
		t.Errorf("SnapshotSeqHint = %d, want 3 (from the triggering snapshot)", rebuilt.SnapshotSeqHint)
	}
}

func TestResumedMachineHoldsIdempotency(t *testing.T) {
	r := newRig(t, ascentPlan())
	feed(t, r, frame(1, 0, 1), frame(2, 5, 2))

	// Simulate a crash after ignition: rebuild and drive a new machine over
	// the same recorder and vehicle. Ignite must not be re-issued.
	rebuilt := rebuildFromLive(t, r)
	m2 := NewMachine(rebuilt, r.machine.dispatcher, r.recorder, nil)

	if err := m2.HandleFrame(context.Background(), frame(3, 12, 4)); err != nil {
		t.Fatalf("HandleFrame on resumed machine: %v", err)
	}
	if got := rebuilt.PhaseName(); got != "ascent" {
		t.Fatalf("resumed phase = %q, want ascent", got)
	}
	// One ignition across both lives.
	if got := r.vehicle.IssuedCount("Ignite"); got != 1 {
		t.Fatalf("Ignite issued %d times across resume, want 1", got)
	}
}

func TestFoldRejectsSequenceGap(t *testing.T) {
	events := []eventlog.Event{
		{MissionID: "m1", Seq: 1, Kind: eventlog.KindMissionStarted, Timestamp: time.Now()},
		{MissionID: "m1", Seq: 3, Kind: eventlog.KindPhaseEntered, Payload: map[string]interface{}{"phase": "prelaunch"}},
	}
	if _, err := Rebuild("m1", "v1", ascentPlan(), events); err == nil {
		t.Fatal("Rebuild accepted a gapped sequence")
	}
}

func TestFoldRejectsUnknownPhase(t *testing.T) {
	events := []eventlog.Event{
		{MissionID: "m1", Seq: 1, Kind: eventlog.KindPhaseEntered, Payload: map[string]interface{}{"phase": "reentry"}},
	}
	if _, err := Rebuild("m1", "v1", ascentPlan(), events); err == nil {
		t.Fatal("Rebuild accepted an event naming a phase the plan lacks")
	}
}

func TestClock(t *testing.T) {
	m := New("m1", "v1", ascentPlan())
	now := time.Now()
	if got := m.Clock(now); got != 0 {
		t.Fatalf("Clock before ignition = %s, want 0", got)
	}
	m.IgnitionAt = now.Add(-42 * time.Second)
	if got := m.Clock(now); got != 42*time.Second {
		t.Fatalf("Clock = %s, want 42s", got)
	}
}

func TestCurrentPhaseBounds(t *testing.T) {
	m := New("m1", "v1", ascentPlan())
	if m.CurrentPhase() == nil {
		t.Fatal("fresh mission has no current phase")
	}
	m.PhaseIdx = len(m.Plan.Phases)
	if m.CurrentPhase() != nil {
		t.Fatal("phase past the end must be nil")
	}
	m.PhaseIdx = 0
	m.Status = StatusAborted
	if m.CurrentPhase() != nil {
		t.Fatal("terminal mission must have no current phase")
	}
	if got := m.PhaseName(); got != "" {
		t.Fatalf("PhaseName on terminal mission = %q, want empty", got)
	}
}

// ackGatedPlan is a single ack-gated phase: Ignite must be acknowledged
// before the exit condition may advance the mission.
func ackGatedPlan() *plan.LaunchPlan {
	return &plan.LaunchPlan{
		Name: "ack-gated",
		Phases: []plan.Phase{
			{
				Name: "ignition",
				Command: &plan.CommandSpec{
					Kind:      adapter.CommandIgnite,
					Mandatory: true,
					AdvanceOn: plan.AdvanceOnAcked,
				},
				Exit: []plan.Condition{{Name: "liftoff", Field: "altitude", Op: plan.OpGT, Value: 10}},
			},
		},
	}
}

// resumedAckRig rebuilds a mission whose log stops between CommandIssued
// and CommandAcked, as a crash in that window leaves it.
func resumedAckRig(t *testing.T, timing *config.TimingConfig) (*rig, *Mission) {
	t.Helper()
	recorder := newMemRecorder()
	for _, ev := range []eventlog.Event{
		{MissionID: "m1", Kind: eventlog.KindMissionStarted},
		{MissionID: "m1", Kind: eventlog.KindPhaseEntered, Payload: map[string]interface{}{"phase": "ignition"}},
		{MissionID: "m1", Kind: eventlog.KindCommandIssued, IdemKey: dispatch.IdemKey("m1", "ignition", adapter.CommandIgnite),
			Payload: map[string]interface{}{"kind": "Ignite", "phase": "ignition"}},
	} {
		if err := recorder.Append(&ev); err != nil {
			t.Fatalf("append %s: %v", ev.Kind, err)
		}
	}

	events, err := recorder.Replay("m1")
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	rebuilt, err := Rebuild("m1", "v1", ackGatedPlan(), events)
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if !rebuilt.PhaseEntered {
		t.Fatal("rebuilt mission should re-enter mid-phase")
	}

	vehicle := fake.NewFakeAdapter("v1")
	d := dispatch.NewDispatcher(vehicle, recorder, timing)
	return &rig{
		vehicle:  vehicle,
		recorder: recorder,
		machine:  NewMachine(rebuilt, d, recorder, nil),
	}, rebuilt
}

func TestAckGateHeldAcrossResume(t *testing.T) {
	timing := testTiming()
	timing.AckPollInterval = time.Millisecond
	timing.AckTimeout = 200 * time.Millisecond
	r, m := resumedAckRig(t, timing)

	// The vehicle reports the ignition effect, so the gate clears and the
	// phase exits without re-issuing the command.
	r.vehicle.SetConfirmed(adapter.CommandIgnite, true)
	feed(t, r, frame(1, 20, 2))

	if m.Status != StatusCompleted {
		t.Fatalf("status = %s, want Completed", m.Status)
	}
	if got := r.vehicle.IssuedCount(adapter.CommandIgnite); got != 0 {
		t.Fatalf("Ignite re-issued %d times across resume, want 0", got)
	}

	events, _ := r.recorder.Replay("m1")
	ackedAt, exitedAt := -1, -1
	for i, ev := range events {
		switch ev.Kind {
		case eventlog.KindCommandAcked:
			ackedAt = i
		case eventlog.KindPhaseExited:
			exitedAt = i
		}
	}
	if ackedAt == -1 || exitedAt == -1 || ackedAt > exitedAt {
		t.Fatalf("CommandAcked (%d) must precede PhaseExited (%d): %v", ackedAt, exitedAt, events)
	}
}

func TestAckGateUnconfirmedOnResumeAborts(t *testing.T) {
	timing := testTiming()
	timing.AckPollInterval = time.Millisecond
	timing.AckTimeout = 10 * time.Millisecond
	r, m := resumedAckRig(t, timing)

	// No observable effect: a mandatory ack-gated command must not let the
	// phase advance.
	r.vehicle.SetConfirmed(adapter.CommandIgnite, false)
	feed(t, r, frame(1, 20, 2))

	if m.Status != StatusAborted {
		t.Fatalf("status = %s, want Aborted", m.Status)
	}
	if m.AbortReason == "" {
		t.Fatal("abort reason not recorded")
	}
	if got := r.vehicle.IssuedCount(adapter.CommandAbort); got != 1 {
		t.Fatalf("Abort issued %d times, want 1", got)
	}
}
