package mission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/launch-control/lcc/internal/adapter"
	"github.com/launch-control/lcc/internal/adapter/fake"
	"github.com/launch-control/lcc/internal/config"
	"github.com/launch-control/lcc/internal/dispatch"
	"github.com/launch-control/lcc/internal/eventlog"
	"github.com/launch-control/lcc/internal/plan"
	"github.com/launch-control/lcc/internal/telemetry"
)

// memRecorder is an in-memory eventlog.Recorder for machine tests.
type memRecorder struct {
	mu     sync.Mutex
	events map[string][]eventlog.Event
	fail   error
}

func newMemRecorder() *memRecorder {
	return &memRecorder{events: make(map[string][]eventlog.Event)}
}

func (r *memRecorder) RegisterMission(missionID, vehicleID, planName string) error { return nil }

func (r *memRecorder) Append(ev *eventlog.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	if ev.IdemKey != "" {
		for _, e := range r.events[ev.MissionID] {
			if e.IdemKey == ev.IdemKey {
				return fmt.Errorf("%w: %s", eventlog.ErrDuplicateCommand, ev.IdemKey)
			}
		}
	}
	ev.Seq = int64(len(r.events[ev.MissionID]) + 1)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	r.events[ev.MissionID] = append(r.events[ev.MissionID], *ev)
	return nil
}

func (r *memRecorder) Replay(missionID string) ([]eventlog.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]eventlog.Event, len(r.events[missionID]))
	copy(out, r.events[missionID])
	return out, nil
}

func (r *memRecorder) MissionInfo(missionID string) (string, string, error) {
	return "v1", "ascent", nil
}

func (r *memRecorder) HasCommand(missionID, idemKey string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events[missionID] {
		if e.IdemKey == idemKey {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRecorder) ActiveMissionForVehicle(vehicleID string) (string, error) { return "", nil }

// ascentPlan is the three-phase reference sequence: checklist, ignition,
// ascent with a max-Q abort.
func ascentPlan() *plan.LaunchPlan {
	return &plan.LaunchPlan{
		Name: "ascent",
		Phases: []plan.Phase{
			{
				Name: "prelaunch",
				Exit: []plan.Condition{{Name: "checklistOk", Field: "checklistOk", Op: plan.OpFlag}},
			},
			{
				Name:    "ignition",
				Entry:   []plan.Condition{{Name: "checklistOk", Field: "checklistOk", Op: plan.OpFlag}},
				Command: &plan.CommandSpec{Kind: adapter.CommandIgnite, Mandatory: true},
				Exit:    []plan.Condition{{Name: "liftoff", Field: "altitude", Op: plan.OpGT, Value: 10}},
			},
			{
				Name:  "ascent",
				Entry: []plan.Condition{{Name: "liftoff", Field: "altitude", Op: plan.OpGT, Value: 10}},
				Abort: []plan.Condition{{Name: "maxQ", Field: "dynamicPressure", Op: plan.OpGT, Value: 35}},
				Exit:  []plan.Condition{{Name: "spaceline", Field: "altitude", Op: plan.OpGT, Value: 100000}},
			},
		},
	}
}

func testTiming() *config.TimingConfig {
	t := config.Baseline().Timing
	t.DispatchBackoffInitial = time.Millisecond
	t.DispatchBackoffMax = 5 * time.Millisecond
	return &t
}

type rig struct {
	vehicle  *fake.FakeAdapter
	recorder *memRecorder
	machine  *Machine
}

// newRig builds a mission the way the supervisor does: MissionStarted
// first, state active.
func newRig(t *testing.T, lp *plan.LaunchPlan) *rig {
	t.Helper()
	vehicle := fake.NewFakeAdapter("v1")
	recorder := newMemRecorder()

	started := eventlog.Event{MissionID: "m1", Kind: eventlog.KindMissionStarted}
	if err := recorder.Append(&started); err != nil {
		t.Fatalf("append MissionStarted: %v", err)
	}

	m := New("m1", "v1", lp)
	m.Status = StatusActive
	m.LastSeq = started.Seq

	d := dispatch.NewDispatcher(vehicle, recorder, testTiming())
	return &rig{
		vehicle:  vehicle,
		recorder: recorder,
		machine:  NewMachine(m, d, recorder, nil),
	}
}

func frame(seq uint64, alt, q float64) telemetry.Frame {
	return telemetry.Frame{Snapshot: &telemetry.Snapshot{
		Seq:       seq,
		Timestamp: time.Unix(1700000000, 0).Add(time.Duration(seq) * time.Second),
		VehicleReadings: adapter.VehicleReadings{
			AltitudeM:          alt,
			VelocityMS:         alt / 10,
			FuelFraction:       1 - float64(seq)*0.05,
			DynamicPressureKPa: q,
			ChecklistComplete:  true,
			StageAttached:      true,
		},
	}}
}

func feed(t *testing.T, r *rig, frames ...telemetry.Frame) {
	t.Helper()
	for i, f := range frames {
		if err := r.machine.HandleFrame(context.Background(), f); err != nil {
			t.Fatalf("frame %d: HandleFrame failed: %v", i+1, err)
		}
	}
}

func TestLaunchSequenceHappyPath(t *testing.T) {
	r := newRig(t, ascentPlan())
	m := r.machine.Mission()

	// Snapshot 1: prelaunch enters and clears on the same snapshot,
	// ignition is entered and Ignite dispatched.
	feed(t, r, frame(1, 0, 1))
	if got := m.PhaseName(); got != "ignition" {
		t.Fatalf("after snapshot 1: phase = %q, want ignition", got)
	}
	if got := r.vehicle.IssuedCount(adapter.CommandIgnite); got != 1 {
		t.Fatalf("Ignite issued %d times, want 1", got)
	}

	// Snapshot 2: altitude 5 does not clear liftoff; hold.
	feed(t, r, frame(2, 5, 2))
	if got := m.PhaseName(); got != "ignition" {
		t.Fatalf("after snapshot 2: phase = %q, want ignition", got)
	}

	// Snapshot 3: liftoff; ascent entered.
	feed(t, r, frame(3, 12, 4))
	if got := m.PhaseName(); got != "ascent" {
		t.Fatalf("after snapshot 3: phase = %q, want ascent", got)
	}

	// Snapshot 4: climbing; hold.
	feed(t, r, frame(4, 50000, 20))
	if got := m.PhaseName(); got != "ascent" {
		t.Fatalf("after snapshot 4: phase = %q, want ascent", got)
	}

	// Snapshot 5: past the line; mission complete.
	feed(t, r, frame(5, 110000, 1))
	if m.Status != StatusCompleted {
		t.Fatalf("status = %s, want Completed", m.Status)
	}

	// Ignite must have been dispatched exactly once across the sequence.
	if got := r.vehicle.IssuedCount(adapter.CommandIgnite); got != 1 {
		t.Fatalf("Ignite issued %d times total, want 1", got)
	}
	if m.IgnitionAt.IsZero() {
		t.Fatal("mission clock not started at ignition")
	}

	assertGapFree(t, r.recorder, "m1")
}

func TestAbortOnMaxQ(t *testing.T) {
	r := newRig(t, ascentPlan())
	m := r.machine.Mission()

	feed(t, r,
		frame(1, 0, 1),
		frame(2, 5, 2),
		frame(3, 12, 4),
		frame(4, 50000, 40), // dynamic pressure above the limit
	)

	if m.Status != StatusAborted {
		t.Fatalf("status = %s, want Aborted", m.Status)
	}
	if got := r.vehicle.IssuedCount(adapter.CommandAbort); got != 1 {
		t.Fatalf("Abort issued %d times, want 1", got)
	}

	// Further frames are ignored and issue nothing.
	feed(t, r, frame(5, 110000, 1))
	if m.Status != StatusAborted {
		t.Fatalf("status after extra frame = %s, want Aborted", m.Status)
	}
	issued := r.vehicle.Issued()
	for _, cmd := range issued {
		if cmd.Kind == adapter.CommandStageSeparate {
			t.Fatalf("unexpected %s after abort", cmd.Kind)
		}
	}
	if len(issued) != 2 { // Ignite + Abort
		t.Fatalf("issued %d commands, want 2 (Ignite, Abort): %v", len(issued), issued)
	}

	assertGapFree(t, r.recorder, "m1")
}

func TestAbortBeatsExitOnSameSnapshot(t *testing.T) {
	r := newRig(t, ascentPlan())
	m := r.machine.Mission()

	feed(t, r,
		frame(1, 0, 1),
		frame(2, 12, 4),
		// Exit (altitude > 100000) and abort (q > 35) both hold.
		frame(3, 110000, 40),
	)

	if m.Status != StatusAborted {
		t.Fatalf("status = %s, want Aborted (abort takes precedence over exit)", m.Status)
	}
}

func TestLossOfTelemetryAborts(t *testing.T) {
	r := newRig(t, ascentPlan())
	m := r.machine.Mission()

	feed(t, r, frame(1, 0, 1))
	feed(t, r, telemetry.Frame{
		TelemetryLost: true,
		Err:           telemetry.ErrLossOfTelemetry,
	})

	if m.Status != StatusAborted {
		t.Fatalf("status = %s, want Aborted on loss of telemetry", m.Status)
	}
	if got := r.vehicle.IssuedCount(adapter.CommandAbort); got != 1 {
		t.Fatalf("Abort issued %d times, want 1", got)
	}
}

func TestEvaluatorDefectFailsMission(t *testing.T) {
	lp := ascentPlan()
	lp.Phases[0].Exit[0].Field = "apoapsis" // not a telemetry field

	r := newRig(t, lp)
	m := r.machine.Mission()

	feed(t, r, frame(1, 0, 1))

	if m.Status != StatusFailed {
		t.Fatalf("status = %s, want Failed (defect, not flight anomaly)", m.Status)
	}
	if m.FailReason == "" {
		t.Error("FailReason not set")
	}
	// A defect must not fire the abort path.
	if got := r.vehicle.IssuedCount(adapter.CommandAbort); got != 0 {
		t.Fatalf("Abort issued %d times on defect, want 0", got)
	}
}

func TestMandatoryCommandFailureAborts(t *testing.T) {
	r := newRig(t, ascentPlan())
	m := r.machine.Mission()
	r.vehicle.FailIssue(adapter.CommandIgnite, 10,
		adapter.NormalizeVendorError(errors.New("INVALID_STAGE: no engine"), nil))

	feed(t, r, frame(1, 0, 1))

	if m.Status != StatusAborted {
		t.Fatalf("status = %s, want Aborted on mandatory command failure", m.Status)
	}
}

func TestOptionalCommandFailureContinues(t *testing.T) {
	lp := ascentPlan()
	lp.Phases[1].Command = &plan.CommandSpec{Kind: adapter.CommandThrottleSet, Value: 0.8}

	r := newRig(t, lp)
	m := r.machine.Mission()
	r.vehicle.FailIssue(adapter.CommandThrottleSet, 10,
		adapter.NormalizeVendorError(errors.New("OUT_OF_RANGE"), nil))

	feed(t, r, frame(1, 0, 1), frame(2, 12, 4))

	if m.Status != StatusActive {
		t.Fatalf("status = %s, want Active (optional command degrades)", m.Status)
	}
	if got := m.PhaseName(); got != "ascent" {
		t.Fatalf("phase = %q, want ascent", got)
	}
}

func TestTimeBoxedPhaseAdvances(t *testing.T) {
	lp := &plan.LaunchPlan{
		Name: "hold-test",
		Phases: []plan.Phase{
			{Name: "hold", MaxDuration: 10 * time.Second},
			{Name: "done", Exit: []plan.Condition{{Name: "always", Field: "checklistOk", Op: plan.OpFlag}}},
		},
	}
	r := newRig(t, lp)
	m := r.machine.Mission()

	feed(t, r, frame(1, 0, 0)) // enters hold at t+1s
	if got := m.PhaseName(); got != "hold" {
		t.Fatalf("phase = %q, want hold", got)
	}

	feed(t, r, frame(6, 0, 0)) // 5s elapsed; still holding
	if got := m.PhaseName(); got != "hold" {
		t.Fatalf("phase after 5s = %q, want hold", got)
	}

	feed(t, r, frame(11, 0, 0)) // 10s elapsed; advance
	if got := m.PhaseName(); got != "done" {
		t.Fatalf("phase after 10s = %q, want done", got)
	}
}

func TestPersistenceFailureHaltsProcessing(t *testing.T) {
	r := newRig(t, ascentPlan())
	r.recorder.fail = eventlog.ErrPersistenceUnavailable

	err := r.machine.HandleFrame(context.Background(), frame(1, 0, 1))
	if !errors.Is(err, eventlog.ErrPersistenceUnavailable) {
		t.Fatalf("expected ErrPersistenceUnavailable to surface, got %v", err)
	}
	// No transition was committed, so state must not have advanced.
	if r.machine.Mission().PhaseEntered {
		t.Error("phase marked entered without a durable event")
	}
}

func TestOperatorAbort(t *testing.T) {
	r := newRig(t, ascentPlan())
	m := r.machine.Mission()

	feed(t, r, frame(1, 0, 1))
	if err := r.machine.Abort(context.Background(), "range safety"); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	if m.Status != StatusAborted {
		t.Fatalf("status = %s, want Aborted", m.Status)
	}
	if m.AbortReason != "range safety" {
		t.Fatalf("AbortReason = %q", m.AbortReason)
	}

	// Idempotent once terminal.
	if err := r.machine.Abort(context.Background(), "again"); err != nil {
		t.Fatalf("second Abort failed: %v", err)
	}
	if m.AbortReason != "range safety" {
		t.Error("terminal mission mutated by second abort")
	}
}

func assertGapFree(t *testing.T, r *memRecorder, missionID string) {
	t.Helper()
	events, err := r.Replay(missionID)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	for i, ev := range events {
		if ev.Seq != int64(i+1) {
			t.Fatalf("event %d has seq %d, want %d (gap-free)", i, ev.Seq, i+1)
		}
	}
}
