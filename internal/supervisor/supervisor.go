// Package supervisor owns mission lifecycles. It wires sampler, state
// machine, dispatcher, and recorder together for each active mission,
// enforces one active mission per vehicle, and recovers missions from the
// event log after a restart.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/launch-control/lcc/internal/adapter"
	"github.com/launch-control/lcc/internal/config"
	"github.com/launch-control/lcc/internal/dispatch"
	"github.com/launch-control/lcc/internal/eventlog"
	"github.com/launch-control/lcc/internal/metrics"
	"github.com/launch-control/lcc/internal/mission"
	"github.com/launch-control/lcc/internal/plan"
	"github.com/launch-control/lcc/internal/telemetry"
	"github.com/launch-control/lcc/internal/vehicle"
)

// Supervisor-level errors.
var (
	// ErrVehicleBusy rejects a mission start while the vehicle already has
	// a non-terminal mission.
	ErrVehicleBusy = errors.New("VEHICLE_BUSY")

	// ErrVehicleNotFound rejects operations on unregistered vehicles.
	ErrVehicleNotFound = errors.New("VEHICLE_NOT_FOUND")

	// ErrMissionTerminal rejects abort/resume of a finished mission.
	ErrMissionTerminal = errors.New("MISSION_TERMINAL")

	// ErrMissionRunning rejects resume of a mission that is already being
	// processed.
	ErrMissionRunning = errors.New("MISSION_RUNNING")
)

// MissionStatus is the read-only snapshot returned to API clients. It
// reflects only durably committed transitions.
type MissionStatus struct {
	ID        string `json:"id"`
	VehicleID string `json:"vehicleId"`
	PlanName  string `json:"planName"`

	Status       mission.Status `json:"status"`
	Phase        string         `json:"phase,omitempty"`
	PhaseEntered bool           `json:"phaseEntered"`
	LastSeq      int64          `json:"lastSeq"`

	// ClockSeconds is the mission clock: elapsed time since the ignition
	// command, zero before ignition.
	ClockSeconds float64 `json:"clockSeconds"`

	AbortReason string `json:"abortReason,omitempty"`
	FailReason  string `json:"failReason,omitempty"`

	// Halted is set when mission processing stopped on a persistence
	// failure. The mission is not terminal; it needs operator attention.
	Halted    bool   `json:"halted,omitempty"`
	HaltError string `json:"haltError,omitempty"`
}

// Supervisor drives all active missions for the container.
type Supervisor struct {
	cfg      *config.Config
	recorder eventlog.Recorder
	registry *vehicle.Registry
	hub      mission.Publisher

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	engines map[string]*engine // missionID -> engine
}

// New creates a supervisor. hub may be nil when no stream distribution is
// wanted (tests, replay tooling).
func New(cfg *config.Config, recorder eventlog.Recorder, registry *vehicle.Registry, hub mission.Publisher) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:      cfg,
		recorder: recorder,
		registry: registry,
		hub:      hub,
		baseCtx:  ctx,
		stop:     cancel,
		engines:  make(map[string]*engine),
	}
}

// Start launches a new mission on the vehicle. It fails with ErrVehicleBusy
// while the vehicle has any non-terminal mission, registered here or
// recovered from the log.
func (s *Supervisor) Start(ctx context.Context, lp *plan.LaunchPlan, vehicleID string) (string, error) {
	if err := plan.Validate(lp); err != nil {
		return "", err
	}
	va, err := s.registry.Adapter(vehicleID)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrVehicleNotFound, vehicleID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.recorder.ActiveMissionForVehicle(vehicleID)
	if err != nil {
		return "", err
	}
	if active != "" {
		return "", fmt.Errorf("%w: vehicle %s is flying mission %s", ErrVehicleBusy, vehicleID, active)
	}

	missionID := uuid.NewString()
	if err := s.recorder.RegisterMission(missionID, vehicleID, lp.Name); err != nil {
		return "", err
	}

	// The full plan rides in the MissionStarted payload so recovery can
	// rebuild the state machine from the log alone.
	planDoc, err := planPayload(lp)
	if err != nil {
		return "", err
	}
	started := eventlog.Event{
		MissionID: missionID,
		Kind:      eventlog.KindMissionStarted,
		Payload: map[string]interface{}{
			"vehicle": vehicleID,
			"plan":    planDoc,
		},
	}
	if err := s.recorder.Append(&started); err != nil {
		return "", err
	}

	m := mission.New(missionID, vehicleID, lp)
	m.Status = mission.StatusActive
	m.LastSeq = started.Seq

	s.launchLocked(m, va, 0)
	metrics.MissionsStarted.WithLabelValues(lp.Name).Inc()
	log.Printf("supervisor: mission %s started on vehicle %s (plan %s)", missionID, vehicleID, lp.Name)
	return missionID, nil
}

// Resume recovers a mission from its event log and re-attaches telemetry.
func (s *Supervisor) Resume(ctx context.Context, missionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if eng, running := s.engines[missionID]; running {
		if !eng.halted() {
			if st := eng.currentStatus(); st.Terminal() {
				return fmt.Errorf("%w: mission %s is %s", ErrMissionTerminal, missionID, st)
			}
			return fmt.Errorf("%w: %s", ErrMissionRunning, missionID)
		}
		// The engine halted on a persistence failure; resuming replaces it
		// with a fresh one rebuilt from the log.
		delete(s.engines, missionID)
		metrics.MissionsActive.Dec()
	}

	m, err := s.rebuild(missionID)
	if err != nil {
		return err
	}
	if m.Status.Terminal() {
		return fmt.Errorf("%w: mission %s is %s", ErrMissionTerminal, missionID, m.Status)
	}

	va, err := s.registry.Adapter(m.VehicleID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrVehicleNotFound, m.VehicleID)
	}

	s.launchLocked(m, va, m.SnapshotSeqHint)
	log.Printf("supervisor: mission %s resumed in phase %s (seq %d)", missionID, m.PhaseName(), m.LastSeq)
	return nil
}

// Abort injects an operator abort. For a running mission it is observed by
// the processing loop before the next snapshot; for a halted or recovered
// one the abort is applied directly.
func (s *Supervisor) Abort(ctx context.Context, missionID, reason string) error {
	if reason == "" {
		reason = "operator abort"
	}

	s.mu.Lock()
	eng, running := s.engines[missionID]
	s.mu.Unlock()

	if running && !eng.halted() {
		// A terminal mission may linger in the map until its goroutine
		// unregisters; it takes no further transitions either way.
		if st := eng.currentStatus(); st.Terminal() {
			return fmt.Errorf("%w: mission %s is %s", ErrMissionTerminal, missionID, st)
		}
		eng.requestAbort(reason)
		return nil
	}

	// Halted or not running: apply the abort against rebuilt state so the
	// log closes.
	m, err := s.rebuild(missionID)
	if err != nil {
		return err
	}
	if m.Status.Terminal() {
		return fmt.Errorf("%w: mission %s is %s", ErrMissionTerminal, missionID, m.Status)
	}
	va, err := s.registry.Adapter(m.VehicleID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrVehicleNotFound, m.VehicleID)
	}
	mc := mission.NewMachine(m, dispatch.NewDispatcher(va, s.recorder, &s.cfg.Timing), s.recorder, s.hub)
	if err := mc.Abort(ctx, reason); err != nil {
		return err
	}
	s.unregister(missionID)
	return nil
}

// Status returns the mission's read-only state. Running missions report
// live (committed) state; others are rebuilt from the log.
func (s *Supervisor) Status(missionID string) (*MissionStatus, error) {
	s.mu.Lock()
	eng, running := s.engines[missionID]
	s.mu.Unlock()

	if running {
		return eng.status(), nil
	}

	m, err := s.rebuild(missionID)
	if err != nil {
		return nil, err
	}
	return statusOf(m, nil), nil
}

// Events returns the mission's durable event history.
func (s *Supervisor) Events(missionID string) ([]eventlog.Event, error) {
	return s.recorder.Replay(missionID)
}

// Stop cancels all engines and waits for them to drain.
func (s *Supervisor) Stop() {
	s.stop()
	s.wg.Wait()
}

// launchLocked starts the engine for a mission. Caller holds s.mu.
func (s *Supervisor) launchLocked(m *mission.Mission, va adapter.IVehicleAdapter, startSeq uint64) {
	d := dispatch.NewDispatcher(va, s.recorder, &s.cfg.Timing)
	eng := &engine{
		machine: mission.NewMachine(m, d, s.recorder, s.hub),
		sampler: telemetry.NewSampler(va, &s.cfg.Timing, startSeq),
		abortCh: make(chan string, 1),
	}
	s.engines[m.ID] = eng
	metrics.MissionsActive.Inc()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		eng.run(s.baseCtx)

		// A halted engine stays registered so Status keeps surfacing the
		// halt until the operator resumes or aborts the mission.
		if eng.halted() {
			return
		}
		s.unregister(m.ID)
	}()
}

// unregister drops a mission's engine. The active gauge counts registered
// engines, so it moves only when an engine is added or removed.
func (s *Supervisor) unregister(missionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.engines[missionID]; ok {
		delete(s.engines, missionID)
		metrics.MissionsActive.Dec()
	}
}

// rebuild folds the mission's event log into fresh state.
func (s *Supervisor) rebuild(missionID string) (*mission.Mission, error) {
	vehicleID, _, err := s.recorder.MissionInfo(missionID)
	if err != nil {
		return nil, err
	}
	events, err := s.recorder.Replay(missionID)
	if err != nil {
		return nil, err
	}
	lp, err := planFromEvents(missionID, events)
	if err != nil {
		return nil, err
	}
	return mission.Rebuild(missionID, vehicleID, lp, events)
}

// planPayload converts a plan to the JSON-shaped document stored in the
// MissionStarted payload.
func planPayload(lp *plan.LaunchPlan) (map[string]interface{}, error) {
	data, err := json.Marshal(lp)
	if err != nil {
		return nil, fmt.Errorf("supervisor: encode plan: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("supervisor: encode plan: %w", err)
	}
	return doc, nil
}

// planFromEvents recovers the launch plan from the MissionStarted event.
func planFromEvents(missionID string, events []eventlog.Event) (*plan.LaunchPlan, error) {
	if len(events) == 0 || events[0].Kind != eventlog.KindMissionStarted {
		return nil, fmt.Errorf("supervisor: mission %s log does not begin with MissionStarted", missionID)
	}
	doc, ok := events[0].Payload["plan"]
	if !ok {
		return nil, fmt.Errorf("supervisor: mission %s MissionStarted event carries no plan", missionID)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("supervisor: decode plan for mission %s: %w", missionID, err)
	}
	var lp plan.LaunchPlan
	if err := json.Unmarshal(data, &lp); err != nil {
		return nil, fmt.Errorf("supervisor: decode plan for mission %s: %w", missionID, err)
	}
	if err := plan.Validate(&lp); err != nil {
		return nil, fmt.Errorf("supervisor: mission %s recovered an invalid plan: %w", missionID, err)
	}
	return &lp, nil
}

// statusOf builds the read-only view of a mission.
func statusOf(m *mission.Mission, haltErr error) *MissionStatus {
	st := &MissionStatus{
		ID:           m.ID,
		VehicleID:    m.VehicleID,
		PlanName:     m.Plan.Name,
		Status:       m.Status,
		Phase:        m.PhaseName(),
		PhaseEntered: m.PhaseEntered,
		LastSeq:      m.LastSeq,
		ClockSeconds: m.Clock(time.Now().UTC()).Seconds(),
		AbortReason:  m.AbortReason,
		FailReason:   m.FailReason,
	}
	if haltErr != nil {
		st.Halted = true
		st.HaltError = haltErr.Error()
	}
	return st
}
