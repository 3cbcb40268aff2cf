// Package simvehicle implements a simulated vehicle adapter.
//
// It stands in for the remote vehicle-control interface the same way a
// vendor bench mock stands in for real hardware: a deterministic scripted
// flight profile advanced one tick per telemetry read, with optional fault
// injection on the transport path. It deliberately has no aerodynamics; the
// profile only needs to be monotonic and plausible enough to exercise
// condition thresholds.
package simvehicle

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/launch-control/lcc/internal/adapter"
)

// Profile controls the scripted flight evolution per tick.
type Profile struct {
	// ClimbRate is altitude gained per tick once the engine is active, m.
	ClimbRate float64

	// Acceleration is velocity gained per tick once the engine is active, m/s.
	Acceleration float64

	// BurnPerTick is the fuel fraction consumed per tick under full throttle.
	BurnPerTick float64

	// MaxQAltitude is the altitude of peak dynamic pressure, m.
	MaxQAltitude float64

	// PeakDynamicPressure is the dynamic pressure at MaxQAltitude, kPa.
	PeakDynamicPressure float64
}

// DefaultProfile returns a profile that clears a 100 km ascent in a few
// hundred ticks.
func DefaultProfile() Profile {
	return Profile{
		ClimbRate:           450,
		Acceleration:        22,
		BurnPerTick:         0.004,
		MaxQAltitude:        11200,
		PeakDynamicPressure: 32,
	}
}

// SimVehicle implements IVehicleAdapter against a scripted flight profile.
type SimVehicle struct {
	adapter.AdapterBase

	mu      sync.Mutex
	profile Profile

	tick            int
	altitude        float64
	velocity        float64
	fuel            float64
	throttle        float64
	engineActive    bool
	ignited         bool
	stageAttached   bool
	fairingAttached bool
	checklistDone   bool
	aborted         bool

	// Fault injection
	dropReads  int
	issueDelay time.Duration
}

// New creates a simulated vehicle on the launch pad with a complete
// pre-launch checklist.
func New(vehicleID string, profile Profile) *SimVehicle {
	return &SimVehicle{
		AdapterBase: adapter.AdapterBase{
			VehicleID: vehicleID,
			Model:     "SIM-2",
			Status:    "online",
		},
		profile:         profile,
		fuel:            1.0,
		stageAttached:   true,
		fairingAttached: true,
		checklistDone:   true,
	}
}

// ReadTelemetry advances the simulation one tick and returns the readings.
func (s *SimVehicle) ReadTelemetry(ctx context.Context) (*adapter.VehicleReadings, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dropReads > 0 {
		s.dropReads--
		return nil, fmt.Errorf("CONNECTION_RESET: simulated link drop")
	}

	s.advance()

	return &adapter.VehicleReadings{
		AltitudeM:          s.altitude,
		VelocityMS:         s.velocity,
		FuelFraction:       s.fuel,
		DynamicPressureKPa: s.dynamicPressure(),
		Mach:               s.velocity / 343.0,
		Throttle:           s.throttle,
		EngineActive:       s.engineActive,
		StageAttached:      s.stageAttached,
		FairingAttached:    s.fairingAttached,
		ChecklistComplete:  s.checklistDone,
		ReadAt:             time.Now().UTC(),
	}, nil
}

// IssueCommand applies the command's effect to the simulated vehicle.
func (s *SimVehicle) IssueCommand(ctx context.Context, cmd adapter.VehicleCommand) error {
	if s.issueDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.issueDelay):
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd.Kind {
	case adapter.CommandIgnite:
		s.engineActive = true
		s.ignited = true
		s.throttle = 1.0
	case adapter.CommandStageSeparate:
		if !s.stageAttached {
			return fmt.Errorf("INVALID_STAGE: stage already separated")
		}
		s.stageAttached = false
	case adapter.CommandDeployFairing:
		if !s.fairingAttached {
			return fmt.Errorf("INVALID_STAGE: fairing already jettisoned")
		}
		s.fairingAttached = false
	case adapter.CommandThrottleSet:
		if cmd.Value < 0 || cmd.Value > 1 {
			return fmt.Errorf("OUT_OF_RANGE: throttle %.2f outside [0,1]", cmd.Value)
		}
		s.throttle = cmd.Value
	case adapter.CommandAbort:
		s.aborted = true
		s.engineActive = false
		s.throttle = 0
	default:
		return fmt.Errorf("INVALID_ARGUMENT: unknown command kind %q", cmd.Kind)
	}

	return nil
}

// ConfirmCommand reports whether the command's effect is observable.
func (s *SimVehicle) ConfirmCommand(ctx context.Context, kind adapter.CommandKind) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case adapter.CommandIgnite:
		return s.ignited, nil
	case adapter.CommandStageSeparate:
		return !s.stageAttached, nil
	case adapter.CommandDeployFairing:
		return !s.fairingAttached, nil
	case adapter.CommandThrottleSet:
		return true, nil
	case adapter.CommandAbort:
		return s.aborted, nil
	default:
		return false, fmt.Errorf("INVALID_ARGUMENT: unknown command kind %q", kind)
	}
}

// DropReads makes the next n telemetry reads fail, simulating link loss.
func (s *SimVehicle) DropReads(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropReads = n
}

// SetIssueDelay delays every IssueCommand, simulating a slow transport.
func (s *SimVehicle) SetIssueDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issueDelay = d
}

// advance moves the flight profile one tick. Caller must hold s.mu.
func (s *SimVehicle) advance() {
	s.tick++

	if !s.engineActive || s.aborted || s.fuel <= 0 {
		return
	}

	s.altitude += s.profile.ClimbRate * s.throttle
	s.velocity += s.profile.Acceleration * s.throttle
	s.fuel = math.Max(0, s.fuel-s.profile.BurnPerTick*s.throttle)
}

// dynamicPressure models a single max-Q bump around MaxQAltitude.
// Caller must hold s.mu.
func (s *SimVehicle) dynamicPressure() float64 {
	if s.altitude <= 0 || s.velocity <= 0 {
		return 0
	}
	// Gaussian bump centered on the max-Q altitude.
	spread := s.profile.MaxQAltitude / 2
	x := (s.altitude - s.profile.MaxQAltitude) / spread
	return s.profile.PeakDynamicPressure * math.Exp(-x*x)
}
