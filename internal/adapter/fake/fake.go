// Package fake provides a scriptable vehicle adapter for testing.
//
// Tests feed it a sequence of readings and it replays them in order; command
// issuance and confirmation are recorded so dispatch behavior can be
// asserted without a real transport.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/launch-control/lcc/internal/adapter"
)

// FakeAdapter implements IVehicleAdapter for testing purposes.
type FakeAdapter struct {
	adapter.AdapterBase

	mu sync.Mutex

	// Scripted telemetry, replayed in order. The last reading repeats once
	// the script is exhausted.
	script []adapter.VehicleReadings
	cursor int

	// Issued commands in arrival order.
	issued []adapter.VehicleCommand

	// Effects observable via ConfirmCommand.
	confirmed map[adapter.CommandKind]bool

	// Error injection
	telemetryErr   error
	telemetryFails int // fail the next N telemetry reads
	issueErr       map[adapter.CommandKind]error
	issueErrCount  map[adapter.CommandKind]int // fail the next N issues of a kind
	confirmErr     error
}

// NewFakeAdapter creates a new fake adapter for testing.
func NewFakeAdapter(vehicleID string) *FakeAdapter {
	return &FakeAdapter{
		AdapterBase: adapter.AdapterBase{
			VehicleID: vehicleID,
			Model:     "Fake-Vehicle-Test",
			Status:    "online",
		},
		confirmed:     make(map[adapter.CommandKind]bool),
		issueErr:      make(map[adapter.CommandKind]error),
		issueErrCount: make(map[adapter.CommandKind]int),
	}
}

// Script replaces the telemetry script.
func (f *FakeAdapter) Script(readings ...adapter.VehicleReadings) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = readings
	f.cursor = 0
}

// ReadTelemetry returns the next scripted reading.
func (f *FakeAdapter) ReadTelemetry(ctx context.Context) (*adapter.VehicleReadings, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.telemetryFails > 0 {
		f.telemetryFails--
		if f.telemetryErr != nil {
			return nil, f.telemetryErr
		}
		return nil, fmt.Errorf("CONNECTION_RESET: scripted telemetry failure")
	}
	if f.telemetryErr != nil {
		return nil, f.telemetryErr
	}

	if len(f.script) == 0 {
		return &adapter.VehicleReadings{ChecklistComplete: true, StageAttached: true, FairingAttached: true}, nil
	}

	r := f.script[f.cursor]
	if f.cursor < len(f.script)-1 {
		f.cursor++
	}
	return &r, nil
}

// IssueCommand records the command, applying any injected error first.
func (f *FakeAdapter) IssueCommand(ctx context.Context, cmd adapter.VehicleCommand) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if n := f.issueErrCount[cmd.Kind]; n > 0 {
		f.issueErrCount[cmd.Kind] = n - 1
		if err := f.issueErr[cmd.Kind]; err != nil {
			return err
		}
		return fmt.Errorf("TEMPORARY_FAILURE: scripted issue failure")
	}

	f.issued = append(f.issued, cmd)
	f.confirmed[cmd.Kind] = true
	return nil
}

// ConfirmCommand reports whether the command's effect was applied.
func (f *FakeAdapter) ConfirmCommand(ctx context.Context, kind adapter.CommandKind) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.confirmErr != nil {
		return false, f.confirmErr
	}
	return f.confirmed[kind], nil
}

// Issued returns a copy of the commands issued so far.
func (f *FakeAdapter) Issued() []adapter.VehicleCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]adapter.VehicleCommand, len(f.issued))
	copy(out, f.issued)
	return out
}

// IssuedCount returns how many times a command kind was issued.
func (f *FakeAdapter) IssuedCount(kind adapter.CommandKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, cmd := range f.issued {
		if cmd.Kind == kind {
			n++
		}
	}
	return n
}

// FailTelemetry makes the next n telemetry reads fail with err.
// A nil err uses a generic transient failure message.
func (f *FakeAdapter) FailTelemetry(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.telemetryFails = n
	f.telemetryErr = err
}

// FailIssue makes the next n issues of kind fail with err.
func (f *FakeAdapter) FailIssue(kind adapter.CommandKind, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issueErrCount[kind] = n
	f.issueErr[kind] = err
}

// SetConfirmed overrides the confirmation state for a command kind,
// simulating an effect the adapter did not itself issue (e.g. the vehicle
// ignited before a crash wiped local state).
func (f *FakeAdapter) SetConfirmed(kind adapter.CommandKind, done bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed[kind] = done
}

// SetConfirmError makes ConfirmCommand fail with err.
func (f *FakeAdapter) SetConfirmError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmErr = err
}
