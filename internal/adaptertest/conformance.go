// Package adaptertest provides vendor-agnostic conformance testing for
// vehicle adapters. Any adapter (simulated or real) must pass the same
// suite before the dispatcher is allowed to trust its command semantics.
package adaptertest

import (
	"context"
	"testing"
	"time"

	"github.com/launch-control/lcc/internal/adapter"
)

// Expectations declares what the conformance suite may assume about the
// adapter under test.
type Expectations struct {
	// SupportsThrottle indicates ThrottleSet is a valid command.
	SupportsThrottle bool

	// ReadTimeout bounds a single telemetry read.
	ReadTimeout time.Duration

	// CommandTimeout bounds a single command issue.
	CommandTimeout time.Duration
}

// DefaultExpectations returns expectations suitable for in-process adapters.
func DefaultExpectations() Expectations {
	return Expectations{
		SupportsThrottle: true,
		ReadTimeout:      time.Second,
		CommandTimeout:   time.Second,
	}
}

// RunConformance runs the conformance suite against a fresh adapter per
// subtest. newAdapter must return a vehicle on the pad: checklist complete,
// engine off, stage and fairing attached.
func RunConformance(t *testing.T, newAdapter func() adapter.IVehicleAdapter, exp Expectations) {
	t.Run("TelemetryReadable", func(t *testing.T) {
		a := newAdapter()
		ctx, cancel := context.WithTimeout(context.Background(), exp.ReadTimeout)
		defer cancel()

		readings, err := a.ReadTelemetry(ctx)
		if err != nil {
			t.Fatalf("ReadTelemetry failed: %v", err)
		}
		if readings == nil {
			t.Fatal("ReadTelemetry returned nil readings without error")
		}
		if readings.EngineActive {
			t.Error("vehicle on the pad must not report an active engine")
		}
		if !readings.StageAttached {
			t.Error("vehicle on the pad must report its stage attached")
		}
	})

	t.Run("IgniteObservable", func(t *testing.T) {
		a := newAdapter()
		ctx, cancel := context.WithTimeout(context.Background(), exp.CommandTimeout)
		defer cancel()

		before, err := a.ConfirmCommand(ctx, adapter.CommandIgnite)
		if err != nil {
			t.Fatalf("ConfirmCommand before ignite failed: %v", err)
		}
		if before {
			t.Fatal("ignition confirmed before Ignite was issued")
		}

		if err := a.IssueCommand(ctx, adapter.VehicleCommand{Kind: adapter.CommandIgnite}); err != nil {
			t.Fatalf("IssueCommand(Ignite) failed: %v", err)
		}

		after, err := a.ConfirmCommand(ctx, adapter.CommandIgnite)
		if err != nil {
			t.Fatalf("ConfirmCommand after ignite failed: %v", err)
		}
		if !after {
			t.Error("ignition not confirmed after Ignite was issued")
		}
	})

	t.Run("SeparationObservable", func(t *testing.T) {
		a := newAdapter()
		ctx, cancel := context.WithTimeout(context.Background(), exp.CommandTimeout)
		defer cancel()

		if err := a.IssueCommand(ctx, adapter.VehicleCommand{Kind: adapter.CommandStageSeparate}); err != nil {
			t.Fatalf("IssueCommand(StageSeparate) failed: %v", err)
		}

		done, err := a.ConfirmCommand(ctx, adapter.CommandStageSeparate)
		if err != nil {
			t.Fatalf("ConfirmCommand(StageSeparate) failed: %v", err)
		}
		if !done {
			t.Error("separation not confirmed after StageSeparate was issued")
		}
	})

	if exp.SupportsThrottle {
		t.Run("ThrottleRejectsOutOfRange", func(t *testing.T) {
			a := newAdapter()
			ctx, cancel := context.WithTimeout(context.Background(), exp.CommandTimeout)
			defer cancel()

			err := a.IssueCommand(ctx, adapter.VehicleCommand{Kind: adapter.CommandThrottleSet, Value: 1.5})
			if err == nil {
				t.Error("throttle 1.5 accepted; expected out-of-range rejection")
			}
		})
	}

	t.Run("CancelledContextHonored", func(t *testing.T) {
		a := newAdapter()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := a.ReadTelemetry(ctx); err == nil {
			t.Error("ReadTelemetry ignored a cancelled context")
		}
		if err := a.IssueCommand(ctx, adapter.VehicleCommand{Kind: adapter.CommandIgnite}); err == nil {
			t.Error("IssueCommand ignored a cancelled context")
		}
	})
}
