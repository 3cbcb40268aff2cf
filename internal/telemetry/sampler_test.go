package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/launch-control/lcc/internal/adapter"
	"github.com/launch-control/lcc/internal/adapter/fake"
	"github.com/launch-control/lcc/internal/config"
)

func samplerTiming() *config.TimingConfig {
	t := config.Baseline().Timing
	t.SampleInterval = 2 * time.Millisecond
	t.TelemetryFailureThreshold = 3
	return &t
}

func startSampler(t *testing.T, s *Sampler) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Run(ctx) }()
	return cancel
}

func nextFrame(t *testing.T, s *Sampler) Frame {
	t.Helper()
	select {
	case f, ok := <-s.Frames():
		if !ok {
			t.Fatal("frame channel closed unexpectedly")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame within deadline")
	}
	return Frame{}
}

func TestSamplerSequencesFrames(t *testing.T) {
	vehicle := fake.NewFakeAdapter("v1")
	vehicle.Script(
		adapter.VehicleReadings{AltitudeM: 0, ChecklistComplete: true},
		adapter.VehicleReadings{AltitudeM: 10, ChecklistComplete: true},
		adapter.VehicleReadings{AltitudeM: 20, ChecklistComplete: true},
	)

	s := NewSampler(vehicle, samplerTiming(), 0)
	cancel := startSampler(t, s)
	defer cancel()

	for i, wantAlt := range []float64{0, 10, 20} {
		f := nextFrame(t, s)
		if f.TelemetryLost {
			t.Fatalf("frame %d reported telemetry lost", i+1)
		}
		if f.Snapshot.Seq != uint64(i+1) {
			t.Fatalf("frame %d has seq %d, want %d", i+1, f.Snapshot.Seq, i+1)
		}
		if f.Snapshot.AltitudeM != wantAlt {
			t.Fatalf("frame %d altitude = %v, want %v", i+1, f.Snapshot.AltitudeM, wantAlt)
		}
		if f.Snapshot.Timestamp.IsZero() {
			t.Fatalf("frame %d has zero timestamp", i+1)
		}
	}
}

func TestSamplerContinuesNumberingFromStartSeq(t *testing.T) {
	vehicle := fake.NewFakeAdapter("v1")
	s := NewSampler(vehicle, samplerTiming(), 41)
	cancel := startSampler(t, s)
	defer cancel()

	f := nextFrame(t, s)
	if f.Snapshot.Seq != 42 {
		t.Fatalf("resumed sampler produced seq %d, want 42", f.Snapshot.Seq)
	}
}

func TestSamplerEscalatesAfterConsecutiveFailures(t *testing.T) {
	vehicle := fake.NewFakeAdapter("v1")
	vehicle.FailTelemetry(3, nil)

	s := NewSampler(vehicle, samplerTiming(), 0)
	cancel := startSampler(t, s)
	defer cancel()

	// The first two failures stay below the threshold and publish nothing;
	// the third escalates in-band.
	f := nextFrame(t, s)
	if !f.TelemetryLost {
		t.Fatalf("expected TelemetryLost frame, got snapshot %+v", f.Snapshot)
	}
	if !errors.Is(f.Err, ErrLossOfTelemetry) {
		t.Fatalf("Err = %v, want ErrLossOfTelemetry", f.Err)
	}

	// Telemetry recovers: the failure count resets and sampling resumes.
	f = nextFrame(t, s)
	if f.TelemetryLost {
		t.Fatal("telemetry did not recover after failures cleared")
	}
	if f.Snapshot.Seq != 1 {
		t.Fatalf("first good frame has seq %d, want 1", f.Snapshot.Seq)
	}
}

func TestSamplerSingleFailureIsSilent(t *testing.T) {
	vehicle := fake.NewFakeAdapter("v1")
	vehicle.FailTelemetry(1, nil)
	vehicle.Script(adapter.VehicleReadings{AltitudeM: 7})

	s := NewSampler(vehicle, samplerTiming(), 0)
	cancel := startSampler(t, s)
	defer cancel()

	f := nextFrame(t, s)
	if f.TelemetryLost {
		t.Fatal("single failure below threshold must not escalate")
	}
	if f.Snapshot.AltitudeM != 7 {
		t.Fatalf("altitude = %v, want 7", f.Snapshot.AltitudeM)
	}
}
