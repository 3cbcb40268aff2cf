package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/launch-control/lcc/internal/adapter"
	"github.com/launch-control/lcc/internal/config"
	"github.com/launch-control/lcc/internal/metrics"
)

// Telemetry error conditions.
var (
	// ErrTelemetryUnavailable marks a single failed sample.
	ErrTelemetryUnavailable = errors.New("TELEMETRY_UNAVAILABLE")

	// ErrLossOfTelemetry marks the consecutive-failure threshold being
	// reached. Consumed by the state machine as an abort trigger.
	ErrLossOfTelemetry = errors.New("LOSS_OF_TELEMETRY")
)

// Sampler polls the vehicle adapter on a fixed cadence and publishes
// sequenced snapshots to a single consumer. No business logic lives here.
type Sampler struct {
	vehicle  adapter.IVehicleAdapter
	timing   *config.TimingConfig
	frames   chan Frame
	seq      uint64
	failures int
}

// NewSampler creates a sampler for one vehicle. startSeq lets a resumed
// mission continue its snapshot numbering instead of restarting at zero.
func NewSampler(vehicle adapter.IVehicleAdapter, timing *config.TimingConfig, startSeq uint64) *Sampler {
	return &Sampler{
		vehicle: vehicle,
		timing:  timing,
		frames:  make(chan Frame, 1),
		seq:     startSeq,
	}
}

// Frames returns the ordered frame stream. Exactly one consumer must drain
// it; back-pressure from that consumer paces the sampler, which keeps each
// snapshot processed to completion before the next is considered.
func (s *Sampler) Frames() <-chan Frame {
	return s.frames
}

// Run polls until the context is cancelled. It never returns an error of
// its own: sampling failures are reported in-band as frames so the mission
// pipeline decides policy.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.timing.SampleInterval)
	defer ticker.Stop()
	defer close(s.frames)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		frame, ok := s.sampleOnce(ctx)
		if !ok {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case s.frames <- frame:
		}
	}
}

// sampleOnce performs one bounded telemetry read. The second return is
// false when the failure count is still below the escalation threshold.
func (s *Sampler) sampleOnce(ctx context.Context) (Frame, bool) {
	readCtx, cancel := context.WithTimeout(ctx, s.timing.SampleInterval)
	readings, err := s.vehicle.ReadTelemetry(readCtx)
	cancel()

	if err != nil {
		s.failures++
		metrics.TelemetryFailures.Inc()
		unavailable := fmt.Errorf("%w: %v", ErrTelemetryUnavailable, err)
		if s.failures < s.timing.TelemetryFailureThreshold {
			return Frame{}, false
		}
		// Threshold reached; escalate every tick until telemetry returns
		// so the consumer cannot miss the signal.
		return Frame{
			TelemetryLost: true,
			Err:           fmt.Errorf("%w: %d consecutive failures: %v", ErrLossOfTelemetry, s.failures, unavailable),
		}, true
	}

	s.failures = 0
	s.seq++
	return Frame{
		Snapshot: &Snapshot{
			Seq:             s.seq,
			Timestamp:       time.Now().UTC(),
			VehicleReadings: *readings,
		},
	}, true
}
