package supervisor

import (
	"context"
	"errors"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/launch-control/lcc/internal/mission"
	"github.com/launch-control/lcc/internal/telemetry"
)

// engine runs one mission: a sampler feeding a single consumer that
// processes each frame to completion before taking the next. Operator
// aborts are checked ahead of every frame so an abort is never outrun by
// telemetry.
type engine struct {
	machine *mission.Machine
	sampler *telemetry.Sampler
	abortCh chan string

	mu      sync.Mutex // serializes machine access between loop and status()
	haltErr error
}

// requestAbort queues an operator abort. The channel holds one pending
// abort; further requests before it is observed change nothing.
func (e *engine) requestAbort(reason string) {
	select {
	case e.abortCh <- reason:
	default:
	}
}

// status snapshots mission state between frames.
func (e *engine) status() *MissionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return statusOf(e.machine.Mission(), e.haltErr)
}

// currentStatus reads the mission status between frames.
func (e *engine) currentStatus() mission.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.Mission().Status
}

// halted reports whether processing stopped on an unrecoverable error.
func (e *engine) halted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.haltErr != nil
}

// run drives the mission until a terminal status, a persistence failure,
// or shutdown. The sampler and the consumer share a group so either side
// failing stops the other.
func (e *engine) run(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.sampler.Run(ctx) })
	g.Go(func() error { return e.consume(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		log.Printf("engine: mission %s halted: %v", e.machine.Mission().ID, err)
	}
}

func (e *engine) consume(ctx context.Context) error {
	frames := e.sampler.Frames()
	for {
		// An abort requested while the previous frame was in flight is
		// honored before any further telemetry is considered.
		select {
		case reason := <-e.abortCh:
			if done, err := e.applyAbort(ctx, reason); done {
				return err
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case reason := <-e.abortCh:
			if done, err := e.applyAbort(ctx, reason); done {
				return err
			}
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			e.mu.Lock()
			err := e.machine.HandleFrame(ctx, frame)
			if err != nil {
				e.haltErr = err
			}
			terminal := e.machine.Mission().Status.Terminal()
			e.mu.Unlock()

			if err != nil {
				return err
			}
			if terminal {
				return nil
			}
		}
	}
}

// applyAbort performs the operator abort. done is true when the engine
// should stop, either because the mission is now terminal or because the
// abort event could not be recorded.
func (e *engine) applyAbort(ctx context.Context, reason string) (bool, error) {
	e.mu.Lock()
	err := e.machine.Abort(ctx, reason)
	if err != nil {
		e.haltErr = err
	}
	terminal := e.machine.Mission().Status.Terminal()
	e.mu.Unlock()

	if err != nil {
		return true, err
	}
	return terminal, nil
}
