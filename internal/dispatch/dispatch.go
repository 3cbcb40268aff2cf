// Package dispatch issues vehicle commands with at-most-once semantics.
// Every issue is recorded in the mission event log under an idempotency
// key before the outcome is reported; a command whose key is already
// recorded is never sent to the vehicle again. Commands whose transport
// outcome is unknown are reconciled against observed vehicle state rather
// than blindly retried.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/launch-control/lcc/internal/adapter"
	"github.com/launch-control/lcc/internal/config"
	"github.com/launch-control/lcc/internal/eventlog"
	"github.com/launch-control/lcc/internal/plan"
)

// Outcome is the result of a dispatch attempt.
type Outcome string

const (
	// OutcomeSent means the transport accepted the command on this call.
	OutcomeSent Outcome = "Sent"
	// OutcomeAlreadySent means the log already records this command; it
	// was not re-issued.
	OutcomeAlreadySent Outcome = "AlreadySent"
	// OutcomeFailed means the command could not be delivered.
	OutcomeFailed Outcome = "Failed"
)

// ErrCommandFailed indicates the vehicle or transport definitively rejected
// the command after retries were exhausted or reconciliation showed no
// effect.
var ErrCommandFailed = errors.New("COMMAND_FAILED")

// Dispatcher issues commands for missions through a vehicle adapter and
// records every issue in the event log.
type Dispatcher struct {
	vehicle  adapter.IVehicleAdapter
	recorder eventlog.Recorder
	timing   *config.TimingConfig
}

// NewDispatcher creates a dispatcher bound to one vehicle adapter.
func NewDispatcher(vehicle adapter.IVehicleAdapter, recorder eventlog.Recorder, timing *config.TimingConfig) *Dispatcher {
	return &Dispatcher{vehicle: vehicle, recorder: recorder, timing: timing}
}

// IdemKey derives the idempotency key for a command within a mission phase.
// A phase issues each command kind at most once, so the triple is unique.
func IdemKey(missionID, phase string, kind adapter.CommandKind) string {
	return fmt.Sprintf("%s/%s/%s", missionID, phase, kind)
}

// Dispatch issues the phase's command for the mission.
//
// The flow is: check the log for the idempotency key (AlreadySent if
// present), issue with a per-class timeout, retry transient failures of
// non-destructive commands with bounded backoff, and reconcile unknown
// outcomes of destructive commands via ConfirmCommand. The CommandIssued
// event is appended before Dispatch returns OutcomeSent; if the append
// fails the error is surfaced so the mission halts instead of advancing
// unrecorded.
func (d *Dispatcher) Dispatch(ctx context.Context, missionID, phase string, spec plan.CommandSpec) (Outcome, error) {
	cmd := adapter.VehicleCommand{Kind: spec.Kind, Value: spec.Value}
	key := IdemKey(missionID, phase, spec.Kind)

	issued, err := d.recorder.HasCommand(missionID, key)
	if err != nil {
		return OutcomeFailed, err
	}
	if issued {
		return OutcomeAlreadySent, nil
	}

	retry := d.retryPolicy(spec)
	backoff := retry.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		issueCtx, cancel := context.WithTimeout(ctx, d.timeoutFor(spec.Kind))
		// Adapters surface raw transport errors; classify through the
		// normalized codes before deciding retry vs reconcile.
		err := adapter.NormalizeVendorError(d.vehicle.IssueCommand(issueCtx, cmd), nil)
		cancel()

		if err == nil {
			return d.recordIssued(missionID, phase, spec, key, attempt)
		}
		lastErr = err

		switch {
		case errors.Is(err, adapter.ErrUnknownOutcome):
			if cmd.Kind.Destructive() {
				return d.reconcile(ctx, missionID, phase, spec, key)
			}
			// Non-destructive commands are safe to re-issue.
		case errors.Is(err, adapter.ErrTransient), errors.Is(err, adapter.ErrUnavailable):
			// Retryable.
		default:
			// Invalid command, internal fault: no retry will change it.
			return OutcomeFailed, fmt.Errorf("%w: %s: %v", ErrCommandFailed, cmd.Kind, err)
		}

		if attempt == retry.MaxAttempts {
			break
		}
		if cmd.Kind.Destructive() && errors.Is(err, adapter.ErrTransient) {
			// A destructive command that failed before send is retryable,
			// but never past the point where delivery is ambiguous.
			log.Printf("dispatch: retrying destructive command %s after transient failure (attempt %d)", cmd.Kind, attempt)
		}

		select {
		case <-ctx.Done():
			return OutcomeFailed, fmt.Errorf("%w: %s: %v", ErrCommandFailed, cmd.Kind, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * retry.BackoffFactor)
		if backoff > retry.MaxBackoff {
			backoff = retry.MaxBackoff
		}
	}

	return OutcomeFailed, fmt.Errorf("%w: %s: %d attempts: %v", ErrCommandFailed, cmd.Kind, retry.MaxAttempts, lastErr)
}

// reconcile resolves an unknown-outcome destructive command by asking the
// vehicle whether the command took effect. A confirmed effect is recorded
// as Sent without re-issuing; an unconfirmed effect is reported Failed so
// the operator decides.
func (d *Dispatcher) reconcile(ctx context.Context, missionID, phase string, spec plan.CommandSpec, key string) (Outcome, error) {
	confirmCtx, cancel := context.WithTimeout(ctx, d.timing.CommandTimeoutQuery)
	confirmed, err := d.vehicle.ConfirmCommand(confirmCtx, spec.Kind)
	cancel()
	if err != nil {
		err = adapter.NormalizeVendorError(err, nil)
		return OutcomeFailed, fmt.Errorf("%w: %s: reconciliation failed: %v", ErrCommandFailed, spec.Kind, err)
	}
	if !confirmed {
		return OutcomeFailed, fmt.Errorf("%w: %s: delivery unknown, effect not observed", ErrCommandFailed, spec.Kind)
	}

	log.Printf("dispatch: %s confirmed by vehicle state after unknown outcome, recording without re-issue", spec.Kind)
	return d.recordIssued(missionID, phase, spec, key, 0)
}

// recordIssued appends the CommandIssued event. A duplicate idempotency key
// means another path already recorded the issue, which counts as success.
func (d *Dispatcher) recordIssued(missionID, phase string, spec plan.CommandSpec, key string, attempt int) (Outcome, error) {
	payload := map[string]interface{}{
		"kind":  string(spec.Kind),
		"phase": phase,
	}
	if spec.Value != 0 {
		payload["value"] = spec.Value
	}
	if attempt > 1 {
		payload["attempt"] = attempt
	}
	if attempt == 0 {
		payload["reconciled"] = true
	}

	err := d.recorder.Append(&eventlog.Event{
		MissionID: missionID,
		Kind:      eventlog.KindCommandIssued,
		IdemKey:   key,
		Payload:   payload,
	})
	if err != nil {
		if errors.Is(err, eventlog.ErrDuplicateCommand) {
			return OutcomeAlreadySent, nil
		}
		return OutcomeFailed, err
	}
	return OutcomeSent, nil
}

// WaitAck polls the vehicle until the command's effect is observable or the
// ack timeout elapses, then records CommandAcked. Used when a phase gates
// advancement on acknowledgement rather than send.
func (d *Dispatcher) WaitAck(ctx context.Context, missionID, phase string, kind adapter.CommandKind) error {
	deadline := time.Now().Add(d.timing.AckTimeout)
	ticker := time.NewTicker(d.timing.AckPollInterval)
	defer ticker.Stop()

	for {
		confirmCtx, cancel := context.WithTimeout(ctx, d.timing.CommandTimeoutQuery)
		confirmed, err := d.vehicle.ConfirmCommand(confirmCtx, kind)
		cancel()

		if err == nil && confirmed {
			return d.recorder.Append(&eventlog.Event{
				MissionID: missionID,
				Kind:      eventlog.KindCommandAcked,
				Payload: map[string]interface{}{
					"kind":  string(kind),
					"phase": phase,
				},
			})
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s: not acknowledged within %s", ErrCommandFailed, kind, d.timing.AckTimeout)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrCommandFailed, kind, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) timeoutFor(kind adapter.CommandKind) time.Duration {
	if kind.Destructive() {
		return d.timing.CommandTimeoutDestructive
	}
	return d.timing.CommandTimeoutRetryable
}

func (d *Dispatcher) retryPolicy(spec plan.CommandSpec) plan.RetryPolicy {
	p := plan.RetryPolicy{
		MaxAttempts:    d.timing.DispatchMaxAttempts,
		InitialBackoff: d.timing.DispatchBackoffInitial,
		BackoffFactor:  d.timing.DispatchBackoffFactor,
		MaxBackoff:     d.timing.DispatchBackoffMax,
	}
	if spec.Retry.MaxAttempts > 0 {
		p.MaxAttempts = spec.Retry.MaxAttempts
	}
	if spec.Retry.InitialBackoff > 0 {
		p.InitialBackoff = spec.Retry.InitialBackoff
	}
	if spec.Retry.BackoffFactor > 0 {
		p.BackoffFactor = spec.Retry.BackoffFactor
	}
	if spec.Retry.MaxBackoff > 0 {
		p.MaxBackoff = spec.Retry.MaxBackoff
	}
	return p
}
