// Package condition evaluates launch plan conditions against telemetry
// snapshots. Evaluation is pure: same snapshot and condition set always
// produce the same results, with no side effects.
package condition

import (
	"errors"
	"fmt"

	"github.com/launch-control/lcc/internal/plan"
	"github.com/launch-control/lcc/internal/telemetry"
)

// ErrDefect indicates a condition referenced an unknown field or operator.
// A plan that passed validation should never produce this; reaching it on a
// live mission is a programming or plan-loading defect, not an environmental
// fault, so missions treat it as fatal.
var ErrDefect = errors.New("CONDITION_DEFECT")

// Result is the outcome of evaluating one condition against one snapshot.
type Result struct {
	Name   string  // Condition name from the plan
	Holds  bool    // Whether the condition is satisfied
	Field  string  // Telemetry field evaluated
	Actual float64 // Observed value
}

// Evaluate evaluates all conditions against the snapshot. Every condition
// is evaluated even if an earlier one fails to hold; evaluation stops only
// on a defect.
func Evaluate(snap *telemetry.Snapshot, conds []plan.Condition) ([]Result, error) {
	results := make([]Result, 0, len(conds))
	for _, c := range conds {
		r, err := evaluateOne(snap, c)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// AllHold reports whether every condition holds against the snapshot.
// An empty condition set holds vacuously.
func AllHold(snap *telemetry.Snapshot, conds []plan.Condition) (bool, error) {
	results, err := Evaluate(snap, conds)
	if err != nil {
		return false, err
	}
	for _, r := range results {
		if !r.Holds {
			return false, nil
		}
	}
	return true, nil
}

// AnyHolds reports whether at least one condition holds, returning the first
// holding result. An empty condition set never holds.
func AnyHolds(snap *telemetry.Snapshot, conds []plan.Condition) (*Result, error) {
	results, err := Evaluate(snap, conds)
	if err != nil {
		return nil, err
	}
	for i := range results {
		if results[i].Holds {
			return &results[i], nil
		}
	}
	return nil, nil
}

func evaluateOne(snap *telemetry.Snapshot, c plan.Condition) (Result, error) {
	actual, ok := snap.Field(c.Field)
	if !ok {
		return Result{}, fmt.Errorf("%w: unknown field %q in condition %q", ErrDefect, c.Field, c.Name)
	}

	var holds bool
	switch c.Op {
	case plan.OpGT:
		holds = actual > c.Value
	case plan.OpGE:
		holds = actual >= c.Value
	case plan.OpLT:
		holds = actual < c.Value
	case plan.OpLE:
		holds = actual <= c.Value
	case plan.OpEQ:
		holds = actual == c.Value
	case plan.OpFlag:
		holds = actual != 0
	default:
		return Result{}, fmt.Errorf("%w: unknown operator %q in condition %q", ErrDefect, c.Op, c.Name)
	}

	return Result{Name: c.Name, Holds: holds, Field: c.Field, Actual: actual}, nil
}
