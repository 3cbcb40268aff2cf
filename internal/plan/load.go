package plan

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidPlan marks a plan that fails validation.
var ErrInvalidPlan = errors.New("INVALID_PLAN")

// Load reads and validates a launch plan from a YAML file.
func Load(path string) (*LaunchPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a launch plan from YAML bytes.
func Parse(data []byte) (*LaunchPlan, error) {
	var lp LaunchPlan
	if err := yaml.Unmarshal(data, &lp); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if err := Validate(&lp); err != nil {
		return nil, err
	}
	return &lp, nil
}

// Validate enforces plan invariants: named, non-empty, unambiguous phases
// with well-formed conditions, and a timing source for every phase advance.
func Validate(lp *LaunchPlan) error {
	if lp == nil {
		return fmt.Errorf("%w: plan is nil", ErrInvalidPlan)
	}
	if lp.Name == "" {
		return fmt.Errorf("%w: plan name must not be empty", ErrInvalidPlan)
	}
	if len(lp.Phases) == 0 {
		return fmt.Errorf("%w: plan %q has no phases", ErrInvalidPlan, lp.Name)
	}

	seen := make(map[string]bool, len(lp.Phases))
	for i := range lp.Phases {
		ph := &lp.Phases[i]
		if ph.Name == "" {
			return fmt.Errorf("%w: phase %d has no name", ErrInvalidPlan, i)
		}
		if seen[ph.Name] {
			return fmt.Errorf("%w: duplicate phase name %q", ErrInvalidPlan, ph.Name)
		}
		seen[ph.Name] = true

		if len(ph.Exit) == 0 && ph.MaxDuration <= 0 {
			return fmt.Errorf("%w: phase %q has neither exit conditions nor a max duration", ErrInvalidPlan, ph.Name)
		}

		for _, set := range [][]Condition{ph.Entry, ph.Exit, ph.Abort} {
			for _, c := range set {
				if err := validateCondition(ph.Name, c); err != nil {
					return err
				}
			}
		}

		if ph.Command != nil {
			if err := validateCommand(ph.Name, ph.Command); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateCondition checks one condition definition.
func validateCondition(phase string, c Condition) error {
	if c.Name == "" {
		return fmt.Errorf("%w: phase %q has an unnamed condition", ErrInvalidPlan, phase)
	}
	if c.Field == "" {
		return fmt.Errorf("%w: condition %q in phase %q has no field", ErrInvalidPlan, c.Name, phase)
	}
	switch c.Op {
	case OpGT, OpGE, OpLT, OpLE, OpEQ, OpFlag:
	default:
		return fmt.Errorf("%w: condition %q in phase %q has unknown op %q", ErrInvalidPlan, c.Name, phase, c.Op)
	}
	return nil
}

// validateCommand checks one command spec.
func validateCommand(phase string, cs *CommandSpec) error {
	if cs.Kind == "" {
		return fmt.Errorf("%w: phase %q command has no kind", ErrInvalidPlan, phase)
	}
	switch cs.AdvanceOn {
	case "", AdvanceOnSent, AdvanceOnAcked:
	default:
		return fmt.Errorf("%w: phase %q command has unknown advance gate %q", ErrInvalidPlan, phase, cs.AdvanceOn)
	}
	if cs.Retry.MaxAttempts < 0 {
		return fmt.Errorf("%w: phase %q command has negative retry attempts", ErrInvalidPlan, phase)
	}
	if cs.Retry.BackoffFactor != 0 && cs.Retry.BackoffFactor < 1.0 {
		return fmt.Errorf("%w: phase %q command has backoff factor below 1.0", ErrInvalidPlan, phase)
	}
	return nil
}
