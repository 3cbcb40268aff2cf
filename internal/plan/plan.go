// Package plan defines the launch plan model: the ordered list of phases,
// their entry/exit/abort conditions, and the command each phase issues on
// entry. Plans are immutable once loaded; only the orchestrator's
// current-phase pointer moves.
package plan

import (
	"time"

	"github.com/launch-control/lcc/internal/adapter"
)

// Op is a condition comparison operator.
type Op string

const (
	OpGT   Op = "gt"
	OpGE   Op = "ge"
	OpLT   Op = "lt"
	OpLE   Op = "le"
	OpEQ   Op = "eq"
	OpFlag Op = "flag" // boolean field must be true
)

// Condition is a named predicate over a telemetry snapshot. Thresholds are
// explicit; no tolerance is applied beyond what the plan states.
type Condition struct {
	Name  string  `yaml:"name" json:"name"`
	Field string  `yaml:"field" json:"field"`
	Op    Op      `yaml:"op" json:"op"`
	Value float64 `yaml:"value,omitempty" json:"value,omitempty"`
}

// AdvanceGate selects which dispatch status gates the phase advance.
type AdvanceGate string

const (
	// AdvanceOnSent advances once the command is handed to the transport.
	AdvanceOnSent AdvanceGate = "sent"

	// AdvanceOnAcked advances only after the vehicle confirms execution.
	AdvanceOnAcked AdvanceGate = "acked"
)

// RetryPolicy bounds dispatch retries for a command. Zero values fall back
// to the container timing defaults.
type RetryPolicy struct {
	MaxAttempts    int           `yaml:"maxAttempts,omitempty" json:"maxAttempts,omitempty"`
	InitialBackoff time.Duration `yaml:"initialBackoff,omitempty" json:"initialBackoff,omitempty"`
	BackoffFactor  float64       `yaml:"backoffFactor,omitempty" json:"backoffFactor,omitempty"`
	MaxBackoff     time.Duration `yaml:"maxBackoff,omitempty" json:"maxBackoff,omitempty"`
}

// CommandSpec declares the command a phase issues on entry and the policy
// around its failure.
type CommandSpec struct {
	Kind  adapter.CommandKind `yaml:"kind" json:"kind"`
	Value float64             `yaml:"value,omitempty" json:"value,omitempty"`

	// Mandatory failure policy: a failed mandatory command aborts the
	// mission, a failed optional command degrades and continues.
	Mandatory bool `yaml:"mandatory" json:"mandatory"`

	// AdvanceOn gates the phase advance on Sent (default) or Acked.
	AdvanceOn AdvanceGate `yaml:"advanceOn,omitempty" json:"advanceOn,omitempty"`

	Retry RetryPolicy `yaml:"retry,omitempty" json:"retry,omitempty"`
}

// Phase is one named stage of the launch plan. Definitions are immutable.
type Phase struct {
	Name string `yaml:"name" json:"name"`

	// Entry preconditions must all hold before the phase is entered.
	// An empty set enters immediately.
	Entry []Condition `yaml:"entry,omitempty" json:"entry,omitempty"`

	// Command is issued once on phase entry. May be nil.
	Command *CommandSpec `yaml:"command,omitempty" json:"command,omitempty"`

	// Exit conditions must all hold to advance. An empty set makes the
	// phase time-boxed by MaxDuration.
	Exit []Condition `yaml:"exit,omitempty" json:"exit,omitempty"`

	// Abort conditions are evaluated continuously while the phase is
	// active; any one holding aborts the mission.
	Abort []Condition `yaml:"abort,omitempty" json:"abort,omitempty"`

	// MaxDuration time-boxes a phase with no exit conditions.
	MaxDuration time.Duration `yaml:"maxDuration,omitempty" json:"maxDuration,omitempty"`
}

// LaunchPlan is the externally supplied, ordered phase list for one mission.
type LaunchPlan struct {
	Name   string  `yaml:"name" json:"name"`
	Phases []Phase `yaml:"phases" json:"phases"`
}

// PhaseIndex returns the index of the named phase, or -1.
func (p *LaunchPlan) PhaseIndex(name string) int {
	for i := range p.Phases {
		if p.Phases[i].Name == name {
			return i
		}
	}
	return -1
}
