// Package adapter defines the IVehicleAdapter southbound contract.
//
// The remote vehicle-control interface is treated as an opaque, unreliable
// RPC transport: it may disconnect, time out, or return stale data. Every
// call takes a context and is expected to honor its deadline.
package adapter

import (
	"context"
	"time"
)

// CommandKind discriminates vehicle commands.
type CommandKind string

const (
	CommandIgnite        CommandKind = "Ignite"
	CommandStageSeparate CommandKind = "StageSeparate"
	CommandThrottleSet   CommandKind = "ThrottleSet"
	CommandDeployFairing CommandKind = "DeployFairing"
	CommandAbort         CommandKind = "Abort"
)

// Destructive reports whether a command kind has an irreversible effect on
// the vehicle. Destructive commands must never be blindly re-sent after an
// ambiguous outcome.
func (k CommandKind) Destructive() bool {
	switch k {
	case CommandIgnite, CommandStageSeparate, CommandDeployFairing, CommandAbort:
		return true
	default:
		return false
	}
}

// VehicleCommand is a single command issued to the vehicle interface.
type VehicleCommand struct {
	Kind  CommandKind `json:"kind"`
	Value float64     `json:"value,omitempty"` // e.g. throttle fraction for ThrottleSet
}

// VehicleReadings is one raw telemetry read from the vehicle interface.
type VehicleReadings struct {
	AltitudeM          float64   `json:"altitudeM"`
	VelocityMS         float64   `json:"velocityMS"`
	FuelFraction       float64   `json:"fuelFraction"`
	DynamicPressureKPa float64   `json:"dynamicPressureKPa"`
	Mach               float64   `json:"mach"`
	Throttle           float64   `json:"throttle"`
	EngineActive       bool      `json:"engineActive"`
	StageAttached      bool      `json:"stageAttached"`
	FairingAttached    bool      `json:"fairingAttached"`
	ChecklistComplete  bool      `json:"checklistComplete"`
	ReadAt             time.Time `json:"readAt"`
}

// IVehicleAdapter defines the stable southbound adapter contract.
type IVehicleAdapter interface {
	// ReadTelemetry returns the current vehicle readings.
	ReadTelemetry(ctx context.Context) (*VehicleReadings, error)

	// IssueCommand hands a command to the vehicle transport. A nil return
	// means the transport accepted the command (Sent), not that the vehicle
	// acknowledged execution.
	IssueCommand(ctx context.Context, cmd VehicleCommand) error

	// ConfirmCommand queries actual vehicle state to determine whether the
	// effect of a previously issued command is observable. Used both for
	// acknowledgement tracking and for reconciliation after an ambiguous
	// (timed-out) dispatch.
	ConfirmCommand(ctx context.Context, kind CommandKind) (bool, error)
}

// AdapterBase provides common identity fields for adapter implementations.
type AdapterBase struct {
	// VehicleID identifies the vehicle this adapter controls
	VehicleID string

	// Model identifies the vehicle model
	Model string

	// Status indicates the current link status
	Status string
}

// GetVehicleID returns the vehicle identifier.
func (a *AdapterBase) GetVehicleID() string {
	return a.VehicleID
}

// GetModel returns the vehicle model.
func (a *AdapterBase) GetModel() string {
	return a.Model
}

// GetStatus returns the link status.
func (a *AdapterBase) GetStatus() string {
	return a.Status
}

// SetStatus updates the link status.
func (a *AdapterBase) SetStatus(status string) {
	a.Status = status
}
