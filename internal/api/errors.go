package api

import (
	"errors"
	"net/http"

	"github.com/launch-control/lcc/internal/adapter"
	"github.com/launch-control/lcc/internal/dispatch"
	"github.com/launch-control/lcc/internal/eventlog"
	"github.com/launch-control/lcc/internal/plan"
	"github.com/launch-control/lcc/internal/supervisor"
)

// WriteDomainError maps a domain error to its envelope code and HTTP
// status. Unknown errors surface as INTERNAL without leaking internals.
func WriteDomainError(w http.ResponseWriter, err error) {
	code, status, message := classifyError(err)

	var details interface{}
	var vendorErr *adapter.VendorError
	if errors.As(err, &vendorErr) {
		details = vendorErr.Details
	}

	WriteError(w, status, code, message, details)
}

func classifyError(err error) (code string, status int, message string) {
	switch {
	case errors.Is(err, supervisor.ErrVehicleBusy):
		return "VEHICLE_BUSY", http.StatusConflict, "Vehicle already has an active mission"
	case errors.Is(err, supervisor.ErrVehicleNotFound):
		return "VEHICLE_NOT_FOUND", http.StatusNotFound, "Vehicle not registered"
	case errors.Is(err, supervisor.ErrMissionTerminal):
		return "MISSION_TERMINAL", http.StatusConflict, "Mission has already finished"
	case errors.Is(err, supervisor.ErrMissionRunning):
		return "MISSION_RUNNING", http.StatusConflict, "Mission is already being processed"
	case errors.Is(err, eventlog.ErrMissionNotFound):
		return "NOT_FOUND", http.StatusNotFound, "Mission not found"
	case errors.Is(err, eventlog.ErrPersistenceUnavailable):
		return "PERSISTENCE_UNAVAILABLE", http.StatusServiceUnavailable, "Event store unavailable"
	case errors.Is(err, plan.ErrInvalidPlan):
		return "INVALID_PLAN", http.StatusBadRequest, err.Error()
	case errors.Is(err, dispatch.ErrCommandFailed):
		return "COMMAND_FAILED", http.StatusBadGateway, "Command could not be delivered to the vehicle"
	case errors.Is(err, adapter.ErrUnavailable):
		return "VEHICLE_UNAVAILABLE", http.StatusServiceUnavailable, "Vehicle interface unavailable"
	case errors.Is(err, adapter.ErrTransient):
		return "VEHICLE_BUSY_TRANSIENT", http.StatusServiceUnavailable, "Vehicle interface busy, retry with backoff"
	default:
		return "INTERNAL", http.StatusInternalServerError, "Internal server error"
	}
}
