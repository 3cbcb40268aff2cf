package api

import (
	"context"
	"net/http"

	"github.com/launch-control/lcc/internal/eventlog"
	"github.com/launch-control/lcc/internal/plan"
	"github.com/launch-control/lcc/internal/supervisor"
	"github.com/launch-control/lcc/internal/vehicle"
)

// SupervisorPort is the mission lifecycle contract the API exposes.
type SupervisorPort interface {
	Start(ctx context.Context, lp *plan.LaunchPlan, vehicleID string) (string, error)
	Resume(ctx context.Context, missionID string) error
	Abort(ctx context.Context, missionID, reason string) error
	Status(missionID string) (*supervisor.MissionStatus, error)
	Events(missionID string) ([]eventlog.Event, error)
}

// TelemetryPort is the SSE distribution contract.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// VehicleReadPort is the read-only vehicle inventory contract.
type VehicleReadPort interface {
	List() *vehicle.List
}
