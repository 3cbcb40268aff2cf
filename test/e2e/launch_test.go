// Package e2e exercises the full container stack over HTTP: API server,
// supervisor, event store, and a simulated vehicle.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/launch-control/lcc/internal/adapter/simvehicle"
	"github.com/launch-control/lcc/internal/api"
	"github.com/launch-control/lcc/internal/config"
	"github.com/launch-control/lcc/internal/eventlog"
	"github.com/launch-control/lcc/internal/supervisor"
	"github.com/launch-control/lcc/internal/telemetry"
	"github.com/launch-control/lcc/internal/vehicle"
)

type stack struct {
	srv *httptest.Server
	sup *supervisor.Supervisor
	sim *simvehicle.SimVehicle
}

func newStack(t *testing.T) *stack {
	t.Helper()

	cfg := config.Baseline()
	cfg.Timing.SampleInterval = 2 * time.Millisecond
	cfg.Timing.DispatchBackoffInitial = time.Millisecond
	cfg.Timing.DispatchBackoffMax = 5 * time.Millisecond

	store, err := eventlog.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	hub := telemetry.NewHub(&cfg.Timing)
	t.Cleanup(hub.Stop)

	sim := simvehicle.New("sim-1", simvehicle.DefaultProfile())
	registry := vehicle.NewRegistry()
	require.NoError(t, registry.Register("sim-1", "SIM-2", sim, time.Second))

	sup := supervisor.New(cfg, store, registry, hub)
	t.Cleanup(sup.Stop)

	apiSrv := api.NewServer(sup, hub, registry, nil, nil, cfg.Server)
	mux := http.NewServeMux()
	apiSrv.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &stack{srv: srv, sup: sup, sim: sim}
}

func (s *stack) post(t *testing.T, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(s.srv.URL+path, "application/json", &buf)
	require.NoError(t, err)
	return resp, decodeEnvelope(t, resp)
}

func (s *stack) get(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(s.srv.URL + path)
	require.NoError(t, err)
	return resp, decodeEnvelope(t, resp)
}

func decodeEnvelope(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var envelope map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope
}

func ascentPlanDoc(maxQLimit float64) map[string]interface{} {
	return map[string]interface{}{
		"name": "sim-ascent",
		"phases": []map[string]interface{}{
			{
				"name": "prelaunch",
				"exit": []map[string]interface{}{
					{"name": "checklistOk", "field": "checklistOk", "op": "flag"},
				},
			},
			{
				"name":    "ignition",
				"command": map[string]interface{}{"kind": "Ignite", "mandatory": true},
				"exit": []map[string]interface{}{
					{"name": "liftoff", "field": "altitude", "op": "gt", "value": 10},
				},
			},
			{
				"name": "ascent",
				"abort": []map[string]interface{}{
					{"name": "maxQ", "field": "dynamicPressure", "op": "gt", "value": maxQLimit},
				},
				"exit": []map[string]interface{}{
					{"name": "spaceline", "field": "altitude", "op": "gt", "value": 100000},
				},
			},
		},
	}
}

func startMission(t *testing.T, s *stack, planDoc map[string]interface{}) string {
	t.Helper()
	resp, envelope := s.post(t, "/api/v1/missions", map[string]interface{}{
		"vehicleId": "sim-1",
		"plan":      planDoc,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "start envelope: %v", envelope)
	data := envelope["data"].(map[string]interface{})
	id, _ := data["missionId"].(string)
	require.NotEmpty(t, id)
	return id
}

func waitForStatus(t *testing.T, s *stack, missionID, want string) map[string]interface{} {
	t.Helper()
	var data map[string]interface{}
	require.Eventually(t, func() bool {
		resp, envelope := s.get(t, "/api/v1/missions/"+missionID)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		data = envelope["data"].(map[string]interface{})
		return data["status"] == want
	}, 15*time.Second, 5*time.Millisecond, "mission never reached %s (last: %v)", want, data)
	return data
}

func TestLaunchSequenceOverHTTP(t *testing.T) {
	s := newStack(t)

	// The simulated vehicle is visible in the inventory before launch.
	resp, envelope := s.get(t, "/api/v1/vehicles")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := envelope["data"].(map[string]interface{})["items"].([]interface{})
	require.Len(t, items, 1)

	// Default profile peaks below 35 kPa, so the flight completes.
	id := startMission(t, s, ascentPlanDoc(35))
	status := waitForStatus(t, s, id, "Completed")
	require.Equal(t, "sim-ascent", status["planName"])
	require.NotZero(t, status["clockSeconds"], "mission clock runs after ignition")

	// The vehicle actually ignited.
	readings, err := s.sim.ReadTelemetry(context.Background())
	require.NoError(t, err)
	require.True(t, readings.EngineActive)

	// The durable log tells the full story, gap-free.
	resp, envelope = s.get(t, fmt.Sprintf("/api/v1/missions/%s/events", id))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := envelope["data"].(map[string]interface{})["events"].([]interface{})
	require.NotEmpty(t, events)

	kinds := make([]string, 0, len(events))
	for i, raw := range events {
		ev := raw.(map[string]interface{})
		require.Equal(t, float64(i+1), ev["seq"], "gap-free sequence")
		kinds = append(kinds, ev["kind"].(string))
	}
	require.Equal(t, "MissionStarted", kinds[0])
	require.Equal(t, "Completed", kinds[len(kinds)-1])
	require.Contains(t, kinds, "CommandIssued")
	require.Contains(t, kinds, "PhaseEntered")
}

func TestAbortOnMaxQOverHTTP(t *testing.T) {
	s := newStack(t)

	// A 20 kPa ceiling sits below the profile's 32 kPa peak; the abort
	// condition fires during ascent.
	id := startMission(t, s, ascentPlanDoc(20))
	status := waitForStatus(t, s, id, "Aborted")
	require.Contains(t, status["abortReason"], "maxQ")

	readings, err := s.sim.ReadTelemetry(context.Background())
	require.NoError(t, err)
	require.False(t, readings.EngineActive, "abort must shut the engine down")
}

func TestOperatorAbortOverHTTP(t *testing.T) {
	s := newStack(t)

	// A plan that holds on the pad until aborted.
	planDoc := map[string]interface{}{
		"name": "pad-hold",
		"phases": []map[string]interface{}{
			{
				"name": "hold",
				"exit": []map[string]interface{}{
					{"name": "never", "field": "altitude", "op": "gt", "value": 1e9},
				},
			},
		},
	}
	id := startMission(t, s, planDoc)

	resp, _ := s.post(t, "/api/v1/missions/"+id+"/abort", map[string]interface{}{"reason": "weather hold"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status := waitForStatus(t, s, id, "Aborted")
	require.Equal(t, "weather hold", status["abortReason"])
}

func TestConcurrentStartRejectedOverHTTP(t *testing.T) {
	s := newStack(t)

	planDoc := map[string]interface{}{
		"name": "pad-hold",
		"phases": []map[string]interface{}{
			{
				"name": "hold",
				"exit": []map[string]interface{}{
					{"name": "never", "field": "altitude", "op": "gt", "value": 1e9},
				},
			},
		},
	}
	id := startMission(t, s, planDoc)

	resp, envelope := s.post(t, "/api/v1/missions", map[string]interface{}{
		"vehicleId": "sim-1",
		"plan":      planDoc,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "VEHICLE_BUSY", envelope["code"])

	require.NoError(t, s.sup.Abort(context.Background(), id, "cleanup"))
}
