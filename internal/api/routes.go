package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/launch-control/lcc/internal/auth"
	"github.com/launch-control/lcc/internal/plan"
)

// RegisterRoutes registers all v1 endpoints.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	apiV1 := "/api/v1"

	// Health and metrics are never behind auth.
	mux.HandleFunc(apiV1+"/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	if s.authMW == nil {
		mux.HandleFunc(apiV1+"/capabilities", s.handleCapabilities)
		mux.HandleFunc(apiV1+"/vehicles", s.handleVehicles)
		mux.HandleFunc(apiV1+"/missions", s.handleMissions)
		mux.HandleFunc(apiV1+"/missions/", s.handleMissionEndpoints)
		mux.HandleFunc(apiV1+"/telemetry", s.handleTelemetry)
		return
	}

	requireAuth := s.authMW.RequireAuth
	readScope := s.authMW.RequireScope(auth.ScopeRead)
	controlScope := s.authMW.RequireScope(auth.ScopeControl)
	telemetryScope := s.authMW.RequireScope(auth.ScopeTelemetry)

	mux.HandleFunc(apiV1+"/capabilities", requireAuth(readScope(s.handleCapabilities)))
	mux.HandleFunc(apiV1+"/vehicles", requireAuth(readScope(s.handleVehicles)))
	mux.HandleFunc(apiV1+"/missions", requireAuth(controlScope(s.handleMissions)))
	// Mission subpaths mix read and control actions; scopes are enforced
	// per action inside the handler.
	mux.HandleFunc(apiV1+"/missions/", requireAuth(s.handleMissionEndpoints))
	mux.HandleFunc(apiV1+"/telemetry", requireAuth(telemetryScope(s.handleTelemetry)))
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET method is allowed", nil)
		return
	}
	WriteSuccess(w, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleCapabilities handles GET /capabilities.
func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET method is allowed", nil)
		return
	}
	WriteSuccess(w, map[string]interface{}{
		"telemetry": []string{"sse"},
		"commands":  []string{"http-json"},
		"version":   "1.0.0",
	})
}

// handleVehicles handles GET /vehicles.
func (s *Server) handleVehicles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET method is allowed", nil)
		return
	}
	if s.vehicles == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Vehicle registry not available", nil)
		return
	}
	WriteSuccess(w, s.vehicles.List())
}

// handleMissions handles POST /missions: start a mission.
func (s *Server) handleMissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST method is allowed", nil)
		return
	}

	var req struct {
		VehicleID string           `json:"vehicleId"`
		Plan      *plan.LaunchPlan `json:"plan"`
	}
	if !decodeStrict(w, r, &req) {
		return
	}
	if req.VehicleID == "" || req.Plan == nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "vehicleId and plan are required", nil)
		return
	}

	start := time.Now()
	missionID, err := s.supervisor.Start(r.Context(), req.Plan, req.VehicleID)
	s.auditAction(r, "mission.start", missionID, map[string]interface{}{
		"vehicleId": req.VehicleID,
		"plan":      req.Plan.Name,
	}, err, time.Since(start))

	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"missionId": missionID})
}

// handleMissionEndpoints routes /missions/{id} and its subresources.
func (s *Server) handleMissionEndpoints(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/missions/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "Mission ID required", nil)
		return
	}
	missionID := parts[0]

	switch {
	case len(parts) == 1:
		if !s.allowScope(w, r, auth.ScopeRead) {
			return
		}
		s.handleMissionStatus(w, r, missionID)
	case len(parts) == 2 && parts[1] == "events":
		if !s.allowScope(w, r, auth.ScopeRead) {
			return
		}
		s.handleMissionEvents(w, r, missionID)
	case len(parts) == 2 && parts[1] == "abort":
		if !s.allowScope(w, r, auth.ScopeControl) {
			return
		}
		s.handleMissionAbort(w, r, missionID)
	case len(parts) == 2 && parts[1] == "resume":
		if !s.allowScope(w, r, auth.ScopeControl) {
			return
		}
		s.handleMissionResume(w, r, missionID)
	default:
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "Unknown mission resource", nil)
	}
}

// handleMissionStatus handles GET /missions/{id}.
func (s *Server) handleMissionStatus(w http.ResponseWriter, r *http.Request, missionID string) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET method is allowed", nil)
		return
	}
	status, err := s.supervisor.Status(missionID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteSuccess(w, status)
}

// handleMissionEvents handles GET /missions/{id}/events.
func (s *Server) handleMissionEvents(w http.ResponseWriter, r *http.Request, missionID string) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET method is allowed", nil)
		return
	}
	events, err := s.supervisor.Events(missionID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"events": events})
}

// handleMissionAbort handles POST /missions/{id}/abort.
func (s *Server) handleMissionAbort(w http.ResponseWriter, r *http.Request, missionID string) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST method is allowed", nil)
		return
	}

	// Body is optional; an empty abort uses the default reason.
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 && !decodeStrict(w, r, &req) {
		return
	}

	start := time.Now()
	err := s.supervisor.Abort(r.Context(), missionID, req.Reason)
	s.auditAction(r, "mission.abort", missionID, map[string]interface{}{
		"reason": req.Reason,
	}, err, time.Since(start))

	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"missionId": missionID, "aborting": true})
}

// handleMissionResume handles POST /missions/{id}/resume.
func (s *Server) handleMissionResume(w http.ResponseWriter, r *http.Request, missionID string) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST method is allowed", nil)
		return
	}

	start := time.Now()
	err := s.supervisor.Resume(r.Context(), missionID)
	s.auditAction(r, "mission.resume", missionID, nil, err, time.Since(start))

	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"missionId": missionID, "resumed": true})
}

// handleTelemetry handles GET /telemetry: the SSE stream.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET method is allowed", nil)
		return
	}
	if s.hub == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Telemetry hub not available", nil)
		return
	}
	if err := s.hub.Subscribe(r.Context(), w, r); err != nil {
		// The stream is already committed; nothing useful can be written.
		return
	}
}

// allowScope enforces a scope for one action inside a mixed-scope route.
// Always true when the API runs without auth.
func (s *Server) allowScope(w http.ResponseWriter, r *http.Request, scope string) bool {
	if s.authMW == nil {
		return true
	}
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required", nil)
		return false
	}
	if !claims.HasScope(scope) {
		WriteError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions", nil)
		return false
	}
	return true
}

// auditAction records an operator action when auditing is enabled.
func (s *Server) auditAction(r *http.Request, action, missionID string, params map[string]interface{}, err error, latency time.Duration) {
	if s.audit == nil {
		return
	}
	s.audit.LogAction(r.Context(), action, missionID, params, err, latency)
}

// decodeStrict decodes a JSON body rejecting unknown fields and trailing
// data. Writes the error response itself and reports success.
func decodeStrict(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Malformed JSON or unknown fields", nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Trailing data after JSON object", nil)
		return false
	}
	return true
}
