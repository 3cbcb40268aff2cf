// Package api implements the HTTP surface of the Launch Control Container.
//
// It exposes the mission supervisor contract (start, status, abort,
// resume), the durable event log, the vehicle inventory, an SSE stream of
// mission events, and Prometheus metrics. Responses use a unified envelope
// with a correlation ID; domain errors map to stable codes and HTTP
// statuses in errors.go.
package api
