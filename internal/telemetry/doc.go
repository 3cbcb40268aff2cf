// Package telemetry implements telemetry acquisition and distribution for
// the Launch Control Container.
//
// The Sampler polls the vehicle adapter on a fixed cadence, normalizes raw
// readings into sequenced snapshots, and hands them to the mission's single
// consumer in arrival order. The Hub fans mission events out to SSE clients
// and buffers the last N events per mission for Last-Event-ID reconnection.
package telemetry
