// Package config implements the configuration store for the Launch Control
// Container.
//
// Configuration merges baseline defaults, an optional lcc.yaml file, and
// LCC_* environment overrides; every cadence, timeout, and threshold the
// orchestrator core uses lives here so tests can tighten them uniformly.
package config
