// Package vehicle maintains the inventory of vehicles the container can
// launch. Each vehicle is backed by one adapter instance; the registry
// probes the adapter on registration so operators can see link health
// before committing a mission to it.
package vehicle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/launch-control/lcc/internal/adapter"
)

// Vehicle describes one registered vehicle.
type Vehicle struct {
	ID       string    `json:"id"`
	Model    string    `json:"model"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}

// List is the response shape for vehicle listing.
type List struct {
	Items []Vehicle `json:"items"`
}

// Registry manages vehicle inventory and adapter lookup.
type Registry struct {
	mu       sync.RWMutex
	vehicles map[string]*Vehicle
	adapters map[string]adapter.IVehicleAdapter
}

// NewRegistry creates an empty vehicle registry.
func NewRegistry() *Registry {
	return &Registry{
		vehicles: make(map[string]*Vehicle),
		adapters: make(map[string]adapter.IVehicleAdapter),
	}
}

// Register adds a vehicle and probes its telemetry link within timeout.
// A failed probe registers the vehicle as offline rather than rejecting it;
// the link may come up later.
func (r *Registry) Register(vehicleID, model string, va adapter.IVehicleAdapter, timeout time.Duration) error {
	if vehicleID == "" {
		return fmt.Errorf("vehicle ID must not be empty")
	}
	if va == nil {
		return fmt.Errorf("vehicle %s: adapter is nil", vehicleID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.vehicles[vehicleID]; exists {
		return fmt.Errorf("vehicle %s already registered", vehicleID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	v := &Vehicle{ID: vehicleID, Model: model, Status: "offline"}
	if _, err := va.ReadTelemetry(ctx); err == nil {
		v.Status = "online"
		v.LastSeen = time.Now().UTC()
	}

	r.vehicles[vehicleID] = v
	r.adapters[vehicleID] = va
	return nil
}

// Adapter returns the adapter for a vehicle.
func (r *Registry) Adapter(vehicleID string) (adapter.IVehicleAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	va, exists := r.adapters[vehicleID]
	if !exists {
		return nil, fmt.Errorf("vehicle %s not found", vehicleID)
	}
	return va, nil
}

// Get returns a vehicle by ID.
func (r *Registry) Get(vehicleID string) (*Vehicle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, exists := r.vehicles[vehicleID]
	if !exists {
		return nil, fmt.Errorf("vehicle %s not found", vehicleID)
	}
	out := *v
	return &out, nil
}

// List returns all registered vehicles.
func (r *Registry) List() *List {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]Vehicle, 0, len(r.vehicles))
	for _, v := range r.vehicles {
		items = append(items, *v)
	}
	return &List{Items: items}
}

// UpdateStatus records a link status change for a vehicle.
func (r *Registry) UpdateStatus(vehicleID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, exists := r.vehicles[vehicleID]
	if !exists {
		return fmt.Errorf("vehicle %s not found", vehicleID)
	}
	v.Status = status
	v.LastSeen = time.Now().UTC()
	return nil
}

// Remove deletes a vehicle from the inventory.
func (r *Registry) Remove(vehicleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.vehicles[vehicleID]; !exists {
		return fmt.Errorf("vehicle %s not found", vehicleID)
	}
	delete(r.vehicles, vehicleID)
	delete(r.adapters, vehicleID)
	return nil
}
