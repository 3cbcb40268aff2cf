package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/launch-control/lcc/internal/config"
)

// Event represents a mission stream event with SSE formatting.
type Event struct {
	ID       int64                  `json:"id,omitempty"`
	Type     string                 `json:"type"`
	Data     map[string]interface{} `json:"data"`
	Mission  string                 `json:"mission,omitempty"`
	Severity int                    `json:"severity,omitempty"`
}

// Client represents an SSE client connection.
type Client struct {
	ID      string
	Writer  http.ResponseWriter
	Request *http.Request
	Context context.Context
	Cancel  context.CancelFunc
	LastID  int64
	Mission string
	Events  chan Event
	once    sync.Once
	mu      sync.Mutex // Protect Writer access
}

// Hub manages SSE distribution of mission events with per-mission buffering.
//
// LOCK ORDERING:
// 1. h.mu (Hub's RWMutex) - protects clients, missionIDs, buffers maps
// 2. EventBuffer.mu (per-buffer mutex) - protects individual buffer state
// 3. Client.once (sync.Once) - ensures single channel close
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	missionIDs map[string]*int64 // Monotonic stream event IDs per mission

	// Per-mission event buffers for Last-Event-ID resume
	buffers map[string]*EventBuffer

	timing *config.TimingConfig

	heartbeatTicker *time.Ticker
	stopHeartbeat   chan struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// EventBuffer maintains a bounded buffer of events for one mission.
type EventBuffer struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
	nextID   int64
}

// NewHub creates a new mission event hub.
func NewHub(timing *config.TimingConfig) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		missionIDs: make(map[string]*int64),
		buffers:    make(map[string]*EventBuffer),
		timing:     timing,
		done:       make(chan struct{}),
	}
}

// Subscribe handles SSE client subscription with Last-Event-ID resume.
// Blocks until the client disconnects or the hub stops.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientCtx, cancel := context.WithCancel(ctx)

	clientID := fmt.Sprintf("client_%d", time.Now().UnixNano())

	lastEventID := int64(0)
	if lastIDStr := r.Header.Get("Last-Event-ID"); lastIDStr != "" {
		if id, err := strconv.ParseInt(lastIDStr, 10, 64); err == nil {
			lastEventID = id
		}
	}

	missionID := r.URL.Query().Get("mission")

	client := &Client{
		ID:      clientID,
		Writer:  w,
		Request: r,
		Context: clientCtx,
		Cancel:  cancel,
		LastID:  lastEventID,
		Mission: missionID,
		Events:  make(chan Event, 100),
	}

	h.mu.Lock()
	h.clients[clientID] = client
	h.mu.Unlock()

	if err := h.sendReadyEvent(client); err != nil {
		h.unregisterClient(clientID)
		return fmt.Errorf("failed to send ready event: %w", err)
	}

	if lastEventID > 0 {
		if err := h.replayBuffered(client, lastEventID); err != nil {
			h.unregisterClient(clientID)
			return fmt.Errorf("failed to replay buffered events: %w", err)
		}
	}

	h.mu.Lock()
	if len(h.clients) == 1 && h.heartbeatTicker == nil {
		h.startHeartbeat()
	}
	h.mu.Unlock()

	h.handleClient(client)

	return nil
}

// Publish publishes an event to all connected clients subscribed to its
// mission (or to everything, for clients with no mission filter).
func (h *Hub) Publish(event Event) error {
	if event.ID == 0 {
		event.ID = h.nextEventID(event.Mission)
	}

	if event.Mission != "" {
		h.bufferEvent(event)
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		if client.Mission == "" || client.Mission == event.Mission || event.Mission == "" {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case <-client.Context.Done():
			continue
		case <-h.done:
			return nil
		case client.Events <- event:
		case <-time.After(100 * time.Millisecond):
			// Drop the event rather than let a slow client stall the hub.
		}
	}

	return nil
}

// PublishMission publishes an event on a specific mission's stream.
func (h *Hub) PublishMission(missionID string, event Event) error {
	event.Mission = missionID
	return h.Publish(event)
}

// sendReadyEvent sends the initial ready event to a client.
func (h *Hub) sendReadyEvent(client *Client) error {
	readyEvent := Event{
		ID:   h.nextEventID(client.Mission),
		Type: "ready",
		Data: map[string]interface{}{
			"mission": client.Mission,
			"ts":      time.Now().UTC().Format(time.RFC3339),
		},
	}

	return h.sendEventToClient(client, readyEvent)
}

// replayBuffered replays buffered events newer than lastEventID.
func (h *Hub) replayBuffered(client *Client, lastEventID int64) error {
	h.mu.RLock()
	buffer, exists := h.buffers[client.Mission]
	h.mu.RUnlock()

	if !exists {
		return nil
	}

	for _, event := range buffer.EventsAfter(lastEventID) {
		if err := h.sendEventToClient(client, event); err != nil {
			return err
		}
	}

	return nil
}

// sendEventToClient writes a single event to a client in SSE format.
func (h *Hub) sendEventToClient(client *Client, event Event) error {
	client.mu.Lock()
	defer client.mu.Unlock()

	if event.ID > 0 {
		if _, err := fmt.Fprintf(client.Writer, "id: %d\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	if _, err := fmt.Fprintf(client.Writer, "event: %s\n", event.Type); err != nil {
		return fmt.Errorf("failed to write event type: %w", err)
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	if _, err := fmt.Fprintf(client.Writer, "data: %s\n\n", string(data)); err != nil {
		return fmt.Errorf("failed to write event data: %w", err)
	}

	if flusher, ok := client.Writer.(http.Flusher); ok {
		flusher.Flush()
	}

	return nil
}

// handleClient delivers events until the client disconnects.
func (h *Hub) handleClient(client *Client) {
	defer func() {
		client.once.Do(func() {
			close(client.Events)
		})
		h.unregisterClient(client.ID)
	}()

	for {
		select {
		case <-client.Context.Done():
			return
		case <-h.done:
			return
		case event, ok := <-client.Events:
			if !ok {
				return
			}
			if err := h.sendEventToClient(client, event); err != nil {
				return
			}
		}
	}
}

// unregisterClient removes a client from the hub.
func (h *Hub) unregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, exists := h.clients[clientID]; exists {
		client.Cancel()
		delete(h.clients, clientID)

		if len(h.clients) == 0 && h.heartbeatTicker != nil {
			h.heartbeatTicker.Stop()
			h.heartbeatTicker = nil
			if h.stopHeartbeat != nil {
				close(h.stopHeartbeat)
				h.stopHeartbeat = nil
			}
		}
	}
}

// nextEventID returns the next monotonic stream event ID for a mission.
// These number the SSE stream only; durable mission event sequence numbers
// are allocated by the event recorder.
func (h *Hub) nextEventID(missionID string) int64 {
	if missionID == "" {
		missionID = "global"
	}

	h.mu.RLock()
	counter, exists := h.missionIDs[missionID]
	h.mu.RUnlock()

	if exists {
		return atomic.AddInt64(counter, 1)
	}

	h.mu.Lock()
	counter, exists = h.missionIDs[missionID]
	if !exists {
		var initial int64 = 0
		counter = &initial
		h.missionIDs[missionID] = counter
	}
	h.mu.Unlock()

	return atomic.AddInt64(counter, 1)
}

// bufferEvent adds an event to its mission's buffer.
//
// SAFETY ASSUMPTION: EventBuffer references are never removed from
// h.buffers, so the reference stays valid after h.mu is released;
// EventBuffer.Add has its own synchronization.
func (h *Hub) bufferEvent(event Event) {
	if event.Mission == "" {
		return
	}

	h.mu.Lock()
	buffer, exists := h.buffers[event.Mission]
	if !exists {
		buffer = NewEventBuffer(h.timing.EventBufferSize)
		h.buffers[event.Mission] = buffer
	}
	h.mu.Unlock()

	buffer.Add(event)
}

// startHeartbeat starts the heartbeat ticker.
// Caller must hold h.mu and verify h.heartbeatTicker == nil.
func (h *Hub) startHeartbeat() {
	interval := h.timing.HeartbeatInterval + h.timing.HeartbeatJitter/2

	h.heartbeatTicker = time.NewTicker(interval)
	h.stopHeartbeat = make(chan struct{})

	ticker := h.heartbeatTicker
	stopChan := h.stopHeartbeat

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		for {
			select {
			case <-ticker.C:
				_ = h.Publish(Event{
					Type: "heartbeat",
					Data: map[string]interface{}{
						"ts": time.Now().UTC().Format(time.RFC3339),
					},
				})
			case <-stopChan:
				return
			case <-h.done:
				return
			}
		}
	}()
}

// Stop stops the hub and disconnects all clients.
func (h *Hub) Stop() {
	close(h.done)

	h.mu.Lock()
	for _, client := range h.clients {
		client.Cancel()
	}
	if h.heartbeatTicker != nil {
		h.heartbeatTicker.Stop()
		h.heartbeatTicker = nil
	}
	if h.stopHeartbeat != nil {
		close(h.stopHeartbeat)
		h.stopHeartbeat = nil
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		// Force cleanup after timeout.
	}

	h.mu.Lock()
	for _, client := range h.clients {
		client.Cancel()
		client.once.Do(func() {
			close(client.Events)
		})
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()
}

// NewEventBuffer creates an event buffer with the given capacity.
func NewEventBuffer(capacity int) *EventBuffer {
	return &EventBuffer{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
		nextID:   1,
	}
}

// Add appends an event, evicting the oldest past capacity.
func (b *EventBuffer) Add(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if event.ID == 0 {
		event.ID = b.nextID
		b.nextID++
	}

	b.events = append(b.events, event)

	if len(b.events) > b.capacity {
		b.events = b.events[1:]
	}
}

// EventsAfter returns events with IDs greater than lastID.
func (b *EventBuffer) EventsAfter(lastID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, event := range b.events {
		if event.ID > lastID {
			result = append(result, event)
		}
	}

	return result
}

// Size returns the current buffer size.
func (b *EventBuffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}
