package realtime

import (
	"encoding/json"
	"log"
	"sync"
)

// Client represents a single websocket client connection.
// The network conn itself is managed in the ws handler.
type Client interface {
	Send(message []byte) bool
	Close()
}

// Event is a committed lifecycle change pushed to connected users.
type Event struct {
	Type     string   `json:"type"`
	TaskID   string   `json:"taskId,omitempty"`
	TaskIDs  []string `json:"taskIds,omitempty"`
	Status   string   `json:"status,omitempty"`
	Assignee string   `json:"assignee,omitempty"`
	Actor    string   `json:"actor,omitempty"`
	Version  int      `json:"version"`
	// Recipients are the user ids whose channels receive the event; not serialised.
	Recipients []string `json:"-"`
}

// Event types emitted by the lifecycle engine.
const (
	EventTaskCreated       = "task_created"
	EventTaskUpdated       = "task_updated"
	EventTaskStatusChanged = "task_status_changed"
	EventTaskReassigned    = "task_reassigned"
	EventTasksReordered    = "tasks_reordered"
	EventTaskDeleted       = "task_deleted"
)

// Hub maintains active user connections and fans events out to them.
type Hub struct {
	mu              sync.RWMutex
	userIdToClients map[string]map[Client]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{userIdToClients: make(map[string]map[Client]struct{})}
}

// Register adds a client under a user ID.
func (h *Hub) Register(userID string, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.userIdToClients[userID]; !ok {
		h.userIdToClients[userID] = make(map[Client]struct{})
	}
	h.userIdToClients[userID][client] = struct{}{}
}

// Unregister removes a client; if user has no more clients, cleans up map.
func (h *Hub) Unregister(userID string, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.userIdToClients[userID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.userIdToClients, userID)
		}
	}
}

// Connected reports how many clients a user has open.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userIdToClients[userID])
}

// Broadcast sends a raw message to all clients of a user.
func (h *Hub) Broadcast(userID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.userIdToClients[userID] {
		// failed writes are cleaned up by the handler's read loop
		_ = c.Send(message)
	}
}

// Publish encodes evt once and delivers it to each distinct recipient.
func (h *Hub) Publish(evt Event) {
	if evt.Version == 0 {
		evt.Version = 1
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Println("realtime: encode event:", err)
		return
	}
	seen := make(map[string]struct{}, len(evt.Recipients))
	for _, userID := range evt.Recipients {
		if userID == "" {
			continue
		}
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		h.Broadcast(userID, payload)
	}
}
