package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukerupert/fufnotes/internal/metrics"
	"github.com/dukerupert/fufnotes/internal/model"
)

// Message is a change notification pushed to a user's open connections.
type Message struct {
	Type   string         `json:"type"`
	Entity string         `json:"entity"`
	Action string         `json:"action"`
	ID     string         `json:"id,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// NewMessage derives Type as "<entity>_<action>".
func NewMessage(entity, action, id string, extra map[string]any) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Extra:  extra,
	}
}

// Hub fans messages out to the open connections of one user at a time.
// A connection whose buffer is full is evicted rather than blocking the sender.
type Hub struct {
	mu     sync.RWMutex
	byUser map[string]map[*Client]struct{}
	count  int
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		byUser: make(map[string]map[*Client]struct{}),
		logger: logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.byUser[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.byUser[c.userID] = set
	}
	if _, dup := set[c]; dup {
		return
	}
	set[c] = struct{}{}
	h.count++
	metrics.SetWebSocketClients(h.count)
}

// Unregister drops c and closes its send channel. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.byUser[c.userID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.byUser, c.userID)
	}
	close(c.send)
	h.count--
	metrics.SetWebSocketClients(h.count)
}

// Broadcast sends msg to every connection owned by userID.
func (h *Hub) Broadcast(userID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "type", msg.Type, "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.byUser[userID] {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("evicting slow websocket client", "user_id", userID)
		h.Unregister(c)
	}
}

// NoteEvent publishes a note change to the owner's connections.
func (h *Hub) NoteEvent(owner, action string, meta model.NoteMeta) {
	h.Broadcast(owner, NewMessage("note", action, meta.ID, map[string]any{
		"revision":  meta.Revision,
		"title":     meta.Title,
		"updatedAt": meta.UpdatedAt,
	}))
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// UserCount reports how many distinct users have a connection open.
func (h *Hub) UserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser)
}
