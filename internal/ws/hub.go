package ws

import (
	"log"
	"sync"

	"messaging-service/internal/models"
)

// Hub is the explicit connection registry: every connected client plus the
// per-conversation rooms. It holds no durable truth; everything here is
// rebuilt from live connections after a restart.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[int64]map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[int64]map[*Client]struct{}),
	}
}

// Register adds a connection to the registry.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// Unregister removes a connection and any room entries it still holds.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	for conversationID, room := range h.rooms {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// JoinRoom adds the connection to a conversation's room.
func (h *Hub) JoinRoom(conversationID int64, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[conversationID] = room
	}
	room[c] = struct{}{}
}

// LeaveRoom removes the connection from a conversation's room.
func (h *Hub) LeaveRoom(conversationID int64, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[conversationID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// BroadcastMessage pushes a persisted message to every connection joined to
// its conversation. Implements the pipeline's fan-out step.
func (h *Hub) BroadcastMessage(msg models.Message) {
	event := Event{Type: EventMessageNew, ConversationID: msg.ConversationID, Message: &msg}
	h.broadcastRoom(msg.ConversationID, event, nil)
}

// BroadcastPresence announces a user entering or leaving a conversation's
// online set.
func (h *Hub) BroadcastPresence(conversationID, userID int64, online bool) {
	event := Event{Type: EventPresenceUpdate, ConversationID: conversationID, UserID: userID, Online: online}
	h.broadcastRoom(conversationID, event, nil)
}

// BroadcastTyping relays a typing change to the other room members.
func (h *Hub) BroadcastTyping(conversationID, userID int64, typing bool, except *Client) {
	event := Event{Type: EventTypingUpdate, ConversationID: conversationID, UserID: userID, Typing: typing}
	h.broadcastRoom(conversationID, event, except)
}

// BroadcastUserPresence announces a global online/offline transition to
// every connected client.
func (h *Hub) BroadcastUserPresence(userID int64, online bool) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	event := Event{Type: EventUserPresence, UserID: userID, Online: online}
	for _, c := range targets {
		h.push(c, event)
	}
}

// CloseRoom notifies a deleted conversation's room, then tears the room
// down and clears the conversation from each member connection's joined set.
func (h *Hub) CloseRoom(conversationID int64) {
	h.mu.Lock()
	room := h.rooms[conversationID]
	targets := make([]*Client, 0, len(room))
	for c := range room {
		targets = append(targets, c)
	}
	delete(h.rooms, conversationID)
	h.mu.Unlock()

	event := Event{Type: EventConversationDeleted, ConversationID: conversationID}
	for _, c := range targets {
		c.unmarkJoined(conversationID)
		h.push(c, event)
	}
}

// RoomSize reports how many connections are joined to the conversation.
func (h *Hub) RoomSize(conversationID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

func (h *Hub) broadcastRoom(conversationID int64, event Event, except *Client) {
	h.mu.RLock()
	room := h.rooms[conversationID]
	targets := make([]*Client, 0, len(room))
	for c := range room {
		if c == except {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.push(c, event)
	}
}

// push writes to one client; a failed write closes the connection and lets
// its read loop run the full disconnect cleanup.
func (h *Hub) push(c *Client, event Event) {
	if err := c.send(event); err != nil {
		log.Printf("websocket write error: %v", err)
		c.conn.Close()
	}
}
