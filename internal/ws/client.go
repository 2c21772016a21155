package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Client is the per-connection state: the authenticated user, the set of
// conversations this connection has joined, and a serialized writer over the
// underlying websocket.
type Client struct {
	conn *websocket.Conn
	info ConnInfo

	// presenceCounted records whether the global connection counter was
	// incremented for this connection. Written before the read loop starts;
	// disconnect cleanup decrements only when it is set.
	presenceCounted bool

	mu     sync.Mutex
	joined map[int64]struct{}

	writeMu sync.Mutex
}

func newClient(conn *websocket.Conn, info ConnInfo) *Client {
	return &Client{
		conn:   conn,
		info:   info,
		joined: make(map[int64]struct{}),
	}
}

// UserID returns the authenticated user behind the connection.
func (c *Client) UserID() int64 {
	return c.info.UserID
}

func (c *Client) markJoined(conversationID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined[conversationID] = struct{}{}
}

func (c *Client) unmarkJoined(conversationID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.joined[conversationID]; !ok {
		return false
	}
	delete(c.joined, conversationID)
	return true
}

func (c *Client) hasJoined(conversationID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.joined[conversationID]
	return ok
}

func (c *Client) joinedConversations() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int64, 0, len(c.joined))
	for id := range c.joined {
		ids = append(ids, id)
	}
	return ids
}

// send writes one JSON payload. gorilla/websocket permits a single
// concurrent writer, so writes are serialized per connection.
func (c *Client) send(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}
