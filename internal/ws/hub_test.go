package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/models"
)

func TestHubJoinAndLeaveRoom(t *testing.T) {
	hub := NewHub()
	client := newClient(nil, ConnInfo{UserID: 1})

	hub.Register(client)
	hub.JoinRoom(5, client)
	assert.Equal(t, 1, hub.RoomSize(5))

	hub.LeaveRoom(5, client)
	assert.Equal(t, 0, hub.RoomSize(5))
	if len(hub.rooms) != 0 {
		t.Fatalf("expected empty room to be removed")
	}
}

func TestHubUnregisterSweepsRooms(t *testing.T) {
	hub := NewHub()
	client := newClient(nil, ConnInfo{UserID: 1})

	hub.Register(client)
	hub.JoinRoom(5, client)
	hub.JoinRoom(6, client)

	hub.Unregister(client)
	assert.Equal(t, 0, hub.RoomSize(5))
	assert.Equal(t, 0, hub.RoomSize(6))
	if len(hub.rooms) != 0 {
		t.Fatalf("expected all rooms to be removed")
	}
}

func TestHubCloseRoomOnEmptyRoom(t *testing.T) {
	hub := NewHub()
	hub.CloseRoom(42)
	assert.Equal(t, 0, hub.RoomSize(42))
}

// dialTestClient upgrades a real websocket pair so hub pushes can be read
// from the client side.
func dialTestClient(t *testing.T, hub *Hub, userID int64) (*Client, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	registered := make(chan *Client, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		client := newClient(conn, ConnInfo{UserID: userID})
		hub.Register(client)
		registered <- client
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return <-registered, conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event Event
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestHubBroadcastMessageReachesRoomMembers(t *testing.T) {
	hub := NewHub()
	member, memberConn := dialTestClient(t, hub, 2)
	_, outsiderConn := dialTestClient(t, hub, 3)

	hub.JoinRoom(5, member)

	hub.BroadcastMessage(models.Message{ID: 7, ConversationID: 5, SenderID: 1, Body: "hi"})

	event := readEvent(t, memberConn)
	assert.Equal(t, EventMessageNew, event.Type)
	assert.Equal(t, int64(5), event.ConversationID)
	require.NotNil(t, event.Message)
	assert.Equal(t, int64(7), event.Message.ID)

	require.NoError(t, outsiderConn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var drop Event
	require.Error(t, outsiderConn.ReadJSON(&drop), "outsider should not receive room traffic")
}

func TestHubBroadcastTypingSkipsSender(t *testing.T) {
	hub := NewHub()
	sender, senderConn := dialTestClient(t, hub, 1)
	peer, peerConn := dialTestClient(t, hub, 2)

	hub.JoinRoom(5, sender)
	hub.JoinRoom(5, peer)

	hub.BroadcastTyping(5, 1, true, sender)

	event := readEvent(t, peerConn)
	assert.Equal(t, EventTypingUpdate, event.Type)
	assert.Equal(t, int64(1), event.UserID)
	assert.True(t, event.Typing)

	require.NoError(t, senderConn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var drop Event
	require.Error(t, senderConn.ReadJSON(&drop), "sender should not echo its own typing")
}

func TestHubBroadcastUserPresenceReachesAllClients(t *testing.T) {
	hub := NewHub()
	_, connA := dialTestClient(t, hub, 1)
	_, connB := dialTestClient(t, hub, 2)

	hub.BroadcastUserPresence(9, true)

	for _, conn := range []*websocket.Conn{connA, connB} {
		event := readEvent(t, conn)
		assert.Equal(t, EventUserPresence, event.Type)
		assert.Equal(t, int64(9), event.UserID)
		assert.True(t, event.Online)
	}
}

func TestHubCloseRoomNotifiesAndClearsJoined(t *testing.T) {
	hub := NewHub()
	member, memberConn := dialTestClient(t, hub, 2)

	hub.JoinRoom(5, member)
	member.markJoined(5)

	hub.CloseRoom(5)

	event := readEvent(t, memberConn)
	assert.Equal(t, EventConversationDeleted, event.Type)
	assert.Equal(t, int64(5), event.ConversationID)

	assert.Equal(t, 0, hub.RoomSize(5))
	assert.False(t, member.hasJoined(5))
}
