package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"messaging-service/internal/cache"
	"messaging-service/internal/observability"
	"messaging-service/internal/pipeline"
	"messaging-service/internal/repositories"
)

const wsEventsRoutingKey = "ws_events.chat"

// TokenVerifier validates a bearer token and returns the user id.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// Gateway owns the persistent-connection endpoint: it authenticates each
// connection, tracks per-connection room membership, and dispatches the
// join/leave/typing/send operations.
type Gateway struct {
	hub      *Hub
	convRepo repositories.ConversationRepository
	pipe     *pipeline.Pipeline
	store    cache.Store
	verifier TokenVerifier
}

// NewGateway constructs a Gateway.
func NewGateway(hub *Hub, convRepo repositories.ConversationRepository, pipe *pipeline.Pipeline, store cache.Store, verifier TokenVerifier) *Gateway {
	return &Gateway{hub: hub, convRepo: convRepo, pipe: pipe, store: store, verifier: verifier}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates and upgrades the connection, then serves its read
// loop until disconnect. Authentication is local key verification, so an
// unreachable identity provider cannot make this hang; a bad token is
// rejected before any connection state exists.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerFromRequest(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	userID, err := g.verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := newClient(conn, info)
	g.hub.Register(client)

	first, err := g.store.ConnectUser(ctx, userID)
	if err != nil {
		log.Printf("presence connect failed (degraded): %v", err)
		observability.IncCacheSoftFailure("connect_user")
	} else {
		client.presenceCounted = true
		if first {
			g.hub.BroadcastUserPresence(userID, true)
		}
	}

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	g.publishLifecycle(ctx, info, "ws_connect", "")

	go g.readLoop(client)
}

func (g *Gateway) readLoop(client *Client) {
	// Disconnect cleanup always runs to completion so presence counters
	// cannot leak on abrupt disconnects.
	var closeReason string
	defer func() {
		ctx := context.Background()
		for _, conversationID := range client.joinedConversations() {
			g.leaveConversation(ctx, client, conversationID)
		}
		if client.presenceCounted {
			offline, err := g.store.DisconnectUser(ctx, client.UserID())
			if err != nil {
				log.Printf("presence disconnect failed (degraded): %v", err)
				observability.IncCacheSoftFailure("disconnect_user")
			} else if offline {
				g.hub.BroadcastUserPresence(client.UserID(), false)
			}
		}
		g.hub.Unregister(client)
		client.conn.Close()

		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		g.publishLifecycle(ctx, client.info, "ws_disconnect", closeReason)
	}()

	for {
		var frame ClientFrame
		if err := client.conn.ReadJSON(&frame); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
			}
			return
		}
		g.dispatch(context.Background(), client, frame)
	}
}

// dispatch handles one client frame and always answers with an ack. Note
// that message:send deliberately does not require a prior join: joining is a
// presence/subscription concern, and send permission is re-checked against
// conversation membership inside the pipeline on every call. typing does
// require a join.
func (g *Gateway) dispatch(ctx context.Context, client *Client, frame ClientFrame) {
	switch frame.Type {
	case FrameJoin:
		g.handleJoin(ctx, client, frame)
	case FrameLeave:
		g.handleLeave(ctx, client, frame)
	case FrameTypingStart:
		g.handleTyping(client, frame, true)
	case FrameTypingStop:
		g.handleTyping(client, frame, false)
	case FrameSend:
		g.handleSend(ctx, client, frame)
	default:
		g.ack(client, errAck(frame, CodeUnknownType, "unknown frame type"))
	}
}

func (g *Gateway) handleJoin(ctx context.Context, client *Client, frame ClientFrame) {
	if frame.ConversationID == 0 {
		g.ack(client, errAck(frame, CodeInvalidArgument, "conversation_id required"))
		return
	}
	member, err := g.convRepo.IsMember(ctx, frame.ConversationID, client.UserID())
	if err != nil {
		g.ack(client, errAck(frame, CodeInternal, "membership check failed"))
		return
	}
	if !member {
		g.ack(client, errAck(frame, CodeForbidden, "not a conversation member"))
		return
	}

	// A repeated join from the same connection is idempotent: the presence
	// counter is incremented once per connection, so the single decrement on
	// leave or disconnect releases it exactly.
	if !client.hasJoined(frame.ConversationID) {
		g.hub.JoinRoom(frame.ConversationID, client)
		client.markJoined(frame.ConversationID)

		first, err := g.store.JoinRoom(ctx, frame.ConversationID, client.UserID())
		if err != nil {
			log.Printf("room presence join failed (degraded): %v", err)
			observability.IncCacheSoftFailure("join_room")
		} else if first {
			g.hub.BroadcastPresence(frame.ConversationID, client.UserID(), true)
		}
	}

	online, err := g.store.RoomOnline(ctx, frame.ConversationID)
	if err != nil {
		log.Printf("room presence read failed (degraded): %v", err)
		observability.IncCacheSoftFailure("room_online")
	}

	observability.IncWSEvent("join")
	ack := okAck(frame)
	ack.Online = online
	g.ack(client, ack)
}

func (g *Gateway) handleLeave(ctx context.Context, client *Client, frame ClientFrame) {
	if client.hasJoined(frame.ConversationID) {
		g.leaveConversation(ctx, client, frame.ConversationID)
	}
	observability.IncWSEvent("leave")
	g.ack(client, okAck(frame))
}

// leaveConversation runs the shared leave logic used by both the explicit
// leave operation and disconnect cleanup.
func (g *Gateway) leaveConversation(ctx context.Context, client *Client, conversationID int64) {
	g.hub.LeaveRoom(conversationID, client)
	client.unmarkJoined(conversationID)

	last, err := g.store.LeaveRoom(ctx, conversationID, client.UserID())
	if err != nil {
		log.Printf("room presence leave failed (degraded): %v", err)
		observability.IncCacheSoftFailure("leave_room")
		return
	}
	if last {
		g.hub.BroadcastPresence(conversationID, client.UserID(), false)
	}
}

func (g *Gateway) handleTyping(client *Client, frame ClientFrame, typing bool) {
	if !client.hasJoined(frame.ConversationID) {
		g.ack(client, errAck(frame, CodeNotJoined, "join the conversation before typing"))
		return
	}
	g.hub.BroadcastTyping(frame.ConversationID, client.UserID(), typing, client)
	observability.IncWSEvent("typing")
	g.ack(client, okAck(frame))
}

func (g *Gateway) handleSend(ctx context.Context, client *Client, frame ClientFrame) {
	msg, err := g.pipe.Send(ctx, frame.ConversationID, client.UserID(), frame.Body)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrForbidden):
			g.ack(client, errAck(frame, CodeForbidden, "not a conversation member"))
		case errors.Is(err, pipeline.ErrEmptyBody):
			g.ack(client, errAck(frame, CodeInvalidArgument, "message body is empty"))
		default:
			log.Printf("websocket send failed: %v", err)
			g.ack(client, errAck(frame, CodeInternal, "failed to send message"))
		}
		return
	}

	observability.IncWSEvent("send")
	ack := okAck(frame)
	ack.Message = &msg
	g.ack(client, ack)
}

func (g *Gateway) ack(client *Client, ack Ack) {
	if err := client.send(ack); err != nil {
		log.Printf("websocket ack write error: %v", err)
		client.conn.Close()
	}
}

func (g *Gateway) publishLifecycle(ctx context.Context, info ConnInfo, event, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(ctx, wsEventsRoutingKey, observability.NewEnvelope("ws_events", event, payload), headers)
}

func bearerFromRequest(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		const prefix = "Bearer "
		if len(header) > len(prefix) && header[:len(prefix)] == prefix {
			return header[len(prefix):]
		}
		return ""
	}
	return c.Query("token")
}
