package ws

import "messaging-service/internal/models"

// FrameType enumerates the client-initiated operations. Dispatch switches
// over this closed set and unknown types are rejected with an error ack.
type FrameType string

const (
	FrameJoin        FrameType = "conversation:join"
	FrameLeave       FrameType = "conversation:leave"
	FrameTypingStart FrameType = "typing:start"
	FrameTypingStop  FrameType = "typing:stop"
	FrameSend        FrameType = "message:send"
)

// Server-pushed event types.
const (
	EventAck                 = "ack"
	EventMessageNew          = "message:new"
	EventPresenceUpdate      = "presence:update"
	EventUserPresence        = "user:presence"
	EventTypingUpdate        = "typing:update"
	EventConversationDeleted = "conversation:deleted"
)

// Ack error codes.
const (
	CodeForbidden       = "forbidden"
	CodeInvalidArgument = "invalid_argument"
	CodeNotJoined       = "not_joined"
	CodeUnknownType     = "unknown_type"
	CodeInternal        = "internal"
)

// ClientFrame is one request from the client. Ref, when set, is echoed on
// the ack so clients can correlate.
type ClientFrame struct {
	Ref            string    `json:"ref,omitempty"`
	Type           FrameType `json:"type"`
	ConversationID int64     `json:"conversation_id,omitempty"`
	Body           string    `json:"body,omitempty"`
}

// Ack is the explicit result of every client operation.
type Ack struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Op      FrameType       `json:"op"`
	OK      bool            `json:"ok"`
	Code    string          `json:"code,omitempty"`
	Error   string          `json:"error,omitempty"`
	Online  []int64         `json:"online,omitempty"`
	Message *models.Message `json:"message,omitempty"`
}

// Event is a server-pushed notification.
type Event struct {
	Type           string          `json:"type"`
	ConversationID int64           `json:"conversation_id,omitempty"`
	UserID         int64           `json:"user_id,omitempty"`
	Online         bool            `json:"online"`
	Typing         bool            `json:"typing,omitempty"`
	Message        *models.Message `json:"message,omitempty"`
}

func okAck(frame ClientFrame) Ack {
	return Ack{Type: EventAck, Ref: frame.Ref, Op: frame.Type, OK: true}
}

func errAck(frame ClientFrame, code, msg string) Ack {
	return Ack{Type: EventAck, Ref: frame.Ref, Op: frame.Type, OK: false, Code: code, Error: msg}
}
