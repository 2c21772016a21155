package models

import "time"

// Message is an immutable chat message. CreatedAt is assigned by the
// database so ordering within a conversation does not depend on clients.
type Message struct {
	ID             int64     `db:"id" json:"id"`
	ConversationID int64     `db:"conversation_id" json:"conversation_id"`
	SenderID       int64     `db:"sender_id" json:"sender_id"`
	Body           string    `db:"body" json:"body"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// MessageSentEvent is published to the event exchange after a durable write.
type MessageSentEvent struct {
	ConversationID int64 `json:"conversation_id"`
	MessageID      int64 `json:"message_id"`
	SenderID       int64 `json:"sender_id"`
}
