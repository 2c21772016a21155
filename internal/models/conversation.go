package models

import (
	"database/sql"
	"time"
)

// ConversationKind discriminates the three conversation shapes.
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindClass  ConversationKind = "class"
	KindGroup  ConversationKind = "group"
)

// Conversation is a channel of membership and message history. GroupRef is
// set only for group-kind conversations and is unique across them; DirectKey
// is the sorted "{lo}:{hi}" user pair that deduplicates direct conversations.
type Conversation struct {
	ID        int64            `db:"id" json:"id"`
	Kind      ConversationKind `db:"kind" json:"kind"`
	ClassRef  sql.NullString   `db:"class_ref" json:"-"`
	GroupRef  sql.NullString   `db:"group_ref" json:"-"`
	DirectKey sql.NullString   `db:"direct_key" json:"-"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}

// ConversationSummary is the API view of a conversation in list responses.
type ConversationSummary struct {
	Conversation
	MemberIDs   []int64  `json:"member_ids"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int64    `json:"unread_count"`
}

// ClassRefValue returns the external class reference or "".
func (c Conversation) ClassRefValue() string {
	if c.ClassRef.Valid {
		return c.ClassRef.String
	}
	return ""
}

// GroupRefValue returns the external group reference or "".
func (c Conversation) GroupRefValue() string {
	if c.GroupRef.Valid {
		return c.GroupRef.String
	}
	return ""
}
