package models

import (
	"encoding/json"
	"fmt"
)

// LifecycleKind enumerates the group lifecycle notifications consumed from
// the external group system. Dispatch switches over this closed set; an
// unknown routing key never reaches a handler.
type LifecycleKind int

const (
	GroupCreated LifecycleKind = iota
	GroupMemberAdded
	GroupMemberRemoved
	GroupDisbanded
)

func (k LifecycleKind) String() string {
	switch k {
	case GroupCreated:
		return "group.created"
	case GroupMemberAdded:
		return "group.member.added"
	case GroupMemberRemoved:
		return "group.member.left"
	case GroupDisbanded:
		return "group.disbanded"
	}
	return "unknown"
}

// LifecycleRoutingKeys lists every binding the membership consumer needs.
func LifecycleRoutingKeys() []string {
	return []string{
		GroupCreated.String(),
		GroupMemberAdded.String(),
		GroupMemberRemoved.String(),
		GroupDisbanded.String(),
	}
}

// LifecycleKindFromRoutingKey maps an AMQP routing key to a kind.
func LifecycleKindFromRoutingKey(key string) (LifecycleKind, error) {
	switch key {
	case "group.created":
		return GroupCreated, nil
	case "group.member.added":
		return GroupMemberAdded, nil
	case "group.member.left":
		return GroupMemberRemoved, nil
	case "group.disbanded":
		return GroupDisbanded, nil
	}
	return 0, fmt.Errorf("unknown lifecycle routing key %q", key)
}

// LifecycleEvent is one decoded group lifecycle notification. GroupRef is
// always set; UserID and ClassRef are populated per kind.
type LifecycleEvent struct {
	Kind     LifecycleKind
	GroupRef string
	ClassRef string
	UserID   int64
}

type lifecyclePayload struct {
	GroupRef string `json:"group_ref"`
	ClassRef string `json:"class_ref,omitempty"`
	UserID   int64  `json:"user_id,omitempty"`
	OwnerID  int64  `json:"owner_id,omitempty"`
}

// DecodeLifecycleEvent parses a delivery body for the given routing key and
// validates the fields that kind requires.
func DecodeLifecycleEvent(routingKey string, body []byte) (LifecycleEvent, error) {
	kind, err := LifecycleKindFromRoutingKey(routingKey)
	if err != nil {
		return LifecycleEvent{}, err
	}

	var payload lifecyclePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return LifecycleEvent{}, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	if payload.GroupRef == "" {
		return LifecycleEvent{}, fmt.Errorf("%s payload missing group_ref", kind)
	}

	event := LifecycleEvent{Kind: kind, GroupRef: payload.GroupRef, ClassRef: payload.ClassRef}
	switch kind {
	case GroupCreated:
		if payload.OwnerID == 0 {
			return LifecycleEvent{}, fmt.Errorf("%s payload missing owner_id", kind)
		}
		event.UserID = payload.OwnerID
	case GroupMemberAdded, GroupMemberRemoved:
		if payload.UserID == 0 {
			return LifecycleEvent{}, fmt.Errorf("%s payload missing user_id", kind)
		}
		event.UserID = payload.UserID
	case GroupDisbanded:
	}
	return event, nil
}
