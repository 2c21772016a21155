package pipeline

import (
	"context"
	"errors"
	"log"
	"strings"

	"messaging-service/internal/cache"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
)

var (
	ErrForbidden = errors.New("not a conversation member")
	ErrEmptyBody = errors.New("message body is empty")
)

const messageSentRoutingKey = "chat.message.sent"

// Broadcaster fans a persisted message out to connected room members.
type Broadcaster interface {
	BroadcastMessage(msg models.Message)
}

// Pipeline is the single message path used by both the HTTP API and the
// realtime gateway. The durable write is the commit point; cache updates,
// event publishing, and fan-out are best-effort enrichments that never fail
// a send that has already committed.
type Pipeline struct {
	convRepo    repositories.ConversationRepository
	msgRepo     repositories.MessageRepository
	store       cache.Store
	publisher   rabbitmq.Publisher
	broadcaster Broadcaster
	maxList     int
}

// New constructs a Pipeline.
func New(convRepo repositories.ConversationRepository, msgRepo repositories.MessageRepository, store cache.Store, publisher rabbitmq.Publisher, broadcaster Broadcaster, maxList int) *Pipeline {
	return &Pipeline{
		convRepo:    convRepo,
		msgRepo:     msgRepo,
		store:       store,
		publisher:   publisher,
		broadcaster: broadcaster,
		maxList:     maxList,
	}
}

// Send authorizes, validates, durably writes the message, then applies the
// best-effort side effects: recent-list push, unread increments for every
// member but the sender, the chat.message.sent event, and room fan-out.
func (p *Pipeline) Send(ctx context.Context, conversationID, senderID int64, body string) (models.Message, error) {
	member, err := p.convRepo.IsMember(ctx, conversationID, senderID)
	if err != nil {
		return models.Message{}, err
	}
	if !member {
		return models.Message{}, ErrForbidden
	}

	if strings.TrimSpace(body) == "" {
		return models.Message{}, ErrEmptyBody
	}

	msg, err := p.msgRepo.CreateMessage(ctx, conversationID, senderID, body)
	if err != nil {
		return models.Message{}, err
	}

	// The message is authoritatively sent from here on.
	p.soft("push_recent", p.store.PushRecent(ctx, msg))

	memberIDs, err := p.convRepo.MemberIDs(ctx, conversationID)
	if err != nil {
		log.Printf("member lookup for unread counters failed: %v", err)
	} else {
		for _, userID := range memberIDs {
			if userID == senderID {
				continue
			}
			p.soft("increment_unread", p.store.IncrementUnread(ctx, userID, conversationID))
		}
	}

	if err := p.publisher.Publish(ctx, messageSentRoutingKey, models.MessageSentEvent{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
	}); err != nil {
		log.Printf("message sent event publish failed: %v", err)
	}

	if p.broadcaster != nil {
		p.broadcaster.BroadcastMessage(msg)
	}
	return msg, nil
}

// ListMessages returns messages in ascending time order. When the recent
// cache has entries it serves the read entirely; otherwise the durable store
// is read and the cache repopulated opportunistically.
func (p *Pipeline) ListMessages(ctx context.Context, conversationID, requesterID int64, limit int) ([]models.Message, error) {
	member, err := p.convRepo.IsMember(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrForbidden
	}

	if limit <= 0 || limit > p.maxList {
		limit = p.maxList
	}

	cached, err := p.store.RecentMessages(ctx, conversationID, limit)
	p.soft("recent_messages", err)
	if len(cached) > 0 {
		return ascending(cached), nil
	}

	msgs, err := p.msgRepo.ListRecent(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	p.soft("fill_recent", p.store.FillRecent(ctx, conversationID, msgs))
	return ascending(msgs), nil
}

// MarkRead clears the requester's unread counter for the conversation.
// Clearing an already-clear counter is a no-op.
func (p *Pipeline) MarkRead(ctx context.Context, conversationID, userID int64) error {
	member, err := p.convRepo.IsMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !member {
		return ErrForbidden
	}
	return p.store.ClearUnread(ctx, userID, conversationID)
}

func (p *Pipeline) soft(operation string, err error) {
	if err == nil {
		return
	}
	log.Printf("cache %s failed (degraded): %v", operation, err)
	observability.IncCacheSoftFailure(operation)
}

// ascending reverses a newest-first slice into chronological order.
func ascending(newestFirst []models.Message) []models.Message {
	out := make([]models.Message, len(newestFirst))
	for i, msg := range newestFirst {
		out[len(newestFirst)-1-i] = msg
	}
	return out
}
