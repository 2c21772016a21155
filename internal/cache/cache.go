package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"messaging-service/internal/models"
)

// Store is the fast-path cache: bounded recent-message lists, per-user
// unread counters, and presence state. Everything here is ephemeral; callers
// treat failures as soft and fall back to the durable store.
type Store interface {
	PushRecent(ctx context.Context, msg models.Message) error
	RecentMessages(ctx context.Context, conversationID int64, limit int) ([]models.Message, error)
	FillRecent(ctx context.Context, conversationID int64, newestFirst []models.Message) error

	IncrementUnread(ctx context.Context, userID, conversationID int64) error
	ClearUnread(ctx context.Context, userID, conversationID int64) error
	UnreadCounts(ctx context.Context, userID int64) (map[int64]int64, error)

	ConnectUser(ctx context.Context, userID int64) (bool, error)
	DisconnectUser(ctx context.Context, userID int64) (bool, error)
	OnlineUsers(ctx context.Context) ([]int64, error)

	JoinRoom(ctx context.Context, conversationID, userID int64) (bool, error)
	LeaveRoom(ctx context.Context, conversationID, userID int64) (bool, error)
	RoomOnline(ctx context.Context, conversationID int64) ([]int64, error)

	ClearUserConversation(ctx context.Context, userID, conversationID int64) error
	ClearConversation(ctx context.Context, conversationID int64, memberIDs []int64) error
}

// RedisStore implements Store on a single Redis client.
type RedisStore struct {
	client     *redis.Client
	recentSize int64
	recentTTL  time.Duration
}

// Options configures the Redis connection and cache limits.
type Options struct {
	Addr       string
	Password   string
	DB         int
	RecentSize int
	RecentTTL  time.Duration
}

// NewRedisStore connects a go-redis client and wraps it as a Store.
func NewRedisStore(opts Options) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisStore{
		client:     client,
		recentSize: int64(opts.RecentSize),
		recentTTL:  opts.RecentTTL,
	}
}

// Ping verifies connectivity at startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// PushRecent prepends the message to the conversation's bounded recent list
// and refreshes its expiry.
func (s *RedisStore) PushRecent(ctx context.Context, msg models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := recentKey(msg.ConversationID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, s.recentSize-1)
	pipe.Expire(ctx, key, s.recentTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// RecentMessages returns up to limit cached messages, newest first. An empty
// or missing list returns nil with no error; the caller falls back to the
// durable store.
func (s *RedisStore) RecentMessages(ctx context.Context, conversationID int64, limit int) ([]models.Message, error) {
	stop := int64(limit) - 1
	if limit <= 0 || int64(limit) > s.recentSize {
		stop = s.recentSize - 1
	}
	entries, err := s.client.LRange(ctx, recentKey(conversationID), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	msgs := make([]models.Message, 0, len(entries))
	for _, entry := range entries {
		var msg models.Message
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// FillRecent replaces the conversation's recent list with messages read from
// the durable store, given newest first.
func (s *RedisStore) FillRecent(ctx context.Context, conversationID int64, newestFirst []models.Message) error {
	if len(newestFirst) == 0 {
		return nil
	}
	key := recentKey(conversationID)
	payloads := make([]interface{}, 0, len(newestFirst))
	for _, msg := range newestFirst {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		payloads = append(payloads, data)
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.RPush(ctx, key, payloads...)
	pipe.LTrim(ctx, key, 0, s.recentSize-1)
	pipe.Expire(ctx, key, s.recentTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// IncrementUnread bumps the user's unread counter for the conversation.
func (s *RedisStore) IncrementUnread(ctx context.Context, userID, conversationID int64) error {
	return s.client.HIncrBy(ctx, unreadKey(userID), strconv.FormatInt(conversationID, 10), 1).Err()
}

// ClearUnread resets the counter. Clearing an absent field is a no-op, which
// makes mark-read idempotent.
func (s *RedisStore) ClearUnread(ctx context.Context, userID, conversationID int64) error {
	return s.client.HDel(ctx, unreadKey(userID), strconv.FormatInt(conversationID, 10)).Err()
}

// UnreadCounts returns the user's unread counters keyed by conversation id.
func (s *RedisStore) UnreadCounts(ctx context.Context, userID int64) (map[int64]int64, error) {
	fields, err := s.client.HGetAll(ctx, unreadKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	counts := make(map[int64]int64, len(fields))
	for field, value := range fields {
		convID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		count, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		counts[convID] = count
	}
	return counts, nil
}

// ConnectUser increments the user's connection counter and reports whether
// this was the 0-to-1 transition, adding the user to the global online set
// when it was. The counter is a single atomic INCR so simultaneous
// connections for one user never flap the online state.
func (s *RedisStore) ConnectUser(ctx context.Context, userID int64) (bool, error) {
	count, err := s.client.Incr(ctx, userConnsKey(userID)).Result()
	if err != nil {
		return false, err
	}
	if count != 1 {
		return false, nil
	}
	return true, s.client.SAdd(ctx, onlineSetKey, userID).Err()
}

// DisconnectUser decrements the counter and reports whether the user went
// fully offline. A counter at or below zero is deleted so a missed decrement
// cannot pin a user online forever.
func (s *RedisStore) DisconnectUser(ctx context.Context, userID int64) (bool, error) {
	count, err := s.client.Decr(ctx, userConnsKey(userID)).Result()
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, userConnsKey(userID))
	pipe.SRem(ctx, onlineSetKey, userID)
	_, err = pipe.Exec(ctx)
	return true, err
}

// OnlineUsers returns the global online set.
func (s *RedisStore) OnlineUsers(ctx context.Context) ([]int64, error) {
	return s.members(ctx, onlineSetKey)
}

// JoinRoom increments the user's per-conversation join counter and reports
// whether the user just became visible in the room.
func (s *RedisStore) JoinRoom(ctx context.Context, conversationID, userID int64) (bool, error) {
	count, err := s.client.Incr(ctx, roomConnsKey(conversationID, userID)).Result()
	if err != nil {
		return false, err
	}
	if count != 1 {
		return false, nil
	}
	return true, s.client.SAdd(ctx, roomOnlineKey(conversationID), userID).Err()
}

// LeaveRoom decrements the join counter and reports whether the user left
// the room entirely.
func (s *RedisStore) LeaveRoom(ctx context.Context, conversationID, userID int64) (bool, error) {
	count, err := s.client.Decr(ctx, roomConnsKey(conversationID, userID)).Result()
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, roomConnsKey(conversationID, userID))
	pipe.SRem(ctx, roomOnlineKey(conversationID), userID)
	_, err = pipe.Exec(ctx)
	return true, err
}

// RoomOnline returns the user ids currently joined to the conversation.
func (s *RedisStore) RoomOnline(ctx context.Context, conversationID int64) ([]int64, error) {
	return s.members(ctx, roomOnlineKey(conversationID))
}

// ClearUserConversation drops one user's cache state for a conversation:
// the unread counter and any room presence entries.
func (s *RedisStore) ClearUserConversation(ctx context.Context, userID, conversationID int64) error {
	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, unreadKey(userID), strconv.FormatInt(conversationID, 10))
	pipe.Del(ctx, roomConnsKey(conversationID, userID))
	pipe.SRem(ctx, roomOnlineKey(conversationID), userID)
	_, err := pipe.Exec(ctx)
	return err
}

// ClearConversation drops every cache key tied to a deleted conversation.
func (s *RedisStore) ClearConversation(ctx context.Context, conversationID int64, memberIDs []int64) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, recentKey(conversationID))
	pipe.Del(ctx, roomOnlineKey(conversationID))
	for _, userID := range memberIDs {
		pipe.HDel(ctx, unreadKey(userID), strconv.FormatInt(conversationID, 10))
		pipe.Del(ctx, roomConnsKey(conversationID, userID))
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) members(ctx context.Context, key string) ([]int64, error) {
	raw, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]int64, 0, len(raw))
	for _, entry := range raw {
		id, err := strconv.ParseInt(entry, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
