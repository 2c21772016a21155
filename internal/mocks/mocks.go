package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"messaging-service/internal/cache"
	"messaging-service/internal/models"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) FindOrCreateDirect(ctx context.Context, userA, userB int64) (models.Conversation, bool, error) {
	args := m.Called(ctx, userA, userB)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Bool(1), args.Error(2)
}

func (m *ConversationRepositoryMock) CreateClassConversation(ctx context.Context, classRef string, memberIDs []int64) (models.Conversation, error) {
	args := m.Called(ctx, classRef, memberIDs)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) ListForUser(ctx context.Context, userID int64, limit int) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID, limit)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) GetGroupConversationForUser(ctx context.Context, groupRef string, userID int64) (models.Conversation, error) {
	args := m.Called(ctx, groupRef, userID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) IsMember(ctx context.Context, conversationID, userID int64) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationRepositoryMock) MemberIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	args := m.Called(ctx, conversationID)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

func (m *ConversationRepositoryMock) GetGroupConversation(ctx context.Context, groupRef string) (models.Conversation, error) {
	args := m.Called(ctx, groupRef)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) EnsureGroupConversation(ctx context.Context, groupRef, classRef string) (models.Conversation, error) {
	args := m.Called(ctx, groupRef, classRef)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) AddMember(ctx context.Context, conversationID, userID int64) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationRepositoryMock) RemoveMember(ctx context.Context, conversationID, userID int64) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationRepositoryMock) DeleteGroupConversation(ctx context.Context, groupRef string) (models.Conversation, []int64, error) {
	args := m.Called(ctx, groupRef)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	var ids []int64
	if val := args.Get(1); val != nil {
		ids = val.([]int64)
	}
	return conv, ids, args.Error(2)
}

func (m *ConversationRepositoryMock) ReconcileGroupMembership(ctx context.Context, groupRef, classRef string, desired []int64) (models.Conversation, []int64, []int64, bool, error) {
	args := m.Called(ctx, groupRef, classRef, desired)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	var added, removed []int64
	if val := args.Get(1); val != nil {
		added = val.([]int64)
	}
	if val := args.Get(2); val != nil {
		removed = val.([]int64)
	}
	return conv, added, removed, args.Bool(3), args.Error(4)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, conversationID, senderID int64, body string) (models.Message, error) {
	args := m.Called(ctx, conversationID, senderID, body)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListRecent(ctx context.Context, conversationID int64, limit int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type StoreMock struct {
	mock.Mock
}

func (m *StoreMock) PushRecent(ctx context.Context, msg models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *StoreMock) RecentMessages(ctx context.Context, conversationID int64, limit int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *StoreMock) FillRecent(ctx context.Context, conversationID int64, newestFirst []models.Message) error {
	args := m.Called(ctx, conversationID, newestFirst)
	return args.Error(0)
}

func (m *StoreMock) IncrementUnread(ctx context.Context, userID, conversationID int64) error {
	args := m.Called(ctx, userID, conversationID)
	return args.Error(0)
}

func (m *StoreMock) ClearUnread(ctx context.Context, userID, conversationID int64) error {
	args := m.Called(ctx, userID, conversationID)
	return args.Error(0)
}

func (m *StoreMock) UnreadCounts(ctx context.Context, userID int64) (map[int64]int64, error) {
	args := m.Called(ctx, userID)
	var counts map[int64]int64
	if val := args.Get(0); val != nil {
		counts = val.(map[int64]int64)
	}
	return counts, args.Error(1)
}

func (m *StoreMock) ConnectUser(ctx context.Context, userID int64) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *StoreMock) DisconnectUser(ctx context.Context, userID int64) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *StoreMock) OnlineUsers(ctx context.Context) ([]int64, error) {
	args := m.Called(ctx)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

func (m *StoreMock) JoinRoom(ctx context.Context, conversationID, userID int64) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *StoreMock) LeaveRoom(ctx context.Context, conversationID, userID int64) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *StoreMock) RoomOnline(ctx context.Context, conversationID int64) ([]int64, error) {
	args := m.Called(ctx, conversationID)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

func (m *StoreMock) ClearUserConversation(ctx context.Context, userID, conversationID int64) error {
	args := m.Called(ctx, userID, conversationID)
	return args.Error(0)
}

func (m *StoreMock) ClearConversation(ctx context.Context, conversationID int64, memberIDs []int64) error {
	args := m.Called(ctx, conversationID, memberIDs)
	return args.Error(0)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

type BroadcasterMock struct {
	mock.Mock
}

func (m *BroadcasterMock) BroadcastMessage(msg models.Message) {
	m.Called(msg)
}

type RoomCloserMock struct {
	mock.Mock
}

func (m *RoomCloserMock) CloseRoom(conversationID int64) {
	m.Called(conversationID)
}

var _ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ cache.Store = (*StoreMock)(nil)
var _ rabbitmq.Publisher = (*PublisherMock)(nil)
