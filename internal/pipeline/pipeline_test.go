package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
)

func TestSendPersistsThenFansOut(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	store := new(mocks.StoreMock)
	publisher := new(mocks.PublisherMock)
	broadcaster := new(mocks.BroadcasterMock)
	pipe := New(convRepo, msgRepo, store, publisher, broadcaster, 100)

	msg := models.Message{ID: 7, ConversationID: 5, SenderID: 1, Body: "hi"}
	convRepo.On("IsMember", mock.Anything, int64(5), int64(1)).Return(true, nil).Once()
	msgRepo.On("CreateMessage", mock.Anything, int64(5), int64(1), "hi").Return(msg, nil).Once()
	store.On("PushRecent", mock.Anything, msg).Return(nil).Once()
	convRepo.On("MemberIDs", mock.Anything, int64(5)).Return([]int64{1, 2, 3}, nil).Once()
	store.On("IncrementUnread", mock.Anything, int64(2), int64(5)).Return(nil).Once()
	store.On("IncrementUnread", mock.Anything, int64(3), int64(5)).Return(nil).Once()
	publisher.On("Publish", mock.Anything, "chat.message.sent", models.MessageSentEvent{ConversationID: 5, MessageID: 7, SenderID: 1}).Return(nil).Once()
	broadcaster.On("BroadcastMessage", msg).Once()

	got, err := pipe.Send(context.Background(), 5, 1, "hi")
	require.NoError(t, err)
	require.Equal(t, msg, got)

	convRepo.AssertExpectations(t)
	msgRepo.AssertExpectations(t)
	store.AssertExpectations(t)
	publisher.AssertExpectations(t)
	broadcaster.AssertExpectations(t)
}

func TestSendSenderGetsNoUnreadIncrement(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	store := new(mocks.StoreMock)
	publisher := new(mocks.PublisherMock)
	pipe := New(convRepo, msgRepo, store, publisher, nil, 100)

	msg := models.Message{ID: 1, ConversationID: 9, SenderID: 4, Body: "solo"}
	convRepo.On("IsMember", mock.Anything, int64(9), int64(4)).Return(true, nil).Once()
	msgRepo.On("CreateMessage", mock.Anything, int64(9), int64(4), "solo").Return(msg, nil).Once()
	store.On("PushRecent", mock.Anything, msg).Return(nil).Once()
	convRepo.On("MemberIDs", mock.Anything, int64(9)).Return([]int64{4}, nil).Once()
	publisher.On("Publish", mock.Anything, "chat.message.sent", mock.Anything).Return(nil).Once()

	_, err := pipe.Send(context.Background(), 9, 4, "solo")
	require.NoError(t, err)

	store.AssertNotCalled(t, "IncrementUnread", mock.Anything, mock.Anything, mock.Anything)
	store.AssertExpectations(t)
}

func TestSendNonMemberForbidden(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	pipe := New(convRepo, msgRepo, new(mocks.StoreMock), new(mocks.PublisherMock), nil, 100)

	convRepo.On("IsMember", mock.Anything, int64(5), int64(8)).Return(false, nil).Once()

	_, err := pipe.Send(context.Background(), 5, 8, "hi")
	require.ErrorIs(t, err, ErrForbidden)
	msgRepo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendEmptyBodyRejected(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	pipe := New(convRepo, msgRepo, new(mocks.StoreMock), new(mocks.PublisherMock), nil, 100)

	convRepo.On("IsMember", mock.Anything, int64(5), int64(1)).Return(true, nil).Once()

	_, err := pipe.Send(context.Background(), 5, 1, "   \n\t")
	require.ErrorIs(t, err, ErrEmptyBody)
	msgRepo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendSucceedsWhenSideEffectsFail(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	store := new(mocks.StoreMock)
	publisher := new(mocks.PublisherMock)
	pipe := New(convRepo, msgRepo, store, publisher, nil, 100)

	msg := models.Message{ID: 2, ConversationID: 5, SenderID: 1, Body: "hi"}
	convRepo.On("IsMember", mock.Anything, int64(5), int64(1)).Return(true, nil).Once()
	msgRepo.On("CreateMessage", mock.Anything, int64(5), int64(1), "hi").Return(msg, nil).Once()
	store.On("PushRecent", mock.Anything, msg).Return(assert.AnError).Once()
	convRepo.On("MemberIDs", mock.Anything, int64(5)).Return(([]int64)(nil), assert.AnError).Once()
	publisher.On("Publish", mock.Anything, "chat.message.sent", mock.Anything).Return(assert.AnError).Once()

	got, err := pipe.Send(context.Background(), 5, 1, "hi")
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestListMessagesServedFromCache(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	store := new(mocks.StoreMock)
	pipe := New(convRepo, msgRepo, store, new(mocks.PublisherMock), nil, 100)

	convRepo.On("IsMember", mock.Anything, int64(5), int64(1)).Return(true, nil).Once()
	store.On("RecentMessages", mock.Anything, int64(5), 100).Return([]models.Message{
		{ID: 3, Body: "newest"},
		{ID: 2, Body: "middle"},
		{ID: 1, Body: "oldest"},
	}, nil).Once()

	got, err := pipe.ListMessages(context.Background(), 5, 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, int64(3), got[2].ID)

	msgRepo.AssertNotCalled(t, "ListRecent", mock.Anything, mock.Anything, mock.Anything)
}

func TestListMessagesCacheMissFillsCache(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	store := new(mocks.StoreMock)
	pipe := New(convRepo, msgRepo, store, new(mocks.PublisherMock), nil, 100)

	newestFirst := []models.Message{{ID: 9}, {ID: 8}}
	convRepo.On("IsMember", mock.Anything, int64(5), int64(1)).Return(true, nil).Once()
	store.On("RecentMessages", mock.Anything, int64(5), 20).Return(([]models.Message)(nil), nil).Once()
	msgRepo.On("ListRecent", mock.Anything, int64(5), 20).Return(newestFirst, nil).Once()
	store.On("FillRecent", mock.Anything, int64(5), newestFirst).Return(nil).Once()

	got, err := pipe.ListMessages(context.Background(), 5, 1, 20)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(8), got[0].ID)
	store.AssertExpectations(t)
}

func TestListMessagesLimitClamped(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	store := new(mocks.StoreMock)
	pipe := New(convRepo, msgRepo, store, new(mocks.PublisherMock), nil, 50)

	convRepo.On("IsMember", mock.Anything, int64(5), int64(1)).Return(true, nil).Once()
	store.On("RecentMessages", mock.Anything, int64(5), 50).Return(([]models.Message)(nil), nil).Once()
	msgRepo.On("ListRecent", mock.Anything, int64(5), 50).Return([]models.Message{}, nil).Once()
	store.On("FillRecent", mock.Anything, int64(5), []models.Message{}).Return(nil).Once()

	_, err := pipe.ListMessages(context.Background(), 5, 1, 500)
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestListMessagesNonMemberForbidden(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	pipe := New(convRepo, new(mocks.MessageRepositoryMock), new(mocks.StoreMock), new(mocks.PublisherMock), nil, 100)

	convRepo.On("IsMember", mock.Anything, int64(5), int64(2)).Return(false, nil).Once()

	_, err := pipe.ListMessages(context.Background(), 5, 2, 10)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestMarkReadClearsCounter(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	store := new(mocks.StoreMock)
	pipe := New(convRepo, new(mocks.MessageRepositoryMock), store, new(mocks.PublisherMock), nil, 100)

	convRepo.On("IsMember", mock.Anything, int64(5), int64(1)).Return(true, nil).Once()
	store.On("ClearUnread", mock.Anything, int64(1), int64(5)).Return(nil).Once()

	require.NoError(t, pipe.MarkRead(context.Background(), 5, 1))
	store.AssertExpectations(t)
}

func TestMarkReadNonMemberForbidden(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	store := new(mocks.StoreMock)
	pipe := New(convRepo, new(mocks.MessageRepositoryMock), store, new(mocks.PublisherMock), nil, 100)

	convRepo.On("IsMember", mock.Anything, int64(5), int64(9)).Return(false, nil).Once()

	require.ErrorIs(t, pipe.MarkRead(context.Background(), 5, 9), ErrForbidden)
	store.AssertNotCalled(t, "ClearUnread", mock.Anything, mock.Anything, mock.Anything)
}
